// Package mission chains motion primitives into pick-and-drop missions.
package mission
