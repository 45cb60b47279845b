// Package camera implements the request/acknowledge protocol used to pull
// images from the simulator's monitor cameras.
package camera
