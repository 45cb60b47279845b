// Package audit writes an append-only JSONL record of every motion
// primitive, mission and camera capture. Files rotate by size.
package audit
