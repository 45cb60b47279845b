// Package gamepad applies joystick events to the forklift command word.
//
// Events are filtered the way the simulator's gamepad feeder does it: axis
// values inside the deadzone snap to zero and unknown axis or button
// indexes are logged and dropped. A batch of events is applied in a single
// read-modify-write so fields the joystick does not touch survive.
package gamepad

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
)

// Kind is the source of an event.
type Kind string

const (
	KindAxis   Kind = "axis"
	KindButton Kind = "button"
)

// Event is one joystick axis motion or button transition.
type Event struct {
	Kind    Kind    `json:"kind"`
	Index   int     `json:"index"`
	Value   float64 `json:"value,omitempty"`
	Pressed bool    `json:"pressed,omitempty"`
}

// Axis returns an axis event.
func Axis(index int, value float64) Event {
	return Event{Kind: KindAxis, Index: index, Value: value}
}

// Button returns a button event.
func Button(index int, pressed bool) Event {
	return Event{Kind: KindButton, Index: index, Pressed: pressed}
}

// Filter validates events and applies the deadzone.
type Filter struct {
	deadzone float64
	logger   *logrus.Entry
}

// NewFilter creates a filter. Axis values with |v| < deadzone become 0.
func NewFilter(deadzone float64, logger *logrus.Logger) *Filter {
	return &Filter{
		deadzone: deadzone,
		logger:   logger.WithField("component", "gamepad"),
	}
}

// Value returns v after the deadzone.
func (f *Filter) Value(v float64) float64 {
	if math.Abs(v) < f.deadzone {
		return 0
	}
	return v
}

// Valid reports whether e addresses an existing axis or button.
func (f *Filter) Valid(e Event) bool {
	switch e.Kind {
	case KindAxis:
		return e.Index >= 0 && e.Index < pdu.AxisCount && !math.IsNaN(e.Value)
	case KindButton:
		return e.Index >= 0 && e.Index < pdu.ButtonCount
	}
	return false
}

// Apply writes events into cmd in order and returns how many were
// accepted.
func (f *Filter) Apply(cmd *pdu.ActuatorCommand, events []Event) int {
	applied := 0
	for _, e := range events {
		if !f.Valid(e) {
			f.logger.Warnf("Unsupported %s index: %d", e.Kind, e.Index)
			continue
		}
		if e.Kind == KindAxis {
			cmd.SetAxis(e.Index, f.Value(e.Value))
		} else {
			cmd.SetButton(e.Index, e.Pressed)
			if e.Pressed {
				f.logger.Debugf("Button %d pressed", e.Index)
			}
		}
		applied++
	}
	return applied
}

// CommandWriter owns the command word. motion.Facade implements it.
type CommandWriter interface {
	WithCommand(ctx context.Context, fn func(*pdu.ActuatorCommand)) error
}

// Bridge feeds filtered events to a CommandWriter.
type Bridge struct {
	writer CommandWriter
	filter *Filter
}

// NewBridge creates a bridge writing through w.
func NewBridge(w CommandWriter, cfg config.GamepadConfig, logger *logrus.Logger) *Bridge {
	return &Bridge{writer: w, filter: NewFilter(cfg.Deadzone, logger)}
}

// Apply applies events in one read-modify-write and returns the command
// written. A batch with no valid event writes nothing and returns
// adapter.ErrInvalidRange.
func (b *Bridge) Apply(ctx context.Context, events []Event) (pdu.ActuatorCommand, error) {
	valid := 0
	for _, e := range events {
		if b.filter.Valid(e) {
			valid++
		}
	}
	if valid == 0 {
		b.filter.Apply(&pdu.ActuatorCommand{}, events)
		return pdu.ActuatorCommand{}, fmt.Errorf("%w: no valid gamepad events in %d", adapter.ErrInvalidRange, len(events))
	}

	var written pdu.ActuatorCommand
	err := b.writer.WithCommand(ctx, func(cmd *pdu.ActuatorCommand) {
		b.filter.Apply(cmd, events)
		written = *cmd
	})
	if err != nil {
		return pdu.ActuatorCommand{}, err
	}
	b.filter.logger.WithField("events", valid).Debug("Gamepad events applied")
	return written, nil
}
