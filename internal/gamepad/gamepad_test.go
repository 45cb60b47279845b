package gamepad

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
)

func TestFilterApply(t *testing.T) {
	tests := []struct {
		name     string
		event    Event
		applied  int
		wantAxis [pdu.AxisCount]float64
		wantBtn  int // pressed button index, -1 for none
		warns    int
	}{
		{"inside deadzone", Axis(pdu.AxisForward, 0.049), 1, [pdu.AxisCount]float64{}, -1, 0},
		{"negative inside deadzone", Axis(pdu.AxisYaw, -0.03), 1, [pdu.AxisCount]float64{}, -1, 0},
		{"at deadzone", Axis(pdu.AxisForward, 0.05), 1, [pdu.AxisCount]float64{3: 0.05}, -1, 0},
		{"clamped", Axis(pdu.AxisLift, -1.7), 1, [pdu.AxisCount]float64{1: -1}, -1, 0},
		{"axis out of range", Axis(6, 0.5), 0, [pdu.AxisCount]float64{}, -1, 1},
		{"negative axis", Axis(-1, 0.5), 0, [pdu.AxisCount]float64{}, -1, 1},
		{"nan axis", Axis(0, math.NaN()), 0, [pdu.AxisCount]float64{}, -1, 1},
		{"button", Button(15, true), 1, [pdu.AxisCount]float64{}, 15, 0},
		{"button out of range", Button(16, true), 0, [pdu.AxisCount]float64{}, -1, 1},
		{"unknown kind", Event{Kind: "hat", Index: 0}, 0, [pdu.AxisCount]float64{}, -1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			f := NewFilter(0.05, logger)

			var cmd pdu.ActuatorCommand
			if n := f.Apply(&cmd, []Event{tt.event}); n != tt.applied {
				t.Errorf("Apply() = %d, want %d", n, tt.applied)
			}
			if cmd.Axis != tt.wantAxis {
				t.Errorf("axes = %v, want %v", cmd.Axis, tt.wantAxis)
			}
			for i, pressed := range cmd.Button {
				if pressed != (i == tt.wantBtn) {
					t.Errorf("button %d = %v", i, pressed)
				}
			}

			warns := 0
			for _, entry := range hook.AllEntries() {
				if entry.Level == logrus.WarnLevel {
					warns++
				}
			}
			if warns != tt.warns {
				t.Errorf("logged %d warnings, want %d", warns, tt.warns)
			}
		})
	}
}

// commandStore is a CommandWriter over a plain command word.
type commandStore struct {
	cmd    pdu.ActuatorCommand
	writes int
	err    error
}

func (s *commandStore) WithCommand(ctx context.Context, fn func(*pdu.ActuatorCommand)) error {
	if s.err != nil {
		return s.err
	}
	fn(&s.cmd)
	s.writes++
	return nil
}

func TestBridgeAppliesBatchInOneWrite(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &commandStore{}
	store.cmd.Axis[5] = 0.25
	store.cmd.Button[7] = true
	bridge := NewBridge(store, config.Baseline().Gamepad, logger)

	got, err := bridge.Apply(context.Background(), []Event{
		Axis(pdu.AxisForward, -0.8),
		Axis(pdu.AxisYaw, 0.01),
		Axis(9, 1),
		Button(pdu.ButtonEmergencyStop, true),
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if store.writes != 1 {
		t.Errorf("writes = %d, want 1", store.writes)
	}
	if got != store.cmd {
		t.Errorf("returned %+v, stored %+v", got, store.cmd)
	}
	if got.Axis[pdu.AxisForward] != -0.8 || got.Axis[pdu.AxisYaw] != 0 || !got.Button[pdu.ButtonEmergencyStop] {
		t.Errorf("command = %+v", got)
	}
	if got.Axis[5] != 0.25 || !got.Button[7] {
		t.Errorf("untouched fields lost: %+v", got)
	}
}

func TestBridgeRejectsInvalidBatch(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &commandStore{}
	bridge := NewBridge(store, config.Baseline().Gamepad, logger)

	for _, events := range [][]Event{nil, {Axis(6, 1), Button(20, true)}} {
		if _, err := bridge.Apply(context.Background(), events); !errors.Is(err, adapter.ErrInvalidRange) {
			t.Errorf("Apply(%v) error = %v, want ErrInvalidRange", events, err)
		}
	}
	if store.writes != 0 {
		t.Errorf("writes = %d, want 0", store.writes)
	}
}

func TestBridgePropagatesWriteFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &commandStore{err: adapter.ErrActuatorWrite}
	bridge := NewBridge(store, config.Baseline().Gamepad, logger)

	if _, err := bridge.Apply(context.Background(), []Event{Button(1, true)}); !errors.Is(err, adapter.ErrActuatorWrite) {
		t.Errorf("Apply() error = %v, want ErrActuatorWrite", err)
	}
}
