// Package bus moves raw PDU payloads between the control core and the
// simulator. A payload is addressed by the entity that owns it and the
// logical channel name, e.g. {"forklift", "pos"}.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoData is returned when a channel has never been written.
var ErrNoData = errors.New("bus: no data on channel")

// ErrClosed is returned by a bus after Close.
var ErrClosed = errors.New("bus: closed")

// Key addresses one channel of one entity.
type Key struct {
	Entity  string `json:"entity"`
	Channel string `json:"channel"`
}

func (k Key) String() string {
	return k.Entity + "/" + k.Channel
}

// Bus reads and writes whole channel payloads. Writes replace the payload;
// there is no queueing.
type Bus interface {
	Read(ctx context.Context, key Key) ([]byte, error)
	Write(ctx context.Context, key Key, data []byte) error
}

// ReadJSON reads key and decodes it into v.
func ReadJSON(ctx context.Context, b Bus, key Key, v interface{}) error {
	data, err := b.Read(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "bus: decode %s", key)
	}
	return nil
}

// WriteJSON encodes v and writes it to key.
func WriteJSON(ctx context.Context, b Bus, key Key, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "bus: encode %s", key)
	}
	return b.Write(ctx, key, data)
}

// Memory is an in-process bus.
type Memory struct {
	mu     sync.RWMutex
	data   map[Key][]byte
	writes map[Key]int
}

var _ Bus = (*Memory)(nil)

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{
		data:   make(map[Key][]byte),
		writes: make(map[Key]int),
	}
}

// Read returns a copy of the payload stored under key.
func (m *Memory) Read(ctx context.Context, key Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[key]
	if !ok {
		return nil, errors.Wrap(ErrNoData, key.String())
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write stores a copy of data under key.
func (m *Memory) Write(ctx context.Context, key Key, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.data[key] = stored
	m.writes[key]++
	return nil
}

// Writes reports how many times key has been written.
func (m *Memory) Writes(key Key) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes[key]
}

// Keys lists every channel that holds data.
func (m *Memory) Keys() []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]Key, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

// String is for log lines.
func (m *Memory) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("memory bus (%d channels)", len(m.data))
}
