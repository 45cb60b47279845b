package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
)

// Event types.
const (
	EventReady       = "ready"
	EventPrimitive   = "primitive"
	EventFault       = "fault"
	EventMissionStep = "missionStep"
	EventMissionDone = "missionDone"
	EventImage       = "image"
	EventHeartbeat   = "heartbeat"
)

// Event is one telemetry record.
type Event struct {
	ID    int64                  `json:"id,omitempty"`
	Type  string                 `json:"type"`
	Data  map[string]interface{} `json:"data"`
	Robot string                 `json:"robot,omitempty"`
}

// Client is one SSE connection. An empty Robot receives every robot.
type Client struct {
	ID     string
	Writer http.ResponseWriter
	Ctx    context.Context
	Cancel context.CancelFunc
	LastID int64
	Robot  string
	Events chan Event
	mu     sync.Mutex // guards Writer
}

// Hub distributes events with per-robot buffering.
//
// Lock order: h.mu, then EventBuffer.mu. EventBuffers are never removed
// from h.buffers, so a buffer may be used after h.mu is released.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	robotIDs map[string]*int64
	buffers  map[string]*EventBuffer
	nextCID  int64

	cfg    config.TelemetryConfig
	logger *logrus.Entry

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// EventBuffer is a bounded buffer of one robot's recent events.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewHub creates a hub.
func NewHub(cfg config.TelemetryConfig, logger *logrus.Logger) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		robotIDs: make(map[string]*int64),
		buffers:  make(map[string]*EventBuffer),
		cfg:      cfg,
		logger:   logger.WithField("component", "telemetry"),
		done:     make(chan struct{}),
	}
}

// Subscribe streams events to w as SSE until ctx ends. The robot query
// parameter filters by robot; Last-Event-ID replays buffered events.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCtx, cancel := context.WithCancel(ctx)

	lastEventID := int64(0)
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	client := &Client{
		ID:     fmt.Sprintf("client_%d", atomic.AddInt64(&h.nextCID, 1)),
		Writer: w,
		Ctx:    clientCtx,
		Cancel: cancel,
		LastID: lastEventID,
		Robot:  r.URL.Query().Get("robot"),
		Events: make(chan Event, h.queueSize()),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	if h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()

	if err := h.sendEventToClient(client, h.readyEvent(client)); err != nil {
		h.unregisterClient(client.ID)
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	if lastEventID > 0 && client.Robot != "" {
		for _, event := range h.EventsAfter(client.Robot, lastEventID) {
			if err := h.sendEventToClient(client, event); err != nil {
				h.unregisterClient(client.ID)
				return fmt.Errorf("failed to replay events: %w", err)
			}
		}
	}

	h.logger.WithFields(logrus.Fields{"client": client.ID, "robot": client.Robot}).Debug("Client subscribed")
	h.handleClient(client)
	return nil
}

// Publish assigns the event an id, buffers it and queues it for every
// matching client. Slow clients drop events.
func (h *Hub) Publish(event Event) error {
	select {
	case <-h.done:
		return fmt.Errorf("telemetry hub stopped")
	default:
	}

	if event.ID == 0 {
		event.ID = h.nextEventID(event.Robot)
	}
	if event.Robot != "" {
		h.bufferEvent(event)
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client.Robot == "" || event.Robot == "" || client.Robot == event.Robot {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case <-client.Ctx.Done():
		case client.Events <- event:
		default:
			h.logger.WithField("client", client.ID).Debug("Dropped event for slow client")
		}
	}
	return nil
}

// PublishRobot publishes an event for one robot.
func (h *Hub) PublishRobot(robotID string, event Event) error {
	event.Robot = robotID
	return h.Publish(event)
}

// EventsAfter returns the buffered events of robot with id above lastID.
func (h *Hub) EventsAfter(robotID string, lastID int64) []Event {
	h.mu.RLock()
	buffer, ok := h.buffers[robotID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return buffer.GetEventsAfter(lastID)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) queueSize() int {
	if h.cfg.ClientQueue > 0 {
		return h.cfg.ClientQueue
	}
	return 100
}

func (h *Hub) readyEvent(client *Client) Event {
	h.mu.RLock()
	robots := make([]string, 0, len(h.buffers))
	for id := range h.buffers {
		robots = append(robots, id)
	}
	h.mu.RUnlock()
	sort.Strings(robots)

	return Event{
		Type: EventReady,
		Data: map[string]interface{}{
			"robots": robots,
			"filter": client.Robot,
		},
	}
}

// sendEventToClient writes one SSE frame and flushes it.
func (h *Hub) sendEventToClient(client *Client, event Event) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(client.Writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(client.Writer, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	if flusher, ok := client.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// handleClient delivers queued events until the client goes away.
func (h *Hub) handleClient(client *Client) {
	defer h.unregisterClient(client.ID)

	for {
		select {
		case <-client.Ctx.Done():
			return
		case <-h.done:
			return
		case event := <-client.Events:
			if err := h.sendEventToClient(client, event); err != nil {
				h.logger.WithError(err).WithField("client", client.ID).Debug("Client write failed")
				return
			}
		}
	}
}

func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return
	}
	client.Cancel()
	delete(h.clients, clientID)

	if len(h.clients) == 0 && h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
}

// nextEventID returns the next monotonic event id for robot.
func (h *Hub) nextEventID(robotID string) int64 {
	if robotID == "" {
		robotID = "global"
	}

	h.mu.RLock()
	counter, ok := h.robotIDs[robotID]
	h.mu.RUnlock()
	if ok {
		return atomic.AddInt64(counter, 1)
	}

	h.mu.Lock()
	counter, ok = h.robotIDs[robotID]
	if !ok {
		counter = new(int64)
		h.robotIDs[robotID] = counter
	}
	h.mu.Unlock()
	return atomic.AddInt64(counter, 1)
}

func (h *Hub) bufferEvent(event Event) {
	h.mu.Lock()
	buffer, ok := h.buffers[event.Robot]
	if !ok {
		buffer = NewEventBuffer(h.cfg.BufferSize)
		h.buffers[event.Robot] = buffer
	}
	h.mu.Unlock()

	buffer.AddEvent(event)
}

// startHeartbeat starts the heartbeat ticker. Caller holds h.mu.
func (h *Hub) startHeartbeat() {
	interval := h.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	h.heartbeatTicker = time.NewTicker(interval)
	h.stopHeartbeat = make(chan struct{})

	ticker := h.heartbeatTicker
	stop := h.stopHeartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				_ = h.Publish(Event{
					Type: EventHeartbeat,
					Data: map[string]interface{}{"ts": time.Now().UTC().Format(time.RFC3339)},
				})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// Stop disconnects every client and stops the heartbeat.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, client := range h.clients {
			client.Cancel()
		}
		if h.heartbeatTicker != nil {
			h.heartbeatTicker.Stop()
			h.heartbeatTicker = nil
			close(h.stopHeartbeat)
			h.stopHeartbeat = nil
		}
		h.mu.Unlock()

		h.wg.Wait()
	})
}

// NewEventBuffer creates a buffer holding at most capacity events.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventBuffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// AddEvent appends an event, evicting the oldest beyond capacity.
func (b *EventBuffer) AddEvent(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[1:]
	}
}

// GetEventsAfter returns events with id above lastID.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.ID > lastID {
			result = append(result, event)
		}
	}
	return result
}

// GetCapacity returns the buffer capacity.
func (b *EventBuffer) GetCapacity() int {
	return b.capacity
}

// GetSize returns the number of buffered events.
func (b *EventBuffer) GetSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
