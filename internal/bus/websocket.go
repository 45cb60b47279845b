package bus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultCallTimeout bounds a call whose context has no deadline.
const DefaultCallTimeout = 2 * time.Second

// WSClient is a Bus served by a remote Handler over one websocket. Calls
// are serialized; a failed call drops the connection and the next call
// redials.
type WSClient struct {
	url     string
	timeout time.Duration
	logger  *logrus.Entry

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
	closed bool
}

var _ Bus = (*WSClient)(nil)

// Dial connects to a bus handler at url (ws:// or wss://).
func Dial(ctx context.Context, url string, timeout time.Duration, logger *logrus.Logger) (*WSClient, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	c := &WSClient{
		url:     url,
		timeout: timeout,
		logger:  logger.WithField("component", "bus"),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// connect dials the handler. Caller holds c.mu.
func (c *WSClient) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return errors.Wrapf(err, "bus: dial %s", c.url)
	}
	c.conn = conn
	c.logger.Infof("Connected to bus at %s", c.url)
	return nil
}

// Read fetches the payload of key.
func (c *WSClient) Read(ctx context.Context, key Key) ([]byte, error) {
	reply, err := c.call(ctx, Request{Op: OpRead, Entity: key.Entity, Channel: key.Channel})
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// Write replaces the payload of key.
func (c *WSClient) Write(ctx context.Context, key Key, data []byte) error {
	_, err := c.call(ctx, Request{Op: OpWrite, Entity: key.Entity, Channel: key.Channel, Data: data})
	return err
}

func (c *WSClient) call(ctx context.Context, req Request) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Reply{}, ErrClosed
	}
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return Reply{}, err
		}
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.nextID++
	req.ID = c.nextID

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return Reply{}, c.fail(err, "set write deadline")
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return Reply{}, c.fail(err, "write frame")
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return Reply{}, c.fail(err, "set read deadline")
	}

	for {
		var reply Reply
		if err := c.conn.ReadJSON(&reply); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				c.drop()
				return Reply{}, ctxErr
			}
			return Reply{}, c.fail(err, "read frame")
		}
		if reply.ID != req.ID {
			// Late reply to a call that already timed out.
			continue
		}

		key := Key{Entity: req.Entity, Channel: req.Channel}
		switch reply.Code {
		case CodeOK:
			return reply, nil
		case CodeNoData:
			return Reply{}, errors.Wrap(ErrNoData, key.String())
		default:
			return Reply{}, errors.Errorf("bus: %s %s: %s", req.Op, key, reply.Error)
		}
	}
}

// fail drops the connection and wraps err. Caller holds c.mu.
func (c *WSClient) fail(err error, what string) error {
	c.drop()
	return errors.Wrapf(err, "bus: %s", what)
}

func (c *WSClient) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.logger.Warnf("Dropped bus connection to %s", c.url)
	}
}

// Close closes the connection. Further calls fail with ErrClosed.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Handler serves a Bus to WSClient peers.
type Handler struct {
	bus      Bus
	logger   *logrus.Entry
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler for b.
func NewHandler(b Bus, logger *logrus.Logger) *Handler {
	return &Handler{
		bus:    b,
		logger: logger.WithField("component", "bus-bridge"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP upgrades the connection and answers frames until the peer
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("Error upgrading websocket: %v", err)
		return
	}
	defer func() { _ = ws.Close() }()

	h.logger.Infof("Bus peer connected from %s", r.RemoteAddr)
	ctx := r.Context()

	for {
		var req Request
		if err := ws.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Infof("Bus peer %s disconnected", r.RemoteAddr)
			} else {
				h.logger.Warnf("Error reading from bus socket: %v", err)
			}
			return
		}

		reply := h.dispatch(ctx, req)
		if err := ws.WriteJSON(reply); err != nil {
			h.logger.Warnf("Error writing to bus socket: %v", err)
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, req Request) Reply {
	key := Key{Entity: req.Entity, Channel: req.Channel}
	reply := Reply{ID: req.ID, Code: CodeOK}

	var err error
	switch req.Op {
	case OpRead:
		reply.Data, err = h.bus.Read(ctx, key)
	case OpWrite:
		err = h.bus.Write(ctx, key, req.Data)
	default:
		err = errors.Errorf("unknown op %q", req.Op)
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrNoData):
		reply.Code = CodeNoData
	default:
		reply.Code = CodeError
		reply.Error = err.Error()
	}
	return reply
}
