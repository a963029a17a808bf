package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/callrelay/internal/logging"
)

const (
	defaultWriteTimeout = 5 * time.Second
	closeGracePeriod    = time.Second
)

var ErrClosed = errors.New("realtime connection closed")

type DialerConfig struct {
	URL    string
	Model  string
	APIKey string
}

// Dialer opens realtime speech sessions.
type Dialer struct {
	cfg    DialerConfig
	dialer websocket.Dialer
	logger *zap.Logger
}

func NewDialer(cfg DialerConfig, logger *zap.Logger) *Dialer {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = "wss://api.openai.com/v1/realtime"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{
		cfg: cfg,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   16 << 10,
			WriteBufferSize:  16 << 10,
		},
		logger: logger,
	}
}

func (d *Dialer) endpoint() (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", err
	}
	if d.cfg.Model != "" {
		q := u.Query()
		q.Set("model", d.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial completes the websocket handshake. A returned Conn is open.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	endpoint, err := d.endpoint()
	if err != nil {
		return nil, fmt.Errorf("realtime url: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime websocket (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial realtime websocket: %w", err)
	}
	return newConn(conn, d.logger), nil
}

// Conn is one open realtime session. Writes are serialized; events are
// delivered in arrival order and the channel closes when the socket does.
type Conn struct {
	conn      *websocket.Conn
	logger    *zap.Logger
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	events    chan Event

	errMu   sync.Mutex
	readErr error
}

func newConn(conn *websocket.Conn, logger *zap.Logger) *Conn {
	c := &Conn{
		conn:   conn,
		logger: logger,
		closed: make(chan struct{}),
		events: make(chan Event, 256),
	}
	go c.readLoop()
	return c
}

func (c *Conn) Events() <-chan Event { return c.events }

// Send writes one JSON message.
func (c *Conn) Send(ctx context.Context, v any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write %s: %w", MessageType(v), err)
	}
	return nil
}

// Close is idempotent.
func (c *Conn) Close() error {
	var retErr error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()
		retErr = c.conn.Close()
	})
	return retErr
}

// Err returns why the read loop stopped, if it has.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			_ = c.conn.Close()
			return
		}
		ev, err := ParseEvent(data)
		if err != nil {
			c.logger.Warn("discarding malformed realtime event",
				zap.Error(err),
				zap.String("body", logging.Truncate(string(data), 200)))
			continue
		}
		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}
