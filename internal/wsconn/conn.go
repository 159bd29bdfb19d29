// Package wsconn adapts a nhooyr websocket to hub.Conn: a bounded outbound
// queue drained by one writer goroutine plus a keepalive ping loop.
package wsconn

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-relay/internal/obslog"
)

// Close codes used by the relay.
const (
	CloseNormal        = int(websocket.StatusNormalClosure)
	CloseGoingAway     = int(websocket.StatusGoingAway)
	CloseProtocolError = int(websocket.StatusProtocolError)
	CloseInternalError = int(websocket.StatusInternalError)
	CloseUnauthorized  = 4401
)

var (
	ErrClosed    = errors.New("connection closed")
	ErrQueueFull = errors.New("outbound queue full")
)

type Options struct {
	QueueSize    int
	WriteTimeout time.Duration
	PingInterval time.Duration
	ReadLimit    int64
	// OriginPatterns is passed to websocket.Accept; empty allows same-origin only.
	OriginPatterns []string
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	return o
}

type Conn struct {
	id   string
	ws   *websocket.Conn
	opts Options

	out chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// Accept upgrades the request and starts the connection's writer and
// ping goroutines.
func Accept(w http.ResponseWriter, r *http.Request, opts Options) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  opts.OriginPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, err
	}
	return New(ws, opts), nil
}

// New wraps an established websocket.
func New(ws *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	ws.SetReadLimit(opts.ReadLimit)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		opts:   opts,
		out:    make(chan []byte, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	c.wg.Add(2)
	go c.writePump()
	go c.pingLoop()
	return c
}

func (c *Conn) ID() string { return c.id }

// Send queues frame without blocking.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close sends the close handshake once; later calls return the first result.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		c.closeErr = c.ws.Close(websocket.StatusCode(code), reason)
		obslog.L().Debug("ws_closed", zap.String("conn_id", c.id), zap.Int("code", code), zap.String("reason", reason))
	})
	return c.closeErr
}

// Serve reads frames until the peer goes away or handle returns an error,
// which is returned unchanged. Frames are handled one at a time.
func (c *Conn) Serve(ctx context.Context, handle func(ctx context.Context, frame []byte) error) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if err := handle(ctx, data); err != nil {
			return err
		}
	}
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// Wait blocks until the writer and ping goroutines exit.
func (c *Conn) Wait() { c.wg.Wait() }

func (c *Conn) writePump() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.out:
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					obslog.L().Info("ws_write_failed", zap.String("conn_id", c.id), zap.Error(err))
					go func() { _ = c.Close(CloseInternalError, "write failed") }()
				}
				return
			}
		}
	}
}

// pingLoop closes the connection after two consecutive failed pings.
func (c *Conn) pingLoop() {
	defer c.wg.Done()
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
			err := c.ws.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			if c.ctx.Err() != nil {
				return
			}
			failures++
			if failures >= 2 {
				obslog.L().Info("ws_ping_failed", zap.String("conn_id", c.id), zap.Error(err))
				go func() { _ = c.Close(CloseGoingAway, "ping failure") }()
				return
			}
		}
	}
}
