package gateway

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/session"
	"github.com/shubham-shewale/stockpush/pkg/config"
)

var (
	ErrNotOpen        = errors.New("connection is not open")
	ErrSendBufferFull = errors.New("send buffer full")
)

type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
}

func OptionsFromConfig(cfg config.GatewayConfig) Options {
	return Options{
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		PingPeriod:     cfg.PingPeriod,
	}
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:     256,
		MaxMessageSize: 512 * 1024,
		WriteWait:      5 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     50 * time.Second,
	}
}

// ClientAdapter binds one upgraded connection to the hub. The write pump is the only writer on conn.
type ClientAdapter struct {
	id     string
	conn   net.Conn
	hub    *hub.Hub
	logger *zap.Logger
	opts   Options

	send chan []byte
	pong chan []byte
	done chan struct{}

	state     atomic.Int32
	closeOnce sync.Once
}

var _ hub.ClientInterface = (*ClientAdapter)(nil)

func NewClient(conn net.Conn, h *hub.Hub, logger *zap.Logger, opts Options) *ClientAdapter {
	id := uuid.NewString()
	c := &ClientAdapter{
		id:     id,
		conn:   conn,
		hub:    h,
		logger: logger.With(zap.String("session", id), zap.String("remote", conn.RemoteAddr().String())),
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		pong:   make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	c.state.Store(int32(session.Connecting))
	return c
}

// Start registers the session and runs the pumps. The connection is closed if the hub refuses it.
func (c *ClientAdapter) Start() error {
	if _, err := c.hub.Register(c); err != nil {
		c.state.Store(int32(session.Closed))
		_, _ = c.conn.Write(ws.CompiledCloseGoingAway)
		_ = c.conn.Close()
		return err
	}
	c.state.CompareAndSwap(int32(session.Connecting), int32(session.Open))

	go c.writePump()
	go c.readPump()
	return nil
}

func (c *ClientAdapter) ID() string { return c.id }

func (c *ClientAdapter) ReadyState() session.ReadyState {
	return session.ReadyState(c.state.Load())
}

// Send queues one text frame. It never blocks: a full buffer drops the frame.
func (c *ClientAdapter) Send(b []byte) error {
	if c.ReadyState() != session.Open {
		return ErrNotOpen
	}
	select {
	case <-c.done:
		return ErrNotOpen
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close moves the connection to CLOSING and lets the write pump send the close frame.
func (c *ClientAdapter) Close() {
	c.closeOnce.Do(func() {
		c.state.CompareAndSwap(int32(session.Open), int32(session.Closing))
		c.state.CompareAndSwap(int32(session.Connecting), int32(session.Closing))
		close(c.done)
	})
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.hub.Unregister(c)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("Read failed", zap.Error(err))
			}
			return
		}

		if header.Length > c.opts.MaxMessageSize {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			return
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			select {
			case c.pong <- payload:
			default:
			}
		case ws.OpPong:
		case ws.OpText:
			c.hub.HandleMessage(c, payload)
		default:
			// binary frames are not part of the protocol
		}
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.state.Store(int32(session.Closed))
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				c.logger.Debug("Write failed", zap.Error(err))
				c.Close()
				return
			}

		case p := <-c.pong:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPong, p); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			_, _ = c.conn.Write(ws.CompiledClose)
			return
		}
	}
}
