package binance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Handler receives the lifecycle of one stream. Callbacks are invoked from the
// stream's own goroutine, in order: OnOpen, OnMessage..., then OnClose once.
// A failed dial reports OnError followed by OnClose(false). Nothing is
// reported after Close has been called on the stream.
type Handler struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(clean bool)
}

type Stream interface {
	Close()
}

// Connector opens streams. It is the seam between the supervisors and the
// network.
type Connector interface {
	Connect(url string, h Handler) Stream
}

type WSOptions struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
}

type WSConnector struct {
	opts   WSOptions
	logger *logrus.Logger
}

func NewWSConnector(opts WSOptions, logger *logrus.Logger) *WSConnector {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	return &WSConnector{opts: opts, logger: logger}
}

func (c *WSConnector) Connect(url string, h Handler) Stream {
	ctx, cancel := context.WithCancel(context.Background())
	ws := &wsStream{
		url:    url,
		opts:   c.opts,
		h:      h,
		ctx:    ctx,
		cancel: cancel,
		logger: c.logger.WithFields(logrus.Fields{"component": "ws", "url": url}),
	}
	go ws.run()
	return ws
}

type wsStream struct {
	url    string
	opts   WSOptions
	h      Handler
	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Entry

	mu        sync.Mutex
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (ws *wsStream) run() {
	dialer := websocket.Dialer{
		HandshakeTimeout: ws.opts.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ws.ctx, ws.url, nil)
	if err != nil {
		if ws.ctx.Err() != nil {
			return
		}
		ws.emitError(fmt.Errorf("failed to connect to websocket: %w", err))
		ws.emitClose(false)
		return
	}

	ws.mu.Lock()
	if ws.ctx.Err() != nil {
		ws.mu.Unlock()
		conn.Close()
		return
	}
	ws.conn = conn
	ws.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(ws.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ws.opts.ReadTimeout))
	})

	if ws.h.OnOpen != nil {
		ws.h.OnOpen()
	}

	go ws.keepAlive()
	ws.readLoop()
}

func (ws *wsStream) readLoop() {
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if ws.ctx.Err() != nil {
				return
			}
			clean := websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			if !clean {
				ws.logger.WithError(err).Warn("Websocket read failed")
			}
			ws.cancel()
			ws.shutdown()
			ws.emitClose(clean)
			return
		}
		ws.conn.SetReadDeadline(time.Now().Add(ws.opts.ReadTimeout))

		if ws.h.OnMessage != nil && ws.ctx.Err() == nil {
			ws.h.OnMessage(data)
		}
	}
}

func (ws *wsStream) keepAlive() {
	ticker := time.NewTicker(ws.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ws.ctx.Done():
			return
		case <-ticker.C:
			ws.mu.Lock()
			err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			ws.mu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				ws.logger.WithError(err).Debug("Failed to send ping")
			}
		}
	}
}

// Close tears the stream down. No callback fires afterwards.
func (ws *wsStream) Close() {
	ws.closeOnce.Do(func() {
		ws.cancel()
		ws.mu.Lock()
		defer ws.mu.Unlock()
		if ws.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			ws.conn.Close()
		}
	})
}

func (ws *wsStream) shutdown() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn != nil {
		ws.conn.Close()
	}
}

func (ws *wsStream) emitError(err error) {
	if ws.h.OnError != nil {
		ws.h.OnError(err)
	}
}

func (ws *wsStream) emitClose(clean bool) {
	if ws.h.OnClose != nil {
		ws.h.OnClose(clean)
	}
}
