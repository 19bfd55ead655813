package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// inEnvelope/outEnvelope mirror the teacher's own envelope shape
// (graphql/server.go's inEnvelope/outEnvelope); this is the client-side
// counterpart exchanging "start"/"update"/"error"/"complete" frames over
// the same kind of gorilla/websocket.Conn the teacher's conn wraps.
type outEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type inEnvelope struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Message interface{} `json:"message,omitempty"`
}

type subscribeMessage struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// NewWS builds a WsFunc (spec §6) that opens one gorilla/websocket
// connection to url per subscription and frames start/update/error/
// complete messages the way the teacher's server.go conn does, just
// from the client side.
func NewWS(dialer *websocket.Dialer, url string) WsFunc {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return func(ctx context.Context, wctx WsContext) Conn {
		return &wsConn{dialer: dialer, url: url, ctx: wctx}
	}
}

type wsConn struct {
	dialer *websocket.Dialer
	url    string
	ctx    WsContext
}

type wsSubscription struct {
	socket   *websocket.Conn
	done     chan struct{}
	closeErr atomic.Value
	once     sync.Once
}

func (c *wsConn) Subscribe(observer Observer) Subscription {
	sub := &wsSubscription{done: make(chan struct{})}

	socket, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		if observer.Error != nil {
			observer.Error(fmt.Errorf("transport: dialing %s: %w", c.url, err))
		}
		close(sub.done)
		return sub
	}
	sub.socket = socket

	if err := socket.WriteJSON(inEnvelope{
		ID:   "1",
		Type: "start",
		Message: subscribeMessage{
			Query:     c.ctx.Query,
			Variables: c.ctx.Variables,
		},
	}); err != nil {
		if observer.Error != nil {
			observer.Error(fmt.Errorf("transport: starting subscription: %w", err))
		}
		socket.Close()
		close(sub.done)
		return sub
	}

	go sub.readLoop(observer)
	return sub
}

func (s *wsSubscription) readLoop(observer Observer) {
	defer close(s.done)
	for {
		var env outEnvelope
		if err := s.socket.ReadJSON(&env); err != nil {
			if observer.Error != nil {
				observer.Error(fmt.Errorf("transport: reading subscription frame: %w", err))
			}
			return
		}

		switch env.Type {
		case "update", "result":
			var data map[string]interface{}
			if err := json.Unmarshal(env.Message, &data); err != nil {
				if observer.Error != nil {
					observer.Error(fmt.Errorf("transport: decoding subscription data: %w", err))
				}
				continue
			}
			if observer.Next != nil {
				observer.Next(Result{Data: data})
			}
		case "error":
			var message string
			_ = json.Unmarshal(env.Message, &message)
			if observer.Next != nil {
				observer.Next(Result{Error: fmt.Errorf("transport: %s", message)})
			}
		case "complete":
			if observer.Complete != nil {
				observer.Complete()
			}
			return
		}
	}
}

func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		if s.socket == nil {
			return
		}
		_ = s.socket.WriteJSON(inEnvelope{ID: "1", Type: "stop"})
		s.socket.Close()
	})
}
