// Package signal carries signaling messages over websocket: a client
// channel for peers and a relay controller for the server.
package signal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/signaling"
)

var (
	ErrBackpressure  = errors.New("backpressure")
	ErrChannelClosed = errors.New("channel closed")
)

const (
	sendBuffer    = 32
	writeDeadline = 5 * time.Second
)

// WSChannel is the client side of the signaling transport. It implements
// core.SignalChannel; inbound frames are validated and handed to the
// handler.
type WSChannel struct {
	conn    *websocket.Conn
	send    chan []byte
	handler core.SignalHandler

	mu     sync.RWMutex
	closed bool
}

// Dial connects to the relay and starts the pumps. The channel lives until
// ctx is done or Close is called.
func Dial(ctx context.Context, url string, handler core.SignalHandler) (*WSChannel, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &WSChannel{
		conn:    ws,
		send:    make(chan []byte, sendBuffer),
		handler: handler,
	}
	go c.writePump(ctx)
	go c.readPump(ctx)
	log.Info().Str("module", "signal").Str("url", url).Msg("signaling channel connected")
	return c, nil
}

// Send validates and queues one message. A full buffer fails fast with
// ErrBackpressure; retrying is the transport layer's business.
func (c *WSChannel) Send(ctx context.Context, msg *signaling.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBackpressure
	}
}

// Close is idempotent.
func (c *WSChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
	log.Info().Str("module", "signal").Msg("signaling channel closed")
}

func (c *WSChannel) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *WSChannel) readPump(ctx context.Context) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
				return
			}
			msg, err := signaling.ParseMessage(data)
			if err != nil {
				// Malformed input dies here, not downstream.
				log.Error().Err(err).Str("module", "signal").Msg("dropping invalid frame")
				continue
			}
			c.handler.HandleSignal(msg)
		}
	}
}
