package signal

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/domain"
	"github.com/dkeye/Call/internal/signaling"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsPeer is one connected user on the relay side.
type wsPeer struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (p *wsPeer) trySend(data []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrChannelClosed
	}
	select {
	case p.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (p *wsPeer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.send)
	_ = p.conn.Close()
	p.mu.Unlock()
}

// RelayController routes validated signaling envelopes between connected
// users by recipient id and fans presence out to everyone else. It holds
// no call state; peers own their state machines.
type RelayController struct {
	mu    sync.RWMutex
	peers map[domain.UserID]*wsPeer
}

func NewRelayController() *RelayController {
	return &RelayController{peers: make(map[domain.UserID]*wsPeer)}
}

// HandleSignal upgrades the request and serves the user's signaling
// connection until it drops.
func (ctl *RelayController) HandleSignal(c *gin.Context) {
	uid := domain.UserID(c.GetString("client_token"))
	log.Info().Str("module", "relay").Str("user", string(uid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}
	peer := &wsPeer{conn: ws, send: make(chan []byte, sendBuffer)}

	ctl.mu.Lock()
	if old, ok := ctl.peers[uid]; ok {
		old.close()
	}
	ctl.peers[uid] = peer
	ctl.mu.Unlock()

	ctl.broadcastPresence(uid, domain.PresenceOnline)

	go ctl.writePump(peer)
	ctl.readPump(uid, peer)
}

func (ctl *RelayController) writePump(p *wsPeer) {
	for data := range p.send {
		if err := p.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
			return
		}
		if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
			return
		}
	}
}

func (ctl *RelayController) readPump(uid domain.UserID, p *wsPeer) {
	defer func() {
		ctl.drop(uid, p)
		ctl.broadcastPresence(uid, domain.PresenceOffline)
	}()
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "relay").Str("user", string(uid)).Msg("readPump closing")
			return
		}
		ctl.handleFrame(uid, p, data)
	}
}

func (ctl *RelayController) drop(uid domain.UserID, p *wsPeer) {
	ctl.mu.Lock()
	if cur, ok := ctl.peers[uid]; ok && cur == p {
		delete(ctl.peers, uid)
	}
	ctl.mu.Unlock()
	p.close()
}

func (ctl *RelayController) handleFrame(uid domain.UserID, p *wsPeer, data []byte) {
	msg, err := signaling.ParseMessage(data)
	if err != nil {
		// Dropped and logged, never forwarded.
		log.Error().Err(err).Str("module", "relay").Str("user", string(uid)).Msg("dropping invalid frame")
		return
	}
	// The sender identity comes from the connection, never from the
	// envelope.
	msg.From = uid

	switch msg.Type {
	case signaling.TypePing:
		if pong, err := (&signaling.Message{Type: signaling.TypePong, From: "relay", Timestamp: time.Now().UnixMilli()}).Encode(); err == nil {
			_ = p.trySend(pong)
		}
	case signaling.TypeUserPresence:
		ctl.broadcastPresence(uid, msg.Presence)
	default:
		ctl.route(uid, p, msg)
	}
}

func (ctl *RelayController) route(uid domain.UserID, p *wsPeer, msg *signaling.Message) {
	ctl.mu.RLock()
	target, ok := ctl.peers[msg.To]
	ctl.mu.RUnlock()

	if !ok {
		log.Warn().Str("module", "relay").Str("user", string(uid)).
			Str("to", string(msg.To)).Str("type", string(msg.Type)).Msg("recipient offline")
		// Ring attempts toward an offline user bounce immediately.
		if msg.Type == signaling.TypeOffer || msg.Type == signaling.TypeCallStarted {
			if rej, err := signaling.NewCallRejected(msg.CallID, msg.To, uid, "offline"); err == nil {
				if data, err := rej.Encode(); err == nil {
					_ = p.trySend(data)
				}
			}
		}
		return
	}

	data, err := msg.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("encode frame")
		return
	}
	if err := target.trySend(data); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("to", string(msg.To)).Msg("drop frame for slow peer")
	}
}

// broadcastPresence tells everyone else about uid's availability.
func (ctl *RelayController) broadcastPresence(uid domain.UserID, status domain.PresenceStatus) {
	msg, err := signaling.NewUserPresence(uid, status)
	if err != nil {
		return
	}
	data, err := msg.Encode()
	if err != nil {
		return
	}

	ctl.mu.RLock()
	others := make([]*wsPeer, 0, len(ctl.peers))
	for id, p := range ctl.peers {
		if id != uid {
			others = append(others, p)
		}
	}
	ctl.mu.RUnlock()

	for _, p := range others {
		_ = p.trySend(data)
	}
}

// Connected lists currently connected users, for the monitor endpoint.
func (ctl *RelayController) Connected() []domain.UserID {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	out := make([]domain.UserID, 0, len(ctl.peers))
	for id := range ctl.peers {
		out = append(out, id)
	}
	return out
}
