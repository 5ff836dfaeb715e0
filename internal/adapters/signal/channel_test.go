package signal

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Call/internal/domain"
	"github.com/dkeye/Call/internal/signaling"
)

type captureHandler struct {
	mu   sync.Mutex
	msgs []*signaling.Message
}

func (h *captureHandler) HandleSignal(msg *signaling.Message) {
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
}

func (h *captureHandler) received(want signaling.Type) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.msgs {
		if m.Type == want {
			return true
		}
	}
	return false
}

func TestChannelSendAndReceive(t *testing.T) {
	_, srv := relayServer(t)
	handler := &captureHandler{}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=alice"
	ch, err := Dial(context.Background(), url, handler)
	require.NoError(t, err)
	defer ch.Close()

	bob := dialRelay(t, srv, "bob")

	offer, err := signaling.NewOffer("c1", "alice", "bob", "v=0", domain.CallTypeVoice, 1)
	require.NoError(t, err)
	require.NoError(t, ch.Send(context.Background(), offer))
	got := readUntil(t, bob, signaling.TypeOffer)
	assert.Equal(t, domain.CallID("c1"), got.CallID)

	// Traffic the other way lands in the handler.
	answer, err := signaling.NewAnswer("c1", "bob", "alice", "v=0", 1)
	require.NoError(t, err)
	send(t, bob, answer)
	assert.Eventually(t, func() bool {
		return handler.received(signaling.TypeAnswer)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChannelSendValidatesFirst(t *testing.T) {
	_, srv := relayServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=alice"
	ch, err := Dial(context.Background(), url, &captureHandler{})
	require.NoError(t, err)
	defer ch.Close()

	err = ch.Send(context.Background(), &signaling.Message{Type: signaling.TypeOffer})
	assert.Error(t, err)
}

func TestChannelCloseIdempotent(t *testing.T) {
	_, srv := relayServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=alice"
	ch, err := Dial(context.Background(), url, &captureHandler{})
	require.NoError(t, err)

	ch.Close()
	ch.Close()

	msg, err := signaling.NewUserPresence("alice", domain.PresenceOnline)
	require.NoError(t, err)
	assert.ErrorIs(t, ch.Send(context.Background(), msg), ErrChannelClosed)
}
