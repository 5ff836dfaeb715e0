package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Call/internal/adapters/signal"
	"github.com/dkeye/Call/internal/config"
	"github.com/dkeye/Call/internal/domain"
)

func testRouter(t *testing.T) (*gin.Engine, *CallRecordStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Mode: "test", Secret: "test-secret"}
	records := NewCallRecordStore()
	return SetupRouter(cfg, signal.NewRelayController(), records), records
}

func TestStartCallEndpoint(t *testing.T) {
	r, records := testRouter(t)

	body := strings.NewReader(`{"calleeId":"bob","type":"video","conversationId":"conv-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/call/start", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var call domain.Call
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &call))
	assert.Equal(t, domain.UserID("bob"), call.CalleeID)
	assert.Equal(t, domain.CallTypeVideo, call.Type)
	assert.Equal(t, domain.CallInitiated, call.Status)
	assert.NotEmpty(t, call.CallerID, "caller comes from the client token")

	_, ok := records.Get(call.ID)
	assert.True(t, ok)

	// The middleware issued a client token cookie.
	found := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "ct" && c.Value != "" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStartCallValidation(t *testing.T) {
	r, _ := testRouter(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing callee", `{"type":"video"}`},
		{"missing type", `{"calleeId":"bob"}`},
		{"bad type", `{"calleeId":"bob","type":"hologram"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/call/start", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCreateUserEndpoint(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/user", strings.NewReader(`{"username":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var user domain.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username)

	long := strings.Repeat("x", domain.MaxUsernameLen+1)
	req = httptest.NewRequest(http.MethodPost, "/api/user", strings.NewReader(`{"username":"`+long+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEndCallEndpoint(t *testing.T) {
	r, records := testRouter(t)
	call := records.Start("alice", "bob", domain.CallTypeVoice, "")

	req := httptest.NewRequest(http.MethodPost, "/api/call/"+string(call.ID)+"/end", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	got, _ := records.Get(call.ID)
	assert.Equal(t, domain.CallEnded, got.Status)
}

func TestEndUnknownCall(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/call/ghost/end", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMonitorEndpoint(t *testing.T) {
	r, records := testRouter(t)
	records.Start("alice", "bob", domain.CallTypeVoice, "")

	req := httptest.NewRequest(http.MethodGet, "/api/monitor", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var payload struct {
		Records int `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, 1, payload.Records)
}

func TestRecordStoreEndKeepsFirstTerminalStatus(t *testing.T) {
	records := NewCallRecordStore()
	call := records.Start("alice", "bob", domain.CallTypeVoice, "")

	_, ok := records.End(call.ID)
	require.True(t, ok)
	first := call.Status

	_, ok = records.End(call.ID)
	require.True(t, ok)
	assert.Equal(t, first, call.Status)
	assert.Equal(t, 1, records.Len())
}
