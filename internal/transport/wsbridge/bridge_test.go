package wsbridge

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/Hackerecon/internal/config"
	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
)

type fakeOwner struct {
	tokens map[string]string // token -> userID
	owns   map[string]string // scanID -> userID
}

func (f *fakeOwner) Authenticate(token string) (string, bool) {
	uid, ok := f.tokens[token]
	return uid, ok
}

func (f *fakeOwner) Owns(userID, scanID string) bool {
	return f.owns[scanID] == userID
}

type fakeHandle struct {
	paused, resumed, stopped int
}

func (h *fakeHandle) Pause()  { h.paused++ }
func (h *fakeHandle) Resume() { h.resumed++ }
func (h *fakeHandle) Stop()   { h.stopped++ }

type fakeGate struct {
	lastAnswer int
	answered   int
}

func (g *fakeGate) Answer(selected int) {
	g.lastAnswer = selected
	g.answered++
}

type fakeStarter struct {
	handle *fakeHandle
	gate   *fakeGate
	bus    *eventbus.Bus
	err    error
}

func (s *fakeStarter) StartScan(scanID string, raw config.RawScanConfig) (ScanHandle, AnswerGate, *eventbus.Bus, error) {
	if s.err != nil {
		return nil, nil, nil, s.err
	}
	return s.handle, s.gate, s.bus, nil
}

func newTestServer(t *testing.T, owner ScanOwner, starter ScanStarter) (*httptest.Server, string) {
	t.Helper()
	b := New(owner, starter)
	srv := httptest.NewServer(http.HandlerFunc(b.ServeWS))
	t.Cleanup(srv.Close)
	wsURL := "ws" + srv.URL[len("http"):]
	return srv, wsURL
}

func dial(t *testing.T, wsURL, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBridge_RejectsUnauthenticated(t *testing.T) {
	owner := &fakeOwner{tokens: map[string]string{}}
	_, wsURL := newTestServer(t, owner, &fakeStarter{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBridge_ScanStartThenPauseResumeStop(t *testing.T) {
	owner := &fakeOwner{
		tokens: map[string]string{"tok": "user-1"},
		owns:   map[string]string{"scan-1": "user-1"},
	}
	handle := &fakeHandle{}
	starter := &fakeStarter{handle: handle, gate: &fakeGate{}, bus: eventbus.New()}
	_, wsURL := newTestServer(t, owner, starter)

	conn := dial(t, wsURL, "tok")

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "scan:start", ScanID: "scan-1"}))
	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "scan:pause", ScanID: "scan-1"}))
	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "scan:resume", ScanID: "scan-1"}))
	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "scan:stop", ScanID: "scan-1"}))

	require.Eventually(t, func() bool {
		return handle.paused == 1 && handle.resumed == 1 && handle.stopped == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBridge_RejectsMessagesForScanNotOwned(t *testing.T) {
	owner := &fakeOwner{
		tokens: map[string]string{"tok": "user-1"},
		owns:   map[string]string{"scan-1": "someone-else"},
	}
	handle := &fakeHandle{}
	starter := &fakeStarter{handle: handle, gate: &fakeGate{}, bus: eventbus.New()}
	_, wsURL := newTestServer(t, owner, starter)

	conn := dial(t, wsURL, "tok")
	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "scan:start", ScanID: "scan-1"}))
	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "scan:pause", ScanID: "scan-1"}))
	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "scan:stop", ScanID: "scan-1"}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, handle.paused)
	assert.Equal(t, 0, handle.stopped)
}

func TestBridge_QuestionAnswerForwardsToGate(t *testing.T) {
	owner := &fakeOwner{
		tokens: map[string]string{"tok": "user-1"},
		owns:   map[string]string{"scan-1": "user-1"},
	}
	g := &fakeGate{}
	starter := &fakeStarter{handle: &fakeHandle{}, gate: g, bus: eventbus.New()}
	_, wsURL := newTestServer(t, owner, starter)

	conn := dial(t, wsURL, "tok")
	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "scan:start", ScanID: "scan-1"}))
	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "question:answer", ScanID: "scan-1", SelectedAnswer: 2}))

	require.Eventually(t, func() bool {
		return g.answered == 1 && g.lastAnswer == 2
	}, time.Second, 10*time.Millisecond)
}

func TestBridge_BroadcastsBusEventsToClient(t *testing.T) {
	owner := &fakeOwner{
		tokens: map[string]string{"tok": "user-1"},
		owns:   map[string]string{"scan-1": "user-1"},
	}
	bus := eventbus.New()
	starter := &fakeStarter{handle: &fakeHandle{}, gate: &fakeGate{}, bus: bus}
	_, wsURL := newTestServer(t, owner, starter)

	conn := dial(t, wsURL, "tok")
	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "scan:start", ScanID: "scan-1"}))
	time.Sleep(30 * time.Millisecond)

	bus.Publish(eventbus.Event{Topic: eventbus.TopicVulnFound, ScanID: "scan-1", Payload: "sqli"})

	var out OutboundMessage
	conn.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, eventbus.TopicVulnFound, out.Topic)
	assert.Equal(t, "scan-1", out.ScanID)
}

func TestBridge_StartFailureSendsScanError(t *testing.T) {
	owner := &fakeOwner{
		tokens: map[string]string{"tok": "user-1"},
		owns:   map[string]string{"scan-1": "user-1"},
	}
	starter := &fakeStarter{err: assert.AnError}
	_, wsURL := newTestServer(t, owner, starter)

	conn := dial(t, wsURL, "tok")
	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "scan:start", ScanID: "scan-1"}))

	var out OutboundMessage
	conn.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, eventbus.TopicScanError, out.Topic)
}

func TestBearerToken_PrefersHeaderOverQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=query-token", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", bearerToken(r))
}

func TestBearerToken_FallsBackToQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=query-token", nil)
	assert.Equal(t, "query-token", bearerToken(r))
}
