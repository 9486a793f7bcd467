package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/interview-agent/internal/backend"
	"github.com/lexiqai/interview-agent/internal/journal"
	"github.com/lexiqai/interview-agent/internal/session"
)

type fakeController struct {
	mu       sync.Mutex
	calls    []string
	events   chan session.Event
	snapshot session.Snapshot
	err      error
}

func newFakeController() *fakeController {
	return &fakeController{
		events:   make(chan session.Event, 8),
		snapshot: session.Snapshot{SessionID: "42", Phase: session.PhaseActive},
	}
}

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) Snapshot() session.Snapshot { return f.snapshot }

func (f *fakeController) Subscribe(int) (<-chan session.Event, func()) {
	return f.events, func() {}
}

func (f *fakeController) SubmitText(text string) error { return f.record("submit:" + text) }

func (f *fakeController) SetMicrophone(enabled bool) error {
	if enabled {
		return f.record("mic:on")
	}
	return f.record("mic:off")
}

func (f *fakeController) SetCamera(enabled bool) error {
	if enabled {
		return f.record("cam:on")
	}
	return f.record("cam:off")
}

func (f *fakeController) RequestEnd(reason session.EndReason) error {
	return f.record("end:" + string(reason))
}
func (f *fakeController) ConfirmEnd() error     { return f.record("confirm") }
func (f *fakeController) CancelEnd() error      { return f.record("cancel") }
func (f *fakeController) DismissWarning() error { return f.record("dismiss") }
func (f *fakeController) RetrySummary() error   { return f.record("retry") }

type fakeInterviews struct {
	err error
}

func (f fakeInterviews) GetInterview(context.Context, string) (*backend.Interview, error) {
	if f.err != nil {
		return nil, f.err
	}
	iv := &backend.Interview{JobDescription: "Go engineer"}
	iv.Candidate.FullName = "Ada"
	return iv, nil
}

type fakeStats struct{}

func (fakeStats) Stats(context.Context, string) (journal.Stats, error) {
	return journal.Stats{CandidateTurns: 3, AITurns: 4}, nil
}

func newTestServer(t *testing.T, ctrl Controller, iv InterviewReader, st StatsReader) *httptest.Server {
	mux := http.NewServeMux()
	NewServer(ctrl, "42", iv, st, zerolog.Nop()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialEvents(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/session/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestSnapshotEndpoint(t *testing.T) {
	srv := newTestServer(t, newFakeController(), nil, nil)

	resp, err := http.Get(srv.URL + "/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap session.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Equal(t, "42", snap.SessionID)
	require.Equal(t, session.PhaseActive, snap.Phase)

	resp2, err := http.Post(srv.URL+"/session", "application/json", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestEventsSocketSendsSnapshotThenEvents(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl, nil, nil)
	conn := dialEvents(t, srv)

	var first Frame
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "snapshot", first.Type)
	require.Equal(t, "42", first.Snapshot.SessionID)

	ctrl.events <- session.Event{Type: session.EventProgress, Progress: 40}
	var e session.Event
	require.NoError(t, conn.ReadJSON(&e))
	require.Equal(t, session.EventProgress, e.Type)
	require.Equal(t, 40, e.Progress)
}

func TestEventsSocketAppliesCommands(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl, nil, nil)
	conn := dialEvents(t, srv)

	var snap Frame
	require.NoError(t, conn.ReadJSON(&snap))

	off := false
	commands := []CommandMessage{
		{Command: "submit_text", Text: "hello"},
		{Command: "set_microphone", Enabled: &off},
		{Command: "set_camera", Enabled: &off},
		{Command: "request_end", Reason: "leave"},
		{Command: "cancel_end"},
		{Command: "confirm_end"},
		{Command: "dismiss_warning"},
		{Command: "retry_summary"},
	}
	for _, cmd := range commands {
		require.NoError(t, conn.WriteJSON(cmd))
		var ack Frame
		require.NoError(t, conn.ReadJSON(&ack))
		require.Equal(t, "ack", ack.Type)
		require.Equal(t, cmd.Command, ack.Command)
	}

	require.Equal(t, []string{
		"submit:hello", "mic:off", "cam:off", "end:leave", "cancel", "confirm", "dismiss", "retry",
	}, ctrl.recorded())
}

func TestEventsSocketRejectsBadCommands(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl, nil, nil)
	conn := dialEvents(t, srv)

	var snap Frame
	require.NoError(t, conn.ReadJSON(&snap))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, "error", f.Type)

	require.NoError(t, conn.WriteJSON(CommandMessage{Command: "dance"}))
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, "error", f.Type)
	require.Contains(t, f.Error, "unknown command")

	require.NoError(t, conn.WriteJSON(CommandMessage{Command: "set_camera"}))
	require.NoError(t, conn.ReadJSON(&f))
	require.Contains(t, f.Error, "enabled is required")

	ctrl.mu.Lock()
	ctrl.err = session.ErrFinished
	ctrl.mu.Unlock()
	require.NoError(t, conn.WriteJSON(CommandMessage{Command: "confirm_end"}))
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, "error", f.Type)
	require.Equal(t, session.ErrFinished.Error(), f.Error)
}

func TestEventsSocketClosesWhenSessionEnds(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl, nil, nil)
	conn := dialEvents(t, srv)

	var snap Frame
	require.NoError(t, conn.ReadJSON(&snap))

	close(ctrl.events)
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestAnalyticsEndpoint(t *testing.T) {
	srv := newTestServer(t, newFakeController(), fakeInterviews{}, fakeStats{})

	resp, err := http.Get(srv.URL + "/analytics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out Analytics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "42", out.SessionID)
	require.Equal(t, "Ada", out.Interview.Candidate.FullName)
	require.Equal(t, 3, out.Journal.CandidateTurns)
	require.Empty(t, out.Errors)
}

func TestAnalyticsEndpointBackendDown(t *testing.T) {
	srv := newTestServer(t, newFakeController(), fakeInterviews{err: errors.New("connection refused")}, nil)

	resp, err := http.Get(srv.URL + "/analytics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var out Analytics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Errors, 1)
	require.Nil(t, out.Interview)
}
