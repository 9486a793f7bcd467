package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-agent/internal/backend"
	"github.com/lexiqai/interview-agent/internal/journal"
	"github.com/lexiqai/interview-agent/internal/session"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	eventsBuffer = 128
)

var upgrader = websocket.Upgrader{
	// The host UI runs on the same machine; any origin is accepted.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Controller is the session surface exposed to the host UI.
type Controller interface {
	Snapshot() session.Snapshot
	Subscribe(buffer int) (<-chan session.Event, func())
	SubmitText(text string) error
	SetMicrophone(enabled bool) error
	SetCamera(enabled bool) error
	RequestEnd(reason session.EndReason) error
	ConfirmEnd() error
	CancelEnd() error
	DismissWarning() error
	RetrySummary() error
}

// InterviewReader loads the interview record from the backend.
type InterviewReader interface {
	GetInterview(ctx context.Context, sessionID string) (*backend.Interview, error)
}

// StatsReader aggregates the local journal.
type StatsReader interface {
	Stats(ctx context.Context, sessionID string) (journal.Stats, error)
}

// CommandMessage is a command frame sent by the host UI.
type CommandMessage struct {
	Command string `json:"command"`
	Text    string `json:"text,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Frame is a non-event message sent to the host UI.
type Frame struct {
	Type     string            `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Command  string            `json:"command,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Analytics is the post-interview view served at /analytics.
type Analytics struct {
	SessionID string             `json:"session_id"`
	Interview *backend.Interview `json:"interview,omitempty"`
	Journal   *journal.Stats     `json:"journal,omitempty"`
	Errors    []string           `json:"errors,omitempty"`
}

// Server serves the session to the host UI.
type Server struct {
	session    Controller
	sessionID  string
	interviews InterviewReader
	stats      StatsReader
	logger     zerolog.Logger
}

// NewServer creates a host API server. interviews and stats may be nil.
func NewServer(ctrl Controller, sessionID string, interviews InterviewReader, stats StatsReader, logger zerolog.Logger) *Server {
	return &Server{
		session:    ctrl,
		sessionID:  sessionID,
		interviews: interviews,
		stats:      stats,
		logger:     logger.With().Str("component", "hostapi").Logger(),
	}
}

// Register mounts the host API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/session", s.handleSnapshot)
	mux.HandleFunc("/session/events", s.handleEvents)
	mux.HandleFunc("/analytics", s.handleAnalytics)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	out := Analytics{SessionID: s.sessionID}
	if s.interviews != nil {
		interview, err := s.interviews.GetInterview(ctx, s.sessionID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to load interview")
			out.Errors = append(out.Errors, fmt.Sprintf("interview: %v", err))
		} else {
			out.Interview = interview
		}
	}
	if s.stats != nil {
		st, err := s.stats.Stats(ctx, s.sessionID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to read journal")
			out.Errors = append(out.Errors, fmt.Sprintf("journal: %v", err))
		} else {
			out.Journal = &st
		}
	}

	status := http.StatusOK
	if out.Interview == nil && out.Journal == nil && len(out.Errors) > 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, out)
}

// handleEvents streams session events to the host UI and applies the
// commands it sends back. The first frame is always a snapshot.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade host connection")
		return
	}
	defer conn.Close()

	events, unsubscribe := s.session.Subscribe(eventsBuffer)
	defer unsubscribe()

	snap := s.session.Snapshot()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Frame{Type: "snapshot", Snapshot: &snap}); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send snapshot")
		return
	}
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Host UI connected")

	replies := make(chan Frame, 8)
	done := make(chan struct{})
	go s.writeLoop(conn, events, replies, done)
	defer close(done)

	conn.SetReadLimit(64 * 1024)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("Host connection read error")
			}
			return
		}

		var cmd CommandMessage
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.reply(replies, Frame{Type: "error", Error: "malformed command"})
			continue
		}
		if err := s.apply(cmd); err != nil {
			s.reply(replies, Frame{Type: "error", Command: cmd.Command, Error: err.Error()})
			continue
		}
		s.reply(replies, Frame{Type: "ack", Command: cmd.Command})
	}
}

func (s *Server) reply(replies chan<- Frame, f Frame) {
	select {
	case replies <- f:
	default:
		s.logger.Debug().Str("type", f.Type).Msg("Dropping reply to slow host")
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, events <-chan session.Event, replies <-chan Frame, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var msg any
		select {
		case <-done:
			return
		case e, ok := <-events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"))
				return
			}
			msg = e
		case f := <-replies:
			msg = f
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug().Err(err).Msg("Host connection write failed")
			return
		}
	}
}

var errUnknownCommand = errors.New("unknown command")

func (s *Server) apply(cmd CommandMessage) error {
	switch cmd.Command {
	case "submit_text":
		return s.session.SubmitText(cmd.Text)
	case "set_microphone":
		if cmd.Enabled == nil {
			return errors.New("enabled is required")
		}
		return s.session.SetMicrophone(*cmd.Enabled)
	case "set_camera":
		if cmd.Enabled == nil {
			return errors.New("enabled is required")
		}
		return s.session.SetCamera(*cmd.Enabled)
	case "request_end":
		return s.session.RequestEnd(session.EndReason(cmd.Reason))
	case "confirm_end":
		return s.session.ConfirmEnd()
	case "cancel_end":
		return s.session.CancelEnd()
	case "dismiss_warning":
		return s.session.DismissWarning()
	case "retry_summary":
		return s.session.RetrySummary()
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, cmd.Command)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
