package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexiqai/interview-agent/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	id TEXT NOT NULL,
	sender TEXT NOT NULL,
	kind TEXT NOT NULL,
	text TEXT NOT NULL,
	at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_session ON messages (session_id, seq);
CREATE TABLE IF NOT EXISTS phases (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	from_phase TEXT NOT NULL,
	to_phase TEXT NOT NULL,
	at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS phases_session ON phases (session_id, seq);`

// PhaseChange is one recorded phase transition.
type PhaseChange struct {
	From session.Phase `json:"from"`
	To   session.Phase `json:"to"`
	At   time.Time     `json:"at"`
}

// Stats summarizes a journaled session.
type Stats struct {
	CandidateTurns int           `json:"candidate_turns"`
	AITurns        int           `json:"ai_turns"`
	Interruptions  int           `json:"interruptions"`
	Errors         int           `json:"errors"`
	Phase          session.Phase `json:"phase,omitempty"`
	StartedAt      time.Time     `json:"started_at,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Store appends transcript messages and phase changes to SQLite.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One connection keeps ":memory:" databases shared and writes serialized.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Store{db: db}, nil
}

// AppendMessage records one transcript message.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, m session.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (session_id, id, sender, kind, text, at) VALUES (?, ?, ?, ?, ?, ?)",
		sessionID, m.ID, string(m.Sender), string(m.Kind), m.Text, m.At.UTC())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// AppendPhase records one phase transition.
func (s *Store) AppendPhase(ctx context.Context, sessionID string, from, to session.Phase, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO phases (session_id, from_phase, to_phase, at) VALUES (?, ?, ?, ?)",
		sessionID, string(from), string(to), at.UTC())
	if err != nil {
		return fmt.Errorf("append phase: %w", err)
	}
	return nil
}

// Messages returns the transcript of sessionID in append order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]session.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, sender, kind, text, at FROM messages WHERE session_id = ? ORDER BY seq", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []session.Message
	for rows.Next() {
		var (
			m            session.Message
			sender, kind string
		)
		if err := rows.Scan(&m.ID, &sender, &kind, &m.Text, &m.At); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sender = session.Sender(sender)
		m.Kind = session.Kind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Phases returns the phase history of sessionID in order.
func (s *Store) Phases(ctx context.Context, sessionID string) ([]PhaseChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT from_phase, to_phase, at FROM phases WHERE session_id = ? ORDER BY seq", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query phases: %w", err)
	}
	defer rows.Close()

	var out []PhaseChange
	for rows.Next() {
		var (
			pc       PhaseChange
			from, to string
		)
		if err := rows.Scan(&from, &to, &pc.At); err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		pc.From, pc.To = session.Phase(from), session.Phase(to)
		out = append(out, pc)
	}
	return out, rows.Err()
}

// Stats aggregates the journal of sessionID.
func (s *Store) Stats(ctx context.Context, sessionID string) (Stats, error) {
	msgs, err := s.Messages(ctx, sessionID)
	if err != nil {
		return Stats{}, err
	}
	phases, err := s.Phases(ctx, sessionID)
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	for _, m := range msgs {
		switch m.Sender {
		case session.SenderCandidate:
			st.CandidateTurns++
		case session.SenderAI:
			if m.Kind != session.KindLoading {
				st.AITurns++
			}
		}
		switch m.Kind {
		case session.KindInterruption:
			st.Interruptions++
		case session.KindError:
			st.Errors++
		}
	}
	if len(phases) > 0 {
		first, last := phases[0], phases[len(phases)-1]
		st.Phase = last.To
		st.StartedAt = first.At
		st.Duration = last.At.Sub(first.At)
	}
	return st, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
