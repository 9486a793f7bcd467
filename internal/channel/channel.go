package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-agent/internal/observability"
	"github.com/lexiqai/interview-agent/internal/resilience"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	writeWait    = 10 * time.Second
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("interview channel closed")

// State is the connection state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Turn is an inbound AI message.
type Turn struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// Poster delivers candidate turns to the backend.
type Poster interface {
	PostTurn(ctx context.Context, sessionID, text string) error
}

// Options configures a Channel.
type Options struct {
	BaseURL   string // ws:// or wss:// origin of the backend
	SessionID string
	Poster    Poster
	Backoff   time.Duration // wait between reconnect attempts
	Dialer    *websocket.Dialer
	Logger    zerolog.Logger
}

// Channel is the always-on connection that delivers AI turns. Candidate turns
// go out over the backend's HTTP API.
type Channel struct {
	url       string
	sessionID string
	poster    Poster
	backoff   time.Duration
	dialer    *websocket.Dialer
	logger    zerolog.Logger

	turns  chan Turn
	states chan State

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	cancel   context.CancelFunc
	closed   bool
	running  bool
	last     string
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a channel. Call Run to connect.
func New(opts Options) *Channel {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Channel{
		url:       InterviewURL(opts.BaseURL, opts.SessionID),
		sessionID: opts.SessionID,
		poster:    opts.Poster,
		backoff:   backoff,
		dialer:    dialer,
		logger:    opts.Logger.With().Str("component", "channel").Logger(),
		turns:     make(chan Turn, 16),
		states:    make(chan State, 16),
		state:     StateClosed,
		done:      make(chan struct{}),
	}
}

// InterviewURL builds the channel endpoint for a session.
func InterviewURL(base, sessionID string) string {
	return strings.TrimRight(base, "/") + "/ws/interview/" + url.PathEscape(sessionID) + "/"
}

// Turns delivers AI turns. An exact repeat of the last delivered message is
// dropped. The channel is closed when Run returns.
func (c *Channel) Turns() <-chan Turn { return c.turns }

// States delivers connection state changes. Slow readers miss states.
func (c *Channel) States() <-chan State { return c.states }

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when Run has returned.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Run connects and keeps reconnecting after a fixed backoff until Close is
// called or ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("interview channel already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	defer func() {
		cancel()
		c.setState(StateClosed)
		close(c.turns)
		close(c.states)
		close(c.done)
	}()

	reconnect := resilience.FixedReconnectConfig(c.backoff)
	reconnect.OnFailure = func(attempt int, err error, wait time.Duration) {
		c.setState(StateErrored)
		observability.IncrementChannelReconnects()
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("Interview channel connect failed")
	}

	for {
		var conn *websocket.Conn
		_, err := resilience.Reconnect(ctx, func(ctx context.Context) error {
			c.setState(StateConnecting)
			var err error
			conn, err = c.dial(ctx)
			return err
		}, reconnect)
		if err != nil {
			return nil
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateOpen)
		c.logger.Info().Str("url", c.url).Msg("Interview channel open")

		readErr := c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.setState(StateClosed)
			c.logger.Info().Msg("Interview channel closed by server")
		} else {
			c.setState(StateErrored)
			c.logger.Warn().Err(readErr).Msg("Interview channel dropped")
		}
		observability.IncrementChannelReconnects()

		if !resilience.Wait(ctx, c.backoff) {
			return nil
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return conn, nil
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				// Unblocks ReadMessage.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var turn Turn
		if err := json.Unmarshal(data, &turn); err != nil {
			c.logger.Warn().Err(err).Msg("Ignoring malformed channel frame")
			continue
		}
		if !strings.EqualFold(turn.Sender, "ai") || strings.TrimSpace(turn.Message) == "" {
			continue
		}
		c.deliver(ctx, turn)
	}
}

// deliver forwards a turn unless it repeats the previous one.
func (c *Channel) deliver(ctx context.Context, turn Turn) {
	c.mu.Lock()
	if turn.Message == c.last {
		c.mu.Unlock()
		c.logger.Debug().Msg("Dropping repeated AI turn")
		return
	}
	c.last = turn.Message
	c.mu.Unlock()

	select {
	case c.turns <- turn:
	case <-ctx.Done():
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	observability.UpdateChannelState(int(s))
	select {
	case c.states <- s:
	default:
	}
}

// Send posts a candidate turn. It is not queued or retried.
func (c *Channel) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if c.poster == nil {
		return fmt.Errorf("interview channel has no poster")
	}
	return c.poster.PostTurn(ctx, c.sessionID, text)
}

// Close stops the reconnect loop and the live connection. It waits for Run
// to return when it is running.
func (c *Channel) Close() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		cancel := c.cancel
		running := c.running
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if running {
			<-c.done
		}
	})
	return nil
}
