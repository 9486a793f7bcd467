package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-agent/internal/config"
	"github.com/lexiqai/interview-agent/internal/observability"
	"github.com/lexiqai/interview-agent/internal/recording"
	"github.com/lexiqai/interview-agent/internal/resilience"
)

// Backend routes.
const (
	pathCreateCandidate = "/api/candidates/add-candidate/"
	pathPostTurn        = "/api/interview_conversation/post/"
	pathUploadRecording = "/api/recordings/upload/"
	pathSummary         = "/api/interviews/generate_summary_by_interview_id/"
	pathInterview       = "/api/interviews/get-interview_by_id/"
)

// ErrEmptySessionID is returned when the backend does not issue a session id.
var ErrEmptySessionID = errors.New("backend returned an empty session id")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the call may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Candidate is the submission that opens a session.
type Candidate struct {
	FullName       string
	Email          string
	PhoneNumber    string
	JobDescription string
	CVFileName     string
	CVDocument     []byte
}

// Interview is the analytics view of a session.
type Interview struct {
	Candidate struct {
		FullName    string `json:"full_name"`
		Email       string `json:"email"`
		PhoneNumber string `json:"phone_number"`
	} `json:"candidate"`
	JobDescription string `json:"jd"`
	CreatedAt      string `json:"created_at"`
}

// Client talks to the interview backend over HTTP.
//
// Each call carries its own deadline. Summaries and uploads are allowed far
// longer than turn posts, so they get separate timeouts and separate
// breakers: a slow summary endpoint must not cut off candidate turns.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeouts    timeouts
	breakers    breakers
	retryConfig *resilience.RetryConfig
	logger      zerolog.Logger
}

type timeouts struct {
	request time.Duration
	summary time.Duration
	upload  time.Duration
}

type breakers struct {
	reads   *resilience.CircuitBreaker
	turns   *resilience.CircuitBreaker
	uploads *resilience.CircuitBreaker
	summary *resilience.CircuitBreaker
}

// NewClient creates a backend client from configuration.
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	breaker := func(name string) *resilience.CircuitBreaker {
		cb := resilience.NewCircuitBreaker(
			name,
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		)
		cb.OnStateChange(func(name string, _, to resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(to))
		})
		return cb
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = config.Millis(cfg.RetryInitialBackoff)

	return &Client{
		baseURL:    strings.TrimRight(cfg.BackendURL, "/"),
		httpClient: &http.Client{},
		timeouts: timeouts{
			request: time.Duration(cfg.BackendTimeout) * time.Second,
			summary: time.Duration(cfg.SummaryTimeout) * time.Second,
			upload:  time.Duration(cfg.UploadTimeout) * time.Second,
		},
		breakers: breakers{
			reads:   breaker("backend"),
			turns:   breaker("backend_turns"),
			uploads: breaker("backend_uploads"),
			summary: breaker("backend_summary"),
		},
		retryConfig: retry,
		logger:      logger.With().Str("component", "backend").Logger(),
	}
}

// CreateCandidate submits the candidate's CV and job description and returns
// the session id the backend issues.
func (c *Client) CreateCandidate(ctx context.Context, cand Candidate) (string, error) {
	var sessionID string
	err := c.withRetry(ctx, func(ctx context.Context) error {
		body, contentType, err := multipartBody(func(w *multipart.Writer) error {
			for _, f := range [][2]string{
				{"full_name", cand.FullName},
				{"email", cand.Email},
				{"phone_number", cand.PhoneNumber},
				{"jd", cand.JobDescription},
			} {
				if err := w.WriteField(f[0], f[1]); err != nil {
					return err
				}
			}
			return writeFile(w, "cv_document", cand.CVFileName, cand.CVDocument)
		})
		if err != nil {
			return err
		}

		var resp struct {
			Data json.RawMessage `json:"data"`
		}
		if err := c.do(ctx, c.breakers.reads, c.timeouts.request, "create candidate", http.MethodPost, pathCreateCandidate, contentType, body, &resp); err != nil {
			return err
		}
		sessionID = rawID(resp.Data)
		return nil
	})
	if err != nil {
		return "", err
	}
	if sessionID == "" {
		return "", ErrEmptySessionID
	}
	c.logger.Info().Str("session_id", sessionID).Msg("Candidate submitted")
	return sessionID, nil
}

// PostTurn sends one candidate utterance. It is not retried: a turn lost to
// a backend outage stays lost.
func (c *Client) PostTurn(ctx context.Context, sessionID, text string) error {
	payload, err := json.Marshal(map[string]string{
		"sender":    "candidate",
		"message":   text,
		"interview": sessionID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	return c.do(ctx, c.breakers.turns, c.timeouts.request, "post turn", http.MethodPost, pathPostTurn, "application/json", payload, nil)
}

// UploadRecording uploads the finalized artifacts. Camera segments after the
// first are sent as extra recording_segment files.
func (c *Client) UploadRecording(ctx context.Context, sessionID string, arts recording.Artifacts) error {
	return c.withRetry(ctx, func(ctx context.Context) error {
		body, contentType, err := multipartBody(func(w *multipart.Writer) error {
			if !arts.Video.Empty() {
				if err := writeFile(w, "recording", arts.Video.Name, arts.Video.Data); err != nil {
					return err
				}
			}
			for _, seg := range arts.Segments {
				if err := writeFile(w, "recording_segment", seg.Name, seg.Data); err != nil {
					return err
				}
			}
			if !arts.Audio.Empty() {
				if err := writeFile(w, "audio_recording", arts.Audio.Name, arts.Audio.Data); err != nil {
					return err
				}
			}
			return w.WriteField("interview_id", sessionID)
		})
		if err != nil {
			return err
		}
		return c.do(ctx, c.breakers.uploads, c.timeouts.upload, "upload recording", http.MethodPost, pathUploadRecording, contentType, body, nil)
	})
}

// GenerateSummary asks the backend to analyze the session. It is issued once
// per attempt; retrying is left to the user.
func (c *Client) GenerateSummary(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var resp json.RawMessage
	path := pathSummary + "?interview_id=" + url.QueryEscape(sessionID)
	if err := c.do(ctx, c.breakers.summary, c.timeouts.summary, "generate summary", http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetInterview reads the analytics view of a session.
func (c *Client) GetInterview(ctx context.Context, sessionID string) (*Interview, error) {
	var resp struct {
		Data struct {
			Interview Interview `json:"Interview"`
		} `json:"data"`
	}
	path := pathInterview + "?interview_id=" + url.QueryEscape(sessionID)
	if err := c.do(ctx, c.breakers.reads, c.timeouts.request, "get interview", http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data.Interview, nil
}

// Ping reports whether the backend answers HTTP at all.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, c.timeouts.request)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &APIError{Op: "ping", StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) withRetry(ctx context.Context, fn resilience.RetryableFunc) error {
	return resilience.Retry(ctx, fn, c.retryConfig, func(err error) bool {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.Temporary()
		}
		return resilience.IsRetryableNetworkError(err)
	})
}

// do performs one request through cb and decodes a JSON response into out
// when out is non-nil. Client errors other than 429 are returned but do not
// count against the breaker: the backend answered.
func (c *Client) do(ctx context.Context, cb *resilience.CircuitBreaker, timeout time.Duration, op, method, path, contentType string, body []byte, out any) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var callErr error
	err := cb.Call(func() error {
		callErr = c.roundTrip(ctx, op, method, path, contentType, body, out)
		var apiErr *APIError
		if errors.As(callErr, &apiErr) && !apiErr.Temporary() {
			return nil
		}
		return callErr
	})
	if err == nil {
		err = callErr
	}

	event := c.logger.Debug()
	if err != nil {
		observability.IncrementCircuitBreakerFailures(cb.Name())
		event = c.logger.Warn().Err(err)
	}
	event.Str("op", op).Dur("latency", time.Since(start)).Msg("Backend call")
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path, contentType string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", observability.NewCorrelationID())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(bytes.TrimSpace(data)), 256)}
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: failed to decode response: %w", op, err)
		}
	}
	return nil
}

// withTimeout bounds ctx by d. A non-positive d leaves ctx unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func multipartBody(write func(*multipart.Writer) error) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := write(w); err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, field, name string, data []byte) error {
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

// rawID accepts a JSON string or number.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	id := strings.TrimSpace(string(raw))
	if id == "null" {
		return ""
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
