package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the interview session agent
type Config struct {
	// Host API (the local surface the interview UI subscribes to)
	Port string `envconfig:"PORT" default:"8090"`

	// Session identity. Either SESSION_ID is given or a candidate is submitted at startup.
	SessionID string `envconfig:"SESSION_ID" default:""`

	// Candidate submission used to obtain a session id when SESSION_ID is empty
	CandidateFullName  string `envconfig:"CANDIDATE_FULL_NAME" default:""`
	CandidateEmail     string `envconfig:"CANDIDATE_EMAIL" default:""`
	CandidatePhone     string `envconfig:"CANDIDATE_PHONE" default:""`
	CandidateCVPath    string `envconfig:"CANDIDATE_CV_PATH" default:""`
	JobDescriptionPath string `envconfig:"JOB_DESCRIPTION_PATH" default:""`

	// Interview backend
	BackendURL            string `envconfig:"BACKEND_URL" default:"http://localhost:3004"`
	ChannelURL            string `envconfig:"CHANNEL_URL" default:"ws://localhost:3004"`
	BackendTimeout        int    `envconfig:"BACKEND_TIMEOUT" default:"30"`        // seconds, turns and reads
	SummaryTimeout        int    `envconfig:"SUMMARY_TIMEOUT" default:"300"`       // seconds
	UploadTimeout         int    `envconfig:"UPLOAD_TIMEOUT" default:"120"`        // seconds, per attempt
	BackendGRPCHealthAddr string `envconfig:"BACKEND_GRPC_HEALTH_ADDR" default:""` // optional host:port exposing grpc.health.v1

	// Deepgram STT. An empty key leaves the session in text-only mode.
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Cartesia TTS. An empty key makes AI turns silent (text only).
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Capture devices
	AudioSource   string `envconfig:"AUDIO_SOURCE" default:"default"` // Pulse source id or description fragment
	CameraCommand string `envconfig:"CAMERA_COMMAND" default:"ffmpeg -hide_banner -loglevel error -f v4l2 -i /dev/video0 -f pulse -i default -c:v libvpx-vp9 -deadline realtime -c:a libopus -f webm pipe:1"`

	// Recording output and session journal
	RecordingDir string `envconfig:"RECORDING_DIR" default:"recordings"`
	JournalPath  string `envconfig:"JOURNAL_PATH" default:"interview-journal.db"`

	// Session timings (milliseconds) and policy
	SilenceTimeout     int `envconfig:"SILENCE_TIMEOUT_MS" default:"5000"`
	InterruptionSettle int `envconfig:"INTERRUPTION_SETTLE_MS" default:"1000"`
	ReconnectBackoff   int `envconfig:"RECONNECT_BACKOFF_MS" default:"5000"`
	NarrationInterval  int `envconfig:"NARRATION_INTERVAL_MS" default:"2500"`
	ProgressTick       int `envconfig:"PROGRESS_TICK_MS" default:"1000"`
	ProgressCeiling    int `envconfig:"PROGRESS_CEILING" default:"95"`
	ProgressMaxStep    int `envconfig:"PROGRESS_MAX_STEP" default:"15"`
	ChunkInterval      int `envconfig:"CHUNK_INTERVAL_MS" default:"1000"`
	TerminationDelay   int `envconfig:"TERMINATION_DELAY_MS" default:"3000"`
	CompletionDelay    int `envconfig:"COMPLETION_DELAY_MS" default:"2000"`
	WarningCap         int `envconfig:"WARNING_CAP" default:"2"`

	// Voice activity detection on microphone PCM
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	if c.SessionID == "" && c.CandidateCVPath == "" {
		return fmt.Errorf("either SESSION_ID or CANDIDATE_CV_PATH is required")
	}
	if c.SessionID == "" && (c.CandidateFullName == "" || c.CandidateEmail == "") {
		return fmt.Errorf("CANDIDATE_FULL_NAME and CANDIDATE_EMAIL are required to submit a candidate")
	}
	if c.WarningCap < 0 {
		return fmt.Errorf("WARNING_CAP must not be negative")
	}
	if c.ProgressCeiling <= 0 || c.ProgressCeiling >= 100 {
		return fmt.Errorf("PROGRESS_CEILING must be between 1 and 99")
	}
	for name, ms := range map[string]int{
		"SILENCE_TIMEOUT_MS":    c.SilenceTimeout,
		"RECONNECT_BACKOFF_MS":  c.ReconnectBackoff,
		"PROGRESS_TICK_MS":      c.ProgressTick,
		"CHUNK_INTERVAL_MS":     c.ChunkInterval,
		"NARRATION_INTERVAL_MS": c.NarrationInterval,
	} {
		if ms <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// Millis converts a millisecond setting to a duration
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
