package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/interview-agent/internal/audio"
	"github.com/lexiqai/interview-agent/internal/backend"
	"github.com/lexiqai/interview-agent/internal/channel"
	"github.com/lexiqai/interview-agent/internal/config"
	"github.com/lexiqai/interview-agent/internal/hostapi"
	"github.com/lexiqai/interview-agent/internal/journal"
	"github.com/lexiqai/interview-agent/internal/media"
	"github.com/lexiqai/interview-agent/internal/observability"
	"github.com/lexiqai/interview-agent/internal/recording"
	"github.com/lexiqai/interview-agent/internal/session"
	"github.com/lexiqai/interview-agent/internal/stt"
	"github.com/lexiqai/interview-agent/internal/tts"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("backend_url", cfg.BackendURL).
		Str("channel_url", cfg.ChannelURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Str("version", version).
		Msg("Interview agent starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := backend.NewClient(cfg, logger)

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID, err = submitCandidate(ctx, client, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Candidate submission failed")
		}
	}
	log := observability.WithSession(sessionID, "interviewd")
	components := logger.With().Str("session_id", sessionID).Logger()
	log.Info().Msg("Interview session created")

	// Journal is best effort; the interview runs without it.
	var (
		store *journal.Store
		jrnl  session.Journal
		stats hostapi.StatsReader
	)
	if cfg.JournalPath != "" {
		store, err = journal.Open(cfg.JournalPath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.JournalPath).Msg("Journal unavailable")
		} else {
			defer store.Close()
			jrnl, stats = store, store
		}
	}

	var camera media.Device
	if cfg.CameraCommand != "" {
		camera = &media.CommandCamera{Command: cfg.CameraCommand}
	}
	devices := media.NewManager(&media.PulseMicrophone{Source: cfg.AudioSource}, camera, components)

	var recognizer stt.Recognizer
	if cfg.DeepgramAPIKey != "" {
		recognizer = stt.NewDeepgramClient(cfg, components)
	} else {
		log.Warn().Msg("DEEPGRAM_API_KEY not set, speech recognition disabled")
	}
	engine := stt.NewEngine(recognizer, stt.EngineConfig{
		SilenceTimeout: config.Millis(cfg.SilenceTimeout),
		VAD: &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
			FrameSize:       320,
		},
	}, components)

	var synth tts.Synthesizer
	if cfg.CartesiaAPIKey != "" {
		synth = tts.NewCartesiaClient(cfg, components)
	} else {
		log.Warn().Msg("CARTESIA_API_KEY not set, interviewer turns will not be spoken")
	}
	speaker := tts.NewSpeaker(synth, tts.PulsePlayer{}, components)

	interview := channel.New(channel.Options{
		BaseURL:   cfg.ChannelURL,
		SessionID: sessionID,
		Poster:    client,
		Backoff:   config.Millis(cfg.ReconnectBackoff),
		Logger:    components,
	})

	orch := session.New(session.Options{
		SessionID:    sessionID,
		Media:        devices,
		Speech:       engine,
		Recordings:   recording.NewPipeline(config.Millis(cfg.ChunkInterval), components),
		Channel:      interview,
		Speaker:      speaker,
		Backend:      client,
		Journal:      jrnl,
		RecordingDir: filepath.Join(cfg.RecordingDir, sessionID),
		Timing:       session.TimingFromConfig(cfg),
		Logger:       logger,
		OnComplete: func() {
			log.Info().Msg("Interview complete, analytics available at /analytics")
		},
	})

	mux := http.NewServeMux()
	hostapi.NewServer(orch, sessionID, client, stats, components).Register(mux)

	mux.HandleFunc("/health", observability.HealthCheckHandler(version))

	// Readiness checks are built here to avoid import cycles.
	checks := map[string]observability.HealthCheckFunc{
		"backend": func(ctx context.Context) (bool, error) {
			if err := client.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	}
	if cfg.DeepgramAPIKey != "" {
		// Config only; a live check would open a billed stream.
		checks["deepgram"] = func(context.Context) (bool, error) { return true, nil }
	}
	if cfg.BackendGRPCHealthAddr != "" {
		probe, err := backend.NewHealthProbe(cfg.BackendGRPCHealthAddr)
		if err != nil {
			log.Warn().Err(err).Msg("gRPC health probe unavailable")
		} else {
			defer probe.Close()
			checks["backend_grpc"] = probe.Check
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(version, checks))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		log.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// No write timeout: /session/events is a long-lived WebSocket.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("events", fmt.Sprintf("ws://localhost:%s/session/events", cfg.Port)).
			Msg("Host API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Session stopped with error")
	}

	// Keep serving the finished session until asked to stop.
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}

// submitCandidate registers the configured candidate and returns the new
// interview session id.
func submitCandidate(ctx context.Context, client *backend.Client, cfg *config.Config) (string, error) {
	cv, err := os.ReadFile(cfg.CandidateCVPath)
	if err != nil {
		return "", fmt.Errorf("reading CV: %w", err)
	}
	var jd []byte
	if cfg.JobDescriptionPath != "" {
		if jd, err = os.ReadFile(cfg.JobDescriptionPath); err != nil {
			return "", fmt.Errorf("reading job description: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.BackendTimeout)*time.Second)
	defer cancel()
	return client.CreateCandidate(ctx, backend.Candidate{
		FullName:       cfg.CandidateFullName,
		Email:          cfg.CandidateEmail,
		PhoneNumber:    cfg.CandidatePhone,
		JobDescription: string(jd),
		CVFileName:     filepath.Base(cfg.CandidateCVPath),
		CVDocument:     cv,
	})
}
