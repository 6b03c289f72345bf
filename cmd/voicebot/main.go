package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KW781kazu/voicebot/internal/adminauth"
	"github.com/KW781kazu/voicebot/internal/api"
	"github.com/KW781kazu/voicebot/internal/archive"
	"github.com/KW781kazu/voicebot/internal/archive/pgstore"
	"github.com/KW781kazu/voicebot/internal/callsession"
	"github.com/KW781kazu/voicebot/internal/config"
	"github.com/KW781kazu/voicebot/internal/database"
	"github.com/KW781kazu/voicebot/internal/fallback"
	"github.com/KW781kazu/voicebot/internal/followup"
	"github.com/KW781kazu/voicebot/internal/intent"
	"github.com/KW781kazu/voicebot/internal/media"
	"github.com/KW781kazu/voicebot/internal/metrics"
	"github.com/KW781kazu/voicebot/internal/stt"
	"github.com/KW781kazu/voicebot/internal/telephony"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	archiveTimeout  = 10 * time.Second
	cleanupInterval = 6 * time.Hour
	sttSampleRate   = 8000

	ackToneHz       = 880
	ackToneDuration = 150 * time.Millisecond
)

func main() {
	startedAt := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting voicebot",
		"version", version,
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"stt_engine", cfg.STTEngine,
		"reply_policy", cfg.ReplyPolicy,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Load system configuration from database.
	sysConfig, err := database.NewSystemConfigRepository(appCtx, db)
	if err != nil {
		slog.Error("failed to load system config", "error", err)
		os.Exit(1)
	}
	transcripts := database.NewCallTranscriptRepository(db)

	// Degraded-mode gate, with the forced flag restored from the last run.
	gate := fallback.NewGate(cfg.FallbackWindow, sysConfig, logger)
	if err := gate.Restore(appCtx); err != nil {
		slog.Error("failed to restore fallback state", "error", err)
		os.Exit(1)
	}

	// Telephony REST client and follow-up messaging.
	tel := telephony.NewClient(telephony.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		Language:   cfg.Language,
		StreamURL:  cfg.StreamURL(),
	}, logger)
	if !tel.Configured() {
		slog.Warn("telephony credentials not configured, replies and follow-ups are disabled")
	}
	followUps := followup.NewService(tel, tel, cfg.TwilioFrom, logger)

	var signatures *telephony.SignatureValidator
	if cfg.ValidateSignatures {
		signatures = telephony.NewSignatureValidator(cfg.TwilioAuthToken, cfg.PublicURL)
	}

	engine, err := newEngine(appCtx, cfg)
	if err != nil {
		slog.Error("failed to create transcription engine", "error", err)
		os.Exit(1)
	}

	// Archive sinks: the local index always, object storage and the shared
	// database when configured.
	sinks := []archive.Sink{archive.NewIndexSink(transcripts)}
	if cfg.TranscriptBucket != "" {
		s3Sink, err := archive.NewS3Sink(appCtx, cfg.AWSRegion, cfg.TranscriptBucket)
		if err != nil {
			slog.Error("failed to create s3 archive sink", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, s3Sink)
		slog.Info("archiving transcripts to s3", "bucket", cfg.TranscriptBucket)
	}
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(appCtx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open shared transcript store", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		sinks = append(sinks, pg)
		slog.Info("archiving transcripts to postgres")
	}
	recent := archive.NewRecentHistory(cfg.RecentCapacity)
	archiver := archive.NewArchiver(recent, archiveTimeout, logger, sinks...)

	archive.StartCleanupTicker(appCtx, transcripts, sysConfig, cfg.ArchiveRetentionDays, cleanupInterval, logger)

	var ackTone []byte
	if cfg.AckTone {
		ackTone = media.Tone(ackToneHz, ackToneDuration)
	}

	// Media stream sessions.
	registry := callsession.NewRegistry(logger)
	streamHandler := callsession.NewHandler(callsession.Deps{
		Engine: engine,
		STT: stt.Config{
			SampleRate: sttSampleRate,
			Encoding:   "pcm",
			Language:   cfg.Language,
			Vocabulary: cfg.STTVocabulary,
		},
		Policy: newPolicy(cfg),
		Templates: intent.Templates{
			HoursURL: cfg.HoursURL,
			FAQURL:   cfg.FAQURL,
			Address:  cfg.StoreAddress,
		},
		Redirector:   tel,
		FollowUps:    followUps,
		Failures:     gate,
		Archiver:     archiver,
		VAD:          media.DefaultVADConfig(),
		DrainTimeout: cfg.STTDrainTimeout,
		IdleTimeout:  cfg.StreamIdleTimeout,
		AckTone:      ackTone,
		Logger:       logger,
	}, registry, logger)

	// Prometheus metrics.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(registry, followUps, gate, recent, startedAt),
	)

	adminSecret, err := cfg.AdminSecretBytes()
	if err != nil {
		slog.Error("failed to decode admin secret", "error", err)
		os.Exit(1)
	}

	// HTTP server using the api package.
	handler := api.NewServer(api.Deps{
		Config:      cfg,
		Gate:        gate,
		Calls:       followUps,
		Sessions:    registry,
		Recent:      recent,
		Transcripts: transcripts,
		Stream:      streamHandler,
		Metrics:     promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		Signatures:  signatures,
		Credentials: adminauth.Credentials{User: cfg.AdminUser, PasswordHash: cfg.AdminPasswordHash},
		AdminSecret: adminSecret,
		Version:     version,
		StartedAt:   startedAt,
		Logger:      logger,
	})
	defer handler.Close()

	// No WriteTimeout: media stream sockets stay open for the whole call.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr, "stream_url", cfg.StreamURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout. Shutdown does not wait for hijacked
	// connections, so live sessions are stopped first and drain on their own.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down", "active_streams", registry.Count())
	registry.StopAll()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	waitForSessions(ctx, registry)
	appCancel()

	slog.Info("voicebot stopped")
}

// newEngine selects the transcription engine.
func newEngine(ctx context.Context, cfg *config.Config) (stt.Engine, error) {
	switch cfg.STTEngine {
	case config.STTEngineWebSocket:
		return stt.NewWebSocket(cfg.STTURL, cfg.STTAPIKey), nil
	default:
		e, err := stt.NewTranscribe(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

// newPolicy selects the reply policy. The store-info policy falls back to
// the keyword policy for utterances it has no fixed answer for.
func newPolicy(cfg *config.Config) intent.Policy {
	keyword := intent.NewKeywordPolicy()
	if cfg.ReplyPolicy != config.ReplyPolicyStoreInfo {
		return keyword
	}
	return intent.NewStoreInfoPolicy(intent.StoreInfo{
		Name:    cfg.StoreName,
		Hours:   cfg.StoreHours,
		Closed:  cfg.StoreClosed,
		Address: cfg.StoreAddress,
		Phone:   cfg.StorePhone,
	}, keyword)
}

// waitForSessions polls until every session has archived and left the
// registry, or ctx expires.
func waitForSessions(ctx context.Context, registry *callsession.Registry) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for registry.Count() > 0 {
		select {
		case <-ctx.Done():
			slog.Warn("sessions still active at shutdown deadline", "count", registry.Count())
			return
		case <-ticker.C:
		}
	}
}
