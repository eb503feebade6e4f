package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/vitalsapp/webrtc-media-mock/internal/config"
	"github.com/vitalsapp/webrtc-media-mock/internal/httpserver"
	"github.com/vitalsapp/webrtc-media-mock/internal/metrics"
	"github.com/vitalsapp/webrtc-media-mock/internal/retention"
	"github.com/vitalsapp/webrtc-media-mock/internal/signaling"
	"github.com/vitalsapp/webrtc-media-mock/internal/tone"
	"github.com/vitalsapp/webrtc-media-mock/internal/webrtcpeer"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	// Construct the WebRTC API early so misconfigurations are caught on startup.
	// This does not start any networking; ICE sockets are only created once we
	// start creating PeerConnections.
	api, err := webrtcpeer.NewAPI(cfg)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	logger.Info("starting vitals-media-mock",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"recordings_dir", cfg.RecordingsDir,
		"transcription_interval", cfg.TranscriptionInterval,
		"tone_frequency_hz", cfg.ToneFrequencyHz,
		"tone_sample_rate", cfg.ToneSampleRate,
		"tone_frame_duration", cfg.ToneFrameDuration,
		"max_sessions", cfg.MaxSessions,
		"ice_servers", len(cfg.ICEServers),
	)

	recordings := retention.New(cfg.RecordingsDir, cfg.RecordingMaxFiles, cfg.RecordingMaxAge, logger)

	logStartupWarnings(logger, cfg, recordings)

	m := metrics.New()

	// Prune once at boot so a long-idle instance does not sit on stale
	// recordings until the first session arrives.
	if removed, err := recordings.Prune(); err != nil {
		logger.Warn("recording prune at startup failed", "err", err)
	} else if removed > 0 {
		m.Add(metrics.RecordingPruned, uint64(removed))
		logger.Info("pruned recordings at startup", "removed", removed)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	srv := httpserver.New(cfg, logger, resolveBuildInfo(buildCommit, buildTime))

	sig := signaling.NewServer(signaling.Config{
		Log:        logger,
		WebRTC:     api,
		Metrics:    m,
		ICEServers: cfg.ICEServers,

		AllowedOrigins: cfg.AllowedOrigins,

		MaxSessions:                   cfg.MaxSessions,
		IdleTimeout:                   cfg.SignalingWSIdleTimeout,
		PingInterval:                  cfg.SignalingWSPingInterval,
		MaxSignalingMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,

		TranscriptionInterval: cfg.TranscriptionInterval,
		Tone: tone.Params{
			FrequencyHz:   cfg.ToneFrequencyHz,
			SampleRate:    cfg.ToneSampleRate,
			FrameDuration: cfg.ToneFrameDuration,
			Amplitude:     cfg.ToneAmplitude,
		},

		RecordingsDir: cfg.RecordingsDir,
		Retention:     recordings,
	})
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		_ = sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Shutdown drains plain HTTP requests; signaling sockets are hijacked and
	// must be torn down by the signaling server itself.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	_ = sig.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) httpserver.BuildInfo {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}
}
