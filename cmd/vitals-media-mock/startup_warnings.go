package main

import (
	"log/slog"
	"net"
	"strings"

	"github.com/vitalsapp/webrtc-media-mock/internal/config"
	"github.com/vitalsapp/webrtc-media-mock/internal/retention"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config, recordings *retention.Policy) {
	if logger == nil {
		logger = slog.Default()
	}

	if !isLoopbackListenAddr(cfg.ListenAddr) {
		logger.Warn("startup warning: LISTEN_ADDR is not a loopback address (signaling is reachable from other hosts; there is no authentication)",
			"warning_code", "listen_addr_not_loopback",
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSessions <= 0 {
		logger.Warn("startup warning: MAX_SESSIONS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_sessions_unlimited_in_prod",
			"max_sessions", cfg.MaxSessions,
			"mode", cfg.Mode,
		)
	}

	if recordings != nil && recordings.Unlimited() {
		logger.Warn("startup warning: recordings are never pruned (RECORDING_MAX_FILES and RECORDING_MAX_AGE are both unset/0; disk usage grows with every session)",
			"warning_code", "recording_retention_unlimited",
			"recordings_dir", cfg.RecordingsDir,
			"mode", cfg.Mode,
		)
	}
}

// isLoopbackListenAddr reports whether addr binds only loopback. Wildcard
// binds (":8080", "0.0.0.0:8080", "[::]:8080") are not loopback.
func isLoopbackListenAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		host = strings.TrimSpace(addr)
	}
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
