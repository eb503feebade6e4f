package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vitalsapp/webrtc-media-mock/internal/origin"
)

// Environment variables. Every variable has a matching flag; flags win.
const (
	EnvListenAddr     = "VITALS_MEDIA_MOCK_LISTEN_ADDR"
	EnvAllowedOrigins = "VITALS_MEDIA_MOCK_ALLOWED_ORIGINS"

	EnvMode            = "VITALS_MEDIA_MOCK_MODE"
	EnvLogFormat       = "VITALS_MEDIA_MOCK_LOG_FORMAT"
	EnvLogLevel        = "VITALS_MEDIA_MOCK_LOG_LEVEL"
	EnvShutdownTimeout = "VITALS_MEDIA_MOCK_SHUTDOWN_TIMEOUT"

	EnvSignalingWSIdleTimeout        = "VITALS_MEDIA_MOCK_SIGNALING_WS_IDLE_TIMEOUT"
	EnvSignalingWSPingInterval       = "VITALS_MEDIA_MOCK_SIGNALING_WS_PING_INTERVAL"
	EnvMaxSignalingMessageBytes      = "VITALS_MEDIA_MOCK_MAX_SIGNALING_MESSAGE_BYTES"
	EnvMaxSignalingMessagesPerSecond = "VITALS_MEDIA_MOCK_MAX_SIGNALING_MESSAGES_PER_SECOND"
	EnvMaxSessions                   = "VITALS_MEDIA_MOCK_MAX_SESSIONS"

	EnvTranscriptionInterval = "VITALS_MEDIA_MOCK_TRANSCRIPTION_INTERVAL"

	EnvToneFrequencyHz   = "VITALS_MEDIA_MOCK_TONE_FREQUENCY_HZ"
	EnvToneSampleRate    = "VITALS_MEDIA_MOCK_TONE_SAMPLE_RATE"
	EnvToneFrameDuration = "VITALS_MEDIA_MOCK_TONE_FRAME_DURATION"
	EnvToneAmplitude     = "VITALS_MEDIA_MOCK_TONE_AMPLITUDE"

	EnvRecordingsDir     = "VITALS_MEDIA_MOCK_RECORDINGS_DIR"
	EnvRecordingMaxFiles = "VITALS_MEDIA_MOCK_RECORDING_MAX_FILES"
	EnvRecordingMaxAge   = "VITALS_MEDIA_MOCK_RECORDING_MAX_AGE"

	EnvWebRTCUDPPortMin             = "VITALS_MEDIA_MOCK_WEBRTC_UDP_PORT_MIN"
	EnvWebRTCUDPPortMax             = "VITALS_MEDIA_MOCK_WEBRTC_UDP_PORT_MAX"
	EnvWebRTCUDPListenIP            = "VITALS_MEDIA_MOCK_WEBRTC_UDP_LISTEN_IP"
	EnvWebRTCNAT1To1IPs             = "VITALS_MEDIA_MOCK_WEBRTC_NAT_1TO1_IPS"
	EnvWebRTCNAT1To1IPCandidateType = "VITALS_MEDIA_MOCK_WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 10 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	// DefaultMaxSessions of 0 means no limit.
	DefaultMaxSessions = 0

	DefaultTranscriptionInterval = 3 * time.Second

	DefaultToneFrequencyHz   = 440.0
	DefaultToneSampleRate    = 48000
	DefaultToneFrameDuration = 20 * time.Millisecond
	// DefaultToneAmplitude scales the int16 sample range.
	DefaultToneAmplitude = 0.3

	DefaultRecordingsDir = "recordings"
	// DefaultRecordingMaxFiles/DefaultRecordingMaxAge of 0 keep recordings forever.
	DefaultRecordingMaxFiles = 0
	DefaultRecordingMaxAge   = time.Duration(0)

	DefaultMode = ModeDev
)

// recommendedWebRTCUDPPortRangeSize is the smallest port range that leaves
// room for ICE to gather candidates across a few concurrent sessions.
const recommendedWebRTCUDPPortRangeSize = 20

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

// UDPPortRange restricts the UDP ports pion may bind for media transport.
type UDPPortRange struct {
	Min uint16
	Max uint16
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	MaxSessions                   int

	TranscriptionInterval time.Duration

	ToneFrequencyHz   float64
	ToneSampleRate    int
	ToneFrameDuration time.Duration
	ToneAmplitude     float64

	RecordingsDir     string
	RecordingMaxFiles int
	RecordingMaxAge   time.Duration

	WebRTCUDPPortRange           *UDPPortRange
	WebRTCUDPListenIP            net.IP
	WebRTCNAT1To1IPs             []string
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType

	ICEServers []webrtc.ICEServer
}

// SamplesPerToneFrame returns the number of PCM samples in one tone frame.
// Load guarantees the frame duration divides into a whole sample count.
func (c Config) SamplesPerToneFrame() int {
	return int(int64(c.ToneSampleRate) * c.ToneFrameDuration.Nanoseconds() / int64(time.Second))
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	shutdownTimeoutDefault, err := envDurationOrDefault(lookup, EnvShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	idleTimeoutDefault, err := envDurationOrDefault(lookup, EnvSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	pingIntervalDefault, err := envDurationOrDefault(lookup, EnvSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytesDefault, err := envInt64OrDefault(lookup, EnvMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecondDefault, err := envIntOrDefault(lookup, EnvMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	maxSessionsDefault, err := envIntOrDefault(lookup, EnvMaxSessions, DefaultMaxSessions)
	if err != nil {
		return Config{}, err
	}
	transcriptionIntervalDefault, err := envDurationOrDefault(lookup, EnvTranscriptionInterval, DefaultTranscriptionInterval)
	if err != nil {
		return Config{}, err
	}
	toneFrequencyDefault, err := envFloatOrDefault(lookup, EnvToneFrequencyHz, DefaultToneFrequencyHz)
	if err != nil {
		return Config{}, err
	}
	toneSampleRateDefault, err := envIntOrDefault(lookup, EnvToneSampleRate, DefaultToneSampleRate)
	if err != nil {
		return Config{}, err
	}
	toneFrameDurationDefault, err := envDurationOrDefault(lookup, EnvToneFrameDuration, DefaultToneFrameDuration)
	if err != nil {
		return Config{}, err
	}
	toneAmplitudeDefault, err := envFloatOrDefault(lookup, EnvToneAmplitude, DefaultToneAmplitude)
	if err != nil {
		return Config{}, err
	}
	recordingMaxFilesDefault, err := envIntOrDefault(lookup, EnvRecordingMaxFiles, DefaultRecordingMaxFiles)
	if err != nil {
		return Config{}, err
	}
	recordingMaxAgeDefault, err := envDurationOrDefault(lookup, EnvRecordingMaxAge, DefaultRecordingMaxAge)
	if err != nil {
		return Config{}, err
	}
	udpPortMinDefault, err := envIntOrDefault(lookup, EnvWebRTCUDPPortMin, 0)
	if err != nil {
		return Config{}, err
	}
	udpPortMaxDefault, err := envIntOrDefault(lookup, EnvWebRTCUDPPortMax, 0)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("vitals-media-mock", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	listenAddrFlag := fs.String("listen-addr", envOrDefault(lookup, EnvListenAddr, DefaultListenAddr), "HTTP listen address (env "+EnvListenAddr+")")
	allowedOriginsFlag := fs.String("allowed-origins", envOrDefault(lookup, EnvAllowedOrigins, ""), "comma-separated allowed WebSocket origins, \"*\" to allow any; empty means same-host only (env "+EnvAllowedOrigins+")")
	modeFlag := fs.String("mode", envOrDefault(lookup, EnvMode, string(DefaultMode)), "run mode: dev or prod (env "+EnvMode+")")
	logFormatFlag := fs.String("log-format", envOrDefault(lookup, EnvLogFormat, ""), "log format: text or json (env "+EnvLogFormat+"; default derived from mode)")
	logLevelFlag := fs.String("log-level", envOrDefault(lookup, EnvLogLevel, ""), "log level: debug, info, warn, or error (env "+EnvLogLevel+"; default derived from mode)")
	shutdownTimeoutFlag := fs.Duration("shutdown-timeout", shutdownTimeoutDefault, "graceful shutdown timeout (env "+EnvShutdownTimeout+")")

	idleTimeoutFlag := fs.Duration("signaling-ws-idle-timeout", idleTimeoutDefault, "close the signaling socket after this long without reads or pongs (env "+EnvSignalingWSIdleTimeout+")")
	pingIntervalFlag := fs.Duration("signaling-ws-ping-interval", pingIntervalDefault, "WebSocket ping interval (env "+EnvSignalingWSPingInterval+")")
	maxMessageBytesFlag := fs.Int64("max-signaling-message-bytes", maxMessageBytesDefault, "maximum accepted signaling message size (env "+EnvMaxSignalingMessageBytes+")")
	maxMessagesPerSecondFlag := fs.Int("max-signaling-messages-per-second", maxMessagesPerSecondDefault, "per-session signaling message rate limit (env "+EnvMaxSignalingMessagesPerSecond+")")
	maxSessionsFlag := fs.Int("max-sessions", maxSessionsDefault, "maximum concurrent sessions, 0 for no limit (env "+EnvMaxSessions+")")

	transcriptionIntervalFlag := fs.Duration("transcription-interval", transcriptionIntervalDefault, "interval between mock transcription messages (env "+EnvTranscriptionInterval+")")

	toneFrequencyFlag := fs.Float64("tone-frequency-hz", toneFrequencyDefault, "synthetic tone frequency in Hz (env "+EnvToneFrequencyHz+")")
	toneSampleRateFlag := fs.Int("tone-sample-rate", toneSampleRateDefault, "synthetic tone sample rate in Hz (env "+EnvToneSampleRate+")")
	toneFrameDurationFlag := fs.Duration("tone-frame-duration", toneFrameDurationDefault, "synthetic tone frame duration (env "+EnvToneFrameDuration+")")
	toneAmplitudeFlag := fs.Float64("tone-amplitude", toneAmplitudeDefault, "synthetic tone amplitude as a fraction of int16 range, in (0, 1] (env "+EnvToneAmplitude+")")

	recordingsDirFlag := fs.String("recordings-dir", envOrDefault(lookup, EnvRecordingsDir, DefaultRecordingsDir), "directory for received-media recordings (env "+EnvRecordingsDir+")")
	recordingMaxFilesFlag := fs.Int("recording-max-files", recordingMaxFilesDefault, "prune oldest recordings beyond this count, 0 to keep all (env "+EnvRecordingMaxFiles+")")
	recordingMaxAgeFlag := fs.Duration("recording-max-age", recordingMaxAgeDefault, "prune recordings older than this, 0 to keep all (env "+EnvRecordingMaxAge+")")

	udpPortMinFlag := fs.Int("webrtc-udp-port-min", udpPortMinDefault, "lowest UDP port pion may bind for media (env "+EnvWebRTCUDPPortMin+")")
	udpPortMaxFlag := fs.Int("webrtc-udp-port-max", udpPortMaxDefault, "highest UDP port pion may bind for media (env "+EnvWebRTCUDPPortMax+")")
	udpListenIPFlag := fs.String("webrtc-udp-listen-ip", envOrDefault(lookup, EnvWebRTCUDPListenIP, "0.0.0.0"), "IP pion binds for media transport (env "+EnvWebRTCUDPListenIP+")")
	nat1To1IPsFlag := fs.String("webrtc-nat-1to1-ips", envOrDefault(lookup, EnvWebRTCNAT1To1IPs, ""), "comma-separated public IPs to advertise in ICE candidates (env "+EnvWebRTCNAT1To1IPs+")")
	nat1To1CandidateTypeFlag := fs.String("webrtc-nat-1to1-ip-candidate-type", envOrDefault(lookup, EnvWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost)), "candidate type for NAT 1:1 IPs: host or srflx (env "+EnvWebRTCNAT1To1IPCandidateType+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*modeFlag)
	if err != nil {
		return Config{}, err
	}

	logFormatRaw := *logFormatFlag
	if strings.TrimSpace(logFormatRaw) == "" {
		logFormatRaw = defaultLogFormatForMode(string(mode))
	}
	logFormat, err := parseLogFormat(logFormatRaw)
	if err != nil {
		return Config{}, err
	}

	logLevelRaw := *logLevelFlag
	if strings.TrimSpace(logLevelRaw) == "" {
		logLevelRaw = defaultLogLevelForMode(string(mode))
	}
	level, err := parseLogLevel(logLevelRaw)
	if err != nil {
		return Config{}, err
	}

	listenAddr := strings.TrimSpace(*listenAddrFlag)
	if listenAddr == "" {
		return Config{}, fmt.Errorf("%s/--listen-addr must not be empty", EnvListenAddr)
	}
	if _, _, err := net.SplitHostPort(listenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid %s/--listen-addr %q: %w", EnvListenAddr, listenAddr, err)
	}

	allowedOrigins, err := parseAllowedOrigins(*allowedOriginsFlag)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", EnvAllowedOrigins, err)
	}

	if *shutdownTimeoutFlag <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", EnvShutdownTimeout)
	}
	if *idleTimeoutFlag <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", EnvSignalingWSIdleTimeout)
	}
	if *pingIntervalFlag <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", EnvSignalingWSPingInterval)
	}
	if *pingIntervalFlag >= *idleTimeoutFlag {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", EnvSignalingWSPingInterval, EnvSignalingWSIdleTimeout)
	}
	if *maxMessageBytesFlag <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", EnvMaxSignalingMessageBytes)
	}
	if *maxMessagesPerSecondFlag <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", EnvMaxSignalingMessagesPerSecond)
	}
	if *maxSessionsFlag < 0 {
		return Config{}, fmt.Errorf("%s/--max-sessions must be >= 0", EnvMaxSessions)
	}

	if *transcriptionIntervalFlag <= 0 {
		return Config{}, fmt.Errorf("%s/--transcription-interval must be > 0", EnvTranscriptionInterval)
	}

	if *toneFrequencyFlag <= 0 {
		return Config{}, fmt.Errorf("%s/--tone-frequency-hz must be > 0", EnvToneFrequencyHz)
	}
	if *toneSampleRateFlag <= 0 {
		return Config{}, fmt.Errorf("%s/--tone-sample-rate must be > 0", EnvToneSampleRate)
	}
	if *toneFrameDurationFlag <= 0 {
		return Config{}, fmt.Errorf("%s/--tone-frame-duration must be > 0", EnvToneFrameDuration)
	}
	if *toneAmplitudeFlag <= 0 || *toneAmplitudeFlag > 1 {
		return Config{}, fmt.Errorf("%s/--tone-amplitude must be in the range (0, 1]", EnvToneAmplitude)
	}
	frameSamples := int64(*toneSampleRateFlag) * toneFrameDurationFlag.Nanoseconds()
	if frameSamples%int64(time.Second) != 0 {
		return Config{}, fmt.Errorf("%s/--tone-frame-duration %s does not yield a whole number of samples at %d Hz", EnvToneFrameDuration, *toneFrameDurationFlag, *toneSampleRateFlag)
	}

	recordingsDir := strings.TrimSpace(*recordingsDirFlag)
	if recordingsDir == "" {
		return Config{}, fmt.Errorf("%s/--recordings-dir must not be empty", EnvRecordingsDir)
	}
	if *recordingMaxFilesFlag < 0 {
		return Config{}, fmt.Errorf("%s/--recording-max-files must be >= 0", EnvRecordingMaxFiles)
	}
	if *recordingMaxAgeFlag < 0 {
		return Config{}, fmt.Errorf("%s/--recording-max-age must be >= 0", EnvRecordingMaxAge)
	}

	var udpPortRange *UDPPortRange
	if *udpPortMinFlag != 0 || *udpPortMaxFlag != 0 {
		if *udpPortMinFlag == 0 || *udpPortMaxFlag == 0 {
			return Config{}, fmt.Errorf("%s/--webrtc-udp-port-min and %s/--webrtc-udp-port-max must be set together", EnvWebRTCUDPPortMin, EnvWebRTCUDPPortMax)
		}
		minPort, err := parsePortInt(*udpPortMinFlag)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/--webrtc-udp-port-min: %w", EnvWebRTCUDPPortMin, err)
		}
		maxPort, err := parsePortInt(*udpPortMaxFlag)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/--webrtc-udp-port-max: %w", EnvWebRTCUDPPortMax, err)
		}
		if maxPort < minPort {
			return Config{}, fmt.Errorf("%s/--webrtc-udp-port-max must be >= %s/--webrtc-udp-port-min", EnvWebRTCUDPPortMax, EnvWebRTCUDPPortMin)
		}
		rangeSize := int(maxPort) - int(minPort) + 1
		if rangeSize < recommendedWebRTCUDPPortRangeSize {
			return Config{}, fmt.Errorf("webrtc UDP port range too small (%d ports; need at least %d)", rangeSize, recommendedWebRTCUDPPortRangeSize)
		}
		udpPortRange = &UDPPortRange{Min: minPort, Max: maxPort}
	}

	udpListenIP := net.ParseIP(strings.TrimSpace(*udpListenIPFlag))
	if udpListenIP == nil {
		return Config{}, fmt.Errorf("invalid %s/--webrtc-udp-listen-ip %q", EnvWebRTCUDPListenIP, *udpListenIPFlag)
	}

	var nat1To1IPs []string
	if strings.TrimSpace(*nat1To1IPsFlag) != "" {
		nat1To1IPs, err = parseIPList(*nat1To1IPsFlag)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/--webrtc-nat-1to1-ips: %w", EnvWebRTCNAT1To1IPs, err)
		}
	}
	nat1To1CandidateType, err := parseCandidateType(*nat1To1CandidateTypeFlag)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--webrtc-nat-1to1-ip-candidate-type: %w", EnvWebRTCNAT1To1IPCandidateType, err)
	}

	iceServers, err := parseICEServersFromValues(
		envOrDefault(lookup, EnvICEServersJSON, ""),
		envOrDefault(lookup, EnvStunURLs, ""),
		envOrDefault(lookup, EnvTurnURLs, ""),
		envOrDefault(lookup, EnvTurnUsername, ""),
		envOrDefault(lookup, EnvTurnCredential, ""),
	)
	if err != nil {
		return Config{}, err
	}

	return Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: *shutdownTimeoutFlag,

		SignalingWSIdleTimeout:        *idleTimeoutFlag,
		SignalingWSPingInterval:       *pingIntervalFlag,
		MaxSignalingMessageBytes:      *maxMessageBytesFlag,
		MaxSignalingMessagesPerSecond: *maxMessagesPerSecondFlag,
		MaxSessions:                   *maxSessionsFlag,

		TranscriptionInterval: *transcriptionIntervalFlag,

		ToneFrequencyHz:   *toneFrequencyFlag,
		ToneSampleRate:    *toneSampleRateFlag,
		ToneFrameDuration: *toneFrameDurationFlag,
		ToneAmplitude:     *toneAmplitudeFlag,

		RecordingsDir:     recordingsDir,
		RecordingMaxFiles: *recordingMaxFilesFlag,
		RecordingMaxAge:   *recordingMaxAgeFlag,

		WebRTCUDPPortRange:           udpPortRange,
		WebRTCUDPListenIP:            udpListenIP,
		WebRTCNAT1To1IPs:             nat1To1IPs,
		WebRTCNAT1To1IPCandidateType: nat1To1CandidateType,

		ICEServers: iceServers,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envFloatOrDefault(lookup func(string) (string, bool), key string, fallback float64) (float64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return f, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}

	return out, nil
}

func parsePortInt(v int) (uint16, error) {
	if v <= 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(NAT1To1CandidateTypeHost):
		return NAT1To1CandidateTypeHost, nil
	case string(NAT1To1CandidateTypeSrflx):
		return NAT1To1CandidateTypeSrflx, nil
	default:
		return "", fmt.Errorf("unknown candidate type %q", s)
	}
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", raw)
		}
		out = append(out, ip.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must include at least one IP")
	}
	return out, nil
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}
