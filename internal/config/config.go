// Package config loads the relay's runtime configuration from environment
// variables and command-line flags. Flags win over env vars; both fall back
// to explicit defaults so a bare `signaling-relay` starts a usable dev
// server.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/voxcall/signaling-relay/internal/origin"
)

const (
	envVarListenAddr      = "LISTEN_ADDR"
	envVarMode            = "MODE"
	envVarLogFormat       = "LOG_FORMAT"
	envVarLogLevel        = "LOG_LEVEL"
	envVarShutdownTimeout = "SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// WebSocket signaling hardening.
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"

	// Room store caps.
	envVarMaxRooms          = "MAX_ROOMS"
	envVarMaxMembersPerRoom = "MAX_MEMBERS_PER_ROOM"

	// Speech-to-text side channel + static frontend.
	envVarSTTBackendURL = "STT_BACKEND_URL"
	envVarSTTTimeout    = "STT_TIMEOUT"
	envVarStaticDir     = "STATIC_DIR"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second

	DefaultSTTTimeout = 10 * time.Second

	DefaultMode Mode = ModeDev
)

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

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins is a list of normalized origins (or "*"). Empty means
	// same-host only.
	AllowedOrigins []string

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration

	MaxRooms          int
	MaxMembersPerRoom int

	// STTBackendURL is the speech-to-text recognizer endpoint audio uploads
	// are proxied to. Empty disables the /get-audio route.
	STTBackendURL string
	STTTimeout    time.Duration

	// StaticDir serves the browser client bundle when non-empty.
	StaticDir string
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

// load is the testable core of Load; lookup supplies environment values.
func load(lookup func(string) (string, bool), args []string) (Config, error) {
	fs := flag.NewFlagSet("signaling-relay", flag.ContinueOnError)

	listenAddr := fs.String("listen-addr", envOrDefault(lookup, envVarListenAddr, DefaultListenAddr), "host:port to listen on")
	modeRaw := fs.String("mode", envOrDefault(lookup, envVarMode, string(DefaultMode)), "dev or prod")
	logFormatRaw := fs.String("log-format", envOrDefault(lookup, envVarLogFormat, ""), "log format: text or json (default depends on mode)")
	logLevelRaw := fs.String("log-level", envOrDefault(lookup, envVarLogLevel, ""), "log level: debug, info, warn, error (default depends on mode)")
	shutdownRaw := fs.String("shutdown-timeout", envOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout.String()), "graceful shutdown timeout")
	allowedOriginsRaw := fs.String("allowed-origins", envOrDefault(lookup, envVarAllowedOrigins, ""), "comma-separated allowed origins, or * (empty = same host only)")

	maxMsgBytes := fs.Int64("max-signaling-message-bytes", envInt64OrFallback(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes), "maximum inbound signaling message size")
	maxMsgPerSec := fs.Int("max-signaling-messages-per-second", envIntOrFallback(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond), "per-connection signaling message rate limit")
	idleTimeoutRaw := fs.String("ws-idle-timeout", envOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout.String()), "close connections idle longer than this")
	pingIntervalRaw := fs.String("ws-ping-interval", envOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval.String()), "keepalive ping interval")

	maxRooms := fs.Int("max-rooms", envIntOrFallback(lookup, envVarMaxRooms, 0), "maximum concurrently-live rooms (0 = unlimited)")
	maxMembers := fs.Int("max-members-per-room", envIntOrFallback(lookup, envVarMaxMembersPerRoom, 0), "maximum members per room (0 = unlimited)")

	sttBackendURL := fs.String("stt-backend-url", envOrDefault(lookup, envVarSTTBackendURL, ""), "speech-to-text backend URL (empty disables /get-audio)")
	sttTimeoutRaw := fs.String("stt-timeout", envOrDefault(lookup, envVarSTTTimeout, DefaultSTTTimeout.String()), "speech-to-text proxy timeout")
	staticDir := fs.String("static-dir", envOrDefault(lookup, envVarStaticDir, ""), "directory with the browser client bundle (empty disables)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*modeRaw)
	if err != nil {
		return Config{}, err
	}

	logFormat, err := parseLogFormat(defaultIfEmpty(*logFormatRaw, defaultLogFormatForMode(mode)))
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(defaultIfEmpty(*logLevelRaw, defaultLogLevelForMode(mode)))
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := parsePositiveDuration("shutdown-timeout", *shutdownRaw)
	if err != nil {
		return Config{}, err
	}
	idleTimeout, err := parsePositiveDuration("ws-idle-timeout", *idleTimeoutRaw)
	if err != nil {
		return Config{}, err
	}
	pingInterval, err := parsePositiveDuration("ws-ping-interval", *pingIntervalRaw)
	if err != nil {
		return Config{}, err
	}
	sttTimeout, err := parsePositiveDuration("stt-timeout", *sttTimeoutRaw)
	if err != nil {
		return Config{}, err
	}
	if pingInterval >= idleTimeout {
		return Config{}, fmt.Errorf("ws-ping-interval (%s) must be shorter than ws-idle-timeout (%s)", pingInterval, idleTimeout)
	}

	allowedOrigins, err := parseAllowedOrigins(*allowedOriginsRaw)
	if err != nil {
		return Config{}, err
	}

	if *maxMsgBytes <= 0 {
		return Config{}, fmt.Errorf("max-signaling-message-bytes must be positive, got %d", *maxMsgBytes)
	}
	if *maxMsgPerSec <= 0 {
		return Config{}, fmt.Errorf("max-signaling-messages-per-second must be positive, got %d", *maxMsgPerSec)
	}
	if *maxRooms < 0 || *maxMembers < 0 {
		return Config{}, fmt.Errorf("room caps must not be negative")
	}

	return Config{
		ListenAddr:      *listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  allowedOrigins,

		MaxSignalingMessageBytes:      *maxMsgBytes,
		MaxSignalingMessagesPerSecond: *maxMsgPerSec,
		SignalingWSIdleTimeout:        idleTimeout,
		SignalingWSPingInterval:       pingInterval,

		MaxRooms:          *maxRooms,
		MaxMembersPerRoom: *maxMembers,

		STTBackendURL: *sttBackendURL,
		STTTimeout:    sttTimeout,
		StaticDir:     *staticDir,
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

func envIntOrFallback(lookup func(string) (string, bool), key string, fallback int) int {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return n
}

func envInt64OrFallback(lookup func(string) (string, bool), key string, fallback int64) int64 {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func defaultIfEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (want dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (want text or json)", raw)
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
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
}

func parsePositiveDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return d, nil
}

func parseAllowedOrigins(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "*" {
			out = append(out, part)
			continue
		}
		normalized, _, ok := origin.NormalizeHeader(part)
		if !ok {
			return nil, fmt.Errorf("invalid allowed origin %q", part)
		}
		out = append(out, normalized)
	}
	return out, nil
}
