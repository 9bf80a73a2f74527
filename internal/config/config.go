package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/logging"

	"walkroom/native/internal/domain"
)

const (
	envRoom          = "WALK_ROOM"
	envRole          = "WALK_ROLE"
	envRelay         = "WALK_RELAY"
	envRelayURL      = "WALK_RELAY_URL"
	envICEFromRelay  = "WALK_ICE_FROM_RELAY"
	envAllowLoopback = "WALK_ALLOW_LOOPBACK"
	envOfferDelay    = "WALK_OFFER_DELAY"
	envSendTimeout   = "WALK_SEND_TIMEOUT"
	envKeepAlive     = "WALK_KEEPALIVE"
	envMoveThreshold = "WALK_MOVE_THRESHOLD"
	envNearbyRadius  = "WALK_NEARBY_RADIUS"
	envOwnerPeriodic = "OWNER_PERIODIC"

	envRedisAddr     = "REDIS_ADDR"
	envRedisPassword = "REDIS_PASSWORD"
	envRedisDB       = "REDIS_DB"

	envLogLevel     = "LOG_LEVEL"
	envLogFormat    = "LOG_FORMAT"
	envPionLogLevel = "PION_LOG_LEVEL"

	envPort           = "PORT"
	envAllowedOrigins = "ALLOWED_ORIGINS"
)

// Relay backends.
const (
	RelayWebSocket = "ws"
	RelayRedis     = "redis"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

const (
	defaultRelayURL    = "http://localhost:8080"
	defaultRedisAddr   = "localhost:6379"
	defaultSendTimeout = 5 * time.Second
	defaultPort        = "8080"
)

// Config holds the walkroom client configuration.
type Config struct {
	Room string
	Role domain.Role

	Relay         string
	RelayURL      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ICEServers    []domain.ICEServer
	ICEFromRelay  bool
	AllowLoopback bool

	OfferDelay    time.Duration
	SendTimeout   time.Duration
	KeepAlive     time.Duration
	MoveThreshold float64
	NearbyRadius  float64
	OwnerPeriodic bool

	Logging
}

// Logging selects the slog handler and the pion log level.
type Logging struct {
	LogLevel     slog.Level
	LogFormat    string
	PionLogLevel logging.LogLevel
}

// Load reads configuration from a .env file (if present), environment
// variables and command line flags. Flags take precedence over the
// environment, which takes precedence over .env values.
func Load(args []string) (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		Relay:         envOr(envRelay, RelayWebSocket),
		RelayURL:      envOr(envRelayURL, defaultRelayURL),
		RedisAddr:     envOr(envRedisAddr, defaultRedisAddr),
		RedisPassword: os.Getenv(envRedisPassword),
	}

	var err error
	if cfg.Logging, err = loadLogging(); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = envInt(envRedisDB, 0); err != nil {
		return nil, err
	}
	if cfg.ICEFromRelay, err = envBool(envICEFromRelay, false); err != nil {
		return nil, err
	}
	if cfg.AllowLoopback, err = envBool(envAllowLoopback, false); err != nil {
		return nil, err
	}
	if cfg.OwnerPeriodic, err = envBool(envOwnerPeriodic, false); err != nil {
		return nil, err
	}
	if cfg.OfferDelay, err = envDuration(envOfferDelay, 0); err != nil {
		return nil, err
	}
	if cfg.SendTimeout, err = envDuration(envSendTimeout, defaultSendTimeout); err != nil {
		return nil, err
	}
	if cfg.KeepAlive, err = envDuration(envKeepAlive, 0); err != nil {
		return nil, err
	}
	if cfg.MoveThreshold, err = envFloat(envMoveThreshold, 0); err != nil {
		return nil, err
	}
	if cfg.NearbyRadius, err = envFloat(envNearbyRadius, 0); err != nil {
		return nil, err
	}
	if cfg.ICEServers, err = ParseICEServers(
		os.Getenv(envICEServersJSON),
		os.Getenv(envStunURLs),
		os.Getenv(envTurnURLs),
		os.Getenv(envTurnUsername),
		os.Getenv(envTurnCredential),
	); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("walkroom", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	room := fs.String("room", os.Getenv(envRoom), "room to join")
	role := fs.String("role", os.Getenv(envRole), "A|owner or B|walker")
	fs.StringVar(&cfg.Relay, "relay", cfg.Relay, "relay backend: ws or redis")
	fs.StringVar(&cfg.RelayURL, "relay-url", cfg.RelayURL, "walkrelay base URL")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Room = strings.TrimSpace(*room)
	if cfg.Room == "" {
		return nil, fmt.Errorf("%s environment variable or -room flag is required", envRoom)
	}
	if cfg.Role, err = domain.ParseRole(*role); err != nil {
		return nil, fmt.Errorf("%s: %w", envRole, err)
	}
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("%s environment variable or -role flag is required", envRole)
	}
	switch cfg.Relay {
	case RelayWebSocket, RelayRedis:
	default:
		return nil, fmt.Errorf("%s: unsupported relay %q (expected ws or redis)", envRelay, cfg.Relay)
	}

	return cfg, nil
}

// RelayConfig holds the walkrelay server configuration.
type RelayConfig struct {
	Port           string
	ICEServers     []domain.ICEServer
	AllowedOrigins []string

	Logging
}

// LoadRelay reads the relay server configuration.
func LoadRelay() (*RelayConfig, error) {
	_ = godotenv.Load()

	cfg := &RelayConfig{
		Port:           envOr(envPort, defaultPort),
		AllowedOrigins: splitCommaSeparated(os.Getenv(envAllowedOrigins)),
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("%s: invalid port %q", envPort, cfg.Port)
	}

	var err error
	if cfg.Logging, err = loadLogging(); err != nil {
		return nil, err
	}
	if cfg.ICEServers, err = ParseICEServers(
		os.Getenv(envICEServersJSON),
		os.Getenv(envStunURLs),
		os.Getenv(envTurnURLs),
		os.Getenv(envTurnUsername),
		os.Getenv(envTurnCredential),
	); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadLogging() (Logging, error) {
	l := Logging{LogFormat: strings.ToLower(envOr(envLogFormat, LogFormatText))}

	var err error
	if l.LogLevel, err = parseLogLevel(envOr(envLogLevel, "info")); err != nil {
		return l, fmt.Errorf("%s: %w", envLogLevel, err)
	}
	if l.PionLogLevel, err = parsePionLogLevel(envOr(envPionLogLevel, "warn")); err != nil {
		return l, fmt.Errorf("%s: %w", envPionLogLevel, err)
	}
	switch l.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return l, fmt.Errorf("%s: unsupported log format %q", envLogFormat, l.LogFormat)
	}
	return l, nil
}

// NewLogger returns a logger writing to w in the configured format.
func NewLogger(w io.Writer, l Logging) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: l.LogLevel}

	var handler slog.Handler
	switch l.LogFormat {
	case LogFormatText, "":
		handler = slog.NewTextHandler(w, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", l.LogFormat)
	}
	return slog.New(handler), nil
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

func parsePionLogLevel(raw string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelWarn, fmt.Errorf("invalid pion log level %q", raw)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid bool %q", key, raw)
	}
	return v, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return fallback, fmt.Errorf("%s: invalid non-negative number %q", key, raw)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	if v < 0 {
		return fallback, fmt.Errorf("%s: %w", key, errNegativeDuration)
	}
	return v, nil
}

var errNegativeDuration = errors.New("duration must not be negative")
