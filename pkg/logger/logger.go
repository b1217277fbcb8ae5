// Package logger provides structured logging for the bid engine
package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance
var Log zerolog.Logger

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	TimeFormat string
}

// DefaultConfig returns logger configuration with environment overrides
func DefaultConfig() Config {
	return Config{
		Level:      getEnv("LOG_LEVEL", "info"),
		Format:     getEnv("LOG_FORMAT", "json"),
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global logger
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = cfg.TimeFormat

	var logger zerolog.Logger
	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: cfg.TimeFormat}
		logger = zerolog.New(output)
	} else {
		logger = zerolog.New(os.Stdout)
	}

	Log = logger.Level(level).With().Timestamp().Logger()
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	auctionIDKey contextKey = "auction_id"
)

// WithRequestID returns a context carrying the given request ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithAuctionID returns a context carrying the given auction ID
func WithAuctionID(ctx context.Context, auctionID string) context.Context {
	return context.WithValue(ctx, auctionIDKey, auctionID)
}

// FromContext returns a logger annotated with any request/auction IDs
// present on the context
func FromContext(ctx context.Context) zerolog.Logger {
	logger := Log

	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		logger = logger.With().Str("request_id", requestID).Logger()
	}
	if auctionID, ok := ctx.Value(auctionIDKey).(string); ok && auctionID != "" {
		logger = logger.With().Str("auction_id", auctionID).Logger()
	}

	return logger
}

// Auction returns a logger for the auction pipeline
func Auction() zerolog.Logger {
	return Log.With().Str("component", "auction").Logger()
}

// Fraud returns a logger for fraud detection
func Fraud() zerolog.Logger {
	return Log.With().Str("component", "fraud").Logger()
}

// Budget returns a logger for budget accounting
func Budget() zerolog.Logger {
	return Log.With().Str("component", "budget").Logger()
}

// HTTP returns a logger for the HTTP boundary
func HTTP() zerolog.Logger {
	return Log.With().Str("component", "http").Logger()
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func init() {
	// Sensible default so packages logging before Init still produce output
	Init(DefaultConfig())
}
