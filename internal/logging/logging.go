package logging

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pixforge/pixforge/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger based on configuration
func Setup(cfg *config.LoggingConfig, env string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer
	if cfg.Format == "json" || env == "production" {
		output = os.Stdout
	} else {
		// Pretty console output for development
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "pixforge").
		Logger()
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger is a Gin middleware for structured request logging
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get("request_id")
		reqIDStr, _ := requestID.(string)

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}

		event.
			Str("request_id", reqIDStr).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// GenerationLogEntry is a structured log entry for one generation round trip
type GenerationLogEntry struct {
	RequestID  string
	UserID     string
	RecordID   string
	Source     string // "own" or "shared"
	IsEdit     bool
	ImageCount int
	Latency    time.Duration
	Status     string
	ErrorCode  string
}

// LogGeneration logs a generation round trip with structured data
func LogGeneration(entry *GenerationLogEntry) {
	event := log.Info()
	if entry.Status == "failed" {
		event = log.Error()
	}

	event.
		Str("request_id", entry.RequestID).
		Str("user_id", entry.UserID).
		Str("record_id", entry.RecordID).
		Str("credential_source", entry.Source).
		Bool("is_edit", entry.IsEdit).
		Int("image_count", entry.ImageCount).
		Dur("latency", entry.Latency).
		Str("status", entry.Status).
		Str("error_code", entry.ErrorCode).
		Msg("Generation")
}

// LogQuotaReset logs a scheduled ledger reset
func LogQuotaReset(usersReset int64, day string) {
	log.Info().
		Int64("users_reset", usersReset).
		Str("day", day).
		Msg("Daily quota reset")
}

// SanitizeForLog truncates long strings (prompts, bodies) before logging
func SanitizeForLog(data string, maxLen int) string {
	if len(data) > maxLen {
		return data[:maxLen] + "...[truncated]"
	}
	return data
}
