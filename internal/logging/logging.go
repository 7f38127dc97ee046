// Package logging provides the structured logger shared across the flow
// core: a package-level logrus instance plus a ContextLogger wrapper that
// carries a small set of base fields through a call chain.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide configured logger. Components obtain scoped
// loggers from it via New rather than writing to it directly.
var Logger = logrus.New()

// Config controls how Logger is set up at process start.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
}

// DefaultConfig returns sensible defaults for interactive use.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text"}
}

// Configure applies cfg to the package-level Logger.
func Configure(cfg Config) {
	switch cfg.Level {
	case "debug":
		Logger.SetLevel(logrus.DebugLevel)
	case "warn":
		Logger.SetLevel(logrus.WarnLevel)
	case "error":
		Logger.SetLevel(logrus.ErrorLevel)
	default:
		Logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}
}

// ContextLogger carries a fixed set of structured fields into every log call.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// New creates a ContextLogger scoped to component, e.g. "master" or "store".
func New(component string) *ContextLogger {
	return &ContextLogger{
		logger: Logger,
		fields: logrus.Fields{"component": component},
	}
}

// WithField returns a derived logger with an additional field.
func (c *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	fields := make(logrus.Fields, len(c.fields)+1)
	for k, v := range c.fields {
		fields[k] = v
	}
	fields[key] = value
	return &ContextLogger{logger: c.logger, fields: fields}
}

// WithError returns a derived logger with an "error" field set.
func (c *ContextLogger) WithError(err error) *ContextLogger {
	return c.WithField("error", err.Error())
}

func (c *ContextLogger) Debug(msg string) { c.logger.WithFields(c.fields).Debug(msg) }
func (c *ContextLogger) Info(msg string)  { c.logger.WithFields(c.fields).Info(msg) }
func (c *ContextLogger) Warn(msg string)  { c.logger.WithFields(c.fields).Warn(msg) }
func (c *ContextLogger) Error(msg string) { c.logger.WithFields(c.fields).Error(msg) }
