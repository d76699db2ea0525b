// Package logging provides structured logging for the synthetic sensor
// engine, built on logrus the way the teacher service's
// infrastructure/logging and pkg/logger packages do.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with engine-specific field helpers.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a Logger for the given component name.
func New(component, level, format string) *Logger {
	base := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	if format == "json" {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	base.SetOutput(os.Stdout)

	return &Logger{Logger: base, component: component}
}

// NewFromEnv builds a Logger using LOG_LEVEL/LOG_FORMAT, defaulting to
// info/json when unset.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// NewDefault returns an info/json Logger for component, used as a nil-safe
// fallback by constructors that accept an optional *Logger.
func NewDefault(component string) *Logger {
	return New(component, "info", "json")
}

// WithSensor returns an Entry tagged with the sensor's unique_id.
func (l *Logger) WithSensor(sensorKey string) *logrus.Entry {
	return l.WithField("component", l.component).WithField("sensor_key", sensorKey)
}

// WithCycle returns an Entry tagged with an update-cycle correlation ID.
func (l *Logger) WithCycle(cycleID string) *logrus.Entry {
	return l.WithField("component", l.component).WithField("cycle_id", cycleID)
}

// WithFormula returns an Entry tagged with a sensor and formula ID.
func (l *Logger) WithFormula(sensorKey, formulaID string) *logrus.Entry {
	return l.WithField("component", l.component).
		WithField("sensor_key", sensorKey).
		WithField("formula_id", formulaID)
}
