package logging

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsToInfoOnInvalidLevel(t *testing.T) {
	l := New("engine", "not-a-level", "text")
	assert.Equal(t, logrus.InfoLevel, l.Level)
}

func TestNewJSONFormatter(t *testing.T) {
	l := New("engine", "debug", "json")
	assert.Equal(t, logrus.DebugLevel, l.Level)
	_, ok := l.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestNewTextFormatterByDefault(t *testing.T) {
	l := New("engine", "info", "text")
	_, ok := l.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

func TestNewFromEnvDefaults(t *testing.T) {
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("LOG_FORMAT")
	l := NewFromEnv("engine")
	assert.Equal(t, logrus.InfoLevel, l.Level)
	_, ok := l.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestNewFromEnvHonorsOverrides(t *testing.T) {
	os.Setenv("LOG_LEVEL", "warn")
	os.Setenv("LOG_FORMAT", "text")
	defer os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("LOG_FORMAT")

	l := NewFromEnv("engine")
	assert.Equal(t, logrus.WarnLevel, l.Level)
	_, ok := l.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

func TestWithSensorAddsFields(t *testing.T) {
	l := NewDefault("manager")
	entry := l.WithSensor("power_total")
	assert.Equal(t, "manager", entry.Data["component"])
	assert.Equal(t, "power_total", entry.Data["sensor_key"])
}

func TestWithCycleAddsFields(t *testing.T) {
	l := NewDefault("manager")
	entry := l.WithCycle("cycle-1")
	assert.Equal(t, "cycle-1", entry.Data["cycle_id"])
}

func TestWithFormulaAddsFields(t *testing.T) {
	l := NewDefault("manager")
	entry := l.WithFormula("power_total", "main")
	assert.Equal(t, "power_total", entry.Data["sensor_key"])
	assert.Equal(t, "main", entry.Data["formula_id"])
}
