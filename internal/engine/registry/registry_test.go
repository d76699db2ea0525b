package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishAndValue(t *testing.T) {
	r := New()
	_, ok := r.Value("power_total")
	assert.False(t, ok)

	r.Publish("power_total", "sensor.power_total", 42.0)
	v, ok := r.Value("power_total")
	assert.True(t, ok)
	assert.Equal(t, 42.0, v)

	entityID, ok := r.EntityIDFor("power_total")
	assert.True(t, ok)
	assert.Equal(t, "sensor.power_total", entityID)
}

func TestRemove(t *testing.T) {
	r := New()
	r.Publish("power_total", "sensor.power_total", 42.0)
	r.Remove("power_total")
	_, ok := r.Get("power_total")
	assert.False(t, ok)
}

func TestKeys(t *testing.T) {
	r := New()
	r.Publish("a", "sensor.a", 1.0)
	r.Publish("b", "sensor.b", 2.0)
	assert.ElementsMatch(t, []string{"a", "b"}, r.Keys())
}

func TestValueBeforeFirstEvaluation(t *testing.T) {
	r := New()
	_, ok := r.Get("never_published")
	assert.False(t, ok)
}
