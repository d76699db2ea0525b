package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityBusSetReportsChange(t *testing.T) {
	b := newEntityBus()
	assert.True(t, b.set("sensor.power_a", "10", nil))
	assert.False(t, b.set("sensor.power_a", "10", nil))
	assert.True(t, b.set("sensor.power_a", "20", nil))
}

func TestEntityBusGetState(t *testing.T) {
	b := newEntityBus()
	b.set("sensor.power_a", "10", map[string]any{"unit": "W"})

	es, ok, err := b.GetState(context.Background(), "sensor.power_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10", es.State)
	assert.Equal(t, "W", es.Attributes["unit"])

	_, ok, err = b.GetState(context.Background(), "sensor.ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntityBusListEntities(t *testing.T) {
	b := newEntityBus()
	b.set("sensor.a", "1", nil)
	b.set("sensor.b", "2", nil)
	ids, err := b.ListEntities(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sensor.a", "sensor.b"}, ids)
}

func TestEntityBusAreaAndLabels(t *testing.T) {
	b := newEntityBus()
	b.setArea("sensor.a", "kitchen")
	b.setLabels("sensor.a", []string{"critical"})

	area, ok := b.EntityArea(context.Background(), "sensor.a")
	assert.True(t, ok)
	assert.Equal(t, "kitchen", area)

	labels, err := b.EntityLabels(context.Background(), "sensor.a")
	require.NoError(t, err)
	assert.Equal(t, []string{"critical"}, labels)

	_, ok = b.EntityArea(context.Background(), "sensor.ghost")
	assert.False(t, ok)
}
