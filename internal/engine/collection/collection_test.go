package collection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/enginetest"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/value"
)

func newTestResolver(bus *enginetest.StateBus) *Resolver {
	return New(Deps{States: bus, Areas: bus, Labels: bus})
}

func TestResolveEntitiesRegex(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_a", "10", nil)
	bus.Set("sensor.power_b", "20", nil)
	bus.Set("sensor.humidity", "50", nil)

	r := newTestResolver(bus)
	ids, err := r.ResolveEntities(context.Background(), "regex", "^sensor\\.power_")
	require.NoError(t, err)
	assert.Equal(t, []string{"sensor.power_a", "sensor.power_b"}, ids)
}

func TestResolveEntitiesDeviceClass(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_a", "10", map[string]any{"device_class": "power"})
	bus.Set("sensor.energy_a", "5", map[string]any{"device_class": "energy"})

	r := newTestResolver(bus)
	ids, err := r.ResolveEntities(context.Background(), "device_class", "power")
	require.NoError(t, err)
	assert.Equal(t, []string{"sensor.power_a"}, ids)
}

func TestResolveEntitiesOrComposition(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_a", "10", map[string]any{"device_class": "power"})
	bus.Set("sensor.energy_a", "5", map[string]any{"device_class": "energy"})
	bus.Set("sensor.humidity", "50", map[string]any{"device_class": "humidity"})

	r := newTestResolver(bus)
	ids, err := r.ResolveEntities(context.Background(), "device_class", "power|device_class:energy")
	require.NoError(t, err)
	assert.Equal(t, []string{"sensor.energy_a", "sensor.power_a"}, ids)
}

func TestResolveEntitiesArea(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_a", "10", nil)
	bus.SetArea("sensor.power_a", "kitchen")
	bus.Set("sensor.power_b", "10", nil)
	bus.SetArea("sensor.power_b", "garage")

	r := newTestResolver(bus)
	ids, err := r.ResolveEntities(context.Background(), "area", "kitchen")
	require.NoError(t, err)
	assert.Equal(t, []string{"sensor.power_a"}, ids)
}

func TestResolveEntitiesLabel(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_a", "10", nil)
	bus.SetLabels("sensor.power_a", []string{"critical"})
	bus.Set("sensor.power_b", "10", nil)

	r := newTestResolver(bus)
	ids, err := r.ResolveEntities(context.Background(), "label", "critical")
	require.NoError(t, err)
	assert.Equal(t, []string{"sensor.power_a"}, ids)
}

func TestResolveEntitiesAttributeComparison(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_a", "10", map[string]any{"voltage": 240.0})
	bus.Set("sensor.power_b", "10", map[string]any{"voltage": 110.0})

	r := newTestResolver(bus)
	ids, err := r.ResolveEntities(context.Background(), "attribute", "voltage>200")
	require.NoError(t, err)
	assert.Equal(t, []string{"sensor.power_a"}, ids)
}

func TestResolveEntitiesStateComparison(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_a", "150", nil)
	bus.Set("sensor.power_b", "50", nil)

	r := newTestResolver(bus)
	ids, err := r.ResolveEntities(context.Background(), "state", ">100")
	require.NoError(t, err)
	assert.Equal(t, []string{"sensor.power_a"}, ids)
}

func TestAggregateSumAndAvg(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_a", "10", nil)
	bus.Set("sensor.power_b", "20", nil)
	bus.Set("sensor.text", "not_numeric", nil)

	r := newTestResolver(bus)
	sum, err := r.Aggregate(context.Background(), "sum", []string{"sensor.power_a", "sensor.power_b", "sensor.text"})
	require.NoError(t, err)
	assert.Equal(t, 30.0, sum)

	avg, err := r.Aggregate(context.Background(), "avg", []string{"sensor.power_a", "sensor.power_b"})
	require.NoError(t, err)
	assert.Equal(t, 15.0, avg)
}

func TestAggregateEmptySetYieldsNone(t *testing.T) {
	bus := enginetest.NewStateBus()
	r := newTestResolver(bus)
	v, err := r.Aggregate(context.Background(), "avg", nil)
	require.NoError(t, err)
	assert.Equal(t, value.None, v)
}

func TestAggregateUnrecognizedFunction(t *testing.T) {
	r := newTestResolver(enginetest.NewStateBus())
	_, err := r.Aggregate(context.Background(), "bogus", nil)
	assert.Error(t, err)
}

func TestParseComparisonExprOperatorPrecedence(t *testing.T) {
	key, op, want, err := parseComparisonExpr("voltage<=240")
	require.NoError(t, err)
	assert.Equal(t, "voltage", key)
	assert.Equal(t, "<=", op)
	assert.Equal(t, "240", want)
}
