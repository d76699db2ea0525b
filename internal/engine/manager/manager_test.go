package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/collection"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/compile"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/enginetest"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/plan"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/registry"
)

const chainYAML = `
version: "1.0"
sensors:
  power_doubled:
    name: Power Doubled
    formula: "state * 2"
  power_status:
    name: Power Status
    formula: "power_doubled > 100"
`

func newTestManager(t *testing.T, bus *enginetest.StateBus, sink *enginetest.SignalSink) (*Manager, *registry.Registry) {
	t.Helper()
	planner := plan.NewService()
	compiler, err := compile.NewCache(planner, 32)
	require.NoError(t, err)
	reg := registry.New()
	collections := collection.New(collection.Deps{States: bus, Areas: bus, Labels: bus})

	m := New(Deps{
		Planner: planner, Compiler: compiler, States: bus,
		Collections: collections, Registry: reg, Signals: sink,
	})
	return m, reg
}

func TestRegisterSensorsBuildsGraph(t *testing.T) {
	bus := enginetest.NewStateBus()
	m, _ := newTestManager(t, bus, enginetest.NewSignalSink())
	set, err := config.ParseYAML("test-set", []byte(chainYAML))
	require.NoError(t, err)
	require.NoError(t, m.RegisterSensors(set))
}

func TestUpdateAllEvaluatesInDependencyOrder(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_doubled", "60", nil)
	sink := enginetest.NewSignalSink()
	m, reg := newTestManager(t, bus, sink)

	set, err := config.ParseYAML("test-set", []byte(chainYAML))
	require.NoError(t, err)
	require.NoError(t, m.RegisterSensors(set))

	require.NoError(t, m.UpdateAll(context.Background()))

	v, ok := reg.Get("power_doubled")
	require.True(t, ok)
	assert.Equal(t, 120.0, v.Value)

	v, ok = reg.Get("power_status")
	require.True(t, ok)
	assert.Equal(t, true, v.Value)
}

func TestOnBackingEntitiesChangedReevaluatesOnlyAffected(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_doubled", "60", nil)
	sink := enginetest.NewSignalSink()
	m, reg := newTestManager(t, bus, sink)

	set, err := config.ParseYAML("test-set", []byte(chainYAML))
	require.NoError(t, err)
	require.NoError(t, m.RegisterSensors(set))
	require.NoError(t, m.UpdateAll(context.Background()))

	bus.Set("sensor.power_doubled", "80", nil)
	require.NoError(t, m.OnBackingEntitiesChanged(context.Background(), map[string]bool{"sensor.power_doubled": true}))

	v, ok := reg.Get("power_doubled")
	require.True(t, ok)
	assert.Equal(t, 160.0, v.Value)
}

const variableRefYAML = `
version: "1.0"
sensors:
  doubled:
    name: Doubled
    formula: "x * 2"
    variables:
      x: sensor.power_source
`

func TestRegisterDataProviderTakesPriorityOverHostState(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_source", "10", nil)
	sink := enginetest.NewSignalSink()
	m, reg := newTestManager(t, bus, sink)

	provider := enginetest.NewDataProvider()
	provider.Set("sensor.power_source", 500.0, nil)
	m.RegisterDataProvider([]string{"sensor.power_source"}, provider.Func())

	set, err := config.ParseYAML("test-set", []byte(variableRefYAML))
	require.NoError(t, err)
	require.NoError(t, m.RegisterSensors(set))
	require.NoError(t, m.UpdateAll(context.Background()))

	v, ok := reg.Get("doubled")
	require.True(t, ok)
	assert.Equal(t, 1000.0, v.Value)
}

func TestUpdateAllRejectsConcurrentCycle(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_doubled", "10", nil)
	sink := enginetest.NewSignalSink()
	m, _ := newTestManager(t, bus, sink)
	set, err := config.ParseYAML("test-set", []byte(chainYAML))
	require.NoError(t, err)
	require.NoError(t, m.RegisterSensors(set))

	m.cycleRunning = true
	err = m.UpdateAll(context.Background())
	assert.Error(t, err)
	m.cycleRunning = false
}

func TestUpdateAllWithoutRegisteredSensorsErrors(t *testing.T) {
	bus := enginetest.NewStateBus()
	m, _ := newTestManager(t, bus, enginetest.NewSignalSink())
	err := m.UpdateAll(context.Background())
	assert.Error(t, err)
}
