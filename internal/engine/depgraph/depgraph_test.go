package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/plan"
)

const chainYAML = `
version: "1.0"
sensors:
  base_power:
    name: Base Power
    formula: "sensor.power_raw"
  doubled_power:
    name: Doubled Power
    formula: "base_power * 2"
  total_energy:
    name: Total Energy
    formula: "doubled_power + base_power"
`

const cyclicYAML = `
version: "1.0"
sensors:
  sensor_a:
    name: A
    formula: "sensor_b + 1"
  sensor_b:
    name: B
    formula: "sensor_a + 1"
`

func buildChainGraph(t *testing.T) *Graph {
	t.Helper()
	set, err := config.ParseYAML("chain", []byte(chainYAML))
	require.NoError(t, err)
	g, err := Build(set, plan.NewService())
	require.NoError(t, err)
	return g
}

func TestBuildForwardAndReverseIndices(t *testing.T) {
	g := buildChainGraph(t)
	assert.Equal(t, []string{"base_power"}, g.DependenciesOf("doubled_power"))
	assert.ElementsMatch(t, []string{"doubled_power", "base_power"}, g.DependenciesOf("total_energy"))
	assert.Equal(t, []string{"doubled_power", "total_energy"}, g.DependentsOf("base_power"))
}

func TestBackingEntitiesOf(t *testing.T) {
	g := buildChainGraph(t)
	backing := g.BackingEntitiesOf("base_power")
	assert.Contains(t, backing, "sensor.power_raw")
	assert.Contains(t, backing, "sensor.base_power")
}

func TestValidateAcyclic(t *testing.T) {
	g := buildChainGraph(t)
	assert.NoError(t, g.Validate())
}

func TestValidateDetectsCycle(t *testing.T) {
	set, err := config.ParseYAML("cyclic", []byte(cyclicYAML))
	require.NoError(t, err)
	g, err := Build(set, plan.NewService())
	require.NoError(t, err)
	err = g.Validate()
	assert.Error(t, err)
}

func TestTopologicalOrderRespectsDependencies(t *testing.T) {
	g := buildChainGraph(t)
	subset := map[string]bool{"base_power": true, "doubled_power": true, "total_energy": true}
	order, err := g.TopologicalOrder(subset)
	require.NoError(t, err)
	require.Equal(t, 3, len(order))
	assert.Equal(t, "base_power", order[0])
	assert.Equal(t, "total_energy", order[2])
}

func TestAffectedClosureExpandsTransitively(t *testing.T) {
	g := buildChainGraph(t)
	affected := g.AffectedClosure(map[string]bool{"sensor.power_raw": true})
	assert.True(t, affected["base_power"])
	assert.True(t, affected["doubled_power"])
	assert.True(t, affected["total_energy"])
}

func TestCascadeCost(t *testing.T) {
	g := buildChainGraph(t)
	assert.Equal(t, 3, g.CascadeCost("sensor.power_raw"))
}

func TestValidateCrossSensorReferencesOK(t *testing.T) {
	g := buildChainGraph(t)
	assert.NoError(t, g.ValidateCrossSensorReferences())
}
