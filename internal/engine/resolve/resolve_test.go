package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/enginetest"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/evalcontext"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/registry"
)

func TestChainResolvesContextBeforeAnythingElse(t *testing.T) {
	bus := enginetest.NewStateBus()
	chain := NewChain(Deps{States: bus})
	ctx := evalcontext.NewRoot()
	ctx.Set("already_bound", 7.0)

	req := Request{Base: "already_bound", Ctx: ctx}
	res, err := chain.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 7.0, res.Value)
	assert.Equal(t, evalcontext.StrategyContext, res.Source)
}

func TestChainResolvesLiteralBinding(t *testing.T) {
	bus := enginetest.NewStateBus()
	chain := NewChain(Deps{States: bus})
	req := Request{
		Base:    "factor",
		Ctx:     evalcontext.NewRoot(),
		Binding: &config.VariableBinding{Literal: &config.Literal{Kind: config.LiteralNumber, Number: 2.5}},
	}
	res, err := chain.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2.5, res.Value)
	assert.Equal(t, evalcontext.StrategyLiteral, res.Source)
}

func TestChainResolvesSelfStateForMainRole(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_a", "100", nil)
	chain := NewChain(Deps{States: bus})
	req := Request{
		Base: "state", Ctx: evalcontext.NewRoot(),
		Role: evalcontext.RoleMain, BackingEntityID: "sensor.power_a",
	}
	res, err := chain.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Value)
	assert.Equal(t, evalcontext.StrategySelfState, res.Source)
}

func TestChainResolvesSelfStateForAttributeRole(t *testing.T) {
	bus := enginetest.NewStateBus()
	chain := NewChain(Deps{States: bus})
	req := Request{
		Base: "state", Ctx: evalcontext.NewRoot(),
		Role: evalcontext.RoleAttribute, MainResult: 55.0,
	}
	res, err := chain.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 55.0, res.Value)
}

func TestChainResolvesHAStateForEntityRef(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_b", "22.5", map[string]any{"unit": "W"})
	chain := NewChain(Deps{States: bus})
	req := Request{Base: "sensor.power_b", Ctx: evalcontext.NewRoot()}
	res, err := chain.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 22.5, res.Value)
	assert.Equal(t, evalcontext.StrategyHAState, res.Source)
	assert.Equal(t, "W", res.Attributes["unit"])
}

func TestChainResolvesCrossSensor(t *testing.T) {
	reg := registry.New()
	reg.Publish("other_sensor", "sensor.other", 9.0)
	chain := NewChain(Deps{States: enginetest.NewStateBus(), Registry: reg})
	req := Request{Base: "other_sensor", Ctx: evalcontext.NewRoot()}
	res, err := chain.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 9.0, res.Value)
	assert.Equal(t, evalcontext.StrategyCrossSensor, res.Source)
}

func TestChainResolvesDataProvider(t *testing.T) {
	provider := enginetest.NewDataProvider()
	provider.Set("sensor.external", 15.0, nil)
	chain := NewChain(Deps{States: enginetest.NewStateBus(), DataProvider: provider.Func()})
	req := Request{Base: "sensor.external", Ctx: evalcontext.NewRoot()}
	res, err := chain.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 15.0, res.Value)
	assert.Equal(t, evalcontext.StrategyDataProvider, res.Source)
}

func TestChainFallsThroughToNone(t *testing.T) {
	chain := NewChain(Deps{States: enginetest.NewStateBus()})
	req := Request{Base: "nonexistent_plain_name", Ctx: evalcontext.NewRoot()}
	res, err := chain.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Exists)
}

func TestChainNavigatesAttributes(t *testing.T) {
	bus := enginetest.NewStateBus()
	bus.Set("sensor.power_c", "10", map[string]any{"nested": map[string]any{"value": 5.0}})
	chain := NewChain(Deps{States: bus})
	req := Request{Base: "sensor.power_c", Chain: []string{"sensor.power_c", "nested", "value"}, Ctx: evalcontext.NewRoot()}
	res, err := chain.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Value)
}

func TestCompareExprNumeric(t *testing.T) {
	ok, err := CompareExpr(">", 5.0, 3.0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CompareExpr("=", 5.0, 5.0)
	require.NoError(t, err)
	assert.True(t, ok)
}
