package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/errs"
)

const sampleYAML = `
version: "1.0"
global_settings:
  device_identifier: home-hub-1
  variables:
    grace_period: 15
  metadata:
    icon: mdi:flash
sensors:
  doubled:
    name: Doubled Value
    formula: "x * 2"
    variables:
      x: sensor.a
  derived:
    name: Derived Value
    formula: "base + 1"
  grace_check:
    name: Grace Check
    formula: "m < 15"
    variables:
      m:
        formula: "minutes_between(metadata(sensor.power, 'last_changed'), now())"
    attributes:
      doubled_m:
        formula: "m * 2"
    UNAVAILABLE: 0
`

func TestParseYAMLBasic(t *testing.T) {
	set, err := ParseYAML("test-set", []byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "1.0", set.Version)
	assert.Equal(t, "home-hub-1", set.Global.DeviceIdentifier)
	assert.Equal(t, 3, len(set.Sensors))

	byKey := set.BySensorKey()
	doubled := byKey["doubled"]
	require.NotNil(t, doubled)
	assert.Equal(t, "x * 2", doubled.Main.Expr)
	assert.Equal(t, "sensor.doubled", doubled.EntityID)

	xBinding, ok := doubled.Variables.Get("x")
	require.True(t, ok)
	require.NotNil(t, xBinding.Literal)
	assert.Equal(t, LiteralEntity, xBinding.Literal.Kind)
	assert.Equal(t, "sensor.a", xBinding.Literal.Raw)
}

func TestParseYAMLComputedVariableWithMetadata(t *testing.T) {
	set, err := ParseYAML("test-set", []byte(sampleYAML))
	require.NoError(t, err)
	sensor := set.BySensorKey()["grace_check"]
	require.NotNil(t, sensor)

	mBinding, ok := sensor.Variables.Get("m")
	require.True(t, ok)
	require.NotNil(t, mBinding.Computed)
	assert.Contains(t, mBinding.Computed.Expr, "minutes_between")

	require.Len(t, sensor.Attributes, 1)
	assert.Equal(t, "doubled_m", sensor.Attributes[0].Name)

	require.NotNil(t, sensor.Main.Alternates)
	branch := sensor.Main.Alternates[AltUnavailable]
	require.NotNil(t, branch.Literal)
	assert.Equal(t, 0.0, branch.Literal.Number)
}

func TestGlobalVariablesParsed(t *testing.T) {
	set, err := ParseYAML("test-set", []byte(sampleYAML))
	require.NoError(t, err)
	grace, ok := set.Global.Variables.Get("grace_period")
	require.True(t, ok)
	require.NotNil(t, grace.Literal)
	assert.Equal(t, 15.0, grace.Literal.Number)
}

func TestValidateDetectsDuplicateUniqueID(t *testing.T) {
	set := &SensorSet{Sensors: []*Sensor{
		{UniqueID: "a", EntityID: "sensor.a", Main: &FormulaSpec{Expr: "1"}},
		{UniqueID: "a", EntityID: "sensor.a2", Main: &FormulaSpec{Expr: "2"}},
	}}
	err := set.Validate()
	require.Error(t, err)
	assert.Equal(t, errs.KindSensorConfiguration, errs.KindOf(err))
}

func TestValidateDetectsDuplicateEntityID(t *testing.T) {
	set := &SensorSet{Sensors: []*Sensor{
		{UniqueID: "a", EntityID: "sensor.shared", Main: &FormulaSpec{Expr: "1"}},
		{UniqueID: "b", EntityID: "sensor.shared", Main: &FormulaSpec{Expr: "2"}},
	}}
	err := set.Validate()
	require.Error(t, err)
}

func TestValidateRejectsEmptyFormula(t *testing.T) {
	set := &SensorSet{Sensors: []*Sensor{
		{UniqueID: "a", EntityID: "sensor.a", Main: &FormulaSpec{Expr: ""}},
	}}
	err := set.Validate()
	require.Error(t, err)
}

func TestLooksLikeEntityRef(t *testing.T) {
	assert.True(t, LooksLikeEntityRef("sensor.power"))
	assert.True(t, LooksLikeEntityRef("binary_sensor.door"))
	assert.False(t, LooksLikeEntityRef("not_a_domain.thing"))
	assert.False(t, LooksLikeEntityRef("plainstring"))
}

func TestExportYAMLRoundTripsFormulas(t *testing.T) {
	set, err := ParseYAML("test-set", []byte(sampleYAML))
	require.NoError(t, err)
	out, err := ExportYAML(set)
	require.NoError(t, err)

	reparsed, err := ParseYAML("test-set", out)
	require.NoError(t, err)
	assert.Equal(t, len(set.Sensors), len(reparsed.Sensors))
	for _, sensor := range set.Sensors {
		other := reparsed.BySensorKey()[sensor.UniqueID]
		require.NotNil(t, other)
		assert.Equal(t, sensor.Main.Expr, other.Main.Expr)
	}
}
