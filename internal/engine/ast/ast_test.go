package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArithmetic(t *testing.T) {
	n, err := Parse("x * 2")
	require.NoError(t, err)
	bin, ok := n.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "*", bin.Op)
	ident, ok := bin.Left.(*Ident)
	require.True(t, ok)
	assert.Equal(t, "x", ident.Name())
	lit, ok := bin.Right.(*NumberLit)
	require.True(t, ok)
	assert.Equal(t, 2.0, lit.Value)
}

func TestParseEntityRefAndAttributeChain(t *testing.T) {
	n, err := Parse("sensor.power.unit_of_measurement")
	require.NoError(t, err)
	ident, ok := n.(*Ident)
	require.True(t, ok)
	assert.Equal(t, []string{"sensor", "power", "unit_of_measurement"}, ident.Parts)
}

func TestParseTernary(t *testing.T) {
	n, err := Parse("1 if x > 0 else -1")
	require.NoError(t, err)
	tern, ok := n.(*Ternary)
	require.True(t, ok)
	cond, ok := tern.Cond.(*Binary)
	require.True(t, ok)
	assert.Equal(t, ">", cond.Op)
}

func TestParseBooleanKeywords(t *testing.T) {
	n, err := Parse("not a and b or c")
	require.NoError(t, err)
	// "or" binds loosest, then "and", then "not".
	top, ok := n.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "or", top.Op)
	left, ok := top.Left.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "and", left.Op)
	notNode, ok := left.Left.(*Unary)
	require.True(t, ok)
	assert.Equal(t, "not", notNode.Op)
}

func TestParseRejectsCStyleOperators(t *testing.T) {
	_, err := Parse("a && b")
	require.Error(t, err)
	var synErr *SyntaxError
	require.ErrorAs(t, err, &synErr)

	_, err = Parse("a || b")
	require.Error(t, err)
	_, err = Parse("!a")
	require.Error(t, err)
}

func TestParsePowerRightAssociativeBindsTighterThanUnaryMinus(t *testing.T) {
	n, err := Parse("-2 ** 2")
	require.NoError(t, err)
	unary, ok := n.(*Unary)
	require.True(t, ok)
	assert.Equal(t, "-", unary.Op)
	pow, ok := unary.X.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "**", pow.Op)
}

func TestParseFunctionCall(t *testing.T) {
	n, err := Parse("metadata(sensor.power, 'last_changed')")
	require.NoError(t, err)
	call, ok := n.(*Call)
	require.True(t, ok)
	assert.Equal(t, "metadata", call.Name)
	require.Len(t, call.Args, 2)
	str, ok := call.Args[1].(*StringLit)
	require.True(t, ok)
	assert.Equal(t, "last_changed", str.Value)
}

func TestParseCollectionPattern(t *testing.T) {
	n, err := Parse(`sum("device_class:power|device_class:energy")`)
	require.NoError(t, err)
	call, ok := n.(*Call)
	require.True(t, ok)
	assert.Equal(t, "sum", call.Name)
	str, ok := call.Args[0].(*StringLit)
	require.True(t, ok)
	assert.Equal(t, "device_class:power|device_class:energy", str.Value)
}

func TestParseSyntaxErrorReportsPosition(t *testing.T) {
	_, err := Parse("x +")
	require.Error(t, err)
	var synErr *SyntaxError
	require.ErrorAs(t, err, &synErr)
	assert.Greater(t, synErr.Line, 0)
}

func TestWalkCollectsIdentifiers(t *testing.T) {
	n, err := Parse("a + b.c * metadata(d, 'key')")
	require.NoError(t, err)
	var names []string
	Walk(n, func(node Node) bool {
		if id, ok := node.(*Ident); ok {
			names = append(names, id.Name())
		}
		return true
	})
	assert.ElementsMatch(t, []string{"a", "b.c", "d"}, names)
}
