package value

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseHostState(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{"unavailable", Unavailable},
		{"unknown", Unknown},
		{"", None},
		{"on", 1.0},
		{"off", 0.0},
		{"3.5", 3.5},
		{"not a number", "not a number"},
	}
	for _, tc := range cases {
		got, err := ParseHostState(tc.raw)
		assert.NoError(t, err)
		assert.Equal(t, tc.want, got, "ParseHostState(%q)", tc.raw)
	}
}

func TestToFloat(t *testing.T) {
	f, ok := ToFloat(3.0)
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	f, ok = ToFloat("on")
	assert.True(t, ok)
	assert.Equal(t, 1.0, f)

	f, ok = ToFloat(true)
	assert.True(t, ok)
	assert.Equal(t, 1.0, f)

	_, ok = ToFloat("not numeric")
	assert.False(t, ok)
}

func TestToBool(t *testing.T) {
	assert.False(t, ToBool(Unavailable))
	assert.False(t, ToBool(nil))
	assert.False(t, ToBool(0.0))
	assert.False(t, ToBool(""))
	assert.True(t, ToBool(0.0001))
	assert.True(t, ToBool("text"))
	assert.True(t, ToBool(true))
}

func TestToDisplayString(t *testing.T) {
	assert.Equal(t, "42", ToDisplayString(42.0))
	assert.Equal(t, "3.5", ToDisplayString(3.5))
	assert.Equal(t, "true", ToDisplayString(true))
	assert.Equal(t, "unknown", ToDisplayString(Unknown))
	assert.Equal(t, "", ToDisplayString(nil))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(1.0, "1"))
	assert.True(t, Equal(Unknown, Unknown))
	assert.False(t, Equal(Unknown, Unavailable))
	assert.True(t, Equal("hello", "hello"))
	assert.False(t, Equal("hello", "world"))
}

func TestIsSentinel(t *testing.T) {
	s, ok := IsSentinel(Unavailable)
	assert.True(t, ok)
	assert.Equal(t, Unavailable, s)

	s, ok = IsSentinel(nil)
	assert.True(t, ok)
	assert.Equal(t, None, s)

	_, ok = IsSentinel(1.0)
	assert.False(t, ok)
}

func TestToDisplayStringDuration(t *testing.T) {
	assert.Equal(t, (5 * time.Minute).String(), ToDisplayString(5*time.Minute))
}
