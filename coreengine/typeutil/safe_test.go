package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// MAP[STRING]ANY TESTS
// =============================================================================

func TestSafeMapStringAny(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		wantMap  map[string]any
		wantBool bool
	}{
		{
			name:     "valid map",
			input:    map[string]any{"key": "value"},
			wantMap:  map[string]any{"key": "value"},
			wantBool: true,
		},
		{
			name:     "nil value",
			input:    nil,
			wantMap:  nil,
			wantBool: false,
		},
		{
			name:     "wrong type string",
			input:    "not a map",
			wantMap:  nil,
			wantBool: false,
		},
		{
			name:     "empty map",
			input:    map[string]any{},
			wantMap:  map[string]any{},
			wantBool: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeMapStringAny(tt.input)
			assert.Equal(t, tt.wantBool, ok)
			assert.Equal(t, tt.wantMap, got)
		})
	}
}

func TestSafeMapStringAnyDefault(t *testing.T) {
	defaultVal := map[string]any{"default": true}

	result := SafeMapStringAnyDefault(map[string]any{"key": "value"}, defaultVal)
	assert.Equal(t, "value", result["key"])

	result = SafeMapStringAnyDefault("not a map", defaultVal)
	assert.Equal(t, defaultVal, result)

	result = SafeMapStringAnyDefault(nil, defaultVal)
	assert.Equal(t, defaultVal, result)
}

// =============================================================================
// SCALAR TESTS
// =============================================================================

func TestSafeString(t *testing.T) {
	s, ok := SafeString("hello")
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	s, ok = SafeString(nil)
	assert.False(t, ok)
	assert.Equal(t, "", s)

	s, ok = SafeString(42)
	assert.False(t, ok)
	assert.Equal(t, "", s)
}

func TestSafeStringDefault(t *testing.T) {
	assert.Equal(t, "hello", SafeStringDefault("hello", "fallback"))
	assert.Equal(t, "fallback", SafeStringDefault(nil, "fallback"))
	assert.Equal(t, "fallback", SafeStringDefault(42, "fallback"))
}

func TestSafeInt(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		wantInt  int
		wantBool bool
	}{
		{"int", 42, 42, true},
		{"int64", int64(42), 42, true},
		{"float64 from json", float64(42), 42, true},
		{"nil", nil, 0, false},
		{"string", "42", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeInt(tt.input)
			assert.Equal(t, tt.wantBool, ok)
			assert.Equal(t, tt.wantInt, got)
		})
	}
}

func TestSafeFloat64(t *testing.T) {
	f, ok := SafeFloat64(3.5)
	assert.True(t, ok)
	assert.Equal(t, 3.5, f)

	f, ok = SafeFloat64(40000)
	assert.True(t, ok)
	assert.Equal(t, 40000.0, f)

	_, ok = SafeFloat64("not a number")
	assert.False(t, ok)
}

func TestSafeBool(t *testing.T) {
	b, ok := SafeBool(true)
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = SafeBool(nil)
	assert.False(t, ok)

	_, ok = SafeBool("true")
	assert.False(t, ok)
}

// =============================================================================
// SLICE TESTS
// =============================================================================

func TestSafeSlice(t *testing.T) {
	s, ok := SafeSlice([]any{"a", 1})
	assert.True(t, ok)
	assert.Len(t, s, 2)

	_, ok = SafeSlice(nil)
	assert.False(t, ok)

	_, ok = SafeSlice("not a slice")
	assert.False(t, ok)
}

func TestSafeStringSlice(t *testing.T) {
	s, ok := SafeStringSlice([]string{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, s)

	s, ok = SafeStringSlice([]any{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, s)

	_, ok = SafeStringSlice([]any{"a", 42})
	assert.False(t, ok)

	_, ok = SafeStringSlice(nil)
	assert.False(t, ok)
}

// =============================================================================
// DOMAIN HELPERS
// =============================================================================

func TestTruthy(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  bool
	}{
		{"nil", nil, false},
		{"empty string", "", false},
		{"whitespace string", "   ", false},
		{"non-empty string", "x", true},
		{"zero int", 0, false},
		{"non-zero int", 40000, true},
		{"zero float", 0.0, false},
		{"non-zero float", 1.5, true},
		{"false", false, false},
		{"true", true, true},
		{"empty any slice", []any{}, false},
		{"non-empty any slice", []any{"doc"}, true},
		{"empty string slice", []string{}, false},
		{"empty map", map[string]any{}, false},
		{"non-empty map", map[string]any{"k": 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truthy(tt.input))
		})
	}
}

func TestCoerceFloat(t *testing.T) {
	f, ok := CoerceFloat(85000.0)
	assert.True(t, ok)
	assert.Equal(t, 85000.0, f)

	f, ok = CoerceFloat("85,000.00")
	assert.True(t, ok)
	assert.Equal(t, 85000.0, f)

	f, ok = CoerceFloat("$85000")
	assert.True(t, ok)
	assert.Equal(t, 85000.0, f)

	_, ok = CoerceFloat("no income")
	assert.False(t, ok)

	_, ok = CoerceFloat(nil)
	assert.False(t, ok)

	_, ok = CoerceFloat("")
	assert.False(t, ok)
}
