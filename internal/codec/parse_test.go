package codec

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name     string
		data     string
		fallback any
		opts     ParseOptions
		expected any
	}{
		{"matching number", `42`, 0.0, ParseOptions{}, 42.0},
		{"number from string", `"3.5"`, 0.0, ParseOptions{}, 3.5},
		{"number from bool", `true`, 0.0, ParseOptions{}, 1.0},
		{"unsafe number rejected", `9007199254740993`, -1.0, ParseOptions{}, -1.0},
		{"unsafe number allowed", `9007199254740992`, -1.0, ParseOptions{AllowUnsafeIntegers: true}, 9007199254740992.0},
		{"number from object", `{"a":1}`, 5.0, ParseOptions{}, 5.0},
		{"object", `{"a":1}`, map[string]any{}, ParseOptions{}, map[string]any{"a": 1.0}},
		{"array for object fallback", `[1]`, map[string]any{}, ParseOptions{}, []any{1.0}},
		{"string for object fallback", `"x"`, map[string]any{"d": 1.0}, ParseOptions{}, map[string]any{"d": 1.0}},
		{"string fallback accepts anything", `[1,2]`, "", ParseOptions{}, []any{1.0, 2.0}},
		{"invalid json", `hello`, "hello", ParseOptions{}, "hello"},
		{"null fallback", `"v"`, nil, ParseOptions{}, "v"},
		{"boolean", `false`, true, ParseOptions{}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Parse(tc.data, tc.fallback, tc.opts))
		})
	}
}

func TestParse_BigInt(t *testing.T) {
	got := Parse(`"123456789012345678901234567890"`, big.NewInt(0), ParseOptions{AllowBigInt: true})
	n, ok := got.(*big.Int)
	if !ok {
		t.Fatalf("expected *big.Int, got %T", got)
	}
	if n.String() != "123456789012345678901234567890" {
		t.Errorf("unexpected value %s", n)
	}

	fallback := big.NewInt(9)
	if Parse(`"12"`, fallback, ParseOptions{}) != fallback {
		t.Error("expected fallback when big integers are not allowed")
	}
}

func TestParse_FallbackCopy(t *testing.T) {
	fallback := []any{"a"}
	got := Parse(`oops`, fallback, ParseOptions{FallbackMode: FallbackCopy}).([]any)
	got[0] = "b"
	assert.Equal(t, "a", fallback[0])
}
