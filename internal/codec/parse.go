package codec

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ParseOptions configures Parse
type ParseOptions struct {
	AllowBigInt         bool
	AllowUnsafeIntegers bool
	FallbackMode        FallbackMode
}

// Parse decodes JSON text guided by the shape of fallback. When the parsed
// value has the fallback's shape it is returned as is; numbers and big integers
// are coerced from strings; string, boolean and null fallbacks accept any
// parsed value. Anything else, including invalid JSON, yields the fallback.
func Parse(data string, fallback any, opts ParseOptions) any {
	var parsed any
	if err := json.Unmarshal([]byte(data), &parsed); err != nil {
		return copyFallback(fallback, opts.FallbackMode)
	}

	want := TypeOf(fallback)
	got := TypeOf(parsed)

	switch {
	case want == TypeNumber:
		f, ok := coerceNumber(parsed)
		if ok && (opts.AllowUnsafeIntegers || math.Abs(f) <= MaxSafeInteger) {
			return f
		}

	case want == TypeBigInt:
		if opts.AllowBigInt {
			if n, ok := coerceBigInt(parsed); ok {
				return n
			}
		}

	case want == TypeObject || want == TypeArray:
		if got == TypeObject || got == TypeArray {
			return parsed
		}

	case want == got:
		return parsed

	case want == TypeString || want == TypeBoolean || want == TypeNull:
		return parsed
	}

	return copyFallback(fallback, opts.FallbackMode)
}

func coerceNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}

func coerceBigInt(v any) (*big.Int, bool) {
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return nil, false
		}
		n, _ := big.NewFloat(x).Int(nil)
		return n, true
	case string:
		return new(big.Int).SetString(strings.TrimSpace(x), 10)
	default:
		return nil, false
	}
}
