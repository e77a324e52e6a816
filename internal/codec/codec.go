// Package codec converts arbitrary Go values to and from the type-tagged string
// representation stored by every backend.
//
// Encoded values are canonical: numbers pass through float64 and objects are
// written with sorted keys, so decoding a stored string and encoding the result
// again reproduces the stored string byte for byte. Decoding never fails; a
// stored string that cannot be reconstructed as its tag yields the configured
// fallback.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"math/big"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/neogan74/quickkv/internal/kverrors"
	"github.com/neogan74/quickkv/internal/logger"
	"github.com/neogan74/quickkv/internal/metrics"
)

// TypeTag records the shape of the original value
type TypeTag string

const (
	TypeNull    TypeTag = "null"
	TypeBoolean TypeTag = "boolean"
	TypeNumber  TypeTag = "number"
	TypeBigInt  TypeTag = "bigint"
	TypeString  TypeTag = "string"
	TypeArray   TypeTag = "array"
	TypeObject  TypeTag = "object"
)

// MaxSafeInteger is the largest integer a float64 represents exactly
const MaxSafeInteger = 1<<53 - 1

// FallbackMode selects how the fallback value is returned on decode failure
type FallbackMode int

const (
	// FallbackPrimitive returns the fallback value itself
	FallbackPrimitive FallbackMode = iota
	// FallbackCopy returns a shallow copy of a map or slice fallback
	FallbackCopy
)

// Options configures a Codec
type Options struct {
	// DisallowBigInt rejects *big.Int values on encode and bigint tags on decode
	DisallowBigInt bool
	// AllowUnsafeIntegers accepts numbers beyond ±MaxSafeInteger. They are
	// stored through float64 and may lose precision.
	AllowUnsafeIntegers bool
	// Fallback is returned when a stored value cannot be decoded
	Fallback     any
	FallbackMode FallbackMode
	Logger       logger.Logger
}

// Codec encodes and decodes values
type Codec struct {
	opts Options
	log  logger.Logger
}

// New creates a codec
func New(opts Options) *Codec {
	return &Codec{
		opts: opts,
		log:  logger.OrDefault(opts.Logger),
	}
}

// Encode converts v to its stored string and type tag.
// Unsupported shapes return an error matching kverrors.ErrInvalidValue.
func (c *Codec) Encode(v any) (string, TypeTag, error) {
	switch x := v.(type) {
	case nil:
		return "null", TypeNull, nil
	case *big.Int:
		if x == nil {
			return "null", TypeNull, nil
		}
		return c.encodeBigInt(x)
	case big.Int:
		return c.encodeBigInt(&x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return "", "", kverrors.InvalidValue(fmt.Sprintf("malformed number %q", x.String()))
		}
		return c.encodeNumber(f)
	case []byte:
		return c.encodeComposite(x)
	case json.Marshaler:
		return c.encodeComposite(x)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "null", TypeNull, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), TypeBoolean, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if !c.opts.AllowUnsafeIntegers && (n > MaxSafeInteger || n < -MaxSafeInteger) {
			return "", "", kverrors.InvalidValue(fmt.Sprintf("integer %d exceeds the safe integer range", n))
		}
		return c.encodeNumber(float64(n))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := rv.Uint()
		if !c.opts.AllowUnsafeIntegers && n > MaxSafeInteger {
			return "", "", kverrors.InvalidValue(fmt.Sprintf("integer %d exceeds the safe integer range", n))
		}
		return c.encodeNumber(float64(n))
	case reflect.Float32, reflect.Float64:
		return c.encodeNumber(rv.Float())
	case reflect.String:
		b, err := json.Marshal(rv.String())
		if err != nil {
			return "", "", kverrors.InvalidValue(err.Error())
		}
		return string(b), TypeString, nil
	case reflect.Slice:
		if rv.IsNil() {
			return "[]", TypeArray, nil
		}
		return c.encodeComposite(rv.Interface())
	case reflect.Array, reflect.Struct:
		return c.encodeComposite(rv.Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return "", "", kverrors.InvalidValue(fmt.Sprintf("map key type %s is not a string", rv.Type().Key()))
		}
		if rv.IsNil() {
			return "{}", TypeObject, nil
		}
		return c.encodeComposite(rv.Interface())
	default:
		return "", "", kverrors.InvalidValue(fmt.Sprintf("unsupported kind %s", rv.Kind()))
	}
}

func (c *Codec) encodeBigInt(n *big.Int) (string, TypeTag, error) {
	if c.opts.DisallowBigInt {
		return "", "", kverrors.InvalidValue("big integers are disabled")
	}
	return n.String(), TypeBigInt, nil
}

func (c *Codec) encodeNumber(f float64) (string, TypeTag, error) {
	if err := c.checkNumber(f); err != nil {
		return "", "", err
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", "", kverrors.InvalidValue(err.Error())
	}
	return string(b), TypeNumber, nil
}

func (c *Codec) checkNumber(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return kverrors.InvalidValue("NaN and infinite numbers cannot be stored")
	}
	if !c.opts.AllowUnsafeIntegers && math.Abs(f) > MaxSafeInteger {
		return kverrors.InvalidValue(fmt.Sprintf("number %g exceeds the safe integer range", f))
	}
	return nil
}

// encodeComposite marshals v, reparses it into generic JSON values and marshals
// those again, which fixes key order and number formatting.
func (c *Codec) encodeComposite(v any) (string, TypeTag, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", "", kverrors.InvalidValue(err.Error())
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", "", kverrors.InvalidValue(err.Error())
	}

	norm, err := c.normalize(generic)
	if err != nil {
		return "", "", err
	}

	out, err := json.Marshal(norm)
	if err != nil {
		return "", "", kverrors.InvalidValue(err.Error())
	}
	return string(out), TypeOf(norm), nil
}

func (c *Codec) normalize(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, kverrors.InvalidValue(fmt.Sprintf("malformed number %q", x.String()))
		}
		if err := c.checkNumber(f); err != nil {
			return nil, err
		}
		return f, nil
	case []any:
		for i, item := range x {
			n, err := c.normalize(item)
			if err != nil {
				return nil, err
			}
			x[i] = n
		}
		return x, nil
	case map[string]any:
		for k, item := range x {
			n, err := c.normalize(item)
			if err != nil {
				return nil, err
			}
			x[k] = n
		}
		return x, nil
	default:
		return v, nil
	}
}

// Decode reconstructs a value from its stored form. It returns the fallback
// when the stored string does not parse as the tagged shape.
func (c *Codec) Decode(stored string, tag TypeTag) any {
	v, err := c.DecodeStrict(stored, tag)
	if err != nil {
		metrics.CodecFallbacksTotal.WithLabelValues(string(tag)).Inc()
		c.log.Warn("Failed to decode value, using fallback",
			logger.String("type", string(tag)),
			logger.Error(err))
		return c.fallback()
	}
	return v
}

// DecodeStrict is Decode without the fallback. Errors match kverrors.ErrCodec.
func (c *Codec) DecodeStrict(stored string, tag TypeTag) (any, error) {
	data := []byte(stored)

	switch tag {
	case TypeNull:
		if strings.TrimSpace(stored) != "null" {
			return nil, codecErr(tag, "stored value is not null")
		}
		return nil, nil

	case TypeBoolean:
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, codecErr(tag, err.Error())
		}
		return b, nil

	case TypeNumber:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			// Older writers stored numbers as quoted strings
			var s string
			if json.Unmarshal(data, &s) != nil {
				return nil, codecErr(tag, err.Error())
			}
			parsed, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if perr != nil {
				return nil, codecErr(tag, perr.Error())
			}
			f = parsed
		}
		if err := c.checkNumber(f); err != nil {
			return nil, codecErr(tag, err.Error())
		}
		return f, nil

	case TypeBigInt:
		if c.opts.DisallowBigInt {
			return nil, codecErr(tag, "big integers are disabled")
		}
		digits := strings.TrimSpace(stored)
		var quoted string
		if json.Unmarshal(data, &quoted) == nil {
			digits = quoted
		}
		n, ok := new(big.Int).SetString(digits, 10)
		if !ok {
			return nil, codecErr(tag, fmt.Sprintf("%q is not an integer", digits))
		}
		return n, nil

	case TypeString:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, codecErr(tag, err.Error())
		}
		return s, nil

	case TypeArray:
		var a []any
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, codecErr(tag, err.Error())
		}
		if a == nil {
			return nil, codecErr(tag, "stored value is null")
		}
		return a, nil

	case TypeObject:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, codecErr(tag, err.Error())
		}
		if m == nil {
			return nil, codecErr(tag, "stored value is null")
		}
		return m, nil

	default:
		return nil, codecErr(tag, "unknown type tag")
	}
}

func codecErr(tag TypeTag, reason string) error {
	return fmt.Errorf("%w: decode %s: %s", kverrors.ErrCodec, tag, reason)
}

func (c *Codec) fallback() any {
	return copyFallback(c.opts.Fallback, c.opts.FallbackMode)
}

func copyFallback(fallback any, mode FallbackMode) any {
	if mode != FallbackCopy {
		return fallback
	}
	switch f := fallback.(type) {
	case map[string]any:
		return maps.Clone(f)
	case []any:
		return slices.Clone(f)
	default:
		return fallback
	}
}

// TypeOf reports the tag a value is stored under. It returns "" for shapes the
// codec cannot store.
func TypeOf(v any) TypeTag {
	switch v.(type) {
	case nil:
		return TypeNull
	case *big.Int, big.Int:
		return TypeBigInt
	case json.Number:
		return TypeNumber
	case []byte:
		return TypeString
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return TypeNull
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Bool:
		return TypeBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return TypeNumber
	case reflect.String:
		return TypeString
	case reflect.Slice, reflect.Array:
		return TypeArray
	case reflect.Map, reflect.Struct:
		return TypeObject
	default:
		return ""
	}
}
