// Package sizing estimates payload sizes cheaply and decides whether a payload
// is large enough to justify a pooled buffer.
//
// Estimates are shape heuristics, not serialized sizes. Sequences are banded
// by element count and maps by field count, so every estimate is O(1).
package sizing

import (
	"reflect"

	gojson "github.com/goccy/go-json"
)

// Fixed estimates in bytes.
const (
	NullSize          = 4
	BoolSize          = 5
	NumberSize        = 8
	ItemOverhead      = 8
	EmptySequenceSize = 2
	MapBaseSize       = 16
	FieldOverhead     = 32
	OtherSize         = 16

	SmallSequenceSize  = 128
	MediumSequenceSize = 1024
	LargeSequenceSize  = 8192
	XLargeSequenceSize = 65536
)

// maxIndirections bounds pointer chasing for self-referential values.
const maxIndirections = 8

// SizeClass is a coarse size classification.
type SizeClass int

const (
	ClassTiny SizeClass = iota
	ClassSmall
	ClassMedium
	ClassLarge
	ClassXLarge
)

func (c SizeClass) String() string {
	switch c {
	case ClassTiny:
		return "tiny"
	case ClassSmall:
		return "small"
	case ClassMedium:
		return "medium"
	case ClassLarge:
		return "large"
	case ClassXLarge:
		return "xlarge"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c SizeClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Estimate returns a byte-size estimate for v without serializing it.
func Estimate(v any) uint64 {
	switch x := v.(type) {
	case nil:
		return NullSize
	case bool:
		return BoolSize
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, uintptr,
		float32, float64, gojson.Number:
		return NumberSize
	case string:
		return uint64(len(x)) + ItemOverhead
	case []byte:
		return uint64(len(x)) + ItemOverhead
	case gojson.RawMessage:
		return uint64(len(x)) + ItemOverhead
	case []any:
		return SequenceSize(len(x))
	case map[string]any:
		return MapSize(len(x))
	}
	return estimateValue(reflect.ValueOf(v))
}

// Classify maps the estimate of v to a SizeClass.
func Classify(v any) SizeClass {
	return ClassOf(Estimate(v))
}

// ClassOf maps a byte estimate to a SizeClass.
func ClassOf(n uint64) SizeClass {
	switch {
	case n < SmallSequenceSize:
		return ClassTiny
	case n < MediumSequenceSize:
		return ClassSmall
	case n < LargeSequenceSize:
		return ClassMedium
	case n < XLargeSequenceSize:
		return ClassLarge
	default:
		return ClassXLarge
	}
}

// SequenceSize is the banded estimate for a sequence of n elements.
func SequenceSize(n int) uint64 {
	switch {
	case n == 0:
		return EmptySequenceSize
	case n < 10:
		return SmallSequenceSize
	case n < 100:
		return MediumSequenceSize
	case n < 1000:
		return LargeSequenceSize
	default:
		return XLargeSequenceSize
	}
}

// MapSize is the estimate for a keyed map or struct with n fields.
func MapSize(n int) uint64 {
	return MapBaseSize + FieldOverhead*uint64(n)
}

func estimateValue(rv reflect.Value) uint64 {
	rv, ok := indirect(rv)
	if !ok {
		return NullSize
	}

	switch rv.Kind() {
	case reflect.Bool:
		return BoolSize
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return NumberSize
	case reflect.String:
		return uint64(rv.Len()) + ItemOverhead
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return uint64(rv.Len()) + ItemOverhead
		}
		return SequenceSize(rv.Len())
	case reflect.Array:
		return SequenceSize(rv.Len())
	case reflect.Map:
		return MapSize(rv.Len())
	case reflect.Struct:
		return MapSize(rv.NumField())
	default:
		return OtherSize
	}
}

// indirect follows pointers and interfaces. It reports false for nil.
func indirect(rv reflect.Value) (reflect.Value, bool) {
	for i := 0; i < maxIndirections; i++ {
		if !rv.IsValid() {
			return rv, false
		}
		switch rv.Kind() {
		case reflect.Pointer, reflect.Interface:
			if rv.IsNil() {
				return rv, false
			}
			rv = rv.Elem()
		default:
			return rv, true
		}
	}
	return rv, rv.IsValid()
}
