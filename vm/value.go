package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Value: NaN-boxed tagged values
// ---------------------------------------------------------------------------

// Value is a NaN-boxed 64-bit value. Every float64 whose bits do not
// form a quiet NaN is itself the float. Quiet NaNs carry a 3-bit tag
// and a 48-bit payload:
//
//	Float:  any non-quiet-NaN bit pattern (canonical NaN included, tag 0)
//	Int:    tag 1, payload = 48-bit signed integer
//	Special: tag 2, payload selects none/false/true
//	Object: tag 3, payload = heap slot index (32 bits) + generation (16 bits)
//
// Strings, lists, dicts, closures, classes, instances, bound methods,
// native functions and tasks all live on the heap and are referenced
// through Object values.
type Value uint64

const (
	qnanBits    = 0x7FF8000000000000
	tagMask     = 0x0007000000000000
	payloadMask = 0x0000FFFFFFFFFFFF

	tagInt     = 0x0001000000000000
	tagSpecial = 0x0002000000000000
	tagObject  = 0x0003000000000000

	specialNone  = 0
	specialFalse = 1
	specialTrue  = 2
)

// Singleton values.
const (
	None  Value = qnanBits | tagSpecial | specialNone
	False Value = qnanBits | tagSpecial | specialFalse
	True  Value = qnanBits | tagSpecial | specialTrue
)

// SmallInt bounds: integers outside this range are represented as
// floats.
const (
	MinSmallInt = -(1 << 47)
	MaxSmallInt = (1 << 47) - 1
)

// FitsSmallInt reports whether i can be boxed as an Int value.
func FitsSmallInt(i int64) bool {
	return i >= MinSmallInt && i <= MaxSmallInt
}

// NewInt boxes a small integer. The caller must check FitsSmallInt.
func NewInt(i int64) Value {
	return Value(qnanBits | tagInt | (uint64(i) & payloadMask))
}

// NewFloat boxes a float. NaN inputs are canonicalized so they cannot
// alias a tagged value.
func NewFloat(f float64) Value {
	if math.IsNaN(f) {
		return Value(qnanBits)
	}
	return Value(math.Float64bits(f))
}

// NewBool boxes a bool.
func NewBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Handle identifies a heap slot. The generation detects stale handles
// after a slot has been reused.
type Handle struct {
	Index uint32
	Gen   uint16
}

// NewObject boxes a heap handle.
func NewObject(h Handle) Value {
	return Value(qnanBits | tagObject | uint64(h.Index) | uint64(h.Gen)<<32)
}

func (v Value) isBoxed() bool {
	return uint64(v)&qnanBits == qnanBits && uint64(v)&tagMask != 0
}

// IsFloat reports whether v is a float.
func (v Value) IsFloat() bool {
	return !v.isBoxed()
}

// IsInt reports whether v is an integer.
func (v Value) IsInt() bool {
	return uint64(v)&(qnanBits|tagMask) == qnanBits|tagInt
}

// IsNumber reports whether v is an int or a float.
func (v Value) IsNumber() bool {
	return v.IsInt() || v.IsFloat()
}

// IsObject reports whether v references the heap.
func (v Value) IsObject() bool {
	return uint64(v)&(qnanBits|tagMask) == qnanBits|tagObject
}

// IsNone reports whether v is the none value.
func (v Value) IsNone() bool {
	return v == None
}

// IsBool reports whether v is true or false.
func (v Value) IsBool() bool {
	return v == True || v == False
}

// AsInt unboxes an integer, sign-extending the 48-bit payload.
func (v Value) AsInt() int64 {
	return int64(uint64(v)<<16) >> 16
}

// AsFloat unboxes a float.
func (v Value) AsFloat() float64 {
	return math.Float64frombits(uint64(v))
}

// AsNumber returns the value as a float64, converting ints.
func (v Value) AsNumber() float64 {
	if v.IsInt() {
		return float64(v.AsInt())
	}
	return v.AsFloat()
}

// AsBool unboxes a bool.
func (v Value) AsBool() bool {
	return v == True
}

// AsHandle unboxes a heap handle.
func (v Value) AsHandle() Handle {
	return Handle{
		Index: uint32(uint64(v) & 0xFFFFFFFF),
		Gen:   uint16(uint64(v) >> 32),
	}
}

// IsTruthy reports the truthiness of v: false and none are falsy,
// everything else is truthy.
func (v Value) IsTruthy() bool {
	return v != False && v != None
}

// String renders primitive values; object values render as a handle
// since the heap is not reachable from here. Use Heap.Render for a
// full rendering.
func (v Value) String() string {
	switch {
	case v.IsNone():
		return "none"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v.IsInt():
		return fmt.Sprintf("%d", v.AsInt())
	case v.IsFloat():
		return formatFloat(v.AsFloat())
	default:
		h := v.AsHandle()
		return fmt.Sprintf("<object %d:%d>", h.Index, h.Gen)
	}
}

// formatFloat renders a float with a trailing ".0" when it would
// otherwise print as an integer.
func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsNaN(f) {
		return "nan"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%.1f", f)
	}
	return fmt.Sprintf("%g", f)
}
