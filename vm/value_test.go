package vm

import (
	"math"
	"testing"
)

func TestIntBoxingRoundTrip(t *testing.T) {
	values := []int64{
		0, 1, -1, 42, -42,
		MaxSmallInt, MinSmallInt,
		1 << 40, -(1 << 40),
	}
	for _, want := range values {
		v := NewInt(want)
		if !v.IsInt() {
			t.Errorf("NewInt(%d): not an int", want)
			continue
		}
		if got := v.AsInt(); got != want {
			t.Errorf("AsInt(NewInt(%d)) = %d", want, got)
		}
		if v.IsFloat() || v.IsObject() || v.IsNone() || v.IsBool() {
			t.Errorf("NewInt(%d): tag overlap", want)
		}
	}
}

func TestFitsSmallInt(t *testing.T) {
	if !FitsSmallInt(MaxSmallInt) || !FitsSmallInt(MinSmallInt) {
		t.Error("range endpoints should fit")
	}
	if FitsSmallInt(MaxSmallInt+1) || FitsSmallInt(MinSmallInt-1) {
		t.Error("values beyond the endpoints should not fit")
	}
}

func TestFloatBoxingRoundTrip(t *testing.T) {
	values := []float64{0, 1.5, -2.25, math.MaxFloat64, math.SmallestNonzeroFloat64, math.Inf(1), math.Inf(-1)}
	for _, want := range values {
		v := NewFloat(want)
		if !v.IsFloat() {
			t.Errorf("NewFloat(%v): not a float", want)
			continue
		}
		if got := v.AsFloat(); got != want {
			t.Errorf("AsFloat(NewFloat(%v)) = %v", want, got)
		}
	}
}

func TestNaNCanonicalized(t *testing.T) {
	v := NewFloat(math.NaN())
	if !v.IsFloat() {
		t.Fatal("NaN must remain a float, not leak into a tag")
	}
	if !math.IsNaN(v.AsFloat()) {
		t.Error("canonical NaN did not round-trip as NaN")
	}
	// A NaN with payload bits that collide with the int tag must be
	// canonicalized away from tagged space.
	evil := math.Float64frombits(qnanBits | tagInt | 99)
	v = NewFloat(evil)
	if v.IsInt() {
		t.Error("payload NaN boxed as an int")
	}
}

func TestSpecialValues(t *testing.T) {
	if !None.IsNone() || None.IsBool() {
		t.Error("None tags wrong")
	}
	if !True.IsBool() || !True.AsBool() {
		t.Error("True tags wrong")
	}
	if !False.IsBool() || False.AsBool() {
		t.Error("False tags wrong")
	}
}

func TestTruthiness(t *testing.T) {
	tests := []struct {
		v    Value
		want bool
	}{
		{None, false},
		{False, false},
		{True, true},
		{NewInt(0), true}, // only none and false are falsy
		{NewFloat(0), true},
		{NewInt(1), true},
	}
	for _, tc := range tests {
		if got := tc.v.IsTruthy(); got != tc.want {
			t.Errorf("IsTruthy(%s) = %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestObjectHandleRoundTrip(t *testing.T) {
	h := Handle{Index: 12345, Gen: 678}
	v := NewObject(h)
	if !v.IsObject() {
		t.Fatal("object value lost its tag")
	}
	if got := v.AsHandle(); got != h {
		t.Errorf("AsHandle = %+v, want %+v", got, h)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		f    float64
		want string
	}{
		{1, "1.0"},
		{2.5, "2.5"},
		{-3, "-3.0"},
		{math.Inf(1), "inf"},
		{math.Inf(-1), "-inf"},
	}
	for _, tc := range tests {
		if got := NewFloat(tc.f).String(); got != tc.want {
			t.Errorf("String(%v) = %q, want %q", tc.f, got, tc.want)
		}
	}
}
