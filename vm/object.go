package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Heap objects
// ---------------------------------------------------------------------------

// ObjectKind tags a heap object's concrete type.
type ObjectKind int

const (
	KindString ObjectKind = iota
	KindList
	KindDict
	KindCell
	KindClosure
	KindClass
	KindInstance
	KindBoundMethod
	KindNative
	KindTask
	KindIterator
	KindRange
	KindError
)

var kindNames = map[ObjectKind]string{
	KindString:      "string",
	KindList:        "list",
	KindDict:        "dict",
	KindCell:        "cell",
	KindClosure:     "function",
	KindClass:       "class",
	KindInstance:    "instance",
	KindBoundMethod: "method",
	KindNative:      "native function",
	KindTask:        "task",
	KindIterator:    "iterator",
	KindRange:       "range",
	KindError:       "error",
}

func (k ObjectKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ObjectKind(%d)", int(k))
}

// Object is the interface implemented by all heap objects. Trace calls
// visit for every Value the object references; the collector uses it
// to walk the object graph.
type Object interface {
	Kind() ObjectKind
	Trace(visit func(Value))
}

// ---------------------------------------------------------------------------
// Primitive containers
// ---------------------------------------------------------------------------

// StringObject is an immutable string.
type StringObject struct {
	Val string
}

func (o *StringObject) Kind() ObjectKind         { return KindString }
func (o *StringObject) Trace(visit func(Value)) {}

// ListObject is a mutable ordered sequence.
type ListObject struct {
	Items []Value
}

func (o *ListObject) Kind() ObjectKind { return KindList }
func (o *ListObject) Trace(visit func(Value)) {
	for _, v := range o.Items {
		visit(v)
	}
}

// dictKey is the hashable form of a dict key. Only none, bools, ints,
// floats and strings are hashable.
type dictKey struct {
	kind byte // 0 none, 1 bool, 2 number, 3 string
	num  uint64
	str  string
}

// dictEntry pairs the original key value with the stored value, so
// iteration can yield keys in their source representation.
type dictEntry struct {
	Key Value
	Val Value
}

// DictObject is a mutable mapping with insertion-ordered iteration.
// Entries are never removed (the language has no delete operation), so
// the index into entries stays stable.
type DictObject struct {
	entries []dictEntry
	index   map[dictKey]int
}

// NewDictObject creates an empty dict.
func NewDictObject() *DictObject {
	return &DictObject{index: make(map[dictKey]int)}
}

func (o *DictObject) Kind() ObjectKind { return KindDict }
func (o *DictObject) Trace(visit func(Value)) {
	for _, e := range o.entries {
		visit(e.Key)
		visit(e.Val)
	}
}

// Len returns the number of entries.
func (o *DictObject) Len() int {
	return len(o.entries)
}

// Entries exposes the ordered entries for iteration.
func (o *DictObject) Entries() []dictEntry {
	return o.entries
}

// get looks a key up, returning ok=false when absent.
func (o *DictObject) get(key dictKey) (Value, bool) {
	if idx, ok := o.index[key]; ok {
		return o.entries[idx].Val, true
	}
	return None, false
}

// set inserts or updates a key.
func (o *DictObject) set(key dictKey, keyVal, val Value) {
	if idx, ok := o.index[key]; ok {
		o.entries[idx].Val = val
		return
	}
	o.index[key] = len(o.entries)
	o.entries = append(o.entries, dictEntry{Key: keyVal, Val: val})
}

// ---------------------------------------------------------------------------
// Cells and closures
// ---------------------------------------------------------------------------

// CellObject is a heap-boxed variable shared between a defining frame
// and the closures capturing it.
type CellObject struct {
	Val Value
}

func (o *CellObject) Kind() ObjectKind         { return KindCell }
func (o *CellObject) Trace(visit func(Value)) { visit(o.Val) }

// ClosureObject is a function prototype bound to its captured cells.
// Each entry of Upvals is a cell value.
type ClosureObject struct {
	Proto  *Function
	Upvals []Value
}

func (o *ClosureObject) Kind() ObjectKind { return KindClosure }
func (o *ClosureObject) Trace(visit func(Value)) {
	for _, v := range o.Upvals {
		visit(v)
	}
}

// ---------------------------------------------------------------------------
// Classes and instances
// ---------------------------------------------------------------------------

// ClassObject is a runtime class: a name, an optional parent class
// value, and the methods the class itself declares. Inherited methods
// are found by walking the parent chain at dispatch time.
type ClassObject struct {
	Name    string
	Parent  Value // None or a class value
	Methods map[string]Value
}

func (o *ClassObject) Kind() ObjectKind { return KindClass }
func (o *ClassObject) Trace(visit func(Value)) {
	visit(o.Parent)
	for _, v := range o.Methods {
		visit(v)
	}
}

// InstanceObject is an instance of a class with its own field table.
type InstanceObject struct {
	Class  Value
	Fields map[string]Value
}

func (o *InstanceObject) Kind() ObjectKind { return KindInstance }
func (o *InstanceObject) Trace(visit func(Value)) {
	visit(o.Class)
	for _, v := range o.Fields {
		visit(v)
	}
}

// BoundMethodObject pairs a receiver with a method closure.
type BoundMethodObject struct {
	Receiver Value
	Method   Value
}

func (o *BoundMethodObject) Kind() ObjectKind { return KindBoundMethod }
func (o *BoundMethodObject) Trace(visit func(Value)) {
	visit(o.Receiver)
	visit(o.Method)
}

// ---------------------------------------------------------------------------
// Native functions
// ---------------------------------------------------------------------------

// NativeFunc is the signature of host-provided functions. Arguments
// are a read-only view of the caller's registers; the context allows
// allocation and pins its results against collection for the duration
// of the call.
type NativeFunc func(ctx *NativeCtx, args []Value) (Value, error)

// NativeObject wraps a host function as a callable value.
type NativeObject struct {
	Name string
	Fn   NativeFunc
}

func (o *NativeObject) Kind() ObjectKind         { return KindNative }
func (o *NativeObject) Trace(visit func(Value)) {}

// ---------------------------------------------------------------------------
// Iteration helpers
// ---------------------------------------------------------------------------

// RangeObject is the iterable produced by the range builtin.
type RangeObject struct {
	Start, Stop, Step int64
}

func (o *RangeObject) Kind() ObjectKind         { return KindRange }
func (o *RangeObject) Trace(visit func(Value)) {}

// Len returns the number of values the range yields.
func (o *RangeObject) Len() int64 {
	if o.Step > 0 {
		if o.Stop <= o.Start {
			return 0
		}
		return (o.Stop - o.Start + o.Step - 1) / o.Step
	}
	if o.Stop >= o.Start {
		return 0
	}
	return (o.Start - o.Stop - o.Step - 1) / -o.Step
}

// IteratorObject is the cursor created by the iter instruction. Source
// is the iterated value (kept alive for the collector); for dicts the
// iterator yields keys in insertion order.
type IteratorObject struct {
	Source Value
	Pos    int64
}

func (o *IteratorObject) Kind() ObjectKind         { return KindIterator }
func (o *IteratorObject) Trace(visit func(Value)) { visit(o.Source) }

// ---------------------------------------------------------------------------
// Errors as values
// ---------------------------------------------------------------------------

// ErrorObject wraps a runtime error raised by the VM so that except
// clauses can bind and inspect it like any other value.
type ErrorObject struct {
	Err *RuntimeError
}

func (o *ErrorObject) Kind() ObjectKind         { return KindError }
func (o *ErrorObject) Trace(visit func(Value)) {}

// ---------------------------------------------------------------------------
// Key hashing
// ---------------------------------------------------------------------------

// makeDictKey converts a value into its hashable form. Heap objects
// other than strings are not hashable. Ints and floats that compare
// equal hash equal.
func (h *Heap) makeDictKey(v Value) (dictKey, bool) {
	switch {
	case v.IsNone():
		return dictKey{kind: 0}, true
	case v.IsBool():
		n := uint64(0)
		if v.AsBool() {
			n = 1
		}
		return dictKey{kind: 1, num: n}, true
	case v.IsInt():
		return dictKey{kind: 2, num: math.Float64bits(float64(v.AsInt()))}, true
	case v.IsFloat():
		return dictKey{kind: 2, num: math.Float64bits(v.AsFloat())}, true
	case v.IsObject():
		if s, ok := h.GetString(v); ok {
			return dictKey{kind: 3, str: s.Val}, true
		}
	}
	return dictKey{}, false
}
