package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Heap: Arena of object slots with generation handles
// ---------------------------------------------------------------------------

// heapSlot holds one object together with its current generation. A
// slot's generation is bumped every time the slot is reused, so stale
// handles from a previous occupant never resolve.
type heapSlot struct {
	obj    Object
	gen    uint16
	marked bool
}

// Heap owns all script-visible objects. Values reference objects by
// slot index and generation rather than by pointer.
type Heap struct {
	slots []heapSlot
	free  []uint32

	liveCount     int
	allocsSinceGC int
	threshold     int
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{threshold: gcInitialThreshold}
}

// Alloc places an object on the heap and returns its value.
func (h *Heap) Alloc(obj Object) Value {
	h.allocsSinceGC++
	h.liveCount++

	if n := len(h.free); n > 0 {
		idx := h.free[n-1]
		h.free = h.free[:n-1]
		slot := &h.slots[idx]
		slot.obj = obj
		return NewObject(Handle{Index: idx, Gen: slot.gen})
	}

	idx := uint32(len(h.slots))
	h.slots = append(h.slots, heapSlot{obj: obj})
	return NewObject(Handle{Index: idx, Gen: 0})
}

// Get resolves an object value. Returns false for non-object values
// and stale handles.
func (h *Heap) Get(v Value) (Object, bool) {
	if !v.IsObject() {
		return nil, false
	}
	hd := v.AsHandle()
	if int(hd.Index) >= len(h.slots) {
		return nil, false
	}
	slot := &h.slots[hd.Index]
	if slot.gen != hd.Gen || slot.obj == nil {
		return nil, false
	}
	return slot.obj, true
}

// Live returns the number of live objects.
func (h *Heap) Live() int {
	return h.liveCount
}

// ---------------------------------------------------------------------------
// Typed accessors
// ---------------------------------------------------------------------------

// GetString resolves v as a string object.
func (h *Heap) GetString(v Value) (*StringObject, bool) {
	if obj, ok := h.Get(v); ok {
		if s, ok := obj.(*StringObject); ok {
			return s, true
		}
	}
	return nil, false
}

// GetList resolves v as a list object.
func (h *Heap) GetList(v Value) (*ListObject, bool) {
	if obj, ok := h.Get(v); ok {
		if l, ok := obj.(*ListObject); ok {
			return l, true
		}
	}
	return nil, false
}

// GetDict resolves v as a dict object.
func (h *Heap) GetDict(v Value) (*DictObject, bool) {
	if obj, ok := h.Get(v); ok {
		if d, ok := obj.(*DictObject); ok {
			return d, true
		}
	}
	return nil, false
}

// GetCell resolves v as a cell object.
func (h *Heap) GetCell(v Value) (*CellObject, bool) {
	if obj, ok := h.Get(v); ok {
		if c, ok := obj.(*CellObject); ok {
			return c, true
		}
	}
	return nil, false
}

// GetClosure resolves v as a closure object.
func (h *Heap) GetClosure(v Value) (*ClosureObject, bool) {
	if obj, ok := h.Get(v); ok {
		if c, ok := obj.(*ClosureObject); ok {
			return c, true
		}
	}
	return nil, false
}

// GetClass resolves v as a class object.
func (h *Heap) GetClass(v Value) (*ClassObject, bool) {
	if obj, ok := h.Get(v); ok {
		if c, ok := obj.(*ClassObject); ok {
			return c, true
		}
	}
	return nil, false
}

// GetInstance resolves v as an instance object.
func (h *Heap) GetInstance(v Value) (*InstanceObject, bool) {
	if obj, ok := h.Get(v); ok {
		if i, ok := obj.(*InstanceObject); ok {
			return i, true
		}
	}
	return nil, false
}

// GetBoundMethod resolves v as a bound method object.
func (h *Heap) GetBoundMethod(v Value) (*BoundMethodObject, bool) {
	if obj, ok := h.Get(v); ok {
		if b, ok := obj.(*BoundMethodObject); ok {
			return b, true
		}
	}
	return nil, false
}

// GetNative resolves v as a native function object.
func (h *Heap) GetNative(v Value) (*NativeObject, bool) {
	if obj, ok := h.Get(v); ok {
		if n, ok := obj.(*NativeObject); ok {
			return n, true
		}
	}
	return nil, false
}

// GetIterator resolves v as an iterator object.
func (h *Heap) GetIterator(v Value) (*IteratorObject, bool) {
	if obj, ok := h.Get(v); ok {
		if i, ok := obj.(*IteratorObject); ok {
			return i, true
		}
	}
	return nil, false
}

// GetRange resolves v as a range object.
func (h *Heap) GetRange(v Value) (*RangeObject, bool) {
	if obj, ok := h.Get(v); ok {
		if r, ok := obj.(*RangeObject); ok {
			return r, true
		}
	}
	return nil, false
}

// GetTask resolves v as a task object.
func (h *Heap) GetTask(v Value) (*TaskObject, bool) {
	if obj, ok := h.Get(v); ok {
		if t, ok := obj.(*TaskObject); ok {
			return t, true
		}
	}
	return nil, false
}

// GetError resolves v as an error object.
func (h *Heap) GetError(v Value) (*ErrorObject, bool) {
	if obj, ok := h.Get(v); ok {
		if e, ok := obj.(*ErrorObject); ok {
			return e, true
		}
	}
	return nil, false
}

// ---------------------------------------------------------------------------
// Allocation helpers
// ---------------------------------------------------------------------------

// AllocString allocates a string value.
func (h *Heap) AllocString(s string) Value {
	return h.Alloc(&StringObject{Val: s})
}

// AllocList allocates a list value over the given items.
func (h *Heap) AllocList(items []Value) Value {
	return h.Alloc(&ListObject{Items: items})
}

// AllocDict allocates an empty dict value.
func (h *Heap) AllocDict() Value {
	return h.Alloc(NewDictObject())
}

// AllocCell allocates a cell holding v.
func (h *Heap) AllocCell(v Value) Value {
	return h.Alloc(&CellObject{Val: v})
}

// ---------------------------------------------------------------------------
// Type names and equality
// ---------------------------------------------------------------------------

// TypeName returns the script-visible type name of a value.
func (h *Heap) TypeName(v Value) string {
	switch {
	case v.IsNone():
		return "none"
	case v.IsBool():
		return "bool"
	case v.IsInt():
		return "int"
	case v.IsFloat():
		return "float"
	}
	if obj, ok := h.Get(v); ok {
		if inst, ok := obj.(*InstanceObject); ok {
			if cls, ok := h.GetClass(inst.Class); ok {
				return cls.Name
			}
		}
		return obj.Kind().String()
	}
	return "invalid"
}

// Equal compares two values. Numbers compare across int/float;
// strings compare by content; all other objects compare by identity.
func (h *Heap) Equal(a, b Value) bool {
	if a == b {
		return true
	}
	if a.IsNumber() && b.IsNumber() {
		return a.AsNumber() == b.AsNumber()
	}
	if sa, ok := h.GetString(a); ok {
		if sb, ok := h.GetString(b); ok {
			return sa.Val == sb.Val
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// Render produces the script-visible textual form of a value, as used
// by print and the str builtin. Strings render bare at the top level
// and quoted inside containers. Cycles render as "...".
func (h *Heap) Render(v Value) string {
	return h.render(v, false, make(map[Handle]bool))
}

func (h *Heap) render(v Value, nested bool, seen map[Handle]bool) string {
	if !v.IsObject() {
		return v.String()
	}

	hd := v.AsHandle()
	if seen[hd] {
		return "..."
	}

	obj, ok := h.Get(v)
	if !ok {
		return "<invalid>"
	}

	switch o := obj.(type) {
	case *StringObject:
		if nested {
			return fmt.Sprintf("%q", o.Val)
		}
		return o.Val

	case *ListObject:
		seen[hd] = true
		defer delete(seen, hd)
		var sb strings.Builder
		sb.WriteByte('[')
		for i, item := range o.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(h.render(item, true, seen))
		}
		sb.WriteByte(']')
		return sb.String()

	case *DictObject:
		seen[hd] = true
		defer delete(seen, hd)
		var sb strings.Builder
		sb.WriteByte('{')
		for i, e := range o.entries {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(h.render(e.Key, true, seen))
			sb.WriteString(": ")
			sb.WriteString(h.render(e.Val, true, seen))
		}
		sb.WriteByte('}')
		return sb.String()

	case *ClosureObject:
		return fmt.Sprintf("<fn %s>", o.Proto.Name)

	case *ClassObject:
		return fmt.Sprintf("<class %s>", o.Name)

	case *InstanceObject:
		if cls, ok := h.GetClass(o.Class); ok {
			return fmt.Sprintf("<%s instance>", cls.Name)
		}
		return "<instance>"

	case *BoundMethodObject:
		return fmt.Sprintf("<bound %s>", h.render(o.Method, false, seen))

	case *NativeObject:
		return fmt.Sprintf("<native %s>", o.Name)

	case *TaskObject:
		return fmt.Sprintf("<task %s>", o.State)

	case *RangeObject:
		if o.Step == 1 {
			return fmt.Sprintf("range(%d, %d)", o.Start, o.Stop)
		}
		return fmt.Sprintf("range(%d, %d, %d)", o.Start, o.Stop, o.Step)

	case *IteratorObject:
		return "<iterator>"

	case *CellObject:
		return h.render(o.Val, nested, seen)

	case *ErrorObject:
		return o.Err.Msg

	default:
		return fmt.Sprintf("<%s>", obj.Kind())
	}
}
