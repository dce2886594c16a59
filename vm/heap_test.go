package vm

import (
	"testing"
)

func TestHeapAllocGet(t *testing.T) {
	h := NewHeap()
	v := h.AllocString("hello")
	s, ok := h.GetString(v)
	if !ok || s.Val != "hello" {
		t.Fatalf("GetString: ok=%v", ok)
	}
	if h.Live() != 1 {
		t.Errorf("Live() = %d, want 1", h.Live())
	}
	if _, ok := h.GetList(v); ok {
		t.Error("GetList on a string succeeded")
	}
	if _, ok := h.Get(NewInt(3)); ok {
		t.Error("Get on a non-object succeeded")
	}
}

func TestHeapEqual(t *testing.T) {
	h := NewHeap()
	a := h.AllocString("ab")
	b := h.AllocString("ab")
	if !h.Equal(a, b) {
		t.Error("equal strings in distinct slots should compare equal")
	}
	if !h.Equal(NewInt(2), NewFloat(2)) {
		t.Error("2 and 2.0 should compare equal")
	}
	if h.Equal(NewInt(1), h.AllocString("1")) {
		t.Error("int and string should not compare equal")
	}
}

func TestCollectFreesGarbage(t *testing.T) {
	h := NewHeap()
	root := h.AllocString("keep")
	h.AllocString("drop1")
	h.AllocString("drop2")

	freed := h.Collect(func(visit func(Value)) { visit(root) })
	if freed != 2 {
		t.Errorf("freed %d objects, want 2", freed)
	}
	if h.Live() != 1 {
		t.Errorf("Live() = %d after collect, want 1", h.Live())
	}
	if _, ok := h.GetString(root); !ok {
		t.Error("rooted object was reclaimed")
	}
}

func TestCollectTracesReferences(t *testing.T) {
	h := NewHeap()
	inner := h.AllocString("inner")
	list := h.AllocList([]Value{inner})
	cell := h.AllocCell(list)

	h.Collect(func(visit func(Value)) { visit(cell) })
	if _, ok := h.GetString(inner); !ok {
		t.Error("object reachable through cell and list was reclaimed")
	}
}

func TestStaleHandleAfterCollect(t *testing.T) {
	h := NewHeap()
	dead := h.AllocString("dead")
	h.Collect(func(visit func(Value)) {})

	if _, ok := h.Get(dead); ok {
		t.Fatal("stale handle still resolved after its slot was freed")
	}

	// The freed slot is reused at a new generation, so the old handle
	// stays dead.
	reborn := h.AllocString("reborn")
	if reborn.AsHandle().Index != dead.AsHandle().Index {
		t.Fatal("free slot was not reused")
	}
	if reborn.AsHandle().Gen == dead.AsHandle().Gen {
		t.Error("reused slot kept its old generation")
	}
	if _, ok := h.Get(dead); ok {
		t.Error("stale handle resolved a reused slot")
	}
}

func TestCollectIdempotent(t *testing.T) {
	h := NewHeap()
	root := h.AllocList(nil)
	roots := func(visit func(Value)) { visit(root) }

	h.Collect(roots)
	if freed := h.Collect(roots); freed != 0 {
		t.Errorf("second collect freed %d objects, want 0", freed)
	}
}

func TestCollectHandlesCycles(t *testing.T) {
	h := NewHeap()
	a := h.AllocList(nil)
	b := h.AllocList([]Value{a})
	la, _ := h.GetList(a)
	la.Items = append(la.Items, b)

	// Rooted cycle survives.
	h.Collect(func(visit func(Value)) { visit(a) })
	if h.Live() != 2 {
		t.Fatalf("Live() = %d, want 2", h.Live())
	}

	// Unrooted cycle is reclaimed whole.
	if freed := h.Collect(func(visit func(Value)) {}); freed != 2 {
		t.Errorf("freed %d objects, want 2", freed)
	}
}

func TestShouldCollectThreshold(t *testing.T) {
	h := NewHeap()
	if h.ShouldCollect() {
		t.Fatal("fresh heap should not want a collection")
	}
	for i := 0; i < gcInitialThreshold; i++ {
		h.AllocString("x")
	}
	if !h.ShouldCollect() {
		t.Error("heap past the allocation threshold should want a collection")
	}
	h.Collect(func(visit func(Value)) {})
	if h.ShouldCollect() {
		t.Error("collection should reset the allocation counter")
	}
}

func TestRender(t *testing.T) {
	h := NewHeap()
	inner := h.AllocList([]Value{NewInt(1), h.AllocString("a")})
	d := h.AllocDict()
	dict, _ := h.GetDict(d)
	key, _ := h.makeDictKey(h.AllocString("k"))
	dict.set(key, h.AllocString("k"), inner)

	tests := []struct {
		v    Value
		want string
	}{
		{NewInt(7), "7"},
		{None, "none"},
		{h.AllocString("hi"), "hi"},
		{inner, `[1, "a"]`},
		{d, `{"k": [1, "a"]}`},
	}
	for _, tc := range tests {
		if got := h.Render(tc.v); got != tc.want {
			t.Errorf("Render = %q, want %q", got, tc.want)
		}
	}
}

func TestRenderSelfReference(t *testing.T) {
	h := NewHeap()
	v := h.AllocList(nil)
	list, _ := h.GetList(v)
	list.Items = append(list.Items, v)

	got := h.Render(v)
	if got != "[...]" {
		t.Errorf("Render(self-referencing list) = %q", got)
	}
}
