package compiler

import (
	"testing"
)

func resolveSource(t *testing.T, source string) *Module {
	t.Helper()
	mod, err := Parse(source)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := Resolve(mod); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return mod
}

func TestResolveModuleAssignIsGlobal(t *testing.T) {
	mod := resolveSource(t, "x = 1\ny = x\n")
	assign := mod.Body[0].(*Assign)
	target := assign.Target.(*Identifier)
	if target.Bind.Kind != BindGlobal {
		t.Errorf("module-level target binds %v, want global", target.Bind.Kind)
	}
	use := mod.Body[1].(*Assign).Value.(*Identifier)
	if use.Bind.Kind != BindGlobal {
		t.Errorf("module-level read binds %v, want global", use.Bind.Kind)
	}
	if len(mod.Scope.Locals) != 0 {
		t.Errorf("module scope has %d locals, want 0", len(mod.Scope.Locals))
	}
}

func TestResolveFunctionLocals(t *testing.T) {
	source := `fn f(a, b):
    c = a + b
    return c
`
	mod := resolveSource(t, source)
	fn := mod.Body[0].(*FunctionDef)
	// Parameters occupy the first slots.
	if len(fn.Scope.Locals) != 3 {
		t.Fatalf("locals = %v, want [a b c]", fn.Scope.Locals)
	}
	if fn.Scope.Locals[0] != "a" || fn.Scope.Locals[1] != "b" {
		t.Errorf("param slots = %v, want a then b", fn.Scope.Locals[:2])
	}

	assign := fn.Body[0].(*Assign)
	c := assign.Target.(*Identifier)
	if c.Bind.Kind != BindLocal || c.Bind.Slot != 2 {
		t.Errorf("c binds %v slot %d, want local slot 2", c.Bind.Kind, c.Bind.Slot)
	}
}

func TestResolveFunctionLevelScoping(t *testing.T) {
	// A name assigned anywhere in the body is a local for the whole
	// function, even before its first assignment.
	source := `fn f():
    y = x
    x = 1
    return y
`
	mod := resolveSource(t, source)
	fn := mod.Body[0].(*FunctionDef)
	use := fn.Body[0].(*Assign).Value.(*Identifier)
	if use.Bind.Kind != BindLocal {
		t.Errorf("x binds %v, want local (function-level scoping)", use.Bind.Kind)
	}
}

func TestResolveUpvalue(t *testing.T) {
	source := `fn outer():
    count = 41
    fn inner():
        return count + 1
    return inner
`
	mod := resolveSource(t, source)
	outer := mod.Body[0].(*FunctionDef)
	inner := outer.Body[1].(*FunctionDef)

	if len(inner.Scope.Upvalues) != 1 {
		t.Fatalf("inner upvalues = %d, want 1", len(inner.Scope.Upvalues))
	}
	uv := inner.Scope.Upvalues[0]
	if !uv.InParent || uv.Name != "count" {
		t.Errorf("upvalue = %+v, want InParent count", uv)
	}
	// The captured slot is marked in the defining scope.
	countSlot := 0
	if !outer.Scope.Captured[countSlot] {
		t.Errorf("outer slot %d not marked captured", countSlot)
	}

	ret := inner.Body[0].(*Return)
	add := ret.Value.(*BinaryOp)
	use := add.Left.(*Identifier)
	if use.Bind.Kind != BindUpvalue {
		t.Errorf("count binds %v, want upvalue", use.Bind.Kind)
	}
}

func TestResolveAssignToEnclosingLocal(t *testing.T) {
	// Writing a name bound in an enclosing function goes through the
	// capture; it must not shadow the outer local with a fresh one.
	source := `fn outer():
    count = 0
    fn bump():
        count = count + 1
        return count
    return bump
`
	mod := resolveSource(t, source)
	outer := mod.Body[0].(*FunctionDef)
	bump := outer.Body[1].(*FunctionDef)

	for _, name := range bump.Scope.Locals {
		if name == "count" {
			t.Fatalf("bump locals = %v; count must not be redeclared", bump.Scope.Locals)
		}
	}
	assign := bump.Body[0].(*Assign)
	target := assign.Target.(*Identifier)
	if target.Bind.Kind != BindUpvalue {
		t.Errorf("assignment target binds %v, want upvalue", target.Bind.Kind)
	}
	use := assign.Value.(*BinaryOp).Left.(*Identifier)
	if use.Bind.Kind != BindUpvalue {
		t.Errorf("read binds %v, want upvalue", use.Bind.Kind)
	}
	if !outer.Scope.Captured[0] {
		t.Error("outer's count slot not marked captured")
	}
}

func TestResolveParamShadowsEnclosingLocal(t *testing.T) {
	// A parameter of the same name is a genuine local; assignments to
	// it stay inside the inner function.
	source := `fn outer():
    x = 1
    fn inner(x):
        x = x + 1
        return x
    return inner
`
	mod := resolveSource(t, source)
	outer := mod.Body[0].(*FunctionDef)
	inner := outer.Body[1].(*FunctionDef)
	assign := inner.Body[0].(*Assign)
	target := assign.Target.(*Identifier)
	if target.Bind.Kind != BindLocal || target.Bind.Slot != 0 {
		t.Errorf("x binds %v slot %d, want local slot 0", target.Bind.Kind, target.Bind.Slot)
	}
	if len(inner.Scope.Upvalues) != 0 {
		t.Errorf("inner upvalues = %+v, want none", inner.Scope.Upvalues)
	}
}

func TestResolveUpvalueThreading(t *testing.T) {
	// The middle function never mentions x but must still thread it.
	source := `fn a():
    x = 1
    fn b():
        fn c():
            return x
        return c
    return b
`
	mod := resolveSource(t, source)
	a := mod.Body[0].(*FunctionDef)
	b := a.Body[1].(*FunctionDef)
	c := b.Body[0].(*FunctionDef)

	if len(b.Scope.Upvalues) != 1 {
		t.Fatalf("b upvalues = %d, want 1 (threaded)", len(b.Scope.Upvalues))
	}
	if !b.Scope.Upvalues[0].InParent {
		t.Error("b's upvalue should capture a's local")
	}
	if len(c.Scope.Upvalues) != 1 {
		t.Fatalf("c upvalues = %d, want 1", len(c.Scope.Upvalues))
	}
	if c.Scope.Upvalues[0].InParent {
		t.Error("c's upvalue should reference b's upvalue, not a local")
	}
}

func TestResolveForVarAndExceptName(t *testing.T) {
	source := `fn f(items):
    total = 0
    for x in items:
        total = total + x
    try:
        g()
    except e:
        total = e
    return total
`
	mod := resolveSource(t, source)
	fn := mod.Body[0].(*FunctionDef)
	forStmt := fn.Body[1].(*For)
	if forStmt.Var.Bind.Kind != BindLocal {
		t.Errorf("for var binds %v, want local", forStmt.Var.Bind.Kind)
	}
	tryStmt := fn.Body[2].(*Try)
	if tryStmt.ErrBind.Kind != BindLocal {
		t.Errorf("except name binds %v, want local", tryStmt.ErrBind.Kind)
	}
}

func TestResolveClassBase(t *testing.T) {
	source := `class Animal:
    pass

class Dog(Animal):
    pass
`
	mod := resolveSource(t, source)
	dog := mod.Body[1].(*ClassDef)
	if dog.Base.Bind.Kind != BindGlobal {
		t.Errorf("base binds %v, want global", dog.Base.Bind.Kind)
	}
}

func TestResolveMethodsCloseOverEnclosingScope(t *testing.T) {
	source := `fn make():
    secret = 42
    class Holder:
        fn get(self):
            return secret
    return Holder
`
	mod := resolveSource(t, source)
	make := mod.Body[0].(*FunctionDef)
	holder := make.Body[1].(*ClassDef)
	get := holder.Methods[0]
	if len(get.Scope.Upvalues) != 1 || get.Scope.Upvalues[0].Name != "secret" {
		t.Fatalf("method upvalues = %+v, want [secret]", get.Scope.Upvalues)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		code   ErrorCode
	}{
		{
			"await outside async",
			"fn f(t):\n    return await t\n",
			ErrAwaitOutsideAsync,
		},
		{
			"await at module level",
			"x = await t\n",
			ErrAwaitOutsideAsync,
		},
		{
			"duplicate param",
			"fn f(a, a):\n    return a\n",
			ErrDuplicateParam,
		},
		{
			"unknown base",
			"class Dog(Missing):\n    pass\n",
			ErrUnknownBase,
		},
		{
			"self inheritance",
			"class Loop(Loop):\n    pass\n",
			ErrInheritanceCycle,
		},
	}
	for _, tc := range tests {
		mod, err := Parse(tc.source)
		if err != nil {
			t.Fatalf("%s: Parse: %v", tc.name, err)
		}
		rerr := Resolve(mod)
		if rerr == nil {
			t.Errorf("%s: expected resolve error, got none", tc.name)
			continue
		}
		if rerr.Code != tc.code {
			t.Errorf("%s: code = %v, want %v", tc.name, rerr.Code, tc.code)
		}
		if rerr.Phase != PhaseResolve {
			t.Errorf("%s: phase = %v, want resolve", tc.name, rerr.Phase)
		}
	}
}

func TestResolveBaseAssignedAtTopLevel(t *testing.T) {
	// A base bound by a module-level assignment (a host class, say)
	// is accepted even without a visible class declaration.
	source := `Base = make_base()

class Child(Base):
    pass
`
	mod, err := Parse(source)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := Resolve(mod); err != nil {
		t.Errorf("Resolve: %v, want success", err)
	}
}

func TestResolveAwaitInsideAsync(t *testing.T) {
	source := `async fn f(t):
    return await t
`
	mod, err := Parse(source)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := Resolve(mod); err != nil {
		t.Errorf("Resolve: %v, want success", err)
	}
}
