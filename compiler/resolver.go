package compiler

// ---------------------------------------------------------------------------
// Resolver: Scope analysis and binding annotation
// ---------------------------------------------------------------------------

// Scoping is function-level. A pre-scan collects every name assigned
// anywhere in a function body (including for-loop variables, except
// bindings, and nested fn/class names); those names are locals for the
// whole function, unless the name is already a local of an enclosing
// function, in which case the assignment writes through the capture
// instead of declaring a fresh local. Names that resolve to a local of
// an enclosing function become upvalues, threaded through every
// intermediate function. Everything else is a late-bound global. The
// module top level has no locals: top-level assignments go to the
// global table.

// UpvalDesc describes how a function captures one upvalue.
type UpvalDesc struct {
	InParent bool // capture a parent local (else a parent upvalue)
	Index    int  // local slot or upvalue index in the parent
	Name     string
}

// FuncScope is the resolved scope of one function (or the module).
type FuncScope struct {
	Parent   *FuncScope
	IsModule bool
	IsAsync  bool
	Locals   []string // slot order: parameters first
	Upvalues []UpvalDesc
	Captured map[int]bool // local slots captured by nested functions

	localIdx map[string]int
	upvalIdx map[string]int
	classes  map[string]*ClassDef // lexically visible class declarations
	assigned map[string]bool      // module scope only: names assigned at top level
}

func newFuncScope(parent *FuncScope) *FuncScope {
	return &FuncScope{
		Parent:   parent,
		localIdx: make(map[string]int),
		upvalIdx: make(map[string]int),
		classes:  make(map[string]*ClassDef),
		assigned: make(map[string]bool),
		Captured: make(map[int]bool),
	}
}

// declareLocal registers a name as a local, returning its slot.
func (s *FuncScope) declareLocal(name string) int {
	if idx, ok := s.localIdx[name]; ok {
		return idx
	}
	idx := len(s.Locals)
	s.Locals = append(s.Locals, name)
	s.localIdx[name] = idx
	return idx
}

// addUpvalue registers an upvalue descriptor, deduplicated by name.
func (s *FuncScope) addUpvalue(desc UpvalDesc) int {
	if idx, ok := s.upvalIdx[desc.Name]; ok {
		return idx
	}
	idx := len(s.Upvalues)
	s.Upvalues = append(s.Upvalues, desc)
	s.upvalIdx[desc.Name] = idx
	return idx
}

// findUpvalue locates name as an upvalue of this scope, threading the
// capture through intermediate functions as needed.
func (s *FuncScope) findUpvalue(name string) (int, bool) {
	if s.IsModule {
		return 0, false
	}
	if idx, ok := s.upvalIdx[name]; ok {
		return idx, true
	}
	p := s.Parent
	if p == nil || p.IsModule {
		return 0, false
	}
	if idx, ok := p.localIdx[name]; ok {
		p.Captured[idx] = true
		return s.addUpvalue(UpvalDesc{InParent: true, Index: idx, Name: name}), true
	}
	if pidx, ok := p.findUpvalue(name); ok {
		return s.addUpvalue(UpvalDesc{InParent: false, Index: pidx, Name: name}), true
	}
	return 0, false
}

// boundInEnclosing reports whether name is already bound as a local or
// upvalue of an enclosing function. The module scope does not count:
// its assignments are globals, not capturable locals.
func (s *FuncScope) boundInEnclosing(name string) bool {
	for p := s.Parent; p != nil && !p.IsModule; p = p.Parent {
		if _, ok := p.localIdx[name]; ok {
			return true
		}
		if _, ok := p.upvalIdx[name]; ok {
			return true
		}
	}
	return false
}

// findClass locates a lexically visible class declaration.
func (s *FuncScope) findClass(name string) *ClassDef {
	for scope := s; scope != nil; scope = scope.Parent {
		if cls, ok := scope.classes[name]; ok {
			return cls
		}
	}
	return nil
}

// Resolver annotates an AST with bindings.
type Resolver struct{}

// Resolve performs scope analysis on a parsed module.
func Resolve(mod *Module) *Error {
	r := &Resolver{}
	scope := newFuncScope(nil)
	scope.IsModule = true
	mod.Scope = scope
	r.prescan(scope, mod.Body)
	return r.resolveStmts(scope, mod.Body)
}

// resolveName resolves a single name reference in the given scope.
func (r *Resolver) resolveName(s *FuncScope, name string) Binding {
	if !s.IsModule {
		if idx, ok := s.localIdx[name]; ok {
			return Binding{Kind: BindLocal, Slot: idx}
		}
	}
	if idx, ok := s.findUpvalue(name); ok {
		return Binding{Kind: BindUpvalue, Slot: idx}
	}
	return Binding{Kind: BindGlobal}
}

// ---------------------------------------------------------------------------
// Pre-scan: collect assigned names
// ---------------------------------------------------------------------------

// prescan declares every name assigned in the statement list as a local
// of scope, except names already bound in an enclosing function, which
// resolve as upvalues. Nested function and class bodies are not descended into;
// only their names count as assignments here. At module scope this is
// a no-op for locals since top-level assignments are globals.
func (r *Resolver) prescan(s *FuncScope, stmts []Stmt) {
	declare := func(name string) {
		if s.IsModule {
			s.assigned[name] = true
			return
		}
		// Assigning a name captured from an enclosing function writes
		// through its cell rather than shadowing it with a new local.
		if _, ok := s.localIdx[name]; !ok && s.boundInEnclosing(name) {
			return
		}
		s.declareLocal(name)
	}
	var walk func(stmts []Stmt)
	walk = func(stmts []Stmt) {
		for _, stmt := range stmts {
			switch n := stmt.(type) {
			case *Assign:
				if id, ok := n.Target.(*Identifier); ok {
					declare(id.Name)
				}
			case *For:
				declare(n.Var.Name)
				walk(n.Body)
			case *FunctionDef:
				declare(n.Name)
			case *ClassDef:
				declare(n.Name)
			case *If:
				walk(n.Then)
				walk(n.Else)
			case *While:
				walk(n.Body)
			case *Try:
				walk(n.Body)
				if n.ErrName != "" {
					declare(n.ErrName)
				}
				walk(n.Except)
				walk(n.Finally)
			}
		}
	}
	walk(stmts)
}

// ---------------------------------------------------------------------------
// Statement resolution
// ---------------------------------------------------------------------------

func (r *Resolver) resolveStmts(s *FuncScope, stmts []Stmt) *Error {
	for _, stmt := range stmts {
		if err := r.resolveStmt(s, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) resolveStmt(s *FuncScope, stmt Stmt) *Error {
	switch n := stmt.(type) {
	case *ExprStmt:
		return r.resolveExpr(s, n.Expr)

	case *Assign:
		if err := r.resolveExpr(s, n.Value); err != nil {
			return err
		}
		switch t := n.Target.(type) {
		case *Identifier:
			t.Bind = r.resolveName(s, t.Name)
			return nil
		case *Index:
			if err := r.resolveExpr(s, t.Object); err != nil {
				return err
			}
			return r.resolveExpr(s, t.Key)
		case *Attribute:
			return r.resolveExpr(s, t.Object)
		}
		return nil

	case *If:
		if err := r.resolveExpr(s, n.Cond); err != nil {
			return err
		}
		if err := r.resolveStmts(s, n.Then); err != nil {
			return err
		}
		return r.resolveStmts(s, n.Else)

	case *While:
		if err := r.resolveExpr(s, n.Cond); err != nil {
			return err
		}
		return r.resolveStmts(s, n.Body)

	case *For:
		if err := r.resolveExpr(s, n.Iter); err != nil {
			return err
		}
		n.Var.Bind = r.resolveName(s, n.Var.Name)
		return r.resolveStmts(s, n.Body)

	case *FunctionDef:
		n.Bind = r.resolveName(s, n.Name)
		return r.resolveFunction(s, n)

	case *ClassDef:
		return r.resolveClass(s, n)

	case *Return:
		if n.Value != nil {
			return r.resolveExpr(s, n.Value)
		}
		return nil

	case *Print:
		return r.resolveExpr(s, n.Value)

	case *Raise:
		return r.resolveExpr(s, n.Value)

	case *Try:
		if err := r.resolveStmts(s, n.Body); err != nil {
			return err
		}
		if n.Except != nil {
			if n.ErrName != "" {
				n.ErrBind = r.resolveName(s, n.ErrName)
			}
			if err := r.resolveStmts(s, n.Except); err != nil {
				return err
			}
		}
		return r.resolveStmts(s, n.Finally)

	case *Break, *Continue, *Pass:
		return nil
	}
	return nil
}

// resolveFunction resolves a function definition in its own scope.
func (r *Resolver) resolveFunction(parent *FuncScope, fn *FunctionDef) *Error {
	scope := newFuncScope(parent)
	scope.IsAsync = fn.IsAsync
	fn.Scope = scope

	seen := make(map[string]bool)
	for _, param := range fn.Params {
		if seen[param] {
			return resolveError(ErrDuplicateParam, fn.SpanVal,
				"duplicate parameter %q in function %s", param, fn.Name)
		}
		seen[param] = true
		scope.declareLocal(param)
	}

	r.prescan(scope, fn.Body)
	return r.resolveStmts(scope, fn.Body)
}

// resolveClass resolves a class definition. The base, if any, is
// resolved as an ordinary name; when it is lexically visible as a
// declaration we additionally check it statically.
func (r *Resolver) resolveClass(s *FuncScope, cls *ClassDef) *Error {
	cls.Bind = r.resolveName(s, cls.Name)
	s.classes[cls.Name] = cls

	if cls.Base != nil {
		cls.Base.Bind = r.resolveName(s, cls.Base.Name)
		if cls.Base.Bind.Kind == BindGlobal && s.findClass(cls.Base.Name) == nil {
			root := s
			for root.Parent != nil {
				root = root.Parent
			}
			if !root.assigned[cls.Base.Name] {
				return resolveError(ErrUnknownBase, cls.Base.SpanVal,
					"unknown base class %s", cls.Base.Name)
			}
		}
		if base := s.findClass(cls.Base.Name); base != nil {
			// Follow the lexically visible base chain to reject cycles
			// before they reach the runtime.
			for c := base; c != nil; {
				if c == cls {
					return resolveError(ErrInheritanceCycle, cls.SpanVal,
						"class %s inherits from itself", cls.Name)
				}
				if c.Base == nil {
					break
				}
				c = s.findClass(c.Base.Name)
			}
		}
	}

	// Methods close over the scope containing the class, not over a
	// class-level scope; there is none.
	for _, method := range cls.Methods {
		if err := r.resolveFunction(s, method); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Expression resolution
// ---------------------------------------------------------------------------

func (r *Resolver) resolveExpr(s *FuncScope, expr Expr) *Error {
	switch n := expr.(type) {
	case *Identifier:
		n.Bind = r.resolveName(s, n.Name)
		return nil

	case *BinaryOp:
		if err := r.resolveExpr(s, n.Left); err != nil {
			return err
		}
		return r.resolveExpr(s, n.Right)

	case *UnaryOp:
		return r.resolveExpr(s, n.Operand)

	case *Call:
		if err := r.resolveExpr(s, n.Callee); err != nil {
			return err
		}
		for _, arg := range n.Args {
			if err := r.resolveExpr(s, arg); err != nil {
				return err
			}
		}
		return nil

	case *Index:
		if err := r.resolveExpr(s, n.Object); err != nil {
			return err
		}
		return r.resolveExpr(s, n.Key)

	case *Attribute:
		return r.resolveExpr(s, n.Object)

	case *Await:
		if !s.IsAsync {
			return resolveError(ErrAwaitOutsideAsync, n.SpanVal,
				"await is only allowed inside async functions")
		}
		return r.resolveExpr(s, n.Operand)

	case *ListLiteral:
		for _, elem := range n.Elements {
			if err := r.resolveExpr(s, elem); err != nil {
				return err
			}
		}
		return nil

	case *DictLiteral:
		for i := range n.Keys {
			if err := r.resolveExpr(s, n.Keys[i]); err != nil {
				return err
			}
			if err := r.resolveExpr(s, n.Values[i]); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}
