package compiler

import (
	"github.com/hebi-lang/hebi/vm"
)

// ---------------------------------------------------------------------------
// Code generation: resolved AST to register bytecode
// ---------------------------------------------------------------------------

// Registers are laid out with locals in the low slots (parameters
// first) and a stack of expression temporaries above them. Captured
// locals are boxed into cells at function entry; every access to a
// captured slot goes through the cell, so closures made from the slot
// observe later writes.

// Compile lowers a resolved module into a callable prototype. The
// module body becomes a nullary function named "main".
func Compile(mod *Module) (*vm.Function, *Error) {
	c := newFuncCompiler(nil, mod.Scope, mod.Span())
	if err := c.compileStmts(mod.Body); err != nil {
		return nil, err
	}
	c.emit(vm.MakeABC(vm.OpReturnNone, 0, 0, 0), c.line(mod.Span()))
	return c.finish("main", 0, false)
}

// protEntry is one active try_push at the current compile position.
// Entries with a finally body get their cleanup code inlined ahead of
// any return, break or continue that jumps out of them.
type protEntry struct {
	finally []Stmt
}

// loopCtx tracks the jump targets of the innermost enclosing loop.
type loopCtx struct {
	breakLabel    *vm.Label
	continueLabel *vm.Label
	protDepth     int // protection depth at loop entry
}

type funcCompiler struct {
	parent *funcCompiler
	scope  *FuncScope
	b      *vm.Builder
	span   Span

	nLocals int
	nextReg int
	maxReg  int

	prots []protEntry
	loops []loopCtx
}

func newFuncCompiler(parent *funcCompiler, scope *FuncScope, span Span) *funcCompiler {
	n := len(scope.Locals)
	max := n
	if max == 0 {
		max = 1
	}
	return &funcCompiler{
		parent:  parent,
		scope:   scope,
		b:       vm.NewBuilder(),
		span:    span,
		nLocals: n,
		nextReg: n,
		maxReg:  max,
	}
}

func (c *funcCompiler) line(span Span) int32 {
	return int32(span.Start.Line)
}

func (c *funcCompiler) emit(instr vm.Instr, line int32) {
	c.b.Emit(instr, line)
}

// ---------------------------------------------------------------------------
// Register stack
// ---------------------------------------------------------------------------

func (c *funcCompiler) allocReg(span Span) (uint8, *Error) {
	regs, err := c.allocRegs(span, 1)
	return regs, err
}

// allocRegs claims n contiguous registers, returning the first.
func (c *funcCompiler) allocRegs(span Span, n int) (uint8, *Error) {
	if c.nextReg+n > 256 {
		return 0, compileError(ErrTooManyRegisters, span, "function needs more than 256 registers")
	}
	base := uint8(c.nextReg)
	c.nextReg += n
	if c.nextReg > c.maxReg {
		c.maxReg = c.nextReg
	}
	return base, nil
}

func (c *funcCompiler) saveRegs() int {
	return c.nextReg
}

func (c *funcCompiler) restoreRegs(mark int) {
	c.nextReg = mark
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

func (c *funcCompiler) addConst(span Span, k vm.Constant) (uint16, *Error) {
	idx, ok := c.b.AddConst(k)
	if !ok {
		return 0, compileError(ErrTooManyConstants, span, "function needs more than %d constants", 1<<16)
	}
	return uint16(idx), nil
}

// nameConst interns a string constant whose index must fit the 8-bit
// operand of the field instructions.
func (c *funcCompiler) nameConst(span Span, name string) (uint8, *Error) {
	idx, err := c.addConst(span, vm.Constant{Kind: vm.ConstString, Str: name})
	if err != nil {
		return 0, err
	}
	if idx > 0xff {
		return 0, compileError(ErrTooManyConstants, span, "too many field names in one function")
	}
	return uint8(idx), nil
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// finish converts the scope's upvalue list and builds the prototype.
func (c *funcCompiler) finish(name string, numParams int, isAsync bool) (*vm.Function, *Error) {
	if len(c.scope.Upvalues) > 0xff {
		return nil, compileError(ErrTooManyUpvalues, c.span, "function %s captures more than 255 variables", name)
	}
	upvals := make([]vm.UpvalDesc, len(c.scope.Upvalues))
	for i, u := range c.scope.Upvalues {
		upvals[i] = vm.UpvalDesc{InParent: u.InParent, Index: u.Index, Name: u.Name}
	}
	return c.b.Build(name, numParams, c.maxReg, isAsync, upvals), nil
}

// compileFunction lowers one fn body into a prototype. Captured slots
// are boxed first, so parameters referenced by nested closures live in
// cells from the start.
func compileFunction(parent *funcCompiler, fn *FunctionDef) (*vm.Function, *Error) {
	c := newFuncCompiler(parent, fn.Scope, fn.Span())
	line := c.line(fn.Span())
	for slot := 0; slot < c.nLocals; slot++ {
		if fn.Scope.Captured[slot] {
			c.emit(vm.MakeABC(vm.OpMakeCell, uint8(slot), 0, 0), line)
		}
	}
	if err := c.compileStmts(fn.Body); err != nil {
		return nil, err
	}
	c.emit(vm.MakeABC(vm.OpReturnNone, 0, 0, 0), line)
	return c.finish(fn.Name, len(fn.Params), fn.IsAsync)
}

// ---------------------------------------------------------------------------
// Bindings
// ---------------------------------------------------------------------------

// loadBinding reads a resolved name into dst.
func (c *funcCompiler) loadBinding(span Span, name string, bind Binding, dst uint8) *Error {
	line := c.line(span)
	switch bind.Kind {
	case BindLocal:
		slot := uint8(bind.Slot)
		if c.scope.Captured[bind.Slot] {
			c.emit(vm.MakeABC(vm.OpLoadCell, dst, slot, 0), line)
		} else if dst != slot {
			c.emit(vm.MakeABC(vm.OpMov, dst, slot, 0), line)
		}
	case BindUpvalue:
		c.emit(vm.MakeABC(vm.OpLoadUpvalue, dst, uint8(bind.Slot), 0), line)
	default:
		idx, err := c.addConst(span, vm.Constant{Kind: vm.ConstString, Str: name})
		if err != nil {
			return err
		}
		c.emit(vm.MakeABx(vm.OpLoadGlobal, dst, idx), line)
	}
	return nil
}

// storeBinding writes src into a resolved name.
func (c *funcCompiler) storeBinding(span Span, name string, bind Binding, src uint8) *Error {
	line := c.line(span)
	switch bind.Kind {
	case BindLocal:
		slot := uint8(bind.Slot)
		if c.scope.Captured[bind.Slot] {
			c.emit(vm.MakeABC(vm.OpStoreCell, src, slot, 0), line)
		} else if src != slot {
			c.emit(vm.MakeABC(vm.OpMov, slot, src, 0), line)
		}
	case BindUpvalue:
		c.emit(vm.MakeABC(vm.OpStoreUpvalue, src, uint8(bind.Slot), 0), line)
	default:
		idx, err := c.addConst(span, vm.Constant{Kind: vm.ConstString, Str: name})
		if err != nil {
			return err
		}
		c.emit(vm.MakeABx(vm.OpStoreGlobal, src, idx), line)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *funcCompiler) compileStmts(stmts []Stmt) *Error {
	for _, s := range stmts {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *funcCompiler) compileStmt(s Stmt) *Error {
	switch n := s.(type) {
	case *ExprStmt:
		mark := c.saveRegs()
		t, err := c.allocReg(n.Span())
		if err != nil {
			return err
		}
		if err := c.compileExpr(n.Expr, t); err != nil {
			return err
		}
		c.restoreRegs(mark)
		return nil

	case *Assign:
		return c.compileAssign(n)

	case *If:
		return c.compileIf(n)

	case *While:
		return c.compileWhile(n)

	case *For:
		return c.compileFor(n)

	case *FunctionDef:
		return c.compileFunctionDef(n)

	case *ClassDef:
		return c.compileClassDef(n)

	case *Return:
		return c.compileReturn(n)

	case *Break:
		if len(c.loops) == 0 {
			return compileError(ErrBreakOutsideLoop, n.Span(), "break outside a loop")
		}
		loop := c.loops[len(c.loops)-1]
		if err := c.unwindProts(n.Span(), loop.protDepth); err != nil {
			return err
		}
		c.b.EmitJump(vm.OpJump, 0, loop.breakLabel, c.line(n.Span()))
		return nil

	case *Continue:
		if len(c.loops) == 0 {
			return compileError(ErrContinueOutsideLoop, n.Span(), "continue outside a loop")
		}
		loop := c.loops[len(c.loops)-1]
		if err := c.unwindProts(n.Span(), loop.protDepth); err != nil {
			return err
		}
		c.b.EmitJump(vm.OpJump, 0, loop.continueLabel, c.line(n.Span()))
		return nil

	case *Pass:
		return nil

	case *Print:
		mark := c.saveRegs()
		t, err := c.allocReg(n.Span())
		if err != nil {
			return err
		}
		if err := c.compileExpr(n.Value, t); err != nil {
			return err
		}
		c.emit(vm.MakeABC(vm.OpPrint, t, 0, 0), c.line(n.Span()))
		c.restoreRegs(mark)
		return nil

	case *Raise:
		mark := c.saveRegs()
		t, err := c.allocReg(n.Span())
		if err != nil {
			return err
		}
		if err := c.compileExpr(n.Value, t); err != nil {
			return err
		}
		c.emit(vm.MakeABC(vm.OpRaise, t, 0, 0), c.line(n.Span()))
		c.restoreRegs(mark)
		return nil

	case *Try:
		return c.compileTry(n)
	}
	return compileError(ErrUnexpectedToken, s.Span(), "cannot compile statement")
}

func (c *funcCompiler) compileAssign(n *Assign) *Error {
	mark := c.saveRegs()
	defer c.restoreRegs(mark)

	switch target := n.Target.(type) {
	case *Identifier:
		t, err := c.allocReg(n.Span())
		if err != nil {
			return err
		}
		if err := c.compileExpr(n.Value, t); err != nil {
			return err
		}
		return c.storeBinding(target.Span(), target.Name, target.Bind, t)

	case *Index:
		base, err := c.allocRegs(n.Span(), 3)
		if err != nil {
			return err
		}
		if err := c.compileExpr(target.Object, base); err != nil {
			return err
		}
		if err := c.compileExpr(target.Key, base+1); err != nil {
			return err
		}
		if err := c.compileExpr(n.Value, base+2); err != nil {
			return err
		}
		c.emit(vm.MakeABC(vm.OpStoreIndex, base, base+1, base+2), c.line(n.Span()))
		return nil

	case *Attribute:
		base, err := c.allocRegs(n.Span(), 2)
		if err != nil {
			return err
		}
		if err := c.compileExpr(target.Object, base); err != nil {
			return err
		}
		if err := c.compileExpr(n.Value, base+1); err != nil {
			return err
		}
		name, err := c.nameConst(target.Span(), target.Name)
		if err != nil {
			return err
		}
		c.emit(vm.MakeABC(vm.OpStoreField, base+1, base, name), c.line(n.Span()))
		return nil
	}
	return compileError(ErrInvalidAssignTarget, n.Span(), "cannot assign to this expression")
}

func (c *funcCompiler) compileIf(n *If) *Error {
	mark := c.saveRegs()
	t, err := c.allocReg(n.Span())
	if err != nil {
		return err
	}
	if err := c.compileExpr(n.Cond, t); err != nil {
		return err
	}
	elseLabel := c.b.NewLabel()
	c.b.EmitJump(vm.OpJumpIfFalse, t, elseLabel, c.line(n.Span()))
	c.restoreRegs(mark)

	if err := c.compileStmts(n.Then); err != nil {
		return err
	}
	if len(n.Else) == 0 {
		c.b.Mark(elseLabel)
		return nil
	}
	endLabel := c.b.NewLabel()
	c.b.EmitJump(vm.OpJump, 0, endLabel, c.line(n.Span()))
	c.b.Mark(elseLabel)
	if err := c.compileStmts(n.Else); err != nil {
		return err
	}
	c.b.Mark(endLabel)
	return nil
}

func (c *funcCompiler) compileWhile(n *While) *Error {
	startLabel := c.b.NewLabel()
	endLabel := c.b.NewLabel()
	c.b.Mark(startLabel)

	mark := c.saveRegs()
	t, err := c.allocReg(n.Span())
	if err != nil {
		return err
	}
	if err := c.compileExpr(n.Cond, t); err != nil {
		return err
	}
	c.b.EmitJump(vm.OpJumpIfFalse, t, endLabel, c.line(n.Span()))
	c.restoreRegs(mark)

	c.loops = append(c.loops, loopCtx{
		breakLabel:    endLabel,
		continueLabel: startLabel,
		protDepth:     len(c.prots),
	})
	err2 := c.compileStmts(n.Body)
	c.loops = c.loops[:len(c.loops)-1]
	if err2 != nil {
		return err2
	}

	c.b.EmitJump(vm.OpJump, 0, startLabel, c.line(n.Span()))
	c.b.Mark(endLabel)
	return nil
}

func (c *funcCompiler) compileFor(n *For) *Error {
	line := c.line(n.Span())
	mark := c.saveRegs()

	// The iterator and its scratch registers stay claimed across the
	// whole loop body.
	base, err := c.allocRegs(n.Span(), 3)
	if err != nil {
		return err
	}
	it, hasNext, item := base, base+1, base+2

	if err := c.compileExpr(n.Iter, it); err != nil {
		return err
	}
	c.emit(vm.MakeABC(vm.OpIter, it, it, 0), line)

	startLabel := c.b.NewLabel()
	endLabel := c.b.NewLabel()
	c.b.Mark(startLabel)
	c.emit(vm.MakeABC(vm.OpIterHasNext, hasNext, it, 0), line)
	c.b.EmitJump(vm.OpJumpIfFalse, hasNext, endLabel, line)
	c.emit(vm.MakeABC(vm.OpIterNext, item, it, 0), line)
	if err := c.storeBinding(n.Var.Span(), n.Var.Name, n.Var.Bind, item); err != nil {
		return err
	}

	c.loops = append(c.loops, loopCtx{
		breakLabel:    endLabel,
		continueLabel: startLabel,
		protDepth:     len(c.prots),
	})
	err2 := c.compileStmts(n.Body)
	c.loops = c.loops[:len(c.loops)-1]
	if err2 != nil {
		return err2
	}

	c.b.EmitJump(vm.OpJump, 0, startLabel, line)
	c.b.Mark(endLabel)
	c.restoreRegs(mark)
	return nil
}

func (c *funcCompiler) compileFunctionDef(n *FunctionDef) *Error {
	proto, err := compileFunction(c, n)
	if err != nil {
		return err
	}
	idx, err := c.addConst(n.Span(), vm.Constant{Kind: vm.ConstProto, Proto: proto})
	if err != nil {
		return err
	}

	mark := c.saveRegs()
	t, aerr := c.allocReg(n.Span())
	if aerr != nil {
		return aerr
	}
	c.emit(vm.MakeABx(vm.OpMakeClosure, t, idx), c.line(n.Span()))
	if err := c.storeBinding(n.Span(), n.Name, n.Bind, t); err != nil {
		return err
	}
	c.restoreRegs(mark)
	return nil
}

func (c *funcCompiler) compileClassDef(n *ClassDef) *Error {
	desc := &vm.ClassDesc{Name: n.Name, HasParent: n.Base != nil}
	for _, m := range n.Methods {
		proto, err := compileFunction(c, m)
		if err != nil {
			return err
		}
		desc.Methods = append(desc.Methods, vm.MethodDesc{Name: m.Name, Proto: proto})
	}
	idx, err := c.addConst(n.Span(), vm.Constant{Kind: vm.ConstClass, Class: desc})
	if err != nil {
		return err
	}

	mark := c.saveRegs()
	t, aerr := c.allocReg(n.Span())
	if aerr != nil {
		return aerr
	}
	if n.Base != nil {
		if err := c.loadBinding(n.Base.Span(), n.Base.Name, n.Base.Bind, t); err != nil {
			return err
		}
	}
	c.emit(vm.MakeABx(vm.OpMakeClass, t, idx), c.line(n.Span()))
	if err := c.storeBinding(n.Span(), n.Name, n.Bind, t); err != nil {
		return err
	}
	c.restoreRegs(mark)
	return nil
}

func (c *funcCompiler) compileReturn(n *Return) *Error {
	if c.scope.IsModule {
		return compileError(ErrReturnAtTopLevel, n.Span(), "return outside a function")
	}
	line := c.line(n.Span())
	mark := c.saveRegs()

	if n.Value == nil {
		if err := c.unwindProts(n.Span(), 0); err != nil {
			return err
		}
		c.emit(vm.MakeABC(vm.OpReturnNone, 0, 0, 0), line)
		return nil
	}

	// The result is computed before any cleanup blocks run.
	t, err := c.allocReg(n.Span())
	if err != nil {
		return err
	}
	if err := c.compileExpr(n.Value, t); err != nil {
		return err
	}
	if err := c.unwindProts(n.Span(), 0); err != nil {
		return err
	}
	c.emit(vm.MakeABC(vm.OpReturn, t, 0, 0), line)
	c.restoreRegs(mark)
	return nil
}

// unwindProts pops the active try handlers above depth and inlines
// their cleanup blocks, innermost first. Used when a jump leaves the
// protected region without raising.
func (c *funcCompiler) unwindProts(span Span, depth int) *Error {
	line := c.line(span)
	for i := len(c.prots) - 1; i >= depth; i-- {
		c.emit(vm.MakeABC(vm.OpTryPop, 0, 0, 0), line)
		fin := c.prots[i].finally
		if fin == nil {
			continue
		}
		// The inlined cleanup runs outside its own protection.
		saved := c.prots
		c.prots = c.prots[:i]
		err := c.compileStmts(fin)
		c.prots = saved
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *funcCompiler) compileTry(n *Try) *Error {
	line := c.line(n.Span())
	mark := c.saveRegs()
	hasFinally := len(n.Finally) > 0
	hasExcept := n.Except != nil

	var finReg uint8
	var finHandler *vm.Label
	if hasFinally {
		var err *Error
		finReg, err = c.allocReg(n.Span())
		if err != nil {
			return err
		}
		finHandler = c.b.NewLabel()
		c.b.EmitJump(vm.OpTryPush, finReg, finHandler, line)
		c.prots = append(c.prots, protEntry{finally: n.Finally})
	}

	if hasExcept {
		excReg, err := c.allocReg(n.Span())
		if err != nil {
			return err
		}
		excHandler := c.b.NewLabel()
		c.b.EmitJump(vm.OpTryPush, excReg, excHandler, line)
		c.prots = append(c.prots, protEntry{finally: nil})

		if err := c.compileStmts(n.Body); err != nil {
			return err
		}
		c.prots = c.prots[:len(c.prots)-1]
		c.emit(vm.MakeABC(vm.OpTryPop, 0, 0, 0), line)

		afterLabel := c.b.NewLabel()
		c.b.EmitJump(vm.OpJump, 0, afterLabel, line)

		c.b.Mark(excHandler)
		if n.ErrName != "" {
			if err := c.storeBinding(n.Span(), n.ErrName, n.ErrBind, excReg); err != nil {
				return err
			}
		}
		if err := c.compileStmts(n.Except); err != nil {
			return err
		}
		c.b.Mark(afterLabel)
	} else {
		if err := c.compileStmts(n.Body); err != nil {
			return err
		}
	}

	if hasFinally {
		c.prots = c.prots[:len(c.prots)-1]
		c.emit(vm.MakeABC(vm.OpTryPop, 0, 0, 0), line)
		if err := c.compileStmts(n.Finally); err != nil {
			return err
		}
		doneLabel := c.b.NewLabel()
		c.b.EmitJump(vm.OpJump, 0, doneLabel, line)

		// Raised path: run the cleanup, then rethrow.
		c.b.Mark(finHandler)
		if err := c.compileStmts(n.Finally); err != nil {
			return err
		}
		c.emit(vm.MakeABC(vm.OpRaise, finReg, 0, 0), line)
		c.b.Mark(doneLabel)
	}

	c.restoreRegs(mark)
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var binaryOps = map[TokenType]vm.Opcode{
	TokenPlus:    vm.OpAdd,
	TokenMinus:   vm.OpSub,
	TokenStar:    vm.OpMul,
	TokenSlash:   vm.OpDiv,
	TokenPercent: vm.OpMod,
	TokenStarStar: vm.OpPow,
	TokenEq:      vm.OpCmpEq,
	TokenNe:      vm.OpCmpNe,
	TokenLt:      vm.OpCmpLt,
	TokenLe:      vm.OpCmpLe,
	TokenGt:      vm.OpCmpGt,
	TokenGe:      vm.OpCmpGe,
}

// compileExpr evaluates an expression into dst. Callers always hand
// over a freshly claimed register, never a live local slot, so
// subexpressions are free to use dst as scratch.
func (c *funcCompiler) compileExpr(e Expr, dst uint8) *Error {
	e = foldExpr(e)
	line := c.line(e.Span())

	switch n := e.(type) {
	case *NoneLiteral:
		c.emit(vm.MakeABC(vm.OpLoadNone, dst, 0, 0), line)
		return nil

	case *BoolLiteral:
		op := vm.OpLoadFalse
		if n.Value {
			op = vm.OpLoadTrue
		}
		c.emit(vm.MakeABC(op, dst, 0, 0), line)
		return nil

	case *IntLiteral:
		if n.Value >= -(1<<15) && n.Value < 1<<15 {
			c.emit(vm.MakeASBx(vm.OpLoadSmi, dst, int16(n.Value)), line)
			return nil
		}
		idx, err := c.addConst(n.Span(), vm.Constant{Kind: vm.ConstInt, Int: n.Value})
		if err != nil {
			return err
		}
		c.emit(vm.MakeABx(vm.OpLoadConst, dst, idx), line)
		return nil

	case *FloatLiteral:
		idx, err := c.addConst(n.Span(), vm.Constant{Kind: vm.ConstFloat, Float: n.Value})
		if err != nil {
			return err
		}
		c.emit(vm.MakeABx(vm.OpLoadConst, dst, idx), line)
		return nil

	case *StringLiteral:
		idx, err := c.addConst(n.Span(), vm.Constant{Kind: vm.ConstString, Str: n.Value})
		if err != nil {
			return err
		}
		c.emit(vm.MakeABx(vm.OpLoadConst, dst, idx), line)
		return nil

	case *ListLiteral:
		mark := c.saveRegs()
		count := len(n.Elements)
		if count > 0xff {
			return compileError(ErrTooManyRegisters, n.Span(), "list literal has too many elements")
		}
		base, err := c.allocRegs(n.Span(), count)
		if err != nil {
			return err
		}
		for i, el := range n.Elements {
			if err := c.compileExpr(el, base+uint8(i)); err != nil {
				return err
			}
		}
		c.emit(vm.MakeABC(vm.OpMakeList, dst, base, uint8(count)), line)
		c.restoreRegs(mark)
		return nil

	case *DictLiteral:
		mark := c.saveRegs()
		count := len(n.Keys)
		if count > 0x7f {
			return compileError(ErrTooManyRegisters, n.Span(), "dict literal has too many entries")
		}
		base, err := c.allocRegs(n.Span(), 2*count)
		if err != nil {
			return err
		}
		for i := range n.Keys {
			if err := c.compileExpr(n.Keys[i], base+uint8(2*i)); err != nil {
				return err
			}
			if err := c.compileExpr(n.Values[i], base+uint8(2*i+1)); err != nil {
				return err
			}
		}
		c.emit(vm.MakeABC(vm.OpMakeDict, dst, base, uint8(count)), line)
		c.restoreRegs(mark)
		return nil

	case *Identifier:
		return c.loadBinding(n.Span(), n.Name, n.Bind, dst)

	case *BinaryOp:
		return c.compileBinaryOp(n, dst)

	case *UnaryOp:
		mark := c.saveRegs()
		t, err := c.allocReg(n.Span())
		if err != nil {
			return err
		}
		if err := c.compileExpr(n.Operand, t); err != nil {
			return err
		}
		switch n.Op {
		case TokenMinus:
			c.emit(vm.MakeABC(vm.OpNeg, dst, t, 0), line)
		case TokenNot:
			c.emit(vm.MakeABC(vm.OpNot, dst, t, 0), line)
		default:
			return compileError(ErrUnexpectedToken, n.Span(), "bad unary operator")
		}
		c.restoreRegs(mark)
		return nil

	case *Call:
		mark := c.saveRegs()
		argc := len(n.Args)
		if argc > 0xff {
			return compileError(ErrTooManyRegisters, n.Span(), "call has too many arguments")
		}
		base, err := c.allocRegs(n.Span(), 1+argc)
		if err != nil {
			return err
		}
		if err := c.compileExpr(n.Callee, base); err != nil {
			return err
		}
		for i, arg := range n.Args {
			if err := c.compileExpr(arg, base+1+uint8(i)); err != nil {
				return err
			}
		}
		c.emit(vm.MakeABC(vm.OpCall, base, uint8(argc), 0), line)
		if dst != base {
			c.emit(vm.MakeABC(vm.OpMov, dst, base, 0), line)
		}
		c.restoreRegs(mark)
		return nil

	case *Index:
		mark := c.saveRegs()
		base, err := c.allocRegs(n.Span(), 2)
		if err != nil {
			return err
		}
		if err := c.compileExpr(n.Object, base); err != nil {
			return err
		}
		if err := c.compileExpr(n.Key, base+1); err != nil {
			return err
		}
		c.emit(vm.MakeABC(vm.OpLoadIndex, dst, base, base+1), line)
		c.restoreRegs(mark)
		return nil

	case *Attribute:
		mark := c.saveRegs()
		t, err := c.allocReg(n.Span())
		if err != nil {
			return err
		}
		if err := c.compileExpr(n.Object, t); err != nil {
			return err
		}
		name, err := c.nameConst(n.Span(), n.Name)
		if err != nil {
			return err
		}
		c.emit(vm.MakeABC(vm.OpLoadField, dst, t, name), line)
		c.restoreRegs(mark)
		return nil

	case *Await:
		mark := c.saveRegs()
		t, err := c.allocReg(n.Span())
		if err != nil {
			return err
		}
		if err := c.compileExpr(n.Operand, t); err != nil {
			return err
		}
		c.emit(vm.MakeABC(vm.OpAwait, dst, t, 0), line)
		c.restoreRegs(mark)
		return nil
	}
	return compileError(ErrUnexpectedToken, e.Span(), "cannot compile expression")
}

// compileBinaryOp lowers arithmetic, comparison and the
// short-circuiting and/or forms.
func (c *funcCompiler) compileBinaryOp(n *BinaryOp, dst uint8) *Error {
	line := c.line(n.Span())

	// and/or evaluate the right side only when the left side does not
	// decide the result; the result is whichever operand was last
	// evaluated.
	if n.Op == TokenAnd || n.Op == TokenOr {
		if err := c.compileExpr(n.Left, dst); err != nil {
			return err
		}
		endLabel := c.b.NewLabel()
		op := vm.OpJumpIfFalse
		if n.Op == TokenOr {
			op = vm.OpJumpIfTrue
		}
		c.b.EmitJump(op, dst, endLabel, line)
		if err := c.compileExpr(n.Right, dst); err != nil {
			return err
		}
		c.b.Mark(endLabel)
		return nil
	}

	op, ok := binaryOps[n.Op]
	if !ok {
		return compileError(ErrUnexpectedToken, n.Span(), "bad binary operator")
	}
	mark := c.saveRegs()
	base, err := c.allocRegs(n.Span(), 2)
	if err != nil {
		return err
	}
	if err := c.compileExpr(n.Left, base); err != nil {
		return err
	}
	if err := c.compileExpr(n.Right, base+1); err != nil {
		return err
	}
	c.emit(vm.MakeABC(op, dst, base, base+1), line)
	c.restoreRegs(mark)
	return nil
}
