package vm

import (
	"math"
)

// ---------------------------------------------------------------------------
// Interpreter: Frame management and instruction dispatch
// ---------------------------------------------------------------------------

// tryHandler is one entry of a frame's active try stack.
type tryHandler struct {
	errReg  uint8
	handler int // ip of the except/cleanup block
}

// Frame is one function activation. Registers 0..NumParams-1 hold the
// arguments; the rest start as none.
type Frame struct {
	fn         *Function
	closure    *ClosureObject
	closureVal Value
	regs       []Value
	ip         int
	dst        uint8 // caller register receiving the return value
	tries      []tryHandler

	// Class instantiation runs init but returns the instance.
	retOverride    Value
	hasRetOverride bool
}

// line returns the source line of the most recently fetched
// instruction.
func (f *Frame) line() int32 {
	ip := f.ip - 1
	if ip >= 0 && ip < len(f.fn.Lines) {
		return f.fn.Lines[ip]
	}
	return 0
}

// newFrame creates an activation for a closure call.
func (vm *VM) newFrame(closureVal Value, closure *ClosureObject, args []Value, dst uint8) (*Frame, *RuntimeError) {
	fn := closure.Proto
	if len(args) != fn.NumParams {
		return nil, runtimeErr(ErrTypeMismatch,
			"%s expects %d arguments, got %d", fn.Name, fn.NumParams, len(args))
	}
	regs := make([]Value, fn.NumRegs)
	for i := range regs {
		regs[i] = None
	}
	copy(regs, args)
	return &Frame{
		fn:         fn,
		closure:    closure,
		closureVal: closureVal,
		regs:       regs,
		dst:        dst,
		retOverride: None,
	}, nil
}

// pushFrame appends a frame to the task's stack, enforcing the depth
// limit.
func (vm *VM) pushFrame(task *TaskObject, frame *Frame) *RuntimeError {
	if len(task.frames) >= vm.maxDepth {
		return runtimeErr(ErrStackOverflow, "call stack exceeded %d frames", vm.maxDepth)
	}
	task.frames = append(task.frames, frame)
	return nil
}

// ---------------------------------------------------------------------------
// Unwinding
// ---------------------------------------------------------------------------

// errValue wraps an internal runtime error as a raisable heap value.
func (vm *VM) errValue(e *RuntimeError) Value {
	return vm.heap.Alloc(&ErrorObject{Err: e})
}

// asRuntimeError converts a raised value into the error surfaced to
// the host.
func (vm *VM) asRuntimeError(errVal Value) *RuntimeError {
	if eo, ok := vm.heap.GetError(errVal); ok {
		return eo.Err
	}
	return runtimeErr(ErrRaised, "%s", vm.heap.Render(errVal))
}

// unwind pops frames until a try handler accepts the raised value.
// Returns false when the task's whole stack unwound without a handler;
// the frames are gone and the caller decides the task's fate.
func (vm *VM) unwind(task *TaskObject, errVal Value) bool {
	for len(task.frames) > 0 {
		frame := task.frames[len(task.frames)-1]
		if n := len(frame.tries); n > 0 {
			try := frame.tries[n-1]
			frame.tries = frame.tries[:n-1]
			frame.regs[try.errReg] = errVal
			frame.ip = try.handler
			return true
		}
		if eo, ok := vm.heap.GetError(errVal); ok {
			eo.Err.Trace = append(eo.Err.Trace, TraceEntry{Func: frame.fn.Name, Line: frame.line()})
		}
		task.frames = task.frames[:len(task.frames)-1]
	}
	return false
}

// raise unwinds with a raised value. When nothing handles it, the task
// finishes as failed (the main task records the error for Run).
func (vm *VM) raise(task *TaskObject, errVal Value) bool {
	if vm.unwind(task, errVal) {
		return true
	}
	if task == vm.mainTask {
		task.State = TaskFailed
		task.errVal = errVal
		vm.mainErr = vm.asRuntimeError(errVal)
		return false
	}
	vm.fail(task, errVal)
	return false
}

// raiseErr raises an internal runtime error.
func (vm *VM) raiseErr(task *TaskObject, e *RuntimeError) bool {
	return vm.raise(task, vm.errValue(e))
}

// ---------------------------------------------------------------------------
// Main loop
// ---------------------------------------------------------------------------

// runTask executes a task until it returns, fails or suspends.
func (vm *VM) runTask(taskVal Value, task *TaskObject) {
	prev := vm.currentVal
	vm.currentVal = taskVal
	defer func() { vm.currentVal = prev }()

	for len(task.frames) > 0 {
		// Collection happens only between instructions.
		if vm.heap.ShouldCollect() {
			vm.collect()
		}

		frame := task.frames[len(task.frames)-1]
		if frame.ip >= len(frame.fn.Code) {
			vm.returnValue(task, frame, None)
			continue
		}
		instr := frame.fn.Code[frame.ip]
		frame.ip++

		regs := frame.regs
		a, b, c := instr.A(), instr.B(), instr.C()

		switch instr.Op() {
		case OpNop:

		case OpMov:
			regs[a] = regs[b]

		case OpLoadConst:
			v, e := vm.constValue(frame.fn.Consts[instr.Bx()])
			if e != nil {
				if !vm.raiseErr(task, e) {
					return
				}
				continue
			}
			regs[a] = v

		case OpLoadSmi:
			regs[a] = NewInt(int64(instr.SBx()))

		case OpLoadNone:
			regs[a] = None

		case OpLoadTrue:
			regs[a] = True

		case OpLoadFalse:
			regs[a] = False

		case OpLoadGlobal:
			name := frame.fn.Consts[instr.Bx()].Str
			v, ok := vm.globals[name]
			if !ok {
				if !vm.raiseErr(task, runtimeErr(ErrNameError, "name %q is not defined", name)) {
					return
				}
				continue
			}
			regs[a] = v

		case OpStoreGlobal:
			name := frame.fn.Consts[instr.Bx()].Str
			vm.globals[name] = regs[a]

		case OpLoadUpvalue:
			cell, _ := vm.heap.GetCell(frame.closure.Upvals[b])
			regs[a] = cell.Val

		case OpStoreUpvalue:
			cell, _ := vm.heap.GetCell(frame.closure.Upvals[b])
			cell.Val = regs[a]

		case OpMakeCell:
			regs[a] = vm.heap.AllocCell(regs[a])

		case OpLoadCell:
			cell, _ := vm.heap.GetCell(regs[b])
			regs[a] = cell.Val

		case OpStoreCell:
			cell, _ := vm.heap.GetCell(regs[b])
			cell.Val = regs[a]

		case OpLoadField:
			name := frame.fn.Consts[c].Str
			v, e := vm.loadField(regs[b], name)
			if e != nil {
				if !vm.raiseErr(task, e) {
					return
				}
				continue
			}
			regs[a] = v

		case OpStoreField:
			name := frame.fn.Consts[c].Str
			if e := vm.storeField(regs[b], name, regs[a]); e != nil {
				if !vm.raiseErr(task, e) {
					return
				}
				continue
			}

		case OpLoadIndex:
			v, e := vm.loadIndex(regs[b], regs[c])
			if e != nil {
				if !vm.raiseErr(task, e) {
					return
				}
				continue
			}
			regs[a] = v

		case OpStoreIndex:
			if e := vm.storeIndex(regs[a], regs[b], regs[c]); e != nil {
				if !vm.raiseErr(task, e) {
					return
				}
				continue
			}

		case OpMakeList:
			items := make([]Value, c)
			copy(items, regs[b:int(b)+int(c)])
			regs[a] = vm.heap.AllocList(items)

		case OpMakeDict:
			dict := NewDictObject()
			caught := false
			for i := 0; i < int(c); i++ {
				keyVal := regs[int(b)+2*i]
				val := regs[int(b)+2*i+1]
				key, ok := vm.heap.makeDictKey(keyVal)
				if !ok {
					if !vm.raiseErr(task, runtimeErr(ErrUnsupportedOperation,
						"%s is not hashable", vm.heap.TypeName(keyVal))) {
						return
					}
					// The handler has redirected the frame; the
					// half-built dict is abandoned.
					caught = true
					break
				}
				dict.set(key, keyVal, val)
			}
			if caught {
				continue
			}
			regs[a] = vm.heap.Alloc(dict)

		case OpMakeClosure:
			proto := frame.fn.Consts[instr.Bx()].Proto
			regs[a] = vm.makeClosure(frame, proto)

		case OpMakeClass:
			desc := frame.fn.Consts[instr.Bx()].Class
			v, e := vm.makeClass(frame, desc, regs[a])
			if e != nil {
				if !vm.raiseErr(task, e) {
					return
				}
				continue
			}
			regs[a] = v

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
			v, e := vm.arith(instr.Op(), regs[b], regs[c])
			if e != nil {
				if !vm.raiseErr(task, e) {
					return
				}
				continue
			}
			regs[a] = v

		case OpNeg:
			v := regs[b]
			switch {
			case v.IsInt():
				regs[a] = makeInt(-v.AsInt())
			case v.IsFloat():
				regs[a] = NewFloat(-v.AsFloat())
			default:
				if !vm.raiseErr(task, runtimeErr(ErrTypeMismatch,
					"cannot negate %s", vm.heap.TypeName(v))) {
					return
				}
				continue
			}

		case OpNot:
			regs[a] = NewBool(!regs[b].IsTruthy())

		case OpCmpEq:
			regs[a] = NewBool(vm.heap.Equal(regs[b], regs[c]))

		case OpCmpNe:
			regs[a] = NewBool(!vm.heap.Equal(regs[b], regs[c]))

		case OpCmpLt, OpCmpLe, OpCmpGt, OpCmpGe:
			v, e := vm.compare(instr.Op(), regs[b], regs[c])
			if e != nil {
				if !vm.raiseErr(task, e) {
					return
				}
				continue
			}
			regs[a] = v

		case OpJump:
			frame.ip += int(instr.SBx())

		case OpJumpIfFalse:
			if !regs[a].IsTruthy() {
				frame.ip += int(instr.SBx())
			}

		case OpJumpIfTrue:
			if regs[a].IsTruthy() {
				frame.ip += int(instr.SBx())
			}

		case OpCall:
			if !vm.call(task, frame, a, int(b)) {
				return
			}

		case OpReturn:
			vm.returnValue(task, frame, regs[a])

		case OpReturnNone:
			vm.returnValue(task, frame, None)

		case OpTryPush:
			frame.tries = append(frame.tries, tryHandler{
				errReg:  a,
				handler: frame.ip + int(instr.SBx()),
			})

		case OpTryPop:
			frame.tries = frame.tries[:len(frame.tries)-1]

		case OpRaise:
			if !vm.raise(task, regs[a]) {
				return
			}

		case OpIter:
			v, e := vm.makeIterator(regs[b])
			if e != nil {
				if !vm.raiseErr(task, e) {
					return
				}
				continue
			}
			regs[a] = v

		case OpIterHasNext:
			it, _ := vm.heap.GetIterator(regs[b])
			regs[a] = NewBool(vm.iterHasNext(it))

		case OpIterNext:
			it, _ := vm.heap.GetIterator(regs[b])
			v, e := vm.iterNext(it)
			if e != nil {
				if !vm.raiseErr(task, e) {
					return
				}
				continue
			}
			regs[a] = v

		case OpAwait:
			v := regs[b]
			if aw, ok := vm.heap.GetTask(v); ok {
				switch aw.State {
				case TaskDone:
					regs[a] = aw.result
				case TaskFailed, TaskCancelled:
					if !vm.raise(task, aw.errVal) {
						return
					}
				default:
					aw.awaiters = append(aw.awaiters, task.Self)
					task.State = TaskSuspended
					task.awaitPending = true
					task.awaitDst = a
					return
				}
			} else {
				// Awaiting a plain value yields the value.
				regs[a] = v
			}

		case OpPrint:
			vm.print(vm.heap.Render(regs[a]))

		default:
			if !vm.raiseErr(task, runtimeErr(ErrUnsupportedOperation,
				"bad opcode %#02x", byte(instr.Op()))) {
				return
			}
		}
	}
}

// returnValue pops the current frame and delivers the result.
func (vm *VM) returnValue(task *TaskObject, frame *Frame, result Value) {
	if frame.hasRetOverride {
		result = frame.retOverride
	}
	task.frames = task.frames[:len(task.frames)-1]

	if len(task.frames) == 0 {
		if task == vm.mainTask {
			task.State = TaskDone
			task.result = result
			vm.mainResult = result
			return
		}
		vm.complete(task, result)
		return
	}
	caller := task.frames[len(task.frames)-1]
	caller.regs[frame.dst] = result
}

// constValue materializes a constant pool entry as a value. String
// constants allocate; prototypes and class descriptors are not
// loadable directly.
func (vm *VM) constValue(c Constant) (Value, *RuntimeError) {
	switch c.Kind {
	case ConstInt:
		if FitsSmallInt(c.Int) {
			return NewInt(c.Int), nil
		}
		return NewFloat(float64(c.Int)), nil
	case ConstFloat:
		return NewFloat(c.Float), nil
	case ConstString:
		return vm.heap.AllocString(c.Str), nil
	}
	return None, runtimeErr(ErrUnsupportedOperation, "constant kind %d is not loadable", c.Kind)
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// call dispatches a call instruction. Returns false when the task
// stack unwound completely.
func (vm *VM) call(task *TaskObject, frame *Frame, a uint8, argc int) bool {
	callee := frame.regs[a]
	args := frame.regs[int(a)+1 : int(a)+1+argc]

	obj, ok := vm.heap.Get(callee)
	if !ok {
		return vm.raiseErr(task, runtimeErr(ErrUnsupportedOperation,
			"%s is not callable", vm.heap.TypeName(callee)))
	}

	switch o := obj.(type) {
	case *ClosureObject:
		if o.Proto.IsAsync {
			taskVal, e := vm.spawn(callee, o, args)
			if e != nil {
				return vm.raiseErr(task, e)
			}
			frame.regs[a] = taskVal
			return true
		}
		return vm.callSync(task, callee, o, args, a)

	case *BoundMethodObject:
		full := make([]Value, 0, argc+1)
		full = append(full, o.Receiver)
		full = append(full, args...)
		if cl, ok := vm.heap.GetClosure(o.Method); ok {
			if cl.Proto.IsAsync {
				taskVal, e := vm.spawn(o.Method, cl, full)
				if e != nil {
					return vm.raiseErr(task, e)
				}
				frame.regs[a] = taskVal
				return true
			}
			return vm.callSync(task, o.Method, cl, full, a)
		}
		if nat, ok := vm.heap.GetNative(o.Method); ok {
			return vm.callNative(task, frame, nat, full, a)
		}
		return vm.raiseErr(task, runtimeErr(ErrUnsupportedOperation, "method is not callable"))

	case *NativeObject:
		return vm.callNative(task, frame, o, args, a)

	case *ClassObject:
		return vm.instantiate(task, frame, callee, o, args, a)

	default:
		return vm.raiseErr(task, runtimeErr(ErrUnsupportedOperation,
			"%s is not callable", vm.heap.TypeName(callee)))
	}
}

// callSync pushes a frame for a synchronous closure call.
func (vm *VM) callSync(task *TaskObject, closureVal Value, closure *ClosureObject, args []Value, dst uint8) bool {
	newFrame, e := vm.newFrame(closureVal, closure, args, dst)
	if e != nil {
		return vm.raiseErr(task, e)
	}
	if e := vm.pushFrame(task, newFrame); e != nil {
		return vm.raiseErr(task, e)
	}
	return true
}

// callNative invokes a host function. Its arguments and result are
// pinned for the duration of the call.
func (vm *VM) callNative(task *TaskObject, frame *Frame, nat *NativeObject, args []Value, dst uint8) bool {
	ctx := &NativeCtx{vm: vm}
	pinBase := len(vm.pins)
	vm.pins = append(vm.pins, args...)

	result, err := nat.Fn(ctx, args)
	vm.pins = vm.pins[:pinBase]

	if err != nil {
		if re, ok := err.(*RuntimeError); ok {
			return vm.raiseErr(task, re)
		}
		return vm.raiseErr(task, runtimeErr(ErrRaised, "%s: %s", nat.Name, err.Error()))
	}
	frame.regs[dst] = result
	return true
}

// instantiate creates an instance and runs init when the class
// declares or inherits one.
func (vm *VM) instantiate(task *TaskObject, frame *Frame, classVal Value, class *ClassObject, args []Value, dst uint8) bool {
	instVal := vm.heap.Alloc(&InstanceObject{
		Class:  classVal,
		Fields: make(map[string]Value),
	})

	init, ok := vm.lookupMethod(classVal, "init")
	if !ok {
		if len(args) != 0 {
			return vm.raiseErr(task, runtimeErr(ErrTypeMismatch,
				"%s takes no arguments, got %d", class.Name, len(args)))
		}
		frame.regs[dst] = instVal
		return true
	}

	full := make([]Value, 0, len(args)+1)
	full = append(full, instVal)
	full = append(full, args...)

	cl, ok := vm.heap.GetClosure(init)
	if !ok {
		if nat, ok := vm.heap.GetNative(init); ok {
			if !vm.callNative(task, frame, nat, full, dst) {
				return false
			}
			frame.regs[dst] = instVal
			return true
		}
		return vm.raiseErr(task, runtimeErr(ErrUnsupportedOperation, "init is not callable"))
	}

	initFrame, e := vm.newFrame(init, cl, full, dst)
	if e != nil {
		return vm.raiseErr(task, e)
	}
	initFrame.retOverride = instVal
	initFrame.hasRetOverride = true
	if e := vm.pushFrame(task, initFrame); e != nil {
		return vm.raiseErr(task, e)
	}
	return true
}

// lookupMethod walks the single-inheritance chain for a method.
func (vm *VM) lookupMethod(classVal Value, name string) (Value, bool) {
	for classVal != None {
		class, ok := vm.heap.GetClass(classVal)
		if !ok {
			return None, false
		}
		if m, ok := class.Methods[name]; ok {
			return m, true
		}
		classVal = class.Parent
	}
	return None, false
}

// ---------------------------------------------------------------------------
// Closures and classes
// ---------------------------------------------------------------------------

// makeClosure captures the described upvalues from the defining frame.
func (vm *VM) makeClosure(frame *Frame, proto *Function) Value {
	upvals := make([]Value, len(proto.Upvals))
	for i, desc := range proto.Upvals {
		if desc.InParent {
			upvals[i] = frame.regs[desc.Index]
		} else {
			upvals[i] = frame.closure.Upvals[desc.Index]
		}
	}
	return vm.heap.Alloc(&ClosureObject{Proto: proto, Upvals: upvals})
}

// makeClass builds a class object from its descriptor. When the
// descriptor has a parent, the parent value arrives in parentVal.
func (vm *VM) makeClass(frame *Frame, desc *ClassDesc, parentVal Value) (Value, *RuntimeError) {
	parent := None
	if desc.HasParent {
		if _, ok := vm.heap.GetClass(parentVal); !ok {
			return None, runtimeErr(ErrTypeMismatch,
				"base of class %s is %s, not a class", desc.Name, vm.heap.TypeName(parentVal))
		}
		parent = parentVal

		// Reject a cyclic parent chain before the class is usable.
		seen := make(map[Handle]bool)
		for p := parent; p != None; {
			hd := p.AsHandle()
			if seen[hd] {
				return None, runtimeErr(ErrInheritanceCycle,
					"inheritance cycle through class %s", desc.Name)
			}
			seen[hd] = true
			cls, ok := vm.heap.GetClass(p)
			if !ok {
				break
			}
			p = cls.Parent
		}
	}

	methods := make(map[string]Value, len(desc.Methods))
	class := &ClassObject{Name: desc.Name, Parent: parent, Methods: methods}
	classVal := vm.heap.Alloc(class)
	for _, m := range desc.Methods {
		methods[m.Name] = vm.makeClosure(frame, m.Proto)
	}
	return classVal, nil
}

// ---------------------------------------------------------------------------
// Arithmetic and comparison
// ---------------------------------------------------------------------------

var opSymbols = map[Opcode]string{
	OpAdd:   "+",
	OpSub:   "-",
	OpMul:   "*",
	OpDiv:   "/",
	OpMod:   "%",
	OpPow:   "**",
	OpCmpLt: "<",
	OpCmpLe: "<=",
	OpCmpGt: ">",
	OpCmpGe: ">=",
}

// makeInt boxes an integer, promoting to float outside the small-int
// range.
func makeInt(i int64) Value {
	if FitsSmallInt(i) {
		return NewInt(i)
	}
	return NewFloat(float64(i))
}

// arith executes a binary numeric instruction. Add also concatenates
// strings and lists.
func (vm *VM) arith(op Opcode, lv, rv Value) (Value, *RuntimeError) {
	if lv.IsInt() && rv.IsInt() {
		return vm.intArith(op, lv.AsInt(), rv.AsInt())
	}
	if lv.IsNumber() && rv.IsNumber() {
		return vm.floatArith(op, lv.AsNumber(), rv.AsNumber())
	}

	if op == OpAdd {
		if ls, ok := vm.heap.GetString(lv); ok {
			if rs, ok := vm.heap.GetString(rv); ok {
				return vm.heap.AllocString(ls.Val + rs.Val), nil
			}
		}
		if ll, ok := vm.heap.GetList(lv); ok {
			if rl, ok := vm.heap.GetList(rv); ok {
				items := make([]Value, 0, len(ll.Items)+len(rl.Items))
				items = append(items, ll.Items...)
				items = append(items, rl.Items...)
				return vm.heap.AllocList(items), nil
			}
		}
	}
	return None, typeMismatch(opSymbols[op], vm.heap.TypeName(lv), vm.heap.TypeName(rv))
}

func (vm *VM) intArith(op Opcode, l, r int64) (Value, *RuntimeError) {
	switch op {
	case OpAdd:
		return makeInt(l + r), nil
	case OpSub:
		return makeInt(l - r), nil
	case OpMul:
		p := l * r
		if l != 0 && (p/l != r || !FitsSmallInt(p)) {
			return NewFloat(float64(l) * float64(r)), nil
		}
		return makeInt(p), nil
	case OpDiv:
		if r == 0 {
			return None, runtimeErr(ErrDivisionByZero, "division by zero")
		}
		// Division always produces a float.
		return NewFloat(float64(l) / float64(r)), nil
	case OpMod:
		if r == 0 {
			return None, runtimeErr(ErrDivisionByZero, "modulo by zero")
		}
		// Result takes the sign of the divisor.
		m := l % r
		if m != 0 && (m < 0) != (r < 0) {
			m += r
		}
		return makeInt(m), nil
	case OpPow:
		f := math.Pow(float64(l), float64(r))
		if r >= 0 && f == math.Trunc(f) && math.Abs(f) < 1<<47 {
			return NewInt(int64(f)), nil
		}
		return NewFloat(f), nil
	}
	return None, runtimeErr(ErrUnsupportedOperation, "bad arithmetic opcode")
}

func (vm *VM) floatArith(op Opcode, l, r float64) (Value, *RuntimeError) {
	switch op {
	case OpAdd:
		return NewFloat(l + r), nil
	case OpSub:
		return NewFloat(l - r), nil
	case OpMul:
		return NewFloat(l * r), nil
	case OpDiv:
		if r == 0 {
			return None, runtimeErr(ErrDivisionByZero, "division by zero")
		}
		return NewFloat(l / r), nil
	case OpMod:
		if r == 0 {
			return None, runtimeErr(ErrDivisionByZero, "modulo by zero")
		}
		m := math.Mod(l, r)
		if m != 0 && (m < 0) != (r < 0) {
			m += r
		}
		return NewFloat(m), nil
	case OpPow:
		return NewFloat(math.Pow(l, r)), nil
	}
	return None, runtimeErr(ErrUnsupportedOperation, "bad arithmetic opcode")
}

// compare executes an ordered comparison over numbers or strings.
func (vm *VM) compare(op Opcode, lv, rv Value) (Value, *RuntimeError) {
	if lv.IsNumber() && rv.IsNumber() {
		l, r := lv.AsNumber(), rv.AsNumber()
		switch op {
		case OpCmpLt:
			return NewBool(l < r), nil
		case OpCmpLe:
			return NewBool(l <= r), nil
		case OpCmpGt:
			return NewBool(l > r), nil
		case OpCmpGe:
			return NewBool(l >= r), nil
		}
	}
	if ls, ok := vm.heap.GetString(lv); ok {
		if rs, ok := vm.heap.GetString(rv); ok {
			switch op {
			case OpCmpLt:
				return NewBool(ls.Val < rs.Val), nil
			case OpCmpLe:
				return NewBool(ls.Val <= rs.Val), nil
			case OpCmpGt:
				return NewBool(ls.Val > rs.Val), nil
			case OpCmpGe:
				return NewBool(ls.Val >= rs.Val), nil
			}
		}
	}
	return None, typeMismatch(opSymbols[op], vm.heap.TypeName(lv), vm.heap.TypeName(rv))
}

// ---------------------------------------------------------------------------
// Fields and indexing
// ---------------------------------------------------------------------------

// loadField reads an attribute. Instances check their field table
// first, then the method table along the inheritance chain; methods
// come back bound to the receiver.
func (vm *VM) loadField(receiver Value, name string) (Value, *RuntimeError) {
	obj, ok := vm.heap.Get(receiver)
	if !ok {
		return None, runtimeErr(ErrUnsupportedOperation,
			"%s has no attributes", vm.heap.TypeName(receiver))
	}

	switch o := obj.(type) {
	case *InstanceObject:
		if v, ok := o.Fields[name]; ok {
			return v, nil
		}
		if m, ok := vm.lookupMethod(o.Class, name); ok {
			return vm.heap.Alloc(&BoundMethodObject{Receiver: receiver, Method: m}), nil
		}
		return None, runtimeErr(ErrAttributeError,
			"%s has no attribute %q", vm.heap.TypeName(receiver), name)

	case *ClassObject:
		if m, ok := vm.lookupMethod(receiver, name); ok {
			return m, nil
		}
		return None, runtimeErr(ErrAttributeError,
			"class %s has no attribute %q", o.Name, name)

	case *ErrorObject:
		switch name {
		case "message":
			return vm.heap.AllocString(o.Err.Msg), nil
		case "kind":
			return vm.heap.AllocString(o.Err.Kind.String()), nil
		}
		return None, runtimeErr(ErrAttributeError, "error has no attribute %q", name)

	default:
		return None, runtimeErr(ErrUnsupportedOperation,
			"%s has no attributes", vm.heap.TypeName(receiver))
	}
}

// storeField writes an instance field.
func (vm *VM) storeField(receiver Value, name string, v Value) *RuntimeError {
	if inst, ok := vm.heap.GetInstance(receiver); ok {
		inst.Fields[name] = v
		return nil
	}
	return runtimeErr(ErrUnsupportedOperation,
		"cannot set attribute on %s", vm.heap.TypeName(receiver))
}

// loadIndex reads obj[key] for lists, strings and dicts. Negative
// list and string indices count from the end.
func (vm *VM) loadIndex(container, key Value) (Value, *RuntimeError) {
	obj, ok := vm.heap.Get(container)
	if !ok {
		return None, runtimeErr(ErrUnsupportedOperation,
			"%s is not indexable", vm.heap.TypeName(container))
	}

	switch o := obj.(type) {
	case *ListObject:
		idx, e := vm.seqIndex(key, int64(len(o.Items)))
		if e != nil {
			return None, e
		}
		return o.Items[idx], nil

	case *StringObject:
		idx, e := vm.seqIndex(key, int64(len(o.Val)))
		if e != nil {
			return None, e
		}
		return vm.heap.AllocString(o.Val[idx : idx+1]), nil

	case *DictObject:
		k, ok := vm.heap.makeDictKey(key)
		if !ok {
			return None, runtimeErr(ErrUnsupportedOperation,
				"%s is not hashable", vm.heap.TypeName(key))
		}
		if v, ok := o.get(k); ok {
			return v, nil
		}
		return None, runtimeErr(ErrIndexOutOfRange, "key not found: %s", vm.heap.Render(key))

	default:
		return None, runtimeErr(ErrUnsupportedOperation,
			"%s is not indexable", vm.heap.TypeName(container))
	}
}

// storeIndex writes obj[key] = v for lists and dicts.
func (vm *VM) storeIndex(container, key, v Value) *RuntimeError {
	obj, ok := vm.heap.Get(container)
	if !ok {
		return runtimeErr(ErrUnsupportedOperation,
			"%s does not support item assignment", vm.heap.TypeName(container))
	}

	switch o := obj.(type) {
	case *ListObject:
		idx, e := vm.seqIndex(key, int64(len(o.Items)))
		if e != nil {
			return e
		}
		o.Items[idx] = v
		return nil

	case *DictObject:
		k, ok := vm.heap.makeDictKey(key)
		if !ok {
			return runtimeErr(ErrUnsupportedOperation,
				"%s is not hashable", vm.heap.TypeName(key))
		}
		o.set(k, key, v)
		return nil

	default:
		return runtimeErr(ErrUnsupportedOperation,
			"%s does not support item assignment", vm.heap.TypeName(container))
	}
}

// seqIndex validates an integer index against a sequence length,
// resolving negative indices.
func (vm *VM) seqIndex(key Value, length int64) (int64, *RuntimeError) {
	if !key.IsInt() {
		return 0, runtimeErr(ErrTypeMismatch,
			"index must be an int, got %s", vm.heap.TypeName(key))
	}
	idx := key.AsInt()
	if idx < 0 {
		idx += length
	}
	if idx < 0 || idx >= length {
		return 0, runtimeErr(ErrIndexOutOfRange,
			"index %d out of range for length %d", key.AsInt(), length)
	}
	return idx, nil
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// makeIterator creates a cursor over an iterable value. Dicts iterate
// over their keys in insertion order.
func (vm *VM) makeIterator(v Value) (Value, *RuntimeError) {
	if obj, ok := vm.heap.Get(v); ok {
		switch obj.(type) {
		case *ListObject, *StringObject, *DictObject, *RangeObject:
			return vm.heap.Alloc(&IteratorObject{Source: v}), nil
		}
	}
	return None, runtimeErr(ErrUnsupportedOperation,
		"%s is not iterable", vm.heap.TypeName(v))
}

func (vm *VM) iterHasNext(it *IteratorObject) bool {
	obj, ok := vm.heap.Get(it.Source)
	if !ok {
		return false
	}
	switch o := obj.(type) {
	case *ListObject:
		return it.Pos < int64(len(o.Items))
	case *StringObject:
		return it.Pos < int64(len(o.Val))
	case *DictObject:
		return it.Pos < int64(o.Len())
	case *RangeObject:
		return it.Pos < o.Len()
	}
	return false
}

func (vm *VM) iterNext(it *IteratorObject) (Value, *RuntimeError) {
	obj, ok := vm.heap.Get(it.Source)
	if !ok {
		return None, runtimeErr(ErrUnsupportedOperation, "iterator source is gone")
	}
	pos := it.Pos
	it.Pos++
	switch o := obj.(type) {
	case *ListObject:
		return o.Items[pos], nil
	case *StringObject:
		return vm.heap.AllocString(o.Val[pos : pos+1]), nil
	case *DictObject:
		return o.entries[pos].Key, nil
	case *RangeObject:
		return makeInt(o.Start + pos*o.Step), nil
	}
	return None, runtimeErr(ErrUnsupportedOperation, "bad iterator source")
}
