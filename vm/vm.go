package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: Execution engine
// ---------------------------------------------------------------------------

var vmLog = commonlog.GetLogger("hebi.vm")

const defaultMaxDepth = 256

// VM executes compiled functions over a private heap. It is not safe
// for concurrent use; tasks interleave cooperatively on one goroutine.
type VM struct {
	heap    *Heap
	globals map[string]Value
	ready   []Value // FIFO run queue of task values
	pins    []Value // host-held roots, survive collection

	out      io.Writer
	maxDepth int

	mainTask   *TaskObject
	mainVal    Value
	mainResult Value
	mainErr    *RuntimeError
	currentVal Value // task being executed, for GC rooting
}

// Option configures a VM.
type Option func(*VM)

// WithOutput redirects print statements.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithMaxDepth bounds the call stack of each task.
func WithMaxDepth(n int) Option {
	return func(vm *VM) { vm.maxDepth = n }
}

// New creates a VM with an empty heap and the builtin globals
// installed.
func New(opts ...Option) *VM {
	vm := &VM{
		heap:       NewHeap(),
		globals:    make(map[string]Value),
		out:        os.Stdout,
		maxDepth:   defaultMaxDepth,
		mainVal:    None,
		mainResult: None,
		currentVal: None,
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.installBuiltins()
	return vm
}

// Heap exposes the VM's heap.
func (vm *VM) Heap() *Heap {
	return vm.heap
}

// Global reads a global by name.
func (vm *VM) Global(name string) (Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// SetGlobal binds a global by name.
func (vm *VM) SetGlobal(name string, v Value) {
	vm.globals[name] = v
}

// RegisterNative binds a host function as a global.
func (vm *VM) RegisterNative(name string, fn NativeFunc) {
	vm.globals[name] = vm.heap.Alloc(&NativeObject{Name: name, Fn: fn})
}

// RegisterClass binds a host-defined class as a global. Its methods
// are native functions receiving the instance as their first argument;
// an "init" method, when present, runs at instantiation.
func (vm *VM) RegisterClass(name string, methods map[string]NativeFunc) {
	classMethods := make(map[string]Value, len(methods))
	class := &ClassObject{Name: name, Parent: None, Methods: classMethods}
	classVal := vm.heap.Alloc(class)
	for mname, fn := range methods {
		classMethods[mname] = vm.heap.Alloc(&NativeObject{
			Name: name + "." + mname,
			Fn:   fn,
		})
	}
	vm.globals[name] = classVal
}

// Run executes a compiled module function as the main task, then
// drains the scheduler until every spawned task has settled. The
// result is the module's return value.
func (vm *VM) Run(fn *Function) (Value, *RuntimeError) {
	closure := &ClosureObject{Proto: fn}
	closureVal := vm.heap.Alloc(closure)

	frame, err := vm.newFrame(closureVal, closure, nil, 0)
	if err != nil {
		return None, err
	}

	task := &TaskObject{State: TaskRunning, frames: []*Frame{frame}}
	taskVal := vm.heap.Alloc(task)
	task.Self = taskVal
	task.result = None
	task.errVal = None
	task.resumeValue = None
	task.resumeErr = None

	vm.mainTask = task
	vm.mainVal = taskVal
	vm.mainResult = None
	vm.mainErr = nil

	vmLog.Debugf("running %s", fn.Name)
	vm.runTask(taskVal, task)
	vm.drain()

	if vm.mainErr != nil {
		return None, vm.mainErr
	}
	switch task.State {
	case TaskDone:
		return task.result, nil
	case TaskFailed, TaskCancelled:
		return None, vm.asRuntimeError(task.errVal)
	}
	// The queue is empty but the main task never settled: every
	// runnable task is awaiting one that cannot complete.
	return None, runtimeErr(ErrUnsupportedOperation, "all tasks are blocked")
}

// Spawn starts an async closure from the host and returns its task
// value. The task runs when Drain is called.
func (vm *VM) Spawn(closureVal Value) (Value, *RuntimeError) {
	closure, ok := vm.heap.GetClosure(closureVal)
	if !ok || !closure.Proto.IsAsync {
		return None, runtimeErr(ErrTypeMismatch, "Spawn needs an async function")
	}
	return vm.spawn(closureVal, closure, nil)
}

// Drain runs ready tasks until the queue empties.
func (vm *VM) Drain() {
	vm.drain()
}

// print writes one rendered value and a newline.
func (vm *VM) print(s string) {
	fmt.Fprintln(vm.out, s)
}

// ---------------------------------------------------------------------------
// Garbage collection roots
// ---------------------------------------------------------------------------

// collect runs a full mark and sweep over everything the VM can still
// reach: globals, the run queue, host pins and the active tasks.
func (vm *VM) collect() int {
	return vm.heap.Collect(func(visit func(Value)) {
		for _, v := range vm.globals {
			visit(v)
		}
		for _, v := range vm.ready {
			visit(v)
		}
		for _, v := range vm.pins {
			visit(v)
		}
		visit(vm.mainVal)
		visit(vm.mainResult)
		visit(vm.currentVal)
	})
}

// Collect forces a collection; the return is the number of objects
// freed.
func (vm *VM) Collect() int {
	return vm.collect()
}

// ---------------------------------------------------------------------------
// NativeCtx: Host callback surface
// ---------------------------------------------------------------------------

// NativeCtx is handed to native functions for the duration of one
// call. Values it allocates are pinned until the call returns, so a
// collection triggered later in the call cannot reclaim them.
type NativeCtx struct {
	vm *VM
}

// Pin roots a value for the remainder of the native call.
func (c *NativeCtx) Pin(v Value) Value {
	c.vm.pins = append(c.vm.pins, v)
	return v
}

// NewString allocates a pinned string value.
func (c *NativeCtx) NewString(s string) Value {
	return c.Pin(c.vm.heap.AllocString(s))
}

// NewList allocates a pinned list value.
func (c *NativeCtx) NewList(items []Value) Value {
	return c.Pin(c.vm.heap.AllocList(items))
}

// NewDict allocates a pinned empty dict value.
func (c *NativeCtx) NewDict() Value {
	return c.Pin(c.vm.heap.AllocDict())
}

// DictSet writes a key into a dict value.
func (c *NativeCtx) DictSet(dictVal, key, val Value) error {
	dict, ok := c.vm.heap.GetDict(dictVal)
	if !ok {
		return runtimeErr(ErrTypeMismatch, "not a dict: %s", c.vm.heap.TypeName(dictVal))
	}
	k, ok := c.vm.heap.makeDictKey(key)
	if !ok {
		return runtimeErr(ErrUnsupportedOperation, "%s is not hashable", c.vm.heap.TypeName(key))
	}
	dict.set(k, key, val)
	return nil
}

// Render formats a value the way print does.
func (c *NativeCtx) Render(v Value) string {
	return c.vm.heap.Render(v)
}

// TypeName names a value's runtime type.
func (c *NativeCtx) TypeName(v Value) string {
	return c.vm.heap.TypeName(v)
}

// Heap exposes the VM heap to natives that need typed access.
func (c *NativeCtx) Heap() *Heap {
	return c.vm.heap
}

// Errorf builds a runtime error a native can return to raise.
func (c *NativeCtx) Errorf(kind ErrKind, format string, args ...interface{}) error {
	return runtimeErr(kind, format, args...)
}
