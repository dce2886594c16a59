// Package hebi embeds the hebi scripting language: a small
// Python-flavored language compiled to register bytecode and executed
// on a NaN-boxed VM with a cooperative async scheduler.
package hebi

import (
	"crypto/sha256"
	"io"

	"github.com/hebi-lang/hebi/compiler"
	"github.com/hebi-lang/hebi/vm"
)

// Program is a compiled module, ready to run or serialize.
type Program struct {
	Main       *vm.Function
	SourceHash [32]byte
}

// Compile lexes, parses, resolves and lowers source text. The error,
// when non-nil, is a *compiler.Error carrying the phase, code and
// source span of the first problem.
func Compile(source string) (*Program, error) {
	mod, err := compiler.Parse(source)
	if err != nil {
		return nil, err
	}
	if err := compiler.Resolve(mod); err != nil {
		return nil, err
	}
	fn, err := compiler.Compile(mod)
	if err != nil {
		return nil, err
	}
	return &Program{Main: fn, SourceHash: sha256.Sum256([]byte(source))}, nil
}

// Disassemble renders the program's bytecode, one function per block,
// nested prototypes after their parent.
func (p *Program) Disassemble() string {
	return vm.Disassemble(p.Main)
}

// MarshalBinary encodes the program as a canonical CBOR image.
func (p *Program) MarshalBinary() ([]byte, error) {
	return vm.MarshalImage(p.Main, p.SourceHash)
}

// LoadProgram decodes a program image produced by MarshalBinary.
func LoadProgram(data []byte) (*Program, error) {
	fn, err := vm.UnmarshalImage(data)
	if err != nil {
		return nil, err
	}
	return &Program{Main: fn}, nil
}

// Runtime owns one VM. It is not safe for concurrent use.
type Runtime struct {
	vm *vm.VM
}

// Option configures a Runtime.
type Option func(*[]vm.Option)

// WithOutput redirects print statements.
func WithOutput(w io.Writer) Option {
	return func(opts *[]vm.Option) { *opts = append(*opts, vm.WithOutput(w)) }
}

// WithMaxDepth bounds the call stack of each task.
func WithMaxDepth(n int) Option {
	return func(opts *[]vm.Option) { *opts = append(*opts, vm.WithMaxDepth(n)) }
}

// New creates a Runtime with the builtins installed.
func New(opts ...Option) *Runtime {
	var vmOpts []vm.Option
	for _, opt := range opts {
		opt(&vmOpts)
	}
	return &Runtime{vm: vm.New(vmOpts...)}
}

// Run executes a program to completion, draining every spawned task.
func (r *Runtime) Run(p *Program) (vm.Value, error) {
	v, err := r.vm.Run(p.Main)
	if err != nil {
		return vm.None, err
	}
	return v, nil
}

// RunSource compiles and runs source text in one step.
func (r *Runtime) RunSource(source string) (vm.Value, error) {
	p, err := Compile(source)
	if err != nil {
		return vm.None, err
	}
	return r.Run(p)
}

// RegisterNative binds a host function as a global.
func (r *Runtime) RegisterNative(name string, fn vm.NativeFunc) {
	r.vm.RegisterNative(name, fn)
}

// RegisterClass binds a host-defined class as a global.
func (r *Runtime) RegisterClass(name string, methods map[string]vm.NativeFunc) {
	r.vm.RegisterClass(name, methods)
}

// VM exposes the underlying machine for advanced embedding: globals,
// heap access, task cancellation, forced collection.
func (r *Runtime) VM() *vm.VM {
	return r.vm
}
