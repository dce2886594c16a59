package hebi

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/hebi-lang/hebi/compiler"
	"github.com/hebi-lang/hebi/vm"
)

// run compiles and executes a script, returning everything it printed.
func run(t *testing.T, source string) string {
	t.Helper()
	var out bytes.Buffer
	rt := New(WithOutput(&out))
	if _, err := rt.RunSource(source); err != nil {
		t.Fatalf("script failed: %v", err)
	}
	return out.String()
}

// runErr executes a script expected to fail at runtime.
func runErr(t *testing.T, source string) *vm.RuntimeError {
	t.Helper()
	rt := New(WithOutput(&bytes.Buffer{}))
	_, err := rt.RunSource(source)
	if err == nil {
		t.Fatal("script succeeded, want a runtime error")
	}
	var re *vm.RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("error is %T, want *vm.RuntimeError", err)
	}
	return re
}

func TestPrintArithmetic(t *testing.T) {
	got := run(t, "x = 1\nprint x + 1\n")
	if got != "2\n" {
		t.Errorf("output = %q", got)
	}
}

func TestArithmeticSemantics(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"7 / 2", "3.5"},
		{"6 / 3", "2.0"}, // division always yields a float
		{"7 % 3", "1"},
		{"-7 % 3", "2"},
		{"2 ** 10", "1024"},
		{"2 ** 0.5 > 1.41", "true"},
		{"1 + 2 * 3", "7"},
		{"-(2 ** 2)", "-4"},
		{"\"ab\" + \"cd\"", "abcd"},
		{"not false", "true"},
		{"1 < 2", "true"},
		{"\"a\" < \"b\"", "true"},
		{"1 == 1.0", "true"},
		{"none == none", "true"},
	}
	for _, tc := range tests {
		got := run(t, "print "+tc.expr+"\n")
		if got != tc.want+"\n" {
			t.Errorf("print %s = %q, want %q", tc.expr, strings.TrimSuffix(got, "\n"), tc.want)
		}
	}
}

func TestFib(t *testing.T) {
	src := `
fn fib(n):
    if n < 2:
        return n
    return fib(n - 1) + fib(n - 2)

print fib(10)
`
	if got := run(t, src); got != "55\n" {
		t.Errorf("fib(10) printed %q", got)
	}
}

func TestClosureCounter(t *testing.T) {
	src := `
fn make_counter():
    count = 0
    fn bump():
        count = count + 1
        return count
    return bump

c = make_counter()
c()
c()
print c()

d = make_counter()
print d()
`
	if got := run(t, src); got != "3\n1\n" {
		t.Errorf("output = %q, closures must not share cells across calls", got)
	}
}

func TestFunctionLevelScoping(t *testing.T) {
	// Assigning x inside f makes it a local for the whole function;
	// the global is untouched.
	src := `
x = 10
fn f():
    x = 1
    return x

f()
print x
`
	if got := run(t, src); got != "10\n" {
		t.Errorf("output = %q", got)
	}
}

func TestListOps(t *testing.T) {
	src := `
xs = [1, 2]
append(xs, 3)
print len(xs)
print xs[-1]
print xs + [4]
xs[0] = 9
print xs[0]
`
	want := "3\n3\n[1, 2, 3, 4]\n9\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestDictOps(t *testing.T) {
	src := `
d = {"a": 1, "b": 2}
d["c"] = 3
d["a"] = 9
print d["a"]
print len(d)
for k in d:
    print k
`
	want := "9\n3\na\nb\nc\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, want insertion-ordered keys", got)
	}
}

func TestDictMissingKey(t *testing.T) {
	re := runErr(t, "d = {}\nprint d[\"nope\"]\n")
	if re.Kind != vm.ErrIndexOutOfRange {
		t.Errorf("kind = %v, want IndexOutOfRange", re.Kind)
	}
}

func TestDictUnhashableKeyCaught(t *testing.T) {
	// The second bad key must not raise again after the handler already
	// took over; the whole literal is abandoned on the first one.
	src := `
try:
    x = {[1]: 1, [2]: 2}
except e:
    print "caught"
    print e.kind
print "after"
`
	want := "caught\nUnsupportedOperation\nafter\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestStringOps(t *testing.T) {
	src := `
s = "hello"
print s[1]
print s[-1]
print len(s)
print str(123) + "!"
for ch in "ab":
    print ch
`
	want := "e\no\n5\n123!\na\nb\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestForRange(t *testing.T) {
	src := `
total = 0
for i in range(5):
    total = total + i
print total
for i in range(6, 0, -2):
    print i
`
	want := "10\n6\n4\n2\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestWhileBreakContinue(t *testing.T) {
	src := `
i = 0
while true:
    i = i + 1
    if i == 2:
        continue
    if i > 4:
        break
    print i
`
	want := "1\n3\n4\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestElifChain(t *testing.T) {
	src := `
fn grade(n):
    if n > 89:
        return "a"
    elif n > 79:
        return "b"
    elif n > 69:
        return "c"
    else:
        return "f"

print grade(95) + grade(85) + grade(75) + grade(5)
`
	if got := run(t, src); got != "abcf\n" {
		t.Errorf("output = %q", got)
	}
}

func TestShortCircuitSideEffects(t *testing.T) {
	src := `
fn yes():
    print "called"
    return true

r = false and yes()
print r
r = true or yes()
print r
r = true and yes()
`
	want := "false\ntrue\ncalled\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

// ---------------------------------------------------------------------------
// Errors and unwinding
// ---------------------------------------------------------------------------

func TestTryExceptFinallyOrder(t *testing.T) {
	src := `
try:
    print "body"
    raise "x"
    print "unreached"
except e:
    print "except"
finally:
    print "finally"
print "after"
`
	want := "body\nexcept\nfinally\nafter\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestReturnRunsFinally(t *testing.T) {
	src := `
fn f():
    try:
        return "value"
    finally:
        print "cleanup"

print f()
`
	want := "cleanup\nvalue\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, finally must run before the return lands", got)
	}
}

func TestBreakRunsFinally(t *testing.T) {
	src := `
for i in range(3):
    try:
        if i == 1:
            break
        print i
    finally:
        print "fin"
`
	want := "0\nfin\nfin\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRaisedValueReachesHandler(t *testing.T) {
	src := `
try:
    raise "boom"
except e:
    print e
`
	if got := run(t, src); got != "boom\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRuntimeFaultReachesHandler(t *testing.T) {
	src := `
try:
    x = 1 / 0
except e:
    print e.kind
    print e.message
`
	got := run(t, src)
	if !strings.HasPrefix(got, "DivisionByZero\n") {
		t.Errorf("output = %q", got)
	}
}

func TestHandlerCatchesCalleeRaise(t *testing.T) {
	src := `
fn deep():
    raise "from deep"

try:
    deep()
except e:
    print e
`
	if got := run(t, src); got != "from deep\n" {
		t.Errorf("output = %q", got)
	}
}

func TestUncaughtRaiseFailsRun(t *testing.T) {
	re := runErr(t, "raise \"unhandled\"\n")
	if re.Kind != vm.ErrRaised || re.Msg != "unhandled" {
		t.Errorf("err = %v", re)
	}
}

func TestStackOverflowSurfaces(t *testing.T) {
	re := runErr(t, "fn f():\n    return f()\nf()\n")
	if re.Kind != vm.ErrStackOverflow {
		t.Errorf("kind = %v, want StackOverflow", re.Kind)
	}
}

func TestMaxDepthOption(t *testing.T) {
	src := `
fn down(n):
    if n == 0:
        return 0
    return down(n - 1)

print down(20)
`
	rt := New(WithOutput(&bytes.Buffer{}), WithMaxDepth(10))
	if _, err := rt.RunSource(src); err == nil {
		t.Error("recursion deeper than the configured limit succeeded")
	}
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

func TestClassDispatch(t *testing.T) {
	src := `
class Shape:
    fn init(self, name):
        self.name = name

    fn area(self):
        return 0

    fn describe(self):
        return self.name + ":" + str(self.area())

class Rect(Shape):
    fn init(self, w, h):
        self.name = "rect"
        self.w = w
        self.h = h

    fn area(self):
        return self.w * self.h

print Shape("blob").describe()
print Rect(3, 4).describe()
`
	want := "blob:0\nrect:12\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, overridden methods must win", got)
	}
}

func TestInheritedMethodLookup(t *testing.T) {
	src := `
class A:
    fn who(self):
        return "a"

class B(A):
    pass

class C(B):
    pass

print C().who()
`
	if got := run(t, src); got != "a\n" {
		t.Errorf("output = %q, lookup must walk the parent chain", got)
	}
}

func TestBoundMethodValue(t *testing.T) {
	src := `
class Greeter:
    fn init(self, name):
        self.name = name

    fn greet(self):
        return "hi " + self.name

g = Greeter("ana")
m = g.greet
print m()
`
	if got := run(t, src); got != "hi ana\n" {
		t.Errorf("output = %q, methods must stay bound to their receiver", got)
	}
}

// ---------------------------------------------------------------------------
// Async
// ---------------------------------------------------------------------------

func TestAsyncAwait(t *testing.T) {
	src := `
async fn worker(items):
    total = 0
    for x in items:
        total = total + x
    return total

async fn main():
    a = worker([1, 2, 3])
    b = worker([10, 20, 30])
    print await a + await b

main()
print "scheduled"
`
	want := "scheduled\n66\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, tasks must run after the module returns", got)
	}
}

func TestAwaitErrorCaught(t *testing.T) {
	src := `
async fn bad():
    raise "task error"

async fn main():
    t = bad()
    try:
        await t
    except e:
        print "caught " + e

main()
`
	if got := run(t, src); got != "caught task error\n" {
		t.Errorf("output = %q", got)
	}
}

func TestUnawaitedFailureDoesNotKillRun(t *testing.T) {
	src := `
async fn bad():
    raise "ignored"

bad()
print "done"
`
	if got := run(t, src); got != "done\n" {
		t.Errorf("output = %q, an unawaited failure must not be fatal", got)
	}
}

func TestAwaitNonTaskYieldsValue(t *testing.T) {
	src := `
async fn main():
    print await 5

main()
`
	if got := run(t, src); got != "5\n" {
		t.Errorf("output = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Compile errors
// ---------------------------------------------------------------------------

func TestCompileErrorPhases(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		phase compiler.Phase
	}{
		{"unterminated string", "x = \"abc\n", compiler.PhaseLex},
		{"bad assign target", "1 = 2\n", compiler.PhaseParse},
		{"empty block", "if true:\nx = 1\n", compiler.PhaseParse},
		{"await outside async", "fn f():\n    return await 1\n", compiler.PhaseResolve},
		{"duplicate param", "fn f(a, a):\n    return a\n", compiler.PhaseResolve},
		{"return at top level", "return 1\n", compiler.PhaseCompile},
		{"break outside loop", "break\n", compiler.PhaseCompile},
	}
	for _, tc := range tests {
		_, err := Compile(tc.src)
		if err == nil {
			t.Errorf("%s: compiled successfully", tc.name)
			continue
		}
		var ce *compiler.Error
		if !errors.As(err, &ce) {
			t.Errorf("%s: error is %T", tc.name, err)
			continue
		}
		if ce.Phase != tc.phase {
			t.Errorf("%s: phase = %v, want %v", tc.name, ce.Phase, tc.phase)
		}
	}
}

// ---------------------------------------------------------------------------
// Host embedding
// ---------------------------------------------------------------------------

func TestRegisterNative(t *testing.T) {
	var out bytes.Buffer
	rt := New(WithOutput(&out))
	rt.RegisterNative("shout", func(ctx *vm.NativeCtx, args []vm.Value) (vm.Value, error) {
		s, ok := ctx.Heap().GetString(args[0])
		if !ok {
			return vm.None, ctx.Errorf(vm.ErrTypeMismatch, "shout expects a string")
		}
		return ctx.NewString(strings.ToUpper(s.Val)), nil
	})
	if _, err := rt.RunSource("print shout(\"hey\")\n"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "HEY\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRegisterClass(t *testing.T) {
	var out bytes.Buffer
	rt := New(WithOutput(&out))
	rt.RegisterClass("Box", map[string]vm.NativeFunc{
		"init": func(ctx *vm.NativeCtx, args []vm.Value) (vm.Value, error) {
			inst, _ := ctx.Heap().GetInstance(args[0])
			inst.Fields["v"] = args[1]
			return vm.None, nil
		},
		"get": func(ctx *vm.NativeCtx, args []vm.Value) (vm.Value, error) {
			inst, _ := ctx.Heap().GetInstance(args[0])
			return inst.Fields["v"], nil
		},
	})
	if _, err := rt.RunSource("b = Box(7)\nprint b.get()\n"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "7\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRuntimeUsableAfterError(t *testing.T) {
	var out bytes.Buffer
	rt := New(WithOutput(&out))
	if _, err := rt.RunSource("x = 10\nraise \"first\"\n"); err == nil {
		t.Fatal("first run should fail")
	}
	// The instance survives a failed run: globals set before the raise
	// are intact and new programs execute normally.
	if _, err := rt.RunSource("print x + 1\n"); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if out.String() != "11\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestGlobalsVisibleToHost(t *testing.T) {
	rt := New(WithOutput(&bytes.Buffer{}))
	if _, err := rt.RunSource("answer = 42\n"); err != nil {
		t.Fatal(err)
	}
	v, ok := rt.VM().Global("answer")
	if !ok || v != vm.NewInt(42) {
		t.Errorf("answer = %v, %v", v, ok)
	}
}

// ---------------------------------------------------------------------------
// Images
// ---------------------------------------------------------------------------

func TestImageRoundTripRuns(t *testing.T) {
	p, err := Compile("fn f(n):\n    return n * 2\nprint f(21)\n")
	if err != nil {
		t.Fatal(err)
	}
	data, err := p.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadProgram(data)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rt := New(WithOutput(&out))
	if _, err := rt.Run(loaded); err != nil {
		t.Fatal(err)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestDisassembleProgram(t *testing.T) {
	p, err := Compile("fn f(a, b):\n    return a + b\nprint f(1, 2)\n")
	if err != nil {
		t.Fatal(err)
	}
	text := p.Disassemble()
	for _, want := range []string{"function main:", "function f: params=2", "add", "print"} {
		if !strings.Contains(text, want) {
			t.Errorf("disassembly lacks %q:\n%s", want, text)
		}
	}
}

// ---------------------------------------------------------------------------
// Folding equivalence
// ---------------------------------------------------------------------------

func TestFoldedAndUnfoldedAgree(t *testing.T) {
	// The folder must never change what a script prints.
	tests := []struct {
		folded, dynamic string
	}{
		{"print 2 * 3 + 1\n", "a = 2\nprint a * 3 + 1\n"},
		{"print \"x\" + \"y\"\n", "a = \"x\"\nprint a + \"y\"\n"},
		{"print 7 / 2\n", "a = 7\nprint a / 2\n"},
		{"print 1 < 2 and 3 > 2\n", "a = 1\nprint a < 2 and 3 > 2\n"},
	}
	for _, tc := range tests {
		if f, d := run(t, tc.folded), run(t, tc.dynamic); f != d {
			t.Errorf("folded %q printed %q, dynamic printed %q", tc.folded, f, d)
		}
	}
}

func TestDivideByZeroNotFoldedAway(t *testing.T) {
	// 1/0 must stay a runtime error, not a compile-time one.
	p, err := Compile("x = 1 / 0\n")
	if err != nil {
		t.Fatalf("constant division by zero rejected at compile time: %v", err)
	}
	rt := New(WithOutput(&bytes.Buffer{}))
	if _, err := rt.Run(p); err == nil {
		t.Error("division by zero succeeded at runtime")
	}
}
