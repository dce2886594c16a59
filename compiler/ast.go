package compiler

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Hebi
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// MakeSpan creates a span from start and end positions.
func MakeSpan(start, end Position) Span {
	return Span{Start: start, End: end}
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Bindings (filled in by the resolver)
// ---------------------------------------------------------------------------

// BindKind classifies how an identifier reference resolves.
type BindKind int

const (
	BindUnresolved BindKind = iota
	BindLocal               // slot index in the current frame
	BindUpvalue             // index into the function's upvalue list
	BindGlobal              // late-bound by name against the global table
)

func (k BindKind) String() string {
	switch k {
	case BindLocal:
		return "local"
	case BindUpvalue:
		return "upvalue"
	case BindGlobal:
		return "global"
	}
	return "unresolved"
}

// Binding records the resolver's decision for one identifier occurrence.
type Binding struct {
	Kind BindKind
	Slot int // local slot or upvalue index; unused for globals
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// NoneLiteral represents the 'none' literal.
type NoneLiteral struct {
	SpanVal Span
}

func (n *NoneLiteral) Span() Span { return n.SpanVal }
func (n *NoneLiteral) node()      {}
func (n *NoneLiteral) expr()      {}

// BoolLiteral represents 'true' or 'false'.
type BoolLiteral struct {
	SpanVal Span
	Value   bool
}

func (n *BoolLiteral) Span() Span { return n.SpanVal }
func (n *BoolLiteral) node()      {}
func (n *BoolLiteral) expr()      {}

// IntLiteral represents an integer literal.
type IntLiteral struct {
	SpanVal Span
	Value   int64
}

func (n *IntLiteral) Span() Span { return n.SpanVal }
func (n *IntLiteral) node()      {}
func (n *IntLiteral) expr()      {}

// FloatLiteral represents a floating-point literal.
type FloatLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *FloatLiteral) Span() Span { return n.SpanVal }
func (n *FloatLiteral) node()      {}
func (n *FloatLiteral) expr()      {}

// StringLiteral represents a string literal (escapes already processed).
type StringLiteral struct {
	SpanVal Span
	Value   string
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// ListLiteral represents a list literal [a, b, c].
type ListLiteral struct {
	SpanVal  Span
	Elements []Expr
}

func (n *ListLiteral) Span() Span { return n.SpanVal }
func (n *ListLiteral) node()      {}
func (n *ListLiteral) expr()      {}

// DictLiteral represents a dict literal {k: v, ...}.
type DictLiteral struct {
	SpanVal Span
	Keys    []Expr
	Values  []Expr
}

func (n *DictLiteral) Span() Span { return n.SpanVal }
func (n *DictLiteral) node()      {}
func (n *DictLiteral) expr()      {}

// Identifier represents a variable reference. Bind is set by the resolver.
type Identifier struct {
	SpanVal Span
	Name    string
	Bind    Binding
}

func (n *Identifier) Span() Span { return n.SpanVal }
func (n *Identifier) node()      {}
func (n *Identifier) expr()      {}

// BinaryOp represents a binary operation (arithmetic, comparison, and/or).
type BinaryOp struct {
	SpanVal Span
	Op      TokenType
	Left    Expr
	Right   Expr
}

func (n *BinaryOp) Span() Span { return n.SpanVal }
func (n *BinaryOp) node()      {}
func (n *BinaryOp) expr()      {}

// UnaryOp represents a unary operation (-x, not x).
type UnaryOp struct {
	SpanVal Span
	Op      TokenType
	Operand Expr
}

func (n *UnaryOp) Span() Span { return n.SpanVal }
func (n *UnaryOp) node()      {}
func (n *UnaryOp) expr()      {}

// Call represents a function or class call f(a, b).
type Call struct {
	SpanVal Span
	Callee  Expr
	Args    []Expr
}

func (n *Call) Span() Span { return n.SpanVal }
func (n *Call) node()      {}
func (n *Call) expr()      {}

// Index represents a subscript a[b].
type Index struct {
	SpanVal Span
	Object  Expr
	Key     Expr
}

func (n *Index) Span() Span { return n.SpanVal }
func (n *Index) node()      {}
func (n *Index) expr()      {}

// Attribute represents an attribute access a.b.
type Attribute struct {
	SpanVal Span
	Object  Expr
	Name    string
}

func (n *Attribute) Span() Span { return n.SpanVal }
func (n *Attribute) node()      {}
func (n *Attribute) expr()      {}

// Await represents 'await e' inside an async function.
type Await struct {
	SpanVal Span
	Operand Expr
}

func (n *Await) Span() Span { return n.SpanVal }
func (n *Await) node()      {}
func (n *Await) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// ExprStmt is an expression used as a statement.
type ExprStmt struct {
	SpanVal Span
	Expr    Expr
}

func (n *ExprStmt) Span() Span { return n.SpanVal }
func (n *ExprStmt) node()      {}
func (n *ExprStmt) stmt()      {}

// Assign represents an assignment. Target is an Identifier, Index, or
// Attribute; anything else is rejected at compile time.
type Assign struct {
	SpanVal Span
	Target  Expr
	Value   Expr
}

func (n *Assign) Span() Span { return n.SpanVal }
func (n *Assign) node()      {}
func (n *Assign) stmt()      {}

// If represents an if/elif/else chain. Elifs are desugared by the parser
// into nested If nodes in Else.
type If struct {
	SpanVal Span
	Cond    Expr
	Then    []Stmt
	Else    []Stmt // nil when absent
}

func (n *If) Span() Span { return n.SpanVal }
func (n *If) node()      {}
func (n *If) stmt()      {}

// While represents a while loop.
type While struct {
	SpanVal Span
	Cond    Expr
	Body    []Stmt
}

func (n *While) Span() Span { return n.SpanVal }
func (n *While) node()      {}
func (n *While) stmt()      {}

// For represents 'for NAME in e:'. Var is resolved like an assignment
// to a local (or global at top level).
type For struct {
	SpanVal Span
	Var     *Identifier
	Iter    Expr
	Body    []Stmt
}

func (n *For) Span() Span { return n.SpanVal }
func (n *For) node()      {}
func (n *For) stmt()      {}

// FunctionDef represents 'fn name(params):' or 'async fn name(params):'.
// Scope is attached by the resolver.
type FunctionDef struct {
	SpanVal Span
	Name    string
	Params  []string
	Body    []Stmt
	IsAsync bool

	// Name binding for the definition site (local slot or global),
	// set by the resolver.
	Bind  Binding
	Scope *FuncScope
}

func (n *FunctionDef) Span() Span { return n.SpanVal }
func (n *FunctionDef) node()      {}
func (n *FunctionDef) stmt()      {}

// ClassDef represents 'class Name:' or 'class Name(Base):'.
type ClassDef struct {
	SpanVal Span
	Name    string
	Base    *Identifier // nil when absent
	Methods []*FunctionDef

	Bind Binding
}

func (n *ClassDef) Span() Span { return n.SpanVal }
func (n *ClassDef) node()      {}
func (n *ClassDef) stmt()      {}

// Return represents a return statement.
type Return struct {
	SpanVal Span
	Value   Expr // nil for bare 'return'
}

func (n *Return) Span() Span { return n.SpanVal }
func (n *Return) node()      {}
func (n *Return) stmt()      {}

// Break represents a break statement.
type Break struct {
	SpanVal Span
}

func (n *Break) Span() Span { return n.SpanVal }
func (n *Break) node()      {}
func (n *Break) stmt()      {}

// Continue represents a continue statement.
type Continue struct {
	SpanVal Span
}

func (n *Continue) Span() Span { return n.SpanVal }
func (n *Continue) node()      {}
func (n *Continue) stmt()      {}

// Pass represents a pass statement.
type Pass struct {
	SpanVal Span
}

func (n *Pass) Span() Span { return n.SpanVal }
func (n *Pass) node()      {}
func (n *Pass) stmt()      {}

// Print represents 'print e'.
type Print struct {
	SpanVal Span
	Value   Expr
}

func (n *Print) Span() Span { return n.SpanVal }
func (n *Print) node()      {}
func (n *Print) stmt()      {}

// Raise represents 'raise e'.
type Raise struct {
	SpanVal Span
	Value   Expr
}

func (n *Raise) Span() Span { return n.SpanVal }
func (n *Raise) node()      {}
func (n *Raise) stmt()      {}

// Try represents try/except/finally. At least one of Except/Finally
// is present. ErrName may be empty for a bare 'except:'.
type Try struct {
	SpanVal Span
	Body    []Stmt
	Except  []Stmt // nil when no except clause
	ErrName string
	ErrBind Binding // binding for ErrName, set by the resolver
	Finally []Stmt // nil when no finally clause
}

func (n *Try) Span() Span { return n.SpanVal }
func (n *Try) node()      {}
func (n *Try) stmt()      {}

// ---------------------------------------------------------------------------
// Top-level structure
// ---------------------------------------------------------------------------

// Module represents a parsed source file. Scope covers the top-level
// statements and is attached by the resolver.
type Module struct {
	SpanVal Span
	Body    []Stmt
	Scope   *FuncScope
}

func (n *Module) Span() Span { return n.SpanVal }
func (n *Module) node()      {}
