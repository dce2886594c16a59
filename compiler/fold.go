package compiler

// ---------------------------------------------------------------------------
// Constant folding
// ---------------------------------------------------------------------------

// foldExpr rewrites an expression whose operands are literals into the
// literal it evaluates to. Folding is conservative: anything that
// would raise at runtime (division by zero, type mismatches) is left
// alone so the error surfaces where it belongs.
func foldExpr(e Expr) Expr {
	switch n := e.(type) {
	case *BinaryOp:
		n.Left = foldExpr(n.Left)
		n.Right = foldExpr(n.Right)
		return foldBinary(n)
	case *UnaryOp:
		n.Operand = foldExpr(n.Operand)
		return foldUnary(n)
	}
	return e
}

func foldBinary(n *BinaryOp) Expr {
	// and/or with a decided left side collapses per the
	// short-circuit rule.
	if n.Op == TokenAnd || n.Op == TokenOr {
		if truthy, ok := literalTruth(n.Left); ok {
			if n.Op == TokenAnd {
				if truthy {
					return n.Right
				}
				return n.Left
			}
			if truthy {
				return n.Left
			}
			return n.Right
		}
		return n
	}

	if ls, ok := n.Left.(*StringLiteral); ok {
		if rs, ok := n.Right.(*StringLiteral); ok && n.Op == TokenPlus {
			return &StringLiteral{SpanVal: n.SpanVal, Value: ls.Value + rs.Value}
		}
		return n
	}

	lf, lInt, lok := literalNumber(n.Left)
	rf, rInt, rok := literalNumber(n.Right)
	if !lok || !rok {
		return n
	}

	switch n.Op {
	case TokenEq, TokenNe, TokenLt, TokenLe, TokenGt, TokenGe:
		var res bool
		switch n.Op {
		case TokenEq:
			res = lf == rf
		case TokenNe:
			res = lf != rf
		case TokenLt:
			res = lf < rf
		case TokenLe:
			res = lf <= rf
		case TokenGt:
			res = lf > rf
		case TokenGe:
			res = lf >= rf
		}
		return &BoolLiteral{SpanVal: n.SpanVal, Value: res}
	}

	if lInt != nil && rInt != nil {
		return foldIntArith(n, *lInt, *rInt)
	}

	switch n.Op {
	case TokenPlus:
		return &FloatLiteral{SpanVal: n.SpanVal, Value: lf + rf}
	case TokenMinus:
		return &FloatLiteral{SpanVal: n.SpanVal, Value: lf - rf}
	case TokenStar:
		return &FloatLiteral{SpanVal: n.SpanVal, Value: lf * rf}
	case TokenSlash:
		if rf != 0 {
			return &FloatLiteral{SpanVal: n.SpanVal, Value: lf / rf}
		}
	}
	return n
}

// foldIntArith folds integer + - * / with the runtime's promotion
// rules: division yields a float, overflow is left to the runtime.
func foldIntArith(n *BinaryOp, l, r int64) Expr {
	switch n.Op {
	case TokenPlus:
		s := l + r
		if (s > l) == (r > 0) {
			return &IntLiteral{SpanVal: n.SpanVal, Value: s}
		}
	case TokenMinus:
		d := l - r
		if (d < l) == (r > 0) {
			return &IntLiteral{SpanVal: n.SpanVal, Value: d}
		}
	case TokenStar:
		p := l * r
		if l == 0 || (p/l == r && !(l == -1 && r == minInt64)) {
			return &IntLiteral{SpanVal: n.SpanVal, Value: p}
		}
	case TokenSlash:
		if r != 0 {
			return &FloatLiteral{SpanVal: n.SpanVal, Value: float64(l) / float64(r)}
		}
	}
	return n
}

const minInt64 = -1 << 63

func foldUnary(n *UnaryOp) Expr {
	switch n.Op {
	case TokenMinus:
		switch o := n.Operand.(type) {
		case *IntLiteral:
			if o.Value != minInt64 {
				return &IntLiteral{SpanVal: n.SpanVal, Value: -o.Value}
			}
		case *FloatLiteral:
			return &FloatLiteral{SpanVal: n.SpanVal, Value: -o.Value}
		}
	case TokenNot:
		if truthy, ok := literalTruth(n.Operand); ok {
			return &BoolLiteral{SpanVal: n.SpanVal, Value: !truthy}
		}
	}
	return n
}

// literalNumber extracts a numeric literal as a float plus, for ints,
// the exact integer.
func literalNumber(e Expr) (float64, *int64, bool) {
	switch n := e.(type) {
	case *IntLiteral:
		v := n.Value
		return float64(v), &v, true
	case *FloatLiteral:
		return n.Value, nil, true
	}
	return 0, nil, false
}

// literalTruth reports the truthiness of a literal, when it has one.
func literalTruth(e Expr) (bool, bool) {
	switch n := e.(type) {
	case *NoneLiteral:
		return false, true
	case *BoolLiteral:
		return n.Value, true
	case *IntLiteral, *FloatLiteral, *StringLiteral:
		return true, true
	}
	return false, false
}
