package compiler

import (
	"testing"
)

func tokenTypes(t *testing.T, input string) []TokenType {
	t.Helper()
	toks, err := Tokenize(input)
	if err != nil {
		t.Fatalf("Tokenize(%q): %v", input, err)
	}
	types := make([]TokenType, len(toks))
	for i, tok := range toks {
		types[i] = tok.Type
	}
	return types
}

func TestLexerBasicTokens(t *testing.T) {
	input := `x = 1 + 2.5 * y ** 2`
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenIdentifier, "x"},
		{TokenAssign, "="},
		{TokenInt, "1"},
		{TokenPlus, "+"},
		{TokenFloat, "2.5"},
		{TokenStar, "*"},
		{TokenIdentifier, "y"},
		{TokenStarStar, "**"},
		{TokenInt, "2"},
	}

	toks, err := Tokenize(input)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	for i, exp := range expected {
		if toks[i].Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, toks[i].Type, exp.typ)
		}
		if toks[i].Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, toks[i].Literal, exp.lit)
		}
	}
}

func TestLexerKeywords(t *testing.T) {
	tests := []struct {
		input string
		want  TokenType
	}{
		{"fn", TokenFn},
		{"class", TokenClass},
		{"if", TokenIf},
		{"elif", TokenElif},
		{"else", TokenElse},
		{"while", TokenWhile},
		{"for", TokenFor},
		{"in", TokenIn},
		{"return", TokenReturn},
		{"async", TokenAsync},
		{"await", TokenAwait},
		{"and", TokenAnd},
		{"or", TokenOr},
		{"not", TokenNot},
		{"none", TokenNone},
		{"true", TokenTrue},
		{"false", TokenFalse},
		{"try", TokenTry},
		{"except", TokenExcept},
		{"finally", TokenFinally},
		{"raise", TokenRaise},
		{"pass", TokenPass},
		{"print", TokenPrint},
		{"fnord", TokenIdentifier},
	}
	for _, tc := range tests {
		toks, err := Tokenize(tc.input)
		if err != nil {
			t.Fatalf("Tokenize(%q): %v", tc.input, err)
		}
		if toks[0].Type != tc.want {
			t.Errorf("Tokenize(%q): type = %v, want %v", tc.input, toks[0].Type, tc.want)
		}
	}
}

func TestLexerComparisons(t *testing.T) {
	types := tokenTypes(t, "a == b != c <= d >= e < f > g")
	want := []TokenType{
		TokenIdentifier, TokenEq,
		TokenIdentifier, TokenNe,
		TokenIdentifier, TokenLe,
		TokenIdentifier, TokenGe,
		TokenIdentifier, TokenLt,
		TokenIdentifier, TokenGt,
		TokenIdentifier, TokenEOF,
	}
	if len(types) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(types), len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("token[%d] = %v, want %v", i, types[i], want[i])
		}
	}
}

func TestLexerIndentation(t *testing.T) {
	input := "if x:\n    y = 1\n    z = 2\nw = 3\n"
	types := tokenTypes(t, input)
	want := []TokenType{
		TokenIf, TokenIdentifier, TokenColon, TokenNewline,
		TokenIndent,
		TokenIdentifier, TokenAssign, TokenInt, TokenNewline,
		TokenIdentifier, TokenAssign, TokenInt, TokenNewline,
		TokenDedent,
		TokenIdentifier, TokenAssign, TokenInt, TokenNewline,
		TokenEOF,
	}
	if len(types) != len(want) {
		t.Fatalf("got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("token[%d] = %v, want %v", i, types[i], want[i])
		}
	}
}

func TestLexerNestedDedents(t *testing.T) {
	input := "if a:\n    if b:\n        x = 1\ny = 2\n"
	types := tokenTypes(t, input)

	dedents := 0
	for _, typ := range types {
		if typ == TokenDedent {
			dedents++
		}
	}
	if dedents != 2 {
		t.Errorf("got %d dedents, want 2", dedents)
	}
}

func TestLexerFinalDedentsAtEOF(t *testing.T) {
	// No trailing newline, two open levels.
	input := "if a:\n    if b:\n        x = 1"
	types := tokenTypes(t, input)
	if types[len(types)-1] != TokenEOF {
		t.Fatalf("last token = %v, want EOF", types[len(types)-1])
	}
	dedents := 0
	for _, typ := range types {
		if typ == TokenDedent {
			dedents++
		}
	}
	if dedents != 2 {
		t.Errorf("got %d dedents before EOF, want 2", dedents)
	}
}

func TestLexerBlankLinesIgnored(t *testing.T) {
	input := "if x:\n    a = 1\n\n  \n    # indented comment\n    b = 2\n"
	types := tokenTypes(t, input)
	indents, dedents := 0, 0
	for _, typ := range types {
		switch typ {
		case TokenIndent:
			indents++
		case TokenDedent:
			dedents++
		}
	}
	if indents != 1 || dedents != 1 {
		t.Errorf("indents=%d dedents=%d, want 1 and 1", indents, dedents)
	}
}

func TestLexerBracketsSuppressNewlines(t *testing.T) {
	input := "x = [1,\n     2,\n     3]\n"
	types := tokenTypes(t, input)
	newlines := 0
	for _, typ := range types {
		if typ == TokenNewline {
			newlines++
		}
	}
	if newlines != 1 {
		t.Errorf("got %d newlines, want 1 (only after the closing bracket)", newlines)
	}
}

func TestLexerStrings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`""`, ""},
		{`"a\nb"`, "a\nb"},
		{`"tab\there"`, "tab\there"},
		{`"quote\"inside"`, `quote"inside`},
		{`"back\\slash"`, `back\slash`},
	}
	for _, tc := range tests {
		toks, err := Tokenize(tc.input)
		if err != nil {
			t.Fatalf("Tokenize(%q): %v", tc.input, err)
		}
		if toks[0].Type != TokenString {
			t.Errorf("Tokenize(%q): type = %v, want STRING", tc.input, toks[0].Type)
		}
		if toks[0].Literal != tc.want {
			t.Errorf("Tokenize(%q): literal = %q, want %q", tc.input, toks[0].Literal, tc.want)
		}
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		input string
		code  ErrorCode
	}{
		{`"unterminated`, ErrUnterminatedString},
		{"\"bad\nnewline\"", ErrUnterminatedString},
		{`"bad \q escape"`, ErrUnterminatedString},
		{"x = 1abc", ErrMalformedNumber},
		{"x = $", ErrUnknownChar},
		{"x = 1 ! 2", ErrUnknownChar},
		{"if x:\n\t a = 1", ErrMixedIndentation},
		{"if x:\n    a = 1\n  b = 2", ErrInconsistentIndent},
	}
	for _, tc := range tests {
		_, err := Tokenize(tc.input)
		if err == nil {
			t.Errorf("Tokenize(%q): expected error, got none", tc.input)
			continue
		}
		if err.Code != tc.code {
			t.Errorf("Tokenize(%q): code = %v, want %v", tc.input, err.Code, tc.code)
		}
		if err.Phase != PhaseLex {
			t.Errorf("Tokenize(%q): phase = %v, want lex", tc.input, err.Phase)
		}
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
	}{
		{"42", TokenInt},
		{"0", TokenInt},
		{"3.14", TokenFloat},
		{"1e10", TokenFloat},
		{"2.5e-3", TokenFloat},
	}
	for _, tc := range tests {
		toks, err := Tokenize(tc.input)
		if err != nil {
			t.Fatalf("Tokenize(%q): %v", tc.input, err)
		}
		if toks[0].Type != tc.typ {
			t.Errorf("Tokenize(%q): type = %v, want %v", tc.input, toks[0].Type, tc.typ)
		}
	}
}

func TestLexerAttributeAccessNotFloat(t *testing.T) {
	// A dot followed by a letter is attribute access, not a float.
	types := tokenTypes(t, "x.y")
	want := []TokenType{TokenIdentifier, TokenDot, TokenIdentifier, TokenEOF}
	if len(types) != len(want) {
		t.Fatalf("got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("token[%d] = %v, want %v", i, types[i], want[i])
		}
	}
}

func TestLexerLineNumbers(t *testing.T) {
	toks, err := Tokenize("a = 1\nb = 2\n")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if toks[0].Span.Start.Line != 1 {
		t.Errorf("first token line = %d, want 1", toks[0].Span.Start.Line)
	}
	// Token "b" follows the first newline.
	var bTok *Token
	for i := range toks {
		if toks[i].Literal == "b" {
			bTok = &toks[i]
		}
	}
	if bTok == nil {
		t.Fatal("token b not found")
	}
	if bTok.Span.Start.Line != 2 {
		t.Errorf("token b line = %d, want 2", bTok.Span.Start.Line)
	}
}
