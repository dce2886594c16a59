package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the Hebi lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenNewline
	TokenIndent
	TokenDedent

	// Literals
	TokenInt        // 42
	TokenFloat      // 3.14, 1.5e10
	TokenString     // "hello"
	TokenIdentifier // foo, Bar

	// Keywords
	TokenFn
	TokenClass
	TokenIf
	TokenElif
	TokenElse
	TokenWhile
	TokenFor
	TokenIn
	TokenReturn
	TokenBreak
	TokenContinue
	TokenPass
	TokenPrint
	TokenRaise
	TokenTry
	TokenExcept
	TokenFinally
	TokenAsync
	TokenAwait
	TokenAnd
	TokenOr
	TokenNot
	TokenNone
	TokenTrue
	TokenFalse

	// Operators and delimiters
	TokenPlus     // +
	TokenMinus    // -
	TokenStar     // *
	TokenStarStar // **
	TokenSlash    // /
	TokenPercent  // %
	TokenAssign   // =
	TokenEq       // ==
	TokenNe       // !=
	TokenLt       // <
	TokenLe       // <=
	TokenGt       // >
	TokenGe       // >=
	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenLBrace   // {
	TokenRBrace   // }
	TokenComma    // ,
	TokenColon    // :
	TokenDot      // .
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenNewline:    "NEWLINE",
	TokenIndent:     "INDENT",
	TokenDedent:     "DEDENT",
	TokenInt:        "INT",
	TokenFloat:      "FLOAT",
	TokenString:     "STRING",
	TokenIdentifier: "IDENTIFIER",
	TokenFn:         "fn",
	TokenClass:      "class",
	TokenIf:         "if",
	TokenElif:       "elif",
	TokenElse:       "else",
	TokenWhile:      "while",
	TokenFor:        "for",
	TokenIn:         "in",
	TokenReturn:     "return",
	TokenBreak:      "break",
	TokenContinue:   "continue",
	TokenPass:       "pass",
	TokenPrint:      "print",
	TokenRaise:      "raise",
	TokenTry:        "try",
	TokenExcept:     "except",
	TokenFinally:    "finally",
	TokenAsync:      "async",
	TokenAwait:      "await",
	TokenAnd:        "and",
	TokenOr:         "or",
	TokenNot:        "not",
	TokenNone:       "none",
	TokenTrue:       "true",
	TokenFalse:      "false",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenStarStar:   "**",
	TokenSlash:      "/",
	TokenPercent:    "%",
	TokenAssign:     "=",
	TokenEq:         "==",
	TokenNe:         "!=",
	TokenLt:         "<",
	TokenLe:         "<=",
	TokenGt:         ">",
	TokenGe:         ">=",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenComma:      ",",
	TokenColon:      ":",
	TokenDot:        ".",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string // the raw text (unescaped for strings)
	Span    Span
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF, TokenNewline, TokenIndent, TokenDedent:
		return t.Type.String()
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"fn":       TokenFn,
	"class":    TokenClass,
	"if":       TokenIf,
	"elif":     TokenElif,
	"else":     TokenElse,
	"while":    TokenWhile,
	"for":      TokenFor,
	"in":       TokenIn,
	"return":   TokenReturn,
	"break":    TokenBreak,
	"continue": TokenContinue,
	"pass":     TokenPass,
	"print":    TokenPrint,
	"raise":    TokenRaise,
	"try":      TokenTry,
	"except":   TokenExcept,
	"finally":  TokenFinally,
	"async":    TokenAsync,
	"await":    TokenAwait,
	"and":      TokenAnd,
	"or":       TokenOr,
	"not":      TokenNot,
	"none":     TokenNone,
	"true":     TokenTrue,
	"false":    TokenFalse,
}
