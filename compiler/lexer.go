package compiler

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer with significant indentation
// ---------------------------------------------------------------------------

// Lexer tokenizes Hebi source code. Indentation is significant: at the
// start of each logical line the lexer compares the leading whitespace
// against an indentation stack and synthesizes Indent and Dedent tokens.
// Newlines inside parentheses, brackets and braces are ignored.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // current line (1-based)
	col     int  // current column (1-based)

	indents     []int   // indentation stack, always starts with 0
	pending     []Token // queued synthetic tokens (Indent/Dedent/Newline)
	atLineStart bool    // next token starts a logical line
	brackets    int     // nesting depth of ( [ {
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input:       input,
		line:        1,
		col:         1,
		indents:     []int{0},
		atLineStart: true,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = l.readPos
	} else {
		r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
		l.ch = r
		l.pos = l.readPos
		l.readPos += size

		if r == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
	}
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

// spanFrom builds a span from start to the current position.
func (l *Lexer) spanFrom(start Position) Span {
	return Span{Start: start, End: l.position()}
}

// NextToken returns the next token, or a lex error.
func (l *Lexer) NextToken() (Token, *Error) {
	if len(l.pending) > 0 {
		tok := l.pending[0]
		l.pending = l.pending[1:]
		return tok, nil
	}

	if l.atLineStart && l.brackets == 0 {
		if err := l.handleIndentation(); err != nil {
			return Token{}, err
		}
		if len(l.pending) > 0 {
			tok := l.pending[0]
			l.pending = l.pending[1:]
			return tok, nil
		}
	}

	l.skipSpacesAndComments()

	pos := l.position()

	switch {
	case l.ch == 0:
		l.emitFinalDedents(pos)
		if len(l.pending) > 0 {
			tok := l.pending[0]
			l.pending = l.pending[1:]
			return tok, nil
		}
		return Token{Type: TokenEOF, Span: Span{Start: pos, End: pos}}, nil

	case l.ch == '\n':
		l.readChar()
		if l.brackets > 0 {
			return l.NextToken()
		}
		l.atLineStart = true
		return Token{Type: TokenNewline, Literal: "\n", Span: l.spanFrom(pos)}, nil

	case l.ch == '(':
		l.brackets++
		l.readChar()
		return Token{Type: TokenLParen, Literal: "(", Span: l.spanFrom(pos)}, nil

	case l.ch == ')':
		if l.brackets > 0 {
			l.brackets--
		}
		l.readChar()
		return Token{Type: TokenRParen, Literal: ")", Span: l.spanFrom(pos)}, nil

	case l.ch == '[':
		l.brackets++
		l.readChar()
		return Token{Type: TokenLBracket, Literal: "[", Span: l.spanFrom(pos)}, nil

	case l.ch == ']':
		if l.brackets > 0 {
			l.brackets--
		}
		l.readChar()
		return Token{Type: TokenRBracket, Literal: "]", Span: l.spanFrom(pos)}, nil

	case l.ch == '{':
		l.brackets++
		l.readChar()
		return Token{Type: TokenLBrace, Literal: "{", Span: l.spanFrom(pos)}, nil

	case l.ch == '}':
		if l.brackets > 0 {
			l.brackets--
		}
		l.readChar()
		return Token{Type: TokenRBrace, Literal: "}", Span: l.spanFrom(pos)}, nil

	case l.ch == ',':
		l.readChar()
		return Token{Type: TokenComma, Literal: ",", Span: l.spanFrom(pos)}, nil

	case l.ch == ':':
		l.readChar()
		return Token{Type: TokenColon, Literal: ":", Span: l.spanFrom(pos)}, nil

	case l.ch == '.':
		l.readChar()
		return Token{Type: TokenDot, Literal: ".", Span: l.spanFrom(pos)}, nil

	case l.ch == '+':
		l.readChar()
		return Token{Type: TokenPlus, Literal: "+", Span: l.spanFrom(pos)}, nil

	case l.ch == '-':
		l.readChar()
		return Token{Type: TokenMinus, Literal: "-", Span: l.spanFrom(pos)}, nil

	case l.ch == '*':
		l.readChar()
		if l.ch == '*' {
			l.readChar()
			return Token{Type: TokenStarStar, Literal: "**", Span: l.spanFrom(pos)}, nil
		}
		return Token{Type: TokenStar, Literal: "*", Span: l.spanFrom(pos)}, nil

	case l.ch == '/':
		l.readChar()
		return Token{Type: TokenSlash, Literal: "/", Span: l.spanFrom(pos)}, nil

	case l.ch == '%':
		l.readChar()
		return Token{Type: TokenPercent, Literal: "%", Span: l.spanFrom(pos)}, nil

	case l.ch == '=':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TokenEq, Literal: "==", Span: l.spanFrom(pos)}, nil
		}
		return Token{Type: TokenAssign, Literal: "=", Span: l.spanFrom(pos)}, nil

	case l.ch == '!':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return Token{Type: TokenNe, Literal: "!=", Span: l.spanFrom(pos)}, nil
		}
		l.readChar()
		return Token{}, lexError(ErrUnknownChar, l.spanFrom(pos), "unexpected character '!'")

	case l.ch == '<':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TokenLe, Literal: "<=", Span: l.spanFrom(pos)}, nil
		}
		return Token{Type: TokenLt, Literal: "<", Span: l.spanFrom(pos)}, nil

	case l.ch == '>':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TokenGe, Literal: ">=", Span: l.spanFrom(pos)}, nil
		}
		return Token{Type: TokenGt, Literal: ">", Span: l.spanFrom(pos)}, nil

	case l.ch == '"':
		return l.readString(pos)

	case isDigit(l.ch):
		return l.readNumber(pos)

	case isLetter(l.ch) || l.ch == '_':
		return l.readIdentifierOrKeyword(pos), nil

	default:
		ch := l.ch
		l.readChar()
		return Token{}, lexError(ErrUnknownChar, l.spanFrom(pos), "unexpected character %q", ch)
	}
}

// handleIndentation measures the leading whitespace of the next logical
// line and queues Indent/Dedent tokens. Blank and comment-only lines are
// consumed without producing tokens.
func (l *Lexer) handleIndentation() *Error {
	for {
		start := l.position()
		width, err := l.measureIndent(start)
		if err != nil {
			return err
		}

		// Blank or comment-only line: consume it and measure again.
		if l.ch == '#' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		}
		if l.ch == '\n' {
			l.readChar()
			continue
		}
		if l.ch == 0 {
			l.atLineStart = false
			return nil
		}

		l.atLineStart = false
		span := l.spanFrom(start)
		current := l.indents[len(l.indents)-1]

		switch {
		case width > current:
			l.indents = append(l.indents, width)
			l.pending = append(l.pending, Token{Type: TokenIndent, Span: span})

		case width < current:
			for len(l.indents) > 1 && l.indents[len(l.indents)-1] > width {
				l.indents = l.indents[:len(l.indents)-1]
				l.pending = append(l.pending, Token{Type: TokenDedent, Span: span})
			}
			if l.indents[len(l.indents)-1] != width {
				return lexError(ErrInconsistentIndent, span,
					"dedent to column %d does not match any enclosing indentation level", width+1)
			}
		}
		return nil
	}
}

// measureIndent consumes leading spaces and tabs and returns the indent
// width in characters. A line's indentation must be all spaces or all
// tabs; mixing them is an error.
func (l *Lexer) measureIndent(start Position) (int, *Error) {
	spaces := 0
	tabs := 0
	for l.ch == ' ' || l.ch == '\t' {
		if l.ch == ' ' {
			spaces++
		} else {
			tabs++
		}
		l.readChar()
	}
	if spaces > 0 && tabs > 0 {
		return 0, lexError(ErrMixedIndentation, l.spanFrom(start),
			"indentation mixes tabs and spaces")
	}
	return spaces + tabs, nil
}

// emitFinalDedents closes any open indentation levels at EOF.
func (l *Lexer) emitFinalDedents(pos Position) {
	span := Span{Start: pos, End: pos}
	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.pending = append(l.pending, Token{Type: TokenDedent, Span: span})
	}
	l.pending = append(l.pending, Token{Type: TokenEOF, Span: span})
}

// skipSpacesAndComments skips horizontal whitespace and '#' comments.
// Newlines are not consumed here; they are tokens of their own.
func (l *Lexer) skipSpacesAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch == '#' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		break
	}
}

// readString reads a double-quoted string literal, processing escapes.
func (l *Lexer) readString(pos Position) (Token, *Error) {
	l.readChar() // consume opening "

	var sb strings.Builder
	for {
		switch l.ch {
		case 0, '\n':
			return Token{}, lexError(ErrUnterminatedString, l.spanFrom(pos), "unterminated string literal")

		case '"':
			l.readChar() // consume closing "
			return Token{Type: TokenString, Literal: sb.String(), Span: l.spanFrom(pos)}, nil

		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			case '0':
				sb.WriteByte(0)
			case 0, '\n':
				return Token{}, lexError(ErrUnterminatedString, l.spanFrom(pos), "unterminated string literal")
			default:
				return Token{}, lexError(ErrUnterminatedString, l.spanFrom(pos),
					"unknown escape sequence \\%c", l.ch)
			}
			l.readChar()

		default:
			sb.WriteRune(l.ch)
			l.readChar()
		}
	}
}

// readNumber reads an integer or float literal.
func (l *Lexer) readNumber(pos Position) (Token, *Error) {
	start := l.pos
	isFloat := false

	for isDigit(l.ch) {
		l.readChar()
	}

	// Fractional part. A '.' not followed by a digit is left for the
	// parser (attribute access does not apply to numbers, but the
	// error is clearer there).
	if l.ch == '.' && isDigit(l.peekChar()) {
		isFloat = true
		l.readChar() // consume .
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	// Exponent
	if l.ch == 'e' || l.ch == 'E' {
		isFloat = true
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		if !isDigit(l.ch) {
			return Token{}, lexError(ErrMalformedNumber, l.spanFrom(pos),
				"exponent has no digits")
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	// A number directly followed by an identifier char is malformed.
	if isLetter(l.ch) || l.ch == '_' {
		return Token{}, lexError(ErrMalformedNumber, l.spanFrom(pos),
			"invalid character %q in number literal", l.ch)
	}

	literal := l.input[start:l.pos]
	if isFloat {
		return Token{Type: TokenFloat, Literal: literal, Span: l.spanFrom(pos)}, nil
	}
	return Token{Type: TokenInt, Literal: literal, Span: l.spanFrom(pos)}, nil
}

// readIdentifierOrKeyword reads an identifier or reserved word.
func (l *Lexer) readIdentifierOrKeyword(pos Position) Token {
	start := l.pos

	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}

	literal := l.input[start:l.pos]
	if tokType, ok := reservedWords[literal]; ok {
		return Token{Type: tokType, Literal: literal, Span: l.spanFrom(pos)}
	}
	return Token{Type: TokenIdentifier, Literal: literal, Span: l.spanFrom(pos)}
}

// Helper functions

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Tokenize returns all tokens from the input, stopping at the first
// lex error.
func Tokenize(input string) ([]Token, *Error) {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}
