package lexer

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/xplshn/jcc/pkg/config"
	"github.com/xplshn/jcc/pkg/token"
	"github.com/xplshn/jcc/pkg/util"
)

type Lexer struct {
	source    []rune
	fileIndex int
	pos       int
	line      int
	column    int
	cfg       *config.Config
}

func NewLexer(source []rune, fileIndex int, cfg *config.Config) *Lexer {
	return &Lexer{
		source: source, fileIndex: fileIndex, line: 1, column: 1, cfg: cfg,
	}
}

func (l *Lexer) Next() token.Token {
	for {
		l.skipWhitespace()
		startPos, startCol, startLine := l.pos, l.column, l.line

		if l.isAtEnd() {
			return l.makeToken(token.EOF, "", startPos, startCol, startLine)
		}

		if l.peek() == '/' && l.peekNext() == '/' && l.cfg.IsFeatureEnabled(config.FeatComments) {
			l.lineComment()
			continue
		}

		ch := l.peek()
		if unicode.IsLetter(ch) {
			l.advance()
			return l.identifierOrKeyword(startPos, startCol, startLine)
		}
		if unicode.IsDigit(ch) {
			return l.numberLiteral(startPos, startCol, startLine)
		}

		l.advance()
		switch ch {
		case '\n': return l.makeToken(token.Newline, "", startPos, startCol, startLine)
		case '(': return l.makeToken(token.LParen, "", startPos, startCol, startLine)
		case ')': return l.makeToken(token.RParen, "", startPos, startCol, startLine)
		case '{': return l.makeToken(token.LBrace, "", startPos, startCol, startLine)
		case '}': return l.makeToken(token.RBrace, "", startPos, startCol, startLine)
		case ',': return l.makeToken(token.Comma, "", startPos, startCol, startLine)
		case '=': return l.makeToken(token.Eq, "", startPos, startCol, startLine)
		case '&': return l.makeToken(token.Amp, "", startPos, startCol, startLine)
		case '.':
			if l.match('.') {
				return l.makeToken(token.Dots, "", startPos, startCol, startLine)
			}
			return l.stringLiteral(startPos, startCol, startLine)
		}

		tok := l.makeToken(token.EOF, "", startPos, startCol, startLine)
		util.Error(tok, "Unexpected character: '%c'", ch)
		return tok
	}
}

// All scans the remaining input. The last token is always EOF.
func (l *Lexer) All() []token.Token {
	var tokens []token.Token
	for {
		tok := l.Next()
		tokens = append(tokens, tok)
		if tok.Type == token.EOF {
			return tokens
		}
	}
}

func (l *Lexer) peek() rune {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.pos]
}

func (l *Lexer) peekNext() rune {
	if l.pos+1 >= len(l.source) {
		return 0
	}
	return l.source[l.pos+1]
}

func (l *Lexer) advance() rune {
	if l.isAtEnd() {
		return 0
	}
	ch := l.source[l.pos]
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	l.pos++
	return ch
}

func (l *Lexer) match(expected rune) bool {
	if l.isAtEnd() || l.source[l.pos] != expected {
		return false
	}
	l.advance()
	return true
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.source) }

func (l *Lexer) makeToken(tokType token.Type, value string, startPos, startCol, startLine int) token.Token {
	return token.Token{
		Type: tokType, Value: value, FileIndex: l.fileIndex,
		Line: startLine, Column: startCol, Len: l.pos - startPos,
	}
}

// Newlines are statement terminators and are not skipped here.
func (l *Lexer) skipWhitespace() {
	for {
		switch l.peek() {
		case ' ', '\t', '\r':
			l.advance()
		default:
			return
		}
	}
}

func (l *Lexer) lineComment() {
	for !l.isAtEnd() && l.peek() != '\n' {
		l.advance()
	}
}

func (l *Lexer) identifierOrKeyword(startPos, startCol, startLine int) token.Token {
	for unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_' || l.peek() == '!' {
		l.advance()
	}
	value := string(l.source[startPos:l.pos])
	tok := l.makeToken(token.Ident, value, startPos, startCol, startLine)

	if tokType, isKeyword := token.KeywordMap[value]; isKeyword {
		tok.Type = tokType
		tok.Value = ""
	}
	return tok
}

func (l *Lexer) numberLiteral(startPos, startCol, startLine int) token.Token {
	for unicode.IsDigit(l.peek()) {
		l.advance()
	}
	text := string(l.source[startPos:l.pos])
	tok := l.makeToken(token.Number, text, startPos, startCol, startLine)
	if _, err := strconv.ParseInt(text, 10, 64); err != nil {
		util.Error(tok, "Integer literal '%s' does not fit in 64 bits", text)
	}
	return tok
}

// stringLiteral reads a '.'-introduced string up to the end of the line.
// The leading dot has already been consumed.
func (l *Lexer) stringLiteral(startPos, startCol, startLine int) token.Token {
	var sb strings.Builder
	for !l.isAtEnd() && l.peek() != '\n' && l.peek() != '\r' {
		c := l.advance()
		if c == '\\' {
			sb.WriteRune(l.decodeEscape(startPos, startCol, startLine))
			continue
		}
		sb.WriteRune(c)
	}
	return l.makeToken(token.String, sb.String(), startPos, startCol, startLine)
}

var escapes = map[rune]rune{
	'n': '\n', 't': '\t', '\\': '\\', '0': 0,
}

func (l *Lexer) decodeEscape(startPos, startCol, startLine int) rune {
	if l.isAtEnd() || l.peek() == '\n' {
		util.Error(l.makeToken(token.String, "", startPos, startCol, startLine), "Unterminated escape sequence")
		return 0
	}
	c := l.advance()
	if val, ok := escapes[c]; ok {
		return val
	}
	util.Warn(l.cfg, config.WarnUnrecognizedEscape, l.makeToken(token.String, "", startPos, startCol, startLine), "Unrecognized escape sequence '\\%c'", c)
	return c
}
