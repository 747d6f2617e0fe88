package parser

import (
	"strconv"

	"github.com/xplshn/jcc/pkg/ast"
	"github.com/xplshn/jcc/pkg/config"
	"github.com/xplshn/jcc/pkg/token"
	"github.com/xplshn/jcc/pkg/util"
)

// Parser holds the state for the parsing process
type Parser struct {
	tokens   []token.Token
	pos      int
	current  token.Token
	previous token.Token
	cfg      *config.Config
}

// NewParser creates and initializes a new Parser from a token stream
func NewParser(tokens []token.Token, cfg *config.Config) *Parser {
	p := &Parser{tokens: tokens, pos: 0, cfg: cfg}
	if len(tokens) > 0 {
		p.current = p.tokens[0]
	}
	return p
}

// Parser helpers
func (p *Parser) advance() {
	if p.pos < len(p.tokens) {
		p.previous = p.current
		p.pos++
		if p.pos < len(p.tokens) {
			p.current = p.tokens[p.pos]
		}
	}
}

func (p *Parser) check(tokType token.Type) bool {
	return p.current.Type == tokType
}

func (p *Parser) match(tokType token.Type) bool {
	if !p.check(tokType) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) expect(tokType token.Type, message string) {
	if p.check(tokType) {
		p.advance()
		return
	}
	util.Error(p.current, "%s", message)
}

func (p *Parser) skipNewlines() {
	for p.match(token.Newline) {
	}
}

// endStatement accepts a newline, or the end of input or of the enclosing
// block without consuming them.
func (p *Parser) endStatement() {
	if p.match(token.Newline) || p.check(token.EOF) || p.check(token.RBrace) {
		return
	}
	util.Error(p.current, "Expected newline after statement, found %s.", p.current.Type)
}

// Parse consumes the whole token stream and returns the Program node.
func (p *Parser) Parse() *ast.Node {
	tok := p.current
	var stmts []*ast.Node
	p.skipNewlines()
	for !p.check(token.EOF) {
		stmts = append(stmts, p.parseTopLevel())
		p.skipNewlines()
	}
	return ast.NewProgram(tok, stmts)
}

func (p *Parser) parseTopLevel() *ast.Node {
	switch p.current.Type {
	case token.Func:
		return p.parseFuncDecl()
	case token.Let:
		if !p.cfg.IsFeatureEnabled(config.FeatGlobalLet) {
			util.Error(p.current, "Top-level 'let' is disabled; use 'const' or enable -Fglobal-let.")
		}
		return p.parseVarDecl()
	case token.Const:
		return p.parseVarDecl()
	}
	util.Error(p.current, "Expected 'func', 'let' or 'const' at top level, found %s.", p.current.Type)
	return nil
}

func (p *Parser) parseStmt() *ast.Node {
	tok := p.current
	switch {
	case p.check(token.Let), p.check(token.Const):
		return p.parseVarDecl()
	case p.check(token.For):
		return p.parseFor()
	case p.match(token.Return):
		node := ast.NewReturn(tok)
		p.endStatement()
		return node
	case p.check(token.Func):
		util.Error(tok, "Nested function declarations are not supported.")
	case p.match(token.Ident):
		name := p.previous.Value
		if p.match(token.Eq) {
			node := ast.NewAssign(tok, name, p.parseLiteral())
			p.endStatement()
			return node
		}
		if p.check(token.LParen) {
			node := p.parseCall(tok, name)
			p.endStatement()
			return node
		}
		util.Error(p.current, "Expected '=' or '(' after '%s'.", name)
	}
	util.Error(tok, "Expected a statement, found %s.", tok.Type)
	return nil
}

func (p *Parser) parseVarDecl() *ast.Node {
	tok := p.current
	isConst := p.check(token.Const)
	p.advance()
	p.expect(token.Ident, "Expected variable name.")
	name := p.previous.Value
	p.expect(token.Eq, "Expected '=' after variable name.")
	node := ast.NewVarDecl(tok, name, p.parseLiteral(), isConst)
	p.endStatement()
	return node
}

func (p *Parser) parseLiteral() *ast.Node {
	tok := p.current
	if p.match(token.String) {
		return ast.NewString(tok, p.previous.Value)
	}
	if p.match(token.Number) {
		return ast.NewNumber(tok, p.number(p.previous))
	}
	util.Error(tok, "Expected a string or integer literal, found %s.", tok.Type)
	return nil
}

func (p *Parser) number(tok token.Token) int64 {
	val, err := strconv.ParseInt(tok.Value, 10, 64)
	if err != nil {
		util.Error(tok, "Invalid integer literal '%s'.", tok.Value)
	}
	return val
}

func (p *Parser) parseCall(tok token.Token, name string) *ast.Node {
	p.expect(token.LParen, "Expected '(' after function name.")
	var args []*ast.Node
	if !p.check(token.RParen) {
		for {
			argTok := p.current
			switch {
			case p.match(token.Ident):
				args = append(args, ast.NewIdent(argTok, p.previous.Value))
			case p.match(token.Number):
				args = append(args, ast.NewNumber(argTok, p.number(p.previous)))
			default:
				util.Error(argTok, "Call arguments must be identifiers or integer literals.")
			}
			if !p.match(token.Comma) {
				break
			}
		}
	}
	p.expect(token.RParen, "Expected ')' after arguments.")
	return ast.NewCall(tok, name, args)
}

func (p *Parser) parseFuncDecl() *ast.Node {
	tok := p.current
	p.expect(token.Func, "Expected 'func'.")
	p.expect(token.Ident, "Expected function name after 'func'.")
	name := p.previous.Value
	p.expect(token.LParen, "Expected '(' after function name.")

	var params []ast.Param
	if !p.check(token.RParen) {
		for {
			params = append(params, p.parseParam())
			if !p.match(token.Comma) {
				break
			}
		}
	}
	p.expect(token.RParen, "Expected ')' after parameters.")
	body := p.parseBlock()
	p.endStatement()
	return ast.NewFuncDecl(tok, name, params, body)
}

func (p *Parser) parseParam() ast.Param {
	p.expect(token.Ident, "Expected parameter name.")
	param := ast.Param{Tok: p.previous, Name: p.previous.Value}
	param.Ref = p.match(token.Amp)
	p.expect(token.Ident, "Expected parameter type ('int' or 'string').")
	switch p.previous.Value {
	case "int":
		param.Kind = ast.KindInt
	case "string":
		param.Kind = ast.KindString
	default:
		util.Error(p.previous, "Unknown type '%s'; expected 'int' or 'string'.", p.previous.Value)
	}
	return param
}

func (p *Parser) parseFor() *ast.Node {
	tok := p.current
	p.expect(token.For, "Expected 'for'.")
	p.expect(token.Ident, "Expected loop variable after 'for'.")
	name := p.previous.Value
	p.expect(token.In, "Expected 'in' after loop variable.")
	p.expect(token.Number, "Expected range start.")
	start := p.number(p.previous)
	p.expect(token.Dots, "Expected '..' in range.")
	p.expect(token.Number, "Expected range end.")
	end := p.number(p.previous)
	body := p.parseBlock()
	p.endStatement()
	return ast.NewFor(tok, name, start, end, body)
}

func (p *Parser) parseBlock() *ast.Node {
	tok := p.current
	p.expect(token.LBrace, "Expected '{' to start a block.")
	var stmts []*ast.Node
	p.skipNewlines()
	for !p.check(token.RBrace) && !p.check(token.EOF) {
		stmts = append(stmts, p.parseStmt())
		p.skipNewlines()
	}
	p.expect(token.RBrace, "Expected '}' to close the block.")
	return ast.NewBlock(tok, stmts)
}
