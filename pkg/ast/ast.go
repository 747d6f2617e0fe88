// Package ast defines the types used to represent the Abstract Syntax Tree (AST)
package ast

import (
	"github.com/xplshn/jcc/pkg/token"
)

// NodeType defines the kind of a node in the AST
type NodeType int

// Node types enum
const (
	// Expressions
	Number NodeType = iota
	String
	Ident

	// Statements
	Program
	Block
	VarDecl
	Assign
	FuncDecl
	For
	Call
	Return
)

// Node represents a node in the Abstract Syntax Tree
type Node struct {
	Type   NodeType
	Tok    token.Token
	Parent *Node
	Data   interface{}
}

// ValueKind is the type of a value: text or a 64-bit integer.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
)

func (k ValueKind) String() string {
	if k == KindInt {
		return "int"
	}
	return "string"
}

// --- Node Data Structs ---
type NumberNode struct{ Value int64 }
type StringNode struct{ Value string }
type IdentNode struct{ Name string }
type BlockNode struct{ Stmts []*Node }
type VarDeclNode struct {
	Name    string
	Init    *Node
	IsConst bool
}
type AssignNode struct {
	Name  string
	Value *Node
}

// Param is one function parameter. Ref marks '&' parameters, whose callers
// pass an address.
type Param struct {
	Tok  token.Token
	Name string
	Kind ValueKind
	Ref  bool
}
type FuncDeclNode struct {
	Name   string
	Params []Param
	Body   *Node
}
type ForNode struct {
	Var        string
	Start, End int64
	Body       *Node
}
type CallNode struct {
	Name string
	Args []*Node
}
type ReturnNode struct{}

// --- Node Constructors ---

func newNode(tok token.Token, nodeType NodeType, data interface{}, children ...*Node) *Node {
	node := &Node{Type: nodeType, Tok: tok, Data: data}
	for _, child := range children {
		if child != nil {
			child.Parent = node
		}
	}
	return node
}

func NewNumber(tok token.Token, value int64) *Node {
	return newNode(tok, Number, NumberNode{Value: value})
}
func NewString(tok token.Token, value string) *Node {
	return newNode(tok, String, StringNode{Value: value})
}
func NewIdent(tok token.Token, name string) *Node {
	return newNode(tok, Ident, IdentNode{Name: name})
}
func NewProgram(tok token.Token, stmts []*Node) *Node {
	return newNode(tok, Program, BlockNode{Stmts: stmts}, stmts...)
}
func NewBlock(tok token.Token, stmts []*Node) *Node {
	return newNode(tok, Block, BlockNode{Stmts: stmts}, stmts...)
}
func NewVarDecl(tok token.Token, name string, init *Node, isConst bool) *Node {
	return newNode(tok, VarDecl, VarDeclNode{Name: name, Init: init, IsConst: isConst}, init)
}
func NewAssign(tok token.Token, name string, value *Node) *Node {
	return newNode(tok, Assign, AssignNode{Name: name, Value: value}, value)
}
func NewFuncDecl(tok token.Token, name string, params []Param, body *Node) *Node {
	return newNode(tok, FuncDecl, FuncDeclNode{Name: name, Params: params, Body: body}, body)
}
func NewFor(tok token.Token, name string, start, end int64, body *Node) *Node {
	return newNode(tok, For, ForNode{Var: name, Start: start, End: end, Body: body}, body)
}
func NewCall(tok token.Token, name string, args []*Node) *Node {
	return newNode(tok, Call, CallNode{Name: name, Args: args}, args...)
}
func NewReturn(tok token.Token) *Node {
	return newNode(tok, Return, ReturnNode{})
}

// Stmts returns the statements of a Program or Block node.
func Stmts(node *Node) []*Node {
	if node == nil {
		return nil
	}
	if b, ok := node.Data.(BlockNode); ok {
		return b.Stmts
	}
	return nil
}

// Literal reports the kind of a literal node.
func Literal(node *Node) (ValueKind, bool) {
	switch node.Type {
	case String:
		return KindString, true
	case Number:
		return KindInt, true
	}
	return 0, false
}
