// Package symbols builds the scope tree and variable table that code
// generation consults. It runs over the whole tree before any code is
// emitted.
package symbols

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xplshn/jcc/pkg/ast"
	"github.com/xplshn/jcc/pkg/config"
	"github.com/xplshn/jcc/pkg/token"
)

var (
	ErrUndefined    = errors.New("undefined identifier")
	ErrRedeclared   = errors.New("redeclared identifier")
	ErrTypeMismatch = errors.New("type mismatch")
	ErrReadOnly     = errors.New("cannot assign to read-only value")
	ErrArity        = errors.New("wrong number of arguments")
	ErrNoMain       = errors.New("no 'main' function")
	ErrMainParams   = errors.New("'main' must not take parameters")
)

// Error carries the token a symbol error was found at.
type Error struct {
	Tok  token.Token
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Name == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: '%s'", e.Err, e.Name)
}

func (e *Error) Unwrap() error { return e.Err }

func errorAt(tok token.Token, name string, err error) error {
	return &Error{Tok: tok, Name: name, Err: err}
}

// Builtins maps the built-in functions to their runtime helpers.
var Builtins = map[string]bool{"print": true, "exit": true}

// PrintfFormat is the data symbol holding "%d" for the Windows integer printer.
const PrintfFormat = "global::__printf_d_arg"

type Decl int

const (
	DeclLet Decl = iota
	DeclConst
	DeclParam
	DeclCounter
)

type Storage int

const (
	StackFunction Storage = iota
	StackBlock
	DataSection
)

func (s Storage) String() string {
	switch s {
	case StackFunction:
		return "stack(function)"
	case StackBlock:
		return "stack(block)"
	default:
		return "data"
	}
}

// Variable is one declared name. Offset is filled in by code generation
// when the slot is allocated; the variable is addressed as rbp-Offset.
type Variable struct {
	Name      string
	Qualified string
	Tok       token.Token
	Kind      ast.ValueKind
	Decl      Decl
	Storage   Storage
	Offset    int
	Capacity  int
	Ref       bool
	Init      *ast.Node
	Used      bool
}

// Indirect reports whether the variable's slot holds an address rather
// than the value.
func (v *Variable) Indirect() bool {
	return v.Decl == DeclParam && (v.Ref || v.Kind == ast.KindString)
}

// Words is the initial value padded to the variable's capacity.
func (v *Variable) Words() []uint64 {
	return LiteralWords(v.Init, v.Capacity)
}

// SetOffset records the frame offset assigned when the slot is allocated.
func (v *Variable) SetOffset(off int) { v.Offset = off }

// LiteralWords lays out a literal in capacity bytes.
func LiteralWords(lit *ast.Node, capacity int) []uint64 {
	switch lit.Type {
	case ast.Number:
		return []uint64{uint64(lit.Data.(ast.NumberNode).Value)}
	case ast.String:
		return StringWords(lit.Data.(ast.StringNode).Value, capacity)
	}
	return nil
}

func literalSize(lit *ast.Node) int {
	if lit.Type == ast.String {
		return StringSize(len(lit.Data.(ast.StringNode).Value))
	}
	return WordSize
}

type ScopeKind int

const (
	ScopeGlobal ScopeKind = iota
	ScopeFunction
	ScopeLoop
	ScopeBlock
)

// Scope is one node of the scope tree.
type Scope struct {
	Name     string
	Kind     ScopeKind
	Parent   *Scope
	Children []*Scope
	Node     *ast.Node
	vars     map[string]*Variable
	order    []*Variable
}

func newScope(name string, kind ScopeKind, parent *Scope, node *ast.Node) *Scope {
	s := &Scope{Name: name, Kind: kind, Parent: parent, Node: node, vars: make(map[string]*Variable)}
	if parent != nil {
		parent.Children = append(parent.Children, s)
	}
	return s
}

// Path joins the scope names from the root, e.g. "global::main::for0".
func (s *Scope) Path() string {
	var parts []string
	for sc := s; sc != nil; sc = sc.Parent {
		parts = append([]string{sc.Name}, parts...)
	}
	return strings.Join(parts, "::")
}

// Local returns a variable declared directly in s.
func (s *Scope) Local(name string) (*Variable, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// Lookup resolves name in s and then its ancestors.
func (s *Scope) Lookup(name string) (*Variable, bool) {
	for sc := s; sc != nil; sc = sc.Parent {
		if v, ok := sc.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Variables returns the variables declared in s in declaration order.
func (s *Scope) Variables() []*Variable { return s.order }

// StackVariables are the variables of s that live on the stack and are
// allocated at scope entry, excluding parameters and loop counters.
func (s *Scope) StackVariables() []*Variable {
	var out []*Variable
	for _, v := range s.order {
		if v.Storage != DataSection && v.Decl == DeclLet {
			out = append(out, v)
		}
	}
	return out
}

func (s *Scope) declare(v *Variable) {
	v.Qualified = s.Path() + "::" + v.Name
	s.vars[v.Name] = v
	s.order = append(s.order, v)
}

type Function struct {
	Name   string
	Tok    token.Token
	Params []*Variable
	Scope  *Scope
	Node   *ast.Node
}

// Table is the result of the symbol pass.
type Table struct {
	Global    *Scope
	functions map[string]*Function
	funcOrder []*Function
	data      []*Variable
	scopes    map[*ast.Node]*Scope
	refs      map[*ast.Node]*Variable
	cfg       *config.Config
}

// Function looks up a user function.
func (t *Table) Function(name string) (*Function, bool) {
	f, ok := t.functions[name]
	return f, ok
}

// Functions returns the user functions in declaration order.
func (t *Table) Functions() []*Function { return t.funcOrder }

// Data returns the data-section variables in declaration order.
func (t *Table) Data() []*Variable { return t.data }

// ScopeOf returns the scope opened by a FuncDecl, For or Block node.
func (t *Table) ScopeOf(node *ast.Node) *Scope { return t.scopes[node] }

// Resolve returns the variable an Assign or Ident node was bound to when
// its statement was checked. Later declarations in the same scope do not
// change the binding.
func (t *Table) Resolve(node *ast.Node) (*Variable, bool) {
	v, ok := t.refs[node]
	return v, ok
}
