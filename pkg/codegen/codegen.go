// Package codegen walks the syntax tree and emits x86-64 machine code into
// a code context, then hands the result to an image backend.
package codegen

import (
	"fmt"

	"github.com/xplshn/jcc/pkg/abi"
	"github.com/xplshn/jcc/pkg/amd64"
	"github.com/xplshn/jcc/pkg/ast"
	"github.com/xplshn/jcc/pkg/codectx"
	"github.com/xplshn/jcc/pkg/config"
	"github.com/xplshn/jcc/pkg/pe"
	"github.com/xplshn/jcc/pkg/stack"
	"github.com/xplshn/jcc/pkg/symbols"
)

// EntrySymbol labels the first byte of text, where execution starts.
const EntrySymbol = "_start"

// CallSite records the state of the stack at one emitted call.
type CallSite struct {
	Index  int
	Symbol string
	Depth  int
}

// Unit is the generated program with every call resolved. Data and import
// addresses are still pending; a Backend resolves them once it has a layout.
type Unit struct {
	Code      *codectx.Context
	Imports   []pe.Import
	CallSites []CallSite
}

// Context is the state of one code generation pass. Nothing in it is shared
// between compilations.
type Context struct {
	code       *codectx.Context
	st         *stack.Manager
	cv         *abi.Convention
	table      *symbols.Table
	cfg        *config.Config
	labelCount int
	helpers    map[string]bool
	calls      []CallSite
}

func NewContext(table *symbols.Table, cfg *config.Config) (*Context, error) {
	cv, err := abi.For(cfg.Target)
	if err != nil {
		return nil, err
	}
	code := codectx.New()
	return &Context{
		code:    code,
		st:      stack.New(code),
		cv:      cv,
		table:   table,
		cfg:     cfg,
		helpers: make(map[string]bool),
	}, nil
}

func (ctx *Context) newLabel(hint string) string {
	ctx.labelCount++
	return fmt.Sprintf(".L%s%d", hint, ctx.labelCount)
}

func errAt(node *ast.Node, name string, err error) error {
	return &symbols.Error{Tok: node.Tok, Name: name, Err: err}
}

// Generate emits the entry stub, every user function and the runtime
// helpers they use, fills the data section and resolves all calls.
func (ctx *Context) Generate() (*Unit, error) {
	if err := ctx.genEntry(); err != nil {
		return nil, fmt.Errorf("entry: %w", err)
	}
	for _, f := range ctx.table.Functions() {
		if err := ctx.genFunc(f); err != nil {
			return nil, err
		}
	}
	if err := ctx.genRuntime(); err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}

	for _, v := range ctx.table.Data() {
		if _, err := ctx.code.Data.Add(v.Qualified, symbols.WordBytes(v.Words())); err != nil {
			return nil, err
		}
	}

	var ext codectx.Externals
	var imports []pe.Import
	if ctx.cfg.Target == config.TargetWindows {
		imports = WindowsImports
		ext.Imports = make(map[string]bool)
		for _, imp := range imports {
			for _, fn := range imp.Functions {
				ext.Imports[fn] = true
			}
		}
	}
	if err := ctx.code.ResolveCalls(ext); err != nil {
		return nil, err
	}
	return &Unit{Code: ctx.code, Imports: imports, CallSites: ctx.calls}, nil
}

// genEntry aligns the stack, which the loader leaves in an unspecified
// state, calls main and exits with status 0.
func (ctx *Context) genEntry() error {
	if err := ctx.code.Label(EntrySymbol); err != nil {
		return err
	}
	if err := ctx.st.Prologue(); err != nil {
		return err
	}
	if err := ctx.st.Realign(); err != nil {
		return err
	}
	if err := ctx.call("main", nil); err != nil {
		return err
	}
	return ctx.call(HelperExit, []abi.Arg{abi.Immediate(0)})
}

// call brackets one call instruction with argument loading and alignment.
func (ctx *Context) call(symbol string, args []abi.Arg) error {
	c, err := ctx.cv.PushArgs(ctx.code, ctx.st, args)
	if err != nil {
		return err
	}
	if err := ctx.st.Check(); err != nil {
		return err
	}
	ctx.calls = append(ctx.calls, CallSite{Index: ctx.code.Len(), Symbol: symbol, Depth: ctx.st.Depth()})
	if err := ctx.code.Call(symbol); err != nil {
		return err
	}
	if _, isHelper := helperNames[symbol]; isHelper {
		ctx.helpers[symbol] = true
	}
	return ctx.cv.PopArgs(ctx.st, c)
}

func (ctx *Context) genFunc(f *symbols.Function) error {
	decl := f.Node.Data.(ast.FuncDeclNode)
	if err := ctx.code.Label(f.Name); err != nil {
		return errAt(f.Node, f.Name, err)
	}
	if err := ctx.st.Prologue(); err != nil {
		return err
	}
	for i, p := range f.Params {
		r, err := ctx.cv.Arg(i)
		if err != nil {
			return errAt(f.Node, f.Name, err)
		}
		off, err := ctx.st.Push(r)
		if err != nil {
			return err
		}
		p.SetOffset(off)
	}
	if err := ctx.allocate(f.Scope); err != nil {
		return err
	}
	if err := ctx.block(ast.Stmts(decl.Body)); err != nil {
		return err
	}
	if err := ctx.st.Epilogue(); err != nil {
		return err
	}
	if err := ctx.code.ResolveLabels(); err != nil {
		return errAt(f.Node, f.Name, err)
	}
	return nil
}

// allocate materializes the stack variables of scope with their initial
// values and pads the frame back to alignment.
func (ctx *Context) allocate(scope *symbols.Scope) error {
	for _, v := range scope.StackVariables() {
		off, err := ctx.st.Store(v.Words(), 0)
		if err != nil {
			return err
		}
		v.SetOffset(off)
	}
	return ctx.st.Pad()
}

func (ctx *Context) block(stmts []*ast.Node) error {
	for _, stmt := range stmts {
		if err := ctx.stmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (ctx *Context) stmt(node *ast.Node) error {
	switch node.Type {
	case ast.VarDecl:
		// Stack variables are initialized at scope entry; data is static.
		return nil
	case ast.Assign:
		return ctx.genAssign(node)
	case ast.Call:
		return ctx.genCall(node)
	case ast.For:
		return ctx.genFor(node)
	case ast.Return:
		return ctx.st.Return()
	}
	return errAt(node, "", fmt.Errorf("unexpected node type %d", node.Type))
}

// argOf describes where v lives. byValue loads the 8-byte value instead of
// the address.
func argOf(v *symbols.Variable, byValue bool) abi.Arg {
	var a abi.Arg
	if v.Storage == symbols.DataSection {
		a = abi.Data(v.Qualified)
	} else {
		a = abi.Frame(v.Offset)
		a.Indirect = v.Indirect()
	}
	a.ByValue = byValue
	return a
}

// lookup returns the variable the symbol pass bound node to.
func (ctx *Context) lookup(node *ast.Node, name string) (*symbols.Variable, error) {
	v, ok := ctx.table.Resolve(node)
	if !ok {
		return nil, errAt(node, name, symbols.ErrUndefined)
	}
	return v, nil
}

// genAssign stores a literal through the target's address, one word at a
// time. A string writes its length word and its bytes.
func (ctx *Context) genAssign(node *ast.Node) error {
	d := node.Data.(ast.AssignNode)
	v, err := ctx.lookup(node, d.Name)
	if err != nil {
		return err
	}
	if err := abi.Load(ctx.code, amd64.RAX, argOf(v, false)); err != nil {
		return errAt(node, d.Name, err)
	}

	var words []uint64
	switch lit := d.Value.Data.(type) {
	case ast.StringNode:
		words = symbols.StringWords(lit.Value, symbols.StringSize(len(lit.Value)))
	case ast.NumberNode:
		words = []uint64{uint64(lit.Value)}
	}
	for k, w := range words {
		if err := ctx.code.EmitAll(
			amd64.I(amd64.MOV, amd64.RCX, amd64.Imm64(int64(w))),
			amd64.I(amd64.MOV, amd64.Ptr(amd64.RAX, int32(k*symbols.WordSize)), amd64.RCX),
		); err != nil {
			return err
		}
	}
	return nil
}

func (ctx *Context) genCall(node *ast.Node) error {
	d := node.Data.(ast.CallNode)
	var target string
	args := make([]abi.Arg, len(d.Args))

	switch d.Name {
	case "print", "exit":
		target = HelperExit
		if d.Name == "print" {
			target = HelperPrintInt
		}
		arg := d.Args[0]
		switch a := arg.Data.(type) {
		case ast.NumberNode:
			args[0] = abi.Immediate(a.Value)
		case ast.IdentNode:
			v, err := ctx.lookup(arg, a.Name)
			if err != nil {
				return err
			}
			if v.Kind == ast.KindString {
				target = HelperPrint
			}
			args[0] = argOf(v, v.Kind == ast.KindInt)
		}

	default:
		f, ok := ctx.table.Function(d.Name)
		if !ok {
			return errAt(node, d.Name, symbols.ErrUndefined)
		}
		target = f.Name
		for i, arg := range d.Args {
			switch a := arg.Data.(type) {
			case ast.NumberNode:
				args[i] = abi.Immediate(a.Value)
			case ast.IdentNode:
				v, err := ctx.lookup(arg, a.Name)
				if err != nil {
					return err
				}
				args[i] = argOf(v, !f.Params[i].Ref)
			}
		}
	}

	if err := ctx.call(target, args); err != nil {
		return errAt(node, d.Name, err)
	}
	return nil
}

// genFor emits a counted loop over [start, end). The condition is tested
// before the first iteration, and the body's allocations are released on
// every pass so the frame does not grow.
func (ctx *Context) genFor(node *ast.Node) error {
	d := node.Data.(ast.ForNode)
	loop := ctx.table.ScopeOf(node)
	body := ctx.table.ScopeOf(d.Body)
	counter, ok := loop.Local(d.Var)
	if !ok {
		return errAt(node, d.Var, symbols.ErrUndefined)
	}

	ctx.st.EnterScope()
	if err := ctx.code.Emit(amd64.I(amd64.MOV, amd64.RAX, amd64.Imm64(d.Start))); err != nil {
		return err
	}
	off, err := ctx.st.Push(amd64.RAX)
	if err != nil {
		return err
	}
	counter.SetOffset(off)
	slot := amd64.Ptr(amd64.RBP, int32(-off))

	top, check := ctx.newLabel("body"), ctx.newLabel("check")
	if err := ctx.code.Jump(amd64.JMP, check); err != nil {
		return err
	}
	if err := ctx.code.Label(top); err != nil {
		return err
	}

	ctx.st.EnterScope()
	if err := ctx.allocate(body); err != nil {
		return err
	}
	if err := ctx.block(ast.Stmts(d.Body)); err != nil {
		return err
	}
	if err := ctx.st.ExitScope(); err != nil {
		return err
	}

	if err := ctx.code.Emit(amd64.I(amd64.INC, slot)); err != nil {
		return err
	}
	if err := ctx.code.Label(check); err != nil {
		return err
	}
	if d.End >= -1<<31 && d.End < 1<<31 {
		err = ctx.code.Emit(amd64.I(amd64.CMP, slot, amd64.Imm32(d.End)))
	} else {
		err = ctx.code.EmitAll(
			amd64.I(amd64.MOV, amd64.RAX, amd64.Imm64(d.End)),
			amd64.I(amd64.CMP, slot, amd64.RAX),
		)
	}
	if err != nil {
		return err
	}
	if err := ctx.code.Jump(amd64.JL, top); err != nil {
		return err
	}
	return ctx.st.ExitScope()
}
