package symbols

import (
	"fmt"

	"github.com/xplshn/jcc/pkg/ast"
	"github.com/xplshn/jcc/pkg/config"
	"github.com/xplshn/jcc/pkg/util"
)

// Build walks prog and returns its symbol table. String variables are
// widened to the largest literal ever assigned to them.
func Build(prog *ast.Node, cfg *config.Config) (*Table, error) {
	t := &Table{
		Global:    newScope("global", ScopeGlobal, nil, prog),
		functions: make(map[string]*Function),
		scopes:    make(map[*ast.Node]*Scope),
		refs:      make(map[*ast.Node]*Variable),
		cfg:       cfg,
	}
	t.scopes[prog] = t.Global

	if cfg.Target == config.TargetWindows {
		t.builtinFormat()
	}

	// Functions first so calls may precede the callee's declaration.
	for _, stmt := range ast.Stmts(prog) {
		if stmt.Type == ast.FuncDecl {
			if err := t.declareFunction(stmt); err != nil {
				return nil, err
			}
		}
	}
	main, ok := t.functions["main"]
	if !ok {
		return nil, errorAt(prog.Tok, "", ErrNoMain)
	}
	if len(main.Params) > 0 {
		return nil, errorAt(main.Tok, "main", ErrMainParams)
	}

	for _, stmt := range ast.Stmts(prog) {
		var err error
		switch stmt.Type {
		case ast.VarDecl:
			err = t.declareVar(t.Global, stmt)
		case ast.FuncDecl:
			f := t.functions[stmt.Data.(ast.FuncDeclNode).Name]
			err = t.block(f.Scope, ast.Stmts(stmt.Data.(ast.FuncDeclNode).Body))
		}
		if err != nil {
			return nil, err
		}
	}

	t.warnUnused(t.Global)
	return t, nil
}

func (t *Table) builtinFormat() {
	lit := ast.NewString(t.Global.Node.Tok, "%d")
	v := &Variable{
		Name: "__printf_d_arg", Tok: lit.Tok, Kind: ast.KindString, Decl: DeclConst,
		Storage: DataSection, Capacity: literalSize(lit), Init: lit, Used: true,
	}
	t.Global.declare(v)
	t.data = append(t.data, v)
}

func (t *Table) declareFunction(node *ast.Node) error {
	d := node.Data.(ast.FuncDeclNode)
	if Builtins[d.Name] {
		return errorAt(node.Tok, d.Name, fmt.Errorf("%w: shadows a builtin", ErrRedeclared))
	}
	if _, exists := t.functions[d.Name]; exists {
		return errorAt(node.Tok, d.Name, ErrRedeclared)
	}

	scope := newScope(d.Name, ScopeFunction, t.Global, node)
	t.scopes[node] = scope
	t.scopes[d.Body] = scope
	f := &Function{Name: d.Name, Tok: node.Tok, Scope: scope, Node: node}
	for _, p := range d.Params {
		if _, dup := scope.Local(p.Name); dup {
			return errorAt(p.Tok, p.Name, ErrRedeclared)
		}
		v := &Variable{
			Name: p.Name, Tok: p.Tok, Kind: p.Kind, Decl: DeclParam,
			Storage: StackFunction, Capacity: WordSize, Ref: p.Ref || p.Kind == ast.KindString,
		}
		scope.declare(v)
		f.Params = append(f.Params, v)
	}
	t.functions[d.Name] = f
	t.funcOrder = append(t.funcOrder, f)
	return nil
}

func (t *Table) block(scope *Scope, stmts []*ast.Node) error {
	returned := false
	for _, stmt := range stmts {
		if returned {
			util.Warn(t.cfg, config.WarnUnreachableCode, stmt.Tok, "Unreachable code after 'return'")
			returned = false
		}
		if err := t.stmt(scope, stmt); err != nil {
			return err
		}
		if stmt.Type == ast.Return {
			returned = true
		}
	}
	t.warnUnused(scope)
	return nil
}

func (t *Table) stmt(scope *Scope, node *ast.Node) error {
	switch node.Type {
	case ast.VarDecl:
		return t.declareVar(scope, node)
	case ast.Assign:
		return t.assign(scope, node)
	case ast.Call:
		return t.call(scope, node)
	case ast.For:
		return t.loop(scope, node)
	case ast.Return:
		return nil
	}
	return errorAt(node.Tok, "", fmt.Errorf("unexpected statement in function body"))
}

func (t *Table) declareVar(scope *Scope, node *ast.Node) error {
	d := node.Data.(ast.VarDeclNode)
	if _, dup := scope.Local(d.Name); dup {
		return errorAt(node.Tok, d.Name, ErrRedeclared)
	}
	if scope.Parent != nil {
		if outer, ok := scope.Parent.Lookup(d.Name); ok {
			util.Warn(t.cfg, config.WarnShadow, node.Tok, "Declaration of '%s' shadows '%s'", d.Name, outer.Qualified)
		}
	}

	kind, _ := ast.Literal(d.Init)
	v := &Variable{
		Name: d.Name, Tok: node.Tok, Kind: kind, Capacity: literalSize(d.Init), Init: d.Init,
	}
	switch {
	case d.IsConst:
		v.Decl, v.Storage = DeclConst, DataSection
	case scope.Kind == ScopeGlobal:
		v.Decl, v.Storage = DeclLet, DataSection
	case scope.Kind == ScopeFunction:
		v.Decl, v.Storage = DeclLet, StackFunction
	default:
		v.Decl, v.Storage = DeclLet, StackBlock
	}
	scope.declare(v)
	if v.Storage == DataSection {
		t.data = append(t.data, v)
	}
	return nil
}

func (t *Table) assign(scope *Scope, node *ast.Node) error {
	d := node.Data.(ast.AssignNode)
	v, ok := scope.Lookup(d.Name)
	if !ok {
		return errorAt(node.Tok, d.Name, ErrUndefined)
	}
	v.Used = true
	t.refs[node] = v
	switch {
	case v.Decl == DeclConst, v.Decl == DeclCounter:
		return errorAt(node.Tok, d.Name, ErrReadOnly)
	case v.Decl == DeclParam && v.Kind == ast.KindString:
		return errorAt(node.Tok, d.Name, fmt.Errorf("%w: string parameters are read-only", ErrReadOnly))
	}

	kind, _ := ast.Literal(d.Value)
	if kind != v.Kind {
		return errorAt(node.Tok, d.Name, fmt.Errorf("%w: cannot assign %s to %s variable", ErrTypeMismatch, kind, v.Kind))
	}
	if size := literalSize(d.Value); size > v.Capacity {
		v.Capacity = size
	}
	return nil
}

func (t *Table) call(scope *Scope, node *ast.Node) error {
	d := node.Data.(ast.CallNode)
	args := make([]*Variable, len(d.Args))
	for i, arg := range d.Args {
		if arg.Type != ast.Ident {
			continue
		}
		name := arg.Data.(ast.IdentNode).Name
		v, ok := scope.Lookup(name)
		if !ok {
			return errorAt(arg.Tok, name, ErrUndefined)
		}
		v.Used = true
		t.refs[arg] = v
		args[i] = v
	}

	if Builtins[d.Name] {
		if len(d.Args) != 1 {
			return errorAt(node.Tok, d.Name, fmt.Errorf("%w: want 1, got %d", ErrArity, len(d.Args)))
		}
		if d.Name == "exit" && args[0] != nil && args[0].Kind != ast.KindInt {
			return errorAt(d.Args[0].Tok, d.Name, fmt.Errorf("%w: exit status must be an int", ErrTypeMismatch))
		}
		return nil
	}

	f, ok := t.functions[d.Name]
	if !ok {
		return errorAt(node.Tok, d.Name, ErrUndefined)
	}
	if len(d.Args) != len(f.Params) {
		return errorAt(node.Tok, d.Name, fmt.Errorf("%w: want %d, got %d", ErrArity, len(f.Params), len(d.Args)))
	}
	for i, p := range f.Params {
		arg := args[i]
		if arg == nil {
			if p.Kind != ast.KindInt {
				return errorAt(d.Args[i].Tok, p.Name, fmt.Errorf("%w: int passed as %s parameter", ErrTypeMismatch, p.Kind))
			}
			if p.Ref {
				return errorAt(d.Args[i].Tok, p.Name, fmt.Errorf("%w: reference parameter needs a variable", ErrTypeMismatch))
			}
			continue
		}
		if arg.Kind != p.Kind {
			return errorAt(d.Args[i].Tok, arg.Name, fmt.Errorf("%w: %s passed as %s parameter '%s'", ErrTypeMismatch, arg.Kind, p.Kind, p.Name))
		}
		if p.Ref && p.Kind == ast.KindInt {
			switch arg.Decl {
			case DeclConst:
				return errorAt(d.Args[i].Tok, arg.Name, fmt.Errorf("%w: constant passed by reference", ErrReadOnly))
			case DeclCounter:
				return errorAt(d.Args[i].Tok, arg.Name, fmt.Errorf("%w: loop counter passed by reference", ErrReadOnly))
			}
		}
	}
	return nil
}

func (t *Table) loop(scope *Scope, node *ast.Node) error {
	d := node.Data.(ast.ForNode)
	loopScope := newScope(fmt.Sprintf("for%d", len(scope.Children)), ScopeLoop, scope, node)
	t.scopes[node] = loopScope
	counter := &Variable{
		Name: d.Var, Tok: node.Tok, Kind: ast.KindInt, Decl: DeclCounter,
		Storage: StackBlock, Capacity: WordSize, Used: true,
	}
	if outer, ok := scope.Lookup(d.Var); ok {
		util.Warn(t.cfg, config.WarnShadow, node.Tok, "Loop variable '%s' shadows '%s'", d.Var, outer.Qualified)
	}
	loopScope.declare(counter)

	body := newScope("body", ScopeBlock, loopScope, d.Body)
	t.scopes[d.Body] = body
	return t.block(body, ast.Stmts(d.Body))
}

func (t *Table) warnUnused(scope *Scope) {
	for _, v := range scope.order {
		if !v.Used && (v.Decl == DeclLet || v.Decl == DeclConst) {
			util.Warn(t.cfg, config.WarnUnusedVar, v.Tok, "Variable '%s' is declared but never used", v.Name)
		}
	}
}
