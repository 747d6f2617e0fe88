package parser_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xplshn/jcc/pkg/ast"
	"github.com/xplshn/jcc/pkg/config"
	"github.com/xplshn/jcc/pkg/lexer"
	"github.com/xplshn/jcc/pkg/parser"
)

func parse(src string) *ast.Node {
	cfg := config.NewConfig()
	toks := lexer.NewLexer([]rune(src), 0, cfg).All()
	return parser.NewParser(toks, cfg).Parse()
}

const program = `// greeting
const greeting = .Hello World!\n
let counter = 3

func show(s &string, n int) {
	print(s)
	print(n)
}

func main() {
	let x = .Nummer
	x = .Some test
	for i in 0..5 {
		show(x, i)
	}
	exit(0)
	return
}
`

var _ = Describe("Parser", func() {
	var prog *ast.Node

	BeforeEach(func() {
		prog = parse(program)
	})

	It("produces one node per top-level declaration", func() {
		Expect(prog.Type).To(Equal(ast.Program))
		stmts := ast.Stmts(prog)
		Expect(stmts).To(HaveLen(4))
		Expect(stmts[0].Type).To(Equal(ast.VarDecl))
		Expect(stmts[0].Data.(ast.VarDeclNode).IsConst).To(BeTrue())
		Expect(stmts[1].Data.(ast.VarDeclNode).Init.Data).To(Equal(ast.NumberNode{Value: 3}))
		for _, s := range stmts {
			Expect(s.Parent).To(BeIdenticalTo(prog))
		}
	})

	It("parses typed and reference parameters", func() {
		fn := ast.Stmts(prog)[2].Data.(ast.FuncDeclNode)
		Expect(fn.Name).To(Equal("show"))
		Expect(fn.Params).To(HaveLen(2))
		Expect(fn.Params[0].Name).To(Equal("s"))
		Expect(fn.Params[0].Kind).To(Equal(ast.KindString))
		Expect(fn.Params[0].Ref).To(BeTrue())
		Expect(fn.Params[1].Kind).To(Equal(ast.KindInt))
		Expect(fn.Params[1].Ref).To(BeFalse())
	})

	It("parses the statements of a function body", func() {
		main := ast.Stmts(prog)[3].Data.(ast.FuncDeclNode)
		body := ast.Stmts(main.Body)
		Expect(body).To(HaveLen(5))

		Expect(body[0].Data.(ast.VarDeclNode).Init.Data).To(Equal(ast.StringNode{Value: "Nummer"}))

		assign := body[1].Data.(ast.AssignNode)
		Expect(assign.Name).To(Equal("x"))
		Expect(assign.Value.Data).To(Equal(ast.StringNode{Value: "Some test"}))

		loop := body[2].Data.(ast.ForNode)
		Expect(loop.Var).To(Equal("i"))
		Expect(loop.Start).To(Equal(int64(0)))
		Expect(loop.End).To(Equal(int64(5)))
		call := ast.Stmts(loop.Body)[0].Data.(ast.CallNode)
		Expect(call.Name).To(Equal("show"))
		Expect(call.Args).To(HaveLen(2))
		Expect(call.Args[0].Data).To(Equal(ast.IdentNode{Name: "x"}))

		exit := body[3].Data.(ast.CallNode)
		Expect(exit.Args[0].Data).To(Equal(ast.NumberNode{Value: 0}))
		Expect(body[4].Type).To(Equal(ast.Return))
	})

	It("keeps the escape in the constant", func() {
		decl := ast.Stmts(prog)[0].Data.(ast.VarDeclNode)
		Expect(decl.Init.Data).To(Equal(ast.StringNode{Value: "Hello World!\n"}))
	})

	It("accepts a closing brace on the last statement's line", func() {
		prog := parse("func main() {\n\tprint(1) }")
		body := ast.Stmts(ast.Stmts(prog)[0].Data.(ast.FuncDeclNode).Body)
		Expect(body).To(HaveLen(1))
	})
})
