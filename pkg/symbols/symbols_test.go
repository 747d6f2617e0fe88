package symbols_test

import (
	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xplshn/jcc/pkg/ast"
	"github.com/xplshn/jcc/pkg/config"
	"github.com/xplshn/jcc/pkg/lexer"
	"github.com/xplshn/jcc/pkg/parser"
	"github.com/xplshn/jcc/pkg/symbols"
)

func build(target, src string) (*symbols.Table, *ast.Node, error) {
	cfg := config.NewConfig()
	cfg.SetWarning(config.WarnUnusedVar, false)
	if err := cfg.SetTarget("linux", "amd64", target); err != nil {
		panic(err)
	}
	toks := lexer.NewLexer([]rune(src), 0, cfg).All()
	prog := parser.NewParser(toks, cfg).Parse()
	table, err := symbols.Build(prog, cfg)
	return table, prog, err
}

var _ = Describe("String layout", func() {
	It("rounds storage up to whole words after the length", func() {
		Expect(symbols.StringSize(0)).To(Equal(8))
		Expect(symbols.StringSize(1)).To(Equal(16))
		Expect(symbols.StringSize(8)).To(Equal(16))
		Expect(symbols.StringSize(9)).To(Equal(24))
	})

	It("packs the length word then little-endian bytes", func() {
		words := symbols.StringWords("Hi!", 24)
		want := []uint64{3, 0x216948, 0}
		Expect(cmp.Diff(want, words)).To(BeEmpty())
		Expect(symbols.WordBytes(words)[:11]).To(Equal([]byte{3, 0, 0, 0, 0, 0, 0, 0, 'H', 'i', '!'}))
	})
})

var _ = Describe("Build", func() {
	It("qualifies names by scope path and picks storage classes", func() {
		table, _, err := build("linux", `
const banner = .hi
let total = 1
func main() {
	let x = .abc
	for i in 0..3 {
		let y = 2
		print(y)
	}
	print(x)
	print(banner)
	print(total)
}
`)
		Expect(err).NotTo(HaveOccurred())

		main, ok := table.Function("main")
		Expect(ok).To(BeTrue())
		x, ok := main.Scope.Lookup("x")
		Expect(ok).To(BeTrue())
		Expect(x.Qualified).To(Equal("global::main::x"))
		Expect(x.Storage).To(Equal(symbols.StackFunction))

		loop := main.Scope.Children[0]
		Expect(loop.Path()).To(Equal("global::main::for0"))
		i, _ := loop.Local("i")
		Expect(i.Decl).To(Equal(symbols.DeclCounter))

		body := loop.Children[0]
		y, _ := body.Local("y")
		Expect(y.Qualified).To(Equal("global::main::for0::body::y"))
		Expect(y.Storage).To(Equal(symbols.StackBlock))
		banner, ok := body.Lookup("banner")
		Expect(ok).To(BeTrue())
		Expect(banner.Storage).To(Equal(symbols.DataSection))

		var names []string
		for _, v := range table.Data() {
			names = append(names, v.Qualified)
		}
		Expect(names).To(Equal([]string{"global::banner", "global::total"}))
	})

	It("widens a string to the largest literal assigned to it", func() {
		table, _, err := build("linux", `
func main() {
	let s = .ab
	s = .a much longer string
	s = .x
	print(s)
}
`)
		Expect(err).NotTo(HaveOccurred())
		main, _ := table.Function("main")
		s, _ := main.Scope.Local("s")
		Expect(s.Capacity).To(Equal(symbols.StringSize(len("a much longer string"))))
		Expect(s.Words()).To(HaveLen(s.Capacity / 8))
		Expect(s.Words()[0]).To(Equal(uint64(2)))
	})

	It("marks string and reference parameters as indirect", func() {
		table, _, err := build("linux", `
func f(a &string, b &int, c int) {
	b = 4
	c = 5
	print(a)
}
func main() {
	let s = .q
	let n = 1
	f(s, n, 7)
}
`)
		Expect(err).NotTo(HaveOccurred())
		f, _ := table.Function("f")
		Expect(f.Params).To(HaveLen(3))
		Expect(f.Params[0].Indirect()).To(BeTrue())
		Expect(f.Params[1].Indirect()).To(BeTrue())
		Expect(f.Params[2].Indirect()).To(BeFalse())
	})

	It("adds the integer format constant on windows only", func() {
		src := "func main() {\n\tprint(1)\n}\n"
		win, _, err := build("windows", src)
		Expect(err).NotTo(HaveOccurred())
		Expect(win.Data()).To(HaveLen(1))
		Expect(win.Data()[0].Qualified).To(Equal(symbols.PrintfFormat))

		lin, _, err := build("linux", src)
		Expect(err).NotTo(HaveOccurred())
		Expect(lin.Data()).To(BeEmpty())
	})

	It("binds each use to the variable visible at that statement", func() {
		table, _, err := build("linux", `
func main() {
	let x = .abc
	for i in 0..1 {
		print(x)
		x = .d
		let x = 7
		print(x)
		x = 8
	}
}
`)
		Expect(err).NotTo(HaveOccurred())
		main, _ := table.Function("main")
		loop := ast.Stmts(main.Node.Data.(ast.FuncDeclNode).Body)[1]
		stmts := ast.Stmts(loop.Data.(ast.ForNode).Body)

		var got []string
		for _, n := range []*ast.Node{stmts[0].Data.(ast.CallNode).Args[0], stmts[1], stmts[3].Data.(ast.CallNode).Args[0], stmts[4]} {
			v, ok := table.Resolve(n)
			Expect(ok).To(BeTrue())
			got = append(got, v.Qualified)
		}
		want := []string{
			"global::main::x",
			"global::main::x",
			"global::main::for0::body::x",
			"global::main::for0::body::x",
		}
		Expect(cmp.Diff(want, got)).To(BeEmpty())
	})

	It("resolves calls to functions declared later", func() {
		_, _, err := build("linux", "func main() {\n\tlater()\n}\nfunc later() {\n}\n")
		Expect(err).NotTo(HaveOccurred())
	})

	DescribeTable("rejects",
		func(src string, want error) {
			_, _, err := build("linux", src)
			Expect(err).To(MatchError(want))
			var symErr *symbols.Error
			Expect(err).To(BeAssignableToTypeOf(symErr))
		},
		Entry("a missing main", "func other() {\n}\n", symbols.ErrNoMain),
		Entry("an undefined print target", "func main() {\n\tprint(nope)\n}\n", symbols.ErrUndefined),
		Entry("an undefined function", "func main() {\n\tnope()\n}\n", symbols.ErrUndefined),
		Entry("an undefined assignment target", "func main() {\n\tx = 1\n}\n", symbols.ErrUndefined),
		Entry("assigning to a constant", "const c = 1\nfunc main() {\n\tc = 2\n}\n", symbols.ErrReadOnly),
		Entry("assigning a string to an int", "func main() {\n\tlet n = 1\n\tn = .x\n}\n", symbols.ErrTypeMismatch),
		Entry("passing a literal to a reference", "func f(a &int) {\n}\nfunc main() {\n\tf(1)\n}\n", symbols.ErrTypeMismatch),
		Entry("a wrong argument count", "func f(a int) {\n}\nfunc main() {\n\tf()\n}\n", symbols.ErrArity),
		Entry("a redeclared local", "func main() {\n\tlet a = 1\n\tlet a = 2\n}\n", symbols.ErrRedeclared),
		Entry("a function named like a builtin", "func print() {\n}\nfunc main() {\n}\n", symbols.ErrRedeclared),
		Entry("passing a constant to a reference", "const c = 1\nfunc f(a &int) {\n}\nfunc main() {\n\tf(c)\n}\n", symbols.ErrReadOnly),
		Entry("passing a loop counter to a reference", "func f(n &int) {\n\tn = 0\n}\nfunc main() {\n\tfor i in 0..3 {\n\t\tf(i)\n\t}\n}\n", symbols.ErrReadOnly),
		Entry("main with parameters", "func main(a int) {\n}\n", symbols.ErrMainParams),
	)
})
