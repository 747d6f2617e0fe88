package cli_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xplshn/jcc/pkg/cli"
)

type options struct {
	out, target string
	verbose     bool
	warnings    []string
}

func newFlags() (*cli.FlagSet, *options) {
	o := &options{}
	fs := cli.NewFlagSet("jcc")
	fs.String(&o.out, "output", "o", "", "Place the output into <file>.", "file")
	fs.String(&o.target, "target", "t", "", "Set the target.", "os")
	fs.Bool(&o.verbose, "verbose", "v", false, "Explain what is being done.")
	fs.Prefix(&o.warnings, "W", "Toggle a warning.", "warning")
	return fs, o
}

var _ = Describe("FlagSet", func() {
	DescribeTable("parses",
		func(args []string, want options, positional []string) {
			fs, o := newFlags()
			Expect(fs.Parse(args)).To(Succeed())
			Expect(*o).To(Equal(want))
			Expect(fs.Args()).To(Equal(positional))
		},
		Entry("long with equals", []string{"--output=a", "x.jc"}, options{out: "a", warnings: []string{}}, []string{"x.jc"}),
		Entry("long with separate value", []string{"--target", "windows"}, options{target: "windows", warnings: []string{}}, []string{}),
		Entry("single-dash long", []string{"-target", "linux"}, options{target: "linux", warnings: []string{}}, []string{}),
		Entry("attached shorthand", []string{"-obin", "x.jc"}, options{out: "bin", warnings: []string{}}, []string{"x.jc"}),
		Entry("shorthand with value", []string{"x.jc", "-o", "bin", "y"}, options{out: "bin", warnings: []string{}}, []string{"x.jc", "y"}),
		Entry("bool", []string{"-v"}, options{verbose: true, warnings: []string{}}, []string{}),
		Entry("bool with value", []string{"--verbose=false"}, options{warnings: []string{}}, []string{}),
		Entry("prefix flags", []string{"-Wall", "-Wno-shadow"}, options{warnings: []string{"all", "no-shadow"}}, []string{}),
		Entry("double dash ends options", []string{"--", "-v"}, options{warnings: []string{}}, []string{"-v"}),
		Entry("lone dash is positional", []string{"-"}, options{warnings: []string{}}, []string{"-"}),
	)

	DescribeTable("rejects",
		func(args []string, msg string) {
			fs, _ := newFlags()
			err := fs.Parse(args)
			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry("unknown long", []string{"--nope"}, "unknown flag: --nope"),
		Entry("unknown short", []string{"-x"}, "unknown flag: -x"),
		Entry("missing value", []string{"-o"}, "flag needs an argument: -o"),
		Entry("bad bool", []string{"--verbose=maybe"}, "invalid boolean"),
		Entry("bare prefix", []string{"-W"}, "unknown flag: -W"),
	)

	It("panics on redefinition", func() {
		fs, _ := newFlags()
		var s string
		Expect(func() { fs.String(&s, "output", "", "", "", "") }).To(Panic())
	})
})

var _ = Describe("App", func() {
	var (
		app            *cli.App
		stdout, stderr bytes.Buffer
		got            []string
	)

	BeforeEach(func() {
		stdout.Reset()
		stderr.Reset()
		got = nil
		app = cli.NewApp("jcc")
		app.Synopsis = "[options] <source> [output]"
		app.Description = "Compiles a small language straight to an executable image without an assembler or linker."
		app.Stdout, app.Stderr = &stdout, &stderr
		app.Width = func() int { return 60 }
		var warnings []string
		var out string
		app.FlagSet.String(&out, "output", "o", "", "Place the output into <file>.", "file")
		app.FlagSet.Prefix(&warnings, "W", "Toggle a warning.", "warning")
		app.FlagSet.AddGroup(cli.Group{
			Name: "Warnings", Prefix: "W", Kind: "warning",
			Entries: []cli.GroupEntry{
				{Name: "unused-var", Usage: "Warn about variables that are declared but never used.", Enabled: true},
				{Name: "shadow", Usage: "Warn when a declaration hides another."},
			},
		})
		app.Action = func(args []string) error {
			got = args
			return nil
		}
	})

	It("hands positional arguments to the action", func() {
		Expect(app.Run([]string{"a.jc", "-o", "x", "b"})).To(Succeed())
		Expect(got).To(Equal([]string{"a.jc", "b"}))
	})

	It("prints usage on a parse error", func() {
		Expect(app.Run([]string{"--bogus"})).NotTo(Succeed())
		Expect(stderr.String()).To(ContainSubstring("jcc: unknown flag: --bogus"))
		Expect(stderr.String()).To(ContainSubstring("Usage: jcc [options] <source> [output]"))
		Expect(got).To(BeNil())
	})

	It("renders the help page within the terminal width", func() {
		Expect(app.Run([]string{"--help"})).To(Succeed())
		Expect(got).To(BeNil())
		page := stdout.String()
		Expect(page).To(ContainSubstring("-o, --output <file>"))
		Expect(page).To(ContainSubstring("-Wno-<warning>"))
		Expect(page).NotTo(ContainSubstring("--W "))
		for _, line := range strings.Split(page, "\n") {
			if strings.Contains(line, "unused-var") {
				Expect(line).To(HaveSuffix("|x|"))
			}
			if strings.Contains(line, "shadow") {
				Expect(line).To(HaveSuffix("|-|"))
			}
		}
		Expect(strings.Index(page, "shadow")).To(BeNumerically("<", strings.Index(page, "unused-var")))
	})
})
