package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tebeka/atexit"

	"github.com/xplshn/jcc/pkg/amd64"
	"github.com/xplshn/jcc/pkg/cli"
	"github.com/xplshn/jcc/pkg/codegen"
	"github.com/xplshn/jcc/pkg/config"
	"github.com/xplshn/jcc/pkg/lexer"
	"github.com/xplshn/jcc/pkg/parser"
	"github.com/xplshn/jcc/pkg/symbols"
	"github.com/xplshn/jcc/pkg/util"
)

func main() {
	app := cli.NewApp("jcc")
	app.Synopsis = "[options] <source> [output]"
	app.Description = "A compiler for a tiny statement language that writes x86-64 ELF and PE executables directly, with no assembler or linker involved."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/jcc>"

	cfg := config.NewConfig()
	cfg.ApplyEnv()

	var (
		outFile     string
		target      string
		verbose     bool
		disassemble bool
		dumpLayout  bool
		warnFlags   []string
		featFlags   []string
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "", "Place the output into <file>.", "file")
	fs.String(&target, "target", "t", "", "Set the target operating system: linux or windows. Defaults to the host.", "os")
	fs.Bool(&verbose, "verbose", "v", false, "Report each compilation step.")
	fs.Bool(&disassemble, "dump-asm", "S", false, "Print the generated machine code.")
	fs.Bool(&dumpLayout, "dump-layout", "", false, "Print the section layout of the image.")
	fs.Prefix(&warnFlags, "W", "Enable or disable a warning.", "warning")
	fs.Prefix(&featFlags, "F", "Enable or disable a feature.", "feature")
	fs.AddGroup(groupOf("Warnings", "W", "warning", cfg.Warnings, int(config.WarnCount)))
	fs.AddGroup(groupOf("Features", "F", "feature", cfg.Features, int(config.FeatCount)))

	app.Action = func(args []string) error {
		if len(args) == 0 || len(args) > 2 {
			app.Usage(os.Stderr)
			return fmt.Errorf("expected <source> [output], got %d arguments", len(args))
		}
		if verbose {
			cfg.Verbose = true
		}

		flags := make([]string, 0, len(warnFlags)+len(featFlags))
		for _, w := range warnFlags {
			flags = append(flags, "W"+w)
		}
		for _, f := range featFlags {
			flags = append(flags, "F"+f)
		}
		if unknown := cfg.ProcessFlags(flags); len(unknown) > 0 && cfg.IsWarningEnabled(config.WarnExtra) {
			for _, u := range unknown {
				fmt.Fprintf(os.Stderr, "jcc: warning: unrecognized flag '-%s' [-Wextra]\n", u)
			}
		}

		if target == "" {
			target = cfg.Target
		}
		if err := cfg.SetTarget(runtime.GOOS, runtime.GOARCH, target); err != nil {
			util.Fatalf("%v", err)
		}

		source := args[0]
		output, err := outputPath(source, outFile, args[1:], cfg.Target)
		if err != nil {
			util.Fatalf("%v", err)
		}
		compile(cfg, source, output, disassemble, dumpLayout)
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func groupOf[K ~int](name, prefix, kind string, infos map[K]config.Info, count int) cli.Group {
	g := cli.Group{Name: name, Prefix: prefix, Kind: kind}
	for i := 0; i < count; i++ {
		info := infos[K(i)]
		g.Entries = append(g.Entries, cli.GroupEntry{Name: info.Name, Usage: info.Description, Enabled: info.Enabled})
	}
	return g
}

// outputPath picks the image name: the positional argument, then -o, then
// the source name without its extension.
func outputPath(source, flag string, positional []string, target string) (string, error) {
	switch {
	case len(positional) == 1 && flag != "" && flag != positional[0]:
		return "", fmt.Errorf("output given twice: '%s' and '%s'", flag, positional[0])
	case len(positional) == 1:
		return positional[0], nil
	case flag != "":
		return flag, nil
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if target == config.TargetWindows {
		base += ".exe"
	}
	return base, nil
}

func compile(cfg *config.Config, source, output string, disassemble, dumpLayout bool) {
	content, err := os.ReadFile(source)
	if err != nil {
		util.Fatalf("could not read file '%s': %v", source, err)
	}
	runes := []rune(string(content))
	util.SetSourceFiles([]util.SourceFileRecord{{Name: source, Content: runes}})

	if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "Tokenizing '%s'...\n", source)
	}
	tokens := lexer.NewLexer(runes, 0, cfg).All()

	if cfg.Verbose {
		fmt.Fprintln(os.Stderr, "Parsing tokens into AST...")
	}
	prog := parser.NewParser(tokens, cfg).Parse()

	if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "Generating %s image...\n", cfg.Target)
	}
	img, unit, err := codegen.Compile(prog, cfg)
	if err != nil {
		var se *symbols.Error
		if errors.As(err, &se) {
			util.Error(se.Tok, "%v", se)
		}
		util.Fatalf("code generation failed: %v", err)
	}
	if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "%d instructions, %d bytes of text, %d bytes of data\n",
			unit.Code.Len(), len(img.Text), unit.Code.Data.Len())
	}

	if dumpLayout {
		fmt.Println(img.Layout)
	}
	if disassemble {
		if err := amd64.Dump(os.Stdout, img.Text, img.TextAddr, img.Symbols); err != nil {
			util.Fatalf("disassembly failed: %v", err)
		}
	}

	if err := writeImage(output, img.File); err != nil {
		util.Fatalf("%v", err)
	}
	if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "Wrote '%s' (%d bytes)\n", output, len(img.File))
	}
}

// writeImage removes a partially written file if the process exits early.
func writeImage(path string, data []byte) error {
	done := false
	atexit.Register(func() {
		if !done {
			os.Remove(path)
		}
	})

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("could not create '%s': %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("could not write '%s': %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("could not write '%s': %w", path, err)
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return err
	}
	done = true
	return nil
}
