package amd64

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Line is one decoded instruction.
type Line struct {
	Addr  uint64
	Bytes []byte
	Text  string
}

// Disassemble decodes code loaded at addr back into Intel syntax. Symbols,
// when non-nil, names branch targets.
func Disassemble(code []byte, addr uint64, symbols map[uint64]string) ([]Line, error) {
	var lookup x86asm.SymLookup
	if symbols != nil {
		lookup = func(a uint64) (string, uint64) {
			if name, ok := symbols[a]; ok {
				return name, a
			}
			return "", 0
		}
	}

	var lines []Line
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return lines, fmt.Errorf("decode at %#x: %w", addr+uint64(off), err)
		}
		pc := addr + uint64(off)
		lines = append(lines, Line{
			Addr:  pc,
			Bytes: code[off : off+inst.Len],
			Text:  x86asm.IntelSyntax(inst, pc, lookup),
		})
		off += inst.Len
	}
	return lines, nil
}

// Dump writes an objdump-style listing of code to w.
func Dump(w io.Writer, code []byte, addr uint64, symbols map[uint64]string) error {
	lines, err := Disassemble(code, addr, symbols)
	for _, l := range lines {
		if name, ok := symbols[l.Addr]; ok {
			fmt.Fprintf(w, "\n%016x <%s>:\n", l.Addr, name)
		}
		hex := make([]string, len(l.Bytes))
		for i, b := range l.Bytes {
			hex[i] = fmt.Sprintf("%02x", b)
		}
		fmt.Fprintf(w, "%8x:\t%-30s\t%s\n", l.Addr, strings.Join(hex, " "), l.Text)
	}
	return err
}
