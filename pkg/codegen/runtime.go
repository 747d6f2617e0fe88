package codegen

import (
	"github.com/xplshn/jcc/pkg/amd64"
	"github.com/xplshn/jcc/pkg/config"
	"github.com/xplshn/jcc/pkg/pe"
	"github.com/xplshn/jcc/pkg/symbols"
)

// Runtime helpers the builtins lower to. Each takes its one argument in
// the convention's first register.
const (
	HelperPrint    = "__print"
	HelperPrintInt = "__printd"
	HelperExit     = "__exit"
)

var helperNames = map[string]struct{}{HelperPrint: {}, HelperPrintInt: {}, HelperExit: {}}

// WindowsImports are the only functions a Windows image imports.
var WindowsImports = []pe.Import{
	{DLL: "KERNEL32.dll", Functions: []string{"ExitProcess", "GetStdHandle", "WriteFile"}},
	{DLL: "api-ms-win-crt-stdio-l1-1-0.dll", Functions: []string{"__acrt_iob_func", "__stdio_common_vfprintf", "fflush"}},
}

type helper struct {
	name  string
	needs []string
	emit  func(ctx *Context) error
}

var linuxRuntime = []helper{
	{name: HelperPrintInt, needs: []string{HelperPrint}, emit: (*Context).linuxPrintInt},
	{name: HelperPrint, emit: (*Context).linuxPrint},
	{name: HelperExit, emit: (*Context).linuxExit},
}

var windowsRuntime = []helper{
	{name: HelperPrintInt, emit: (*Context).windowsPrintInt},
	{name: HelperPrint, emit: (*Context).windowsPrint},
	{name: HelperExit, emit: (*Context).windowsExit},
}

// genRuntime emits the helpers that were called, plus whatever they call.
func (ctx *Context) genRuntime() error {
	rt := linuxRuntime
	if ctx.cfg.Target == config.TargetWindows {
		rt = windowsRuntime
	}
	for _, h := range rt {
		if ctx.helpers[h.name] {
			for _, n := range h.needs {
				ctx.helpers[n] = true
			}
		}
	}
	for _, h := range rt {
		if !ctx.helpers[h.name] {
			continue
		}
		if err := ctx.code.Label(h.name); err != nil {
			return err
		}
		if err := h.emit(ctx); err != nil {
			return err
		}
	}
	return ctx.code.ResolveLabels()
}

// linuxPrint writes the string at rdi to stdout with write(2).
func (ctx *Context) linuxPrint() error {
	return ctx.code.EmitAll(
		amd64.I(amd64.PUSH, amd64.RBP),
		amd64.I(amd64.MOV, amd64.RBP, amd64.RSP),
		amd64.I(amd64.MOV, amd64.RDX, amd64.Ptr(amd64.RDI, 0)),
		amd64.I(amd64.MOV, amd64.RSI, amd64.RDI),
		amd64.I(amd64.ADD, amd64.RSI, amd64.Imm32(8)),
		amd64.I(amd64.MOV, amd64.RDI, amd64.Imm64(1)),
		amd64.I(amd64.MOV, amd64.RAX, amd64.Imm64(1)),
		amd64.I(amd64.SYSCALL),
		amd64.I(amd64.POP, amd64.RBP),
		amd64.I(amd64.RET),
	)
}

// linuxPrintInt formats rdi as unsigned decimal on the stack, eight digits
// per word, and prints it as a string.
//
// r8 collects digits, r9 counts them all, r11 counts those in r8.
func (ctx *Context) linuxPrintInt() error {
	c := ctx.code
	next, keep := HelperPrintInt+".next", HelperPrintInt+".keep"
	if err := c.EmitAll(
		amd64.I(amd64.PUSH, amd64.RBP),
		amd64.I(amd64.MOV, amd64.RBP, amd64.RSP),
		amd64.I(amd64.MOV, amd64.RAX, amd64.RDI),
		amd64.I(amd64.XOR, amd64.R8, amd64.R8),
		amd64.I(amd64.XOR, amd64.R9, amd64.R9),
		amd64.I(amd64.XOR, amd64.R11, amd64.R11),
		amd64.I(amd64.MOV, amd64.R10, amd64.Imm64(10)),
	); err != nil {
		return err
	}

	if err := c.Label(next); err != nil {
		return err
	}
	if err := c.EmitAll(
		amd64.I(amd64.XOR, amd64.RDX, amd64.RDX),
		amd64.I(amd64.DIV, amd64.R10),
		amd64.I(amd64.ADD, amd64.RDX, amd64.Imm32('0')),
		amd64.I(amd64.SHL, amd64.R8, amd64.Imm8(8)),
		amd64.I(amd64.OR, amd64.R8, amd64.RDX),
		amd64.I(amd64.INC, amd64.R9),
		amd64.I(amd64.INC, amd64.R11),
		amd64.I(amd64.CMP, amd64.R11, amd64.Imm32(8)),
	); err != nil {
		return err
	}
	if err := c.Jump(amd64.JL, keep); err != nil {
		return err
	}
	// A full word: earlier digits are less significant and sit higher.
	if err := c.EmitAll(
		amd64.I(amd64.PUSH, amd64.R8),
		amd64.I(amd64.XOR, amd64.R8, amd64.R8),
		amd64.I(amd64.XOR, amd64.R11, amd64.R11),
	); err != nil {
		return err
	}

	if err := c.Label(keep); err != nil {
		return err
	}
	if err := c.Emit(amd64.I(amd64.CMP, amd64.RAX, amd64.Imm32(0))); err != nil {
		return err
	}
	if err := c.Jump(amd64.JG, next); err != nil {
		return err
	}

	// Left-justify the last partial word so the digits are contiguous,
	// then put the length word right before the first digit.
	if err := c.EmitAll(
		amd64.I(amd64.MOV, amd64.RCX, amd64.Imm64(8)),
		amd64.I(amd64.SUB, amd64.RCX, amd64.R11),
		amd64.I(amd64.SHL, amd64.RCX, amd64.Imm8(3)),
		amd64.I(amd64.SHL, amd64.R8, amd64.CL),
		amd64.I(amd64.PUSH, amd64.R8),
		amd64.I(amd64.MOV, amd64.RAX, amd64.RSP),
		amd64.I(amd64.ADD, amd64.RAX, amd64.Imm32(8)),
		amd64.I(amd64.SUB, amd64.RAX, amd64.R11),
		amd64.I(amd64.SUB, amd64.RSP, amd64.Imm32(16)),
		amd64.I(amd64.SUB, amd64.RAX, amd64.Imm32(8)),
		amd64.I(amd64.MOV, amd64.Ptr(amd64.RAX, 0), amd64.R9),
		amd64.I(amd64.AND, amd64.RSP, amd64.Imm32(-16)),
		amd64.I(amd64.MOV, amd64.RDI, amd64.RAX),
	); err != nil {
		return err
	}
	if err := c.Call(HelperPrint); err != nil {
		return err
	}
	return c.EmitAll(
		amd64.I(amd64.MOV, amd64.RSP, amd64.RBP),
		amd64.I(amd64.POP, amd64.RBP),
		amd64.I(amd64.RET),
	)
}

func (ctx *Context) linuxExit() error {
	return ctx.code.EmitAll(
		amd64.I(amd64.MOV, amd64.RAX, amd64.Imm64(60)),
		amd64.I(amd64.SYSCALL),
	)
}

// windowsPrint writes the string at rcx to the standard output handle.
// The string pointer is kept at [rbp-8] and the written count at [rbp-16].
func (ctx *Context) windowsPrint() error {
	c := ctx.code
	if err := c.EmitAll(
		amd64.I(amd64.PUSH, amd64.RBP),
		amd64.I(amd64.MOV, amd64.RBP, amd64.RSP),
		amd64.I(amd64.PUSH, amd64.RCX),
		amd64.I(amd64.SUB, amd64.RSP, amd64.Imm32(8)),
		amd64.I(amd64.MOV, amd64.RCX, amd64.Imm64(-11)),
		amd64.I(amd64.SUB, amd64.RSP, amd64.Imm32(32)),
	); err != nil {
		return err
	}
	if err := c.Call("GetStdHandle"); err != nil {
		return err
	}
	if err := c.EmitAll(
		amd64.I(amd64.ADD, amd64.RSP, amd64.Imm32(32)),
		amd64.I(amd64.MOV, amd64.RCX, amd64.RAX),
		amd64.I(amd64.MOV, amd64.RAX, amd64.Ptr(amd64.RBP, -8)),
		amd64.I(amd64.MOV, amd64.R8, amd64.Ptr(amd64.RAX, 0)),
		amd64.I(amd64.MOV, amd64.RDX, amd64.RAX),
		amd64.I(amd64.ADD, amd64.RDX, amd64.Imm32(8)),
		amd64.I(amd64.MOV, amd64.R9, amd64.RBP),
		amd64.I(amd64.SUB, amd64.R9, amd64.Imm32(16)),
		// lpOverlapped goes above the shadow space.
		amd64.I(amd64.SUB, amd64.RSP, amd64.Imm32(8)),
		amd64.I(amd64.PUSH, amd64.Imm32(0)),
		amd64.I(amd64.SUB, amd64.RSP, amd64.Imm32(32)),
	); err != nil {
		return err
	}
	if err := c.Call("WriteFile"); err != nil {
		return err
	}
	return c.EmitAll(
		amd64.I(amd64.MOV, amd64.RSP, amd64.RBP),
		amd64.I(amd64.POP, amd64.RBP),
		amd64.I(amd64.RET),
	)
}

// windowsPrintInt prints rcx with the CRT's vfprintf and flushes stdout so
// output stays ordered with WriteFile.
func (ctx *Context) windowsPrintInt() error {
	c := ctx.code
	if err := c.EmitAll(
		amd64.I(amd64.PUSH, amd64.RBP),
		amd64.I(amd64.MOV, amd64.RBP, amd64.RSP),
		amd64.I(amd64.PUSH, amd64.RCX),
		amd64.I(amd64.SUB, amd64.RSP, amd64.Imm32(8)),
		amd64.I(amd64.MOV, amd64.RCX, amd64.Imm64(1)),
		amd64.I(amd64.SUB, amd64.RSP, amd64.Imm32(32)),
	); err != nil {
		return err
	}
	if err := c.Call("__acrt_iob_func"); err != nil {
		return err
	}
	if err := c.EmitAll(
		amd64.I(amd64.ADD, amd64.RSP, amd64.Imm32(32)),
		amd64.I(amd64.PUSH, amd64.RAX),
		amd64.I(amd64.SUB, amd64.RSP, amd64.Imm32(8)),
		amd64.I(amd64.XOR, amd64.RCX, amd64.RCX),
		amd64.I(amd64.MOV, amd64.RDX, amd64.RAX),
	); err != nil {
		return err
	}
	if err := c.DataRef(amd64.R8, symbols.PrintfFormat); err != nil {
		return err
	}
	if err := c.EmitAll(
		amd64.I(amd64.ADD, amd64.R8, amd64.Imm32(8)),
		amd64.I(amd64.XOR, amd64.R9, amd64.R9),
		amd64.I(amd64.MOV, amd64.RAX, amd64.RBP),
		amd64.I(amd64.SUB, amd64.RAX, amd64.Imm32(8)),
		// The va_list points at the saved value.
		amd64.I(amd64.SUB, amd64.RSP, amd64.Imm32(8)),
		amd64.I(amd64.PUSH, amd64.RAX),
		amd64.I(amd64.SUB, amd64.RSP, amd64.Imm32(32)),
	); err != nil {
		return err
	}
	if err := c.Call("__stdio_common_vfprintf"); err != nil {
		return err
	}
	if err := c.Emit(amd64.I(amd64.MOV, amd64.RCX, amd64.Ptr(amd64.RBP, -24))); err != nil {
		return err
	}
	if err := c.Call("fflush"); err != nil {
		return err
	}
	return c.EmitAll(
		amd64.I(amd64.MOV, amd64.RSP, amd64.RBP),
		amd64.I(amd64.POP, amd64.RBP),
		amd64.I(amd64.RET),
	)
}

func (ctx *Context) windowsExit() error {
	if err := ctx.code.EmitAll(
		amd64.I(amd64.PUSH, amd64.RBP),
		amd64.I(amd64.MOV, amd64.RBP, amd64.RSP),
		amd64.I(amd64.SUB, amd64.RSP, amd64.Imm32(32)),
	); err != nil {
		return err
	}
	return ctx.code.Call("ExitProcess")
}
