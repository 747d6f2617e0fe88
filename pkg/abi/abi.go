// Package abi implements the two calling conventions a generated image
// uses: System V on Linux and the Microsoft x64 convention on Windows.
package abi

import (
	"errors"
	"fmt"

	"github.com/xplshn/jcc/pkg/amd64"
	"github.com/xplshn/jcc/pkg/stack"
)

//go:generate mockgen -write_package_comment=false -package=abi_test -destination=mock_emitter_test.go github.com/xplshn/jcc/pkg/abi Emitter

var (
	ErrTooManyArgs    = errors.New("too many arguments for calling convention")
	ErrNotAddressable = errors.New("argument has no address")
	ErrUnknownTarget  = errors.New("unknown target")
)

type Emitter interface {
	Emit(in amd64.Inst) error
	DataRef(reg amd64.Reg, symbol string) error
}

// Convention is one platform's integer argument passing rules.
type Convention struct {
	Name    string
	ArgRegs []amd64.Reg
	// Shadow is the spill area the caller reserves for the callee.
	Shadow int
}

var (
	SysV = &Convention{
		Name:    "sysv",
		ArgRegs: []amd64.Reg{amd64.RDI, amd64.RSI, amd64.RDX, amd64.RCX, amd64.R8, amd64.R9},
	}
	Win64 = &Convention{
		Name:    "win64",
		ArgRegs: []amd64.Reg{amd64.RCX, amd64.RDX, amd64.R8, amd64.R9},
		Shadow:  32,
	}
)

// For returns the convention of a target operating system.
func For(target string) (*Convention, error) {
	switch target {
	case "linux":
		return SysV, nil
	case "windows":
		return Win64, nil
	}
	return nil, fmt.Errorf("%w: '%s'", ErrUnknownTarget, target)
}

// Arg returns the register carrying argument i.
func (cv *Convention) Arg(i int) (amd64.Reg, error) {
	if i < 0 || i >= len(cv.ArgRegs) {
		return amd64.Reg{}, fmt.Errorf("%w: argument %d, %s passes %d in registers", ErrTooManyArgs, i+1, cv.Name, len(cv.ArgRegs))
	}
	return cv.ArgRegs[i], nil
}

type Source uint8

const (
	// FromFrame is a slot at [rbp-Offset].
	FromFrame Source = iota
	// FromData is a data-section symbol.
	FromData
	// FromImmediate is a constant with no storage.
	FromImmediate
)

// Arg describes where one argument comes from and how it is passed.
type Arg struct {
	Source Source
	Offset int
	Symbol string
	Value  int64
	// Indirect means the frame slot holds a pointer to the value rather
	// than the value itself.
	Indirect bool
	// ByValue passes the 8-byte value; otherwise its address is passed.
	ByValue bool
}

// Frame is an argument stored at [rbp-offset].
func Frame(offset int) Arg { return Arg{Source: FromFrame, Offset: offset} }

// Data is an argument stored in the data section.
func Data(symbol string) Arg { return Arg{Source: FromData, Symbol: symbol} }

// Immediate is a constant integer argument.
func Immediate(v int64) Arg { return Arg{Source: FromImmediate, Value: v, ByValue: true} }

// Load emits the instructions that put a into r.
func Load(out Emitter, r amd64.Reg, a Arg) error {
	var ins []amd64.Inst
	switch a.Source {
	case FromImmediate:
		if !a.ByValue {
			return fmt.Errorf("%w: constant %d", ErrNotAddressable, a.Value)
		}
		return out.Emit(amd64.I(amd64.MOV, r, amd64.Imm64(a.Value)))

	case FromData:
		if err := out.DataRef(r, a.Symbol); err != nil {
			return err
		}
		if a.ByValue {
			ins = append(ins, amd64.I(amd64.MOV, r, amd64.Ptr(r, 0)))
		}

	case FromFrame:
		switch {
		case a.Indirect:
			ins = append(ins, amd64.I(amd64.MOV, r, amd64.Ptr(amd64.RBP, int32(-a.Offset))))
			if a.ByValue {
				ins = append(ins, amd64.I(amd64.MOV, r, amd64.Ptr(r, 0)))
			}
		case a.ByValue:
			ins = append(ins, amd64.I(amd64.MOV, r, amd64.Ptr(amd64.RBP, int32(-a.Offset))))
		default:
			ins = append(ins,
				amd64.I(amd64.MOV, r, amd64.RBP),
				amd64.I(amd64.SUB, r, amd64.Imm32(int64(a.Offset))),
			)
		}
	}
	for _, in := range ins {
		if err := out.Emit(in); err != nil {
			return err
		}
	}
	return nil
}

// Call is the state a PushArgs hands to the matching PopArgs.
type Call struct {
	saved []amd64.Reg
	frame stack.Call
}

// PushArgs saves the argument registers it is about to overwrite, loads
// args into them and aligns the stack, so a call instruction can follow
// immediately.
func (cv *Convention) PushArgs(out Emitter, st *stack.Manager, args []Arg) (*Call, error) {
	if len(args) > len(cv.ArgRegs) {
		return nil, fmt.Errorf("%w: %d arguments, %s passes %d in registers", ErrTooManyArgs, len(args), cv.Name, len(cv.ArgRegs))
	}
	c := &Call{saved: cv.ArgRegs[:len(args)]}
	for _, r := range c.saved {
		if _, err := st.Push(r); err != nil {
			return nil, err
		}
	}
	for i, a := range args {
		if err := Load(out, c.saved[i], a); err != nil {
			return nil, err
		}
	}
	frame, err := st.BeginCall(cv.Shadow)
	if err != nil {
		return nil, err
	}
	c.frame = frame
	return c, nil
}

// PopArgs undoes PushArgs once the call has returned.
func (cv *Convention) PopArgs(st *stack.Manager, c *Call) error {
	if err := st.EndCall(c.frame); err != nil {
		return err
	}
	for i := len(c.saved) - 1; i >= 0; i-- {
		if err := st.Pop(c.saved[i]); err != nil {
			return err
		}
	}
	return nil
}
