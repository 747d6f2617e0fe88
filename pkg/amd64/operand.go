package amd64

import "fmt"

// Arg is one instruction operand: a Reg, Imm, Rel or Mem.
type Arg interface {
	isArg()
	String() string
}

// Imm is an immediate. Width selects between short and long encodings where
// a mnemonic offers both; the encoded field width is otherwise dictated by
// the destination operand.
type Imm struct {
	Value int64
	Width Width
}

func Imm8(v int64) Imm  { return Imm{v, W8} }
func Imm16(v int64) Imm { return Imm{v, W16} }
func Imm32(v int64) Imm { return Imm{v, W32} }
func Imm64(v int64) Imm { return Imm{v, W64} }

func (Imm) isArg() {}
func (i Imm) String() string {
	if i.Value < 0 {
		return fmt.Sprintf("-%#x", uint64(-i.Value))
	}
	return fmt.Sprintf("%#x", uint64(i.Value))
}

// Rel is a 32-bit displacement relative to the end of the instruction.
type Rel int32

func (Rel) isArg() {}
func (r Rel) String() string {
	return fmt.Sprintf(".%+#x", int32(r))
}

// Mem is a qword memory operand [Base+Disp]. Wide forces a 32-bit
// displacement field so a later patch of Disp cannot change the length.
type Mem struct {
	Base Reg
	Disp int32
	Wide bool
}

func (Mem) isArg() {}
func (m Mem) String() string {
	switch {
	case m.Disp == 0 && !m.Wide:
		return fmt.Sprintf("qword ptr [%s]", m.Base)
	case m.Disp < 0:
		return fmt.Sprintf("qword ptr [%s-%#x]", m.Base, -int64(m.Disp))
	default:
		return fmt.Sprintf("qword ptr [%s+%#x]", m.Base, m.Disp)
	}
}

// Ptr returns [base+disp].
func Ptr(base Reg, disp int32) Mem { return Mem{Base: base, Disp: disp} }

// RIPRel returns [rip+disp32].
func RIPRel(disp int32) Mem { return Mem{Base: RIP, Disp: disp, Wide: true} }
