package amd64

import (
	"errors"
	"fmt"
)

var (
	ErrUnencodable = errors.New("no encoding for operand combination")
	ErrOverflow    = errors.New("value does not fit operand width")
)

type form uint8

const (
	formZO  form = iota // no operands
	formO               // register folded into the opcode
	formOI              // register folded into the opcode, immediate of register width
	formM               // single r/m operand, reg field is an opcode extension
	formMR              // r/m destination, register source
	formRM              // register destination, r/m source
	formMI              // r/m destination, imm16/imm32
	formMI8             // r/m destination, imm8
	formMC              // r/m destination, count in CL
	formI               // immediate only
	formD               // rel32
)

var formNames = [...]string{"ZO", "O", "OI", "M", "MR", "RM", "MI", "MI8", "MC", "I", "D"}

func (f form) String() string { return formNames[f] }

type opcode struct {
	code []byte
	ext  byte
}

var opcodes = [mnemonicCount]map[form]opcode{
	MOV: {
		formMR: {code: []byte{0x89}},
		formRM: {code: []byte{0x8B}},
		formMI: {code: []byte{0xC7}, ext: 0},
		formOI: {code: []byte{0xB8}},
	},
	ADD: {
		formMR: {code: []byte{0x01}},
		formRM: {code: []byte{0x03}},
		formMI: {code: []byte{0x81}, ext: 0},
	},
	OR: {
		formMR: {code: []byte{0x09}},
		formRM: {code: []byte{0x0B}},
		formMI: {code: []byte{0x81}, ext: 1},
	},
	AND: {
		formMR: {code: []byte{0x21}},
		formRM: {code: []byte{0x23}},
		formMI: {code: []byte{0x81}, ext: 4},
	},
	SUB: {
		formMR: {code: []byte{0x29}},
		formRM: {code: []byte{0x2B}},
		formMI: {code: []byte{0x81}, ext: 5},
	},
	XOR: {
		formMR: {code: []byte{0x31}},
		formRM: {code: []byte{0x33}},
		formMI: {code: []byte{0x81}, ext: 6},
	},
	CMP: {
		formMR: {code: []byte{0x39}},
		formRM: {code: []byte{0x3B}},
		formMI: {code: []byte{0x81}, ext: 7},
	},
	MUL: {formM: {code: []byte{0xF7}, ext: 4}},
	DIV: {formM: {code: []byte{0xF7}, ext: 6}},
	INC: {formM: {code: []byte{0xFF}, ext: 0}},
	DEC: {formM: {code: []byte{0xFF}, ext: 1}},
	SHL: {
		formMI8: {code: []byte{0xC1}, ext: 4},
		formMC:  {code: []byte{0xD3}, ext: 4},
	},
	PUSH: {
		formO: {code: []byte{0x50}},
		formI: {code: []byte{0x68}},
		formM: {code: []byte{0xFF}, ext: 6},
	},
	POP: {
		formO: {code: []byte{0x58}},
		formM: {code: []byte{0x8F}, ext: 0},
	},
	CALL: {
		formD: {code: []byte{0xE8}},
		formM: {code: []byte{0xFF}, ext: 2},
	},
	JMP: {
		formD: {code: []byte{0xE9}},
		formM: {code: []byte{0xFF}, ext: 4},
	},
	JL:      {formD: {code: []byte{0x0F, 0x8C}}},
	JG:      {formD: {code: []byte{0x0F, 0x8F}}},
	JGE:     {formD: {code: []byte{0x0F, 0x8D}}},
	RET:     {formZO: {code: []byte{0xC3}}},
	SYSCALL: {formZO: {code: []byte{0x0F, 0x05}}},
}

// Stack and branch instructions operate on 64 bits without REX.W.
func (m Mnemonic) default64() bool {
	switch m {
	case PUSH, POP, CALL, JMP:
		return true
	}
	return false
}

// Encoding is the machine code for one instruction. ValueAt and DispAt are
// byte positions of the immediate/relative field and the displacement field
// inside Bytes, or -1 when the instruction has none.
type Encoding struct {
	Bytes   []byte
	ValueAt int
	DispAt  int
}

func (in Inst) form() (form, error) {
	ops := opcodes[in.Op]
	has := func(f form) bool { _, ok := ops[f]; return ok }

	switch in.argc() {
	case 0:
		return formZO, nil
	case 1:
		switch a := in.Args[0].(type) {
		case Reg:
			if has(formO) && a.Width == W64 {
				return formO, nil
			}
			return formM, nil
		case Mem:
			return formM, nil
		case Imm:
			return formI, nil
		case Rel:
			return formD, nil
		}
	case 2:
		switch in.Args[0].(type) {
		case Reg:
			switch src := in.Args[1].(type) {
			case Reg:
				if src == CL && has(formMC) {
					return formMC, nil
				}
				if has(formMR) {
					return formMR, nil
				}
				return formRM, nil
			case Mem:
				return formRM, nil
			case Imm:
				if has(formOI) {
					return formOI, nil
				}
				if src.Width == W8 && has(formMI8) {
					return formMI8, nil
				}
				return formMI, nil
			}
		case Mem:
			switch src := in.Args[1].(type) {
			case Reg:
				if src == CL && has(formMC) {
					return formMC, nil
				}
				return formMR, nil
			case Imm:
				if src.Width == W8 && has(formMI8) {
					return formMI8, nil
				}
				return formMI, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnencodable, in)
}

type encoder struct {
	buf     []byte
	valueAt int
	dispAt  int
}

func (e *encoder) prefixes(width Width, w, r, b bool) {
	if width == W16 {
		e.buf = append(e.buf, 0x66)
	}
	var rex byte
	if w {
		rex |= 0x08
	}
	if r {
		rex |= 0x04
	}
	if b {
		rex |= 0x01
	}
	if rex != 0 {
		e.buf = append(e.buf, 0x40|rex)
	}
}

// modrm writes the ModRM byte plus SIB and displacement for rm.
func (e *encoder) modrm(reg byte, rm Arg) {
	switch rm := rm.(type) {
	case Reg:
		e.buf = append(e.buf, 0xC0|reg<<3|rm.low())
	case Mem:
		if rm.Base == RIP {
			e.buf = append(e.buf, reg<<3|0x05)
			e.dispAt = len(e.buf)
			e.buf = appendLE(e.buf, int64(rm.Disp), 4)
			return
		}
		var mod byte
		switch {
		case rm.Wide:
			mod = 0x80
		case rm.Disp == 0 && rm.Base.low() != 5:
			mod = 0x00
		case rm.Disp >= -128 && rm.Disp <= 127:
			mod = 0x40
		default:
			mod = 0x80
		}
		e.buf = append(e.buf, mod|reg<<3|rm.Base.low())
		if rm.Base.low() == 4 {
			e.buf = append(e.buf, 0x24)
		}
		switch mod {
		case 0x40:
			e.dispAt = len(e.buf)
			e.buf = append(e.buf, byte(int8(rm.Disp)))
		case 0x80:
			e.dispAt = len(e.buf)
			e.buf = appendLE(e.buf, int64(rm.Disp), 4)
		}
	}
}

func (e *encoder) imm(v int64, width Width) {
	e.valueAt = len(e.buf)
	e.buf = appendLE(e.buf, v, int(width)/8)
}

func appendLE(buf []byte, v int64, n int) []byte {
	for i := 0; i < n; i++ {
		buf = append(buf, byte(uint64(v)>>(8*i)))
	}
	return buf
}

// fits reports whether v can be stored in a field of the given width.
// signExtended fields are widened by the CPU with sign extension, so only
// signed values are accepted for them.
func fits(v int64, width Width, signExtended bool) bool {
	if width == W64 {
		return true
	}
	lo := int64(-1) << (width - 1)
	hi := int64(1)<<width - 1
	if signExtended {
		hi = int64(1)<<(width-1) - 1
	}
	return v >= lo && v <= hi
}

func isExt(a Arg) bool {
	switch a := a.(type) {
	case Reg:
		return a.extended()
	case Mem:
		return a.Base.extended()
	}
	return false
}

func operandWidth(a Arg) Width {
	if r, ok := a.(Reg); ok {
		return r.Width
	}
	return W64
}

// Encode produces the machine code for in. An operand combination the
// mnemonic has no opcode for is an error, as is a value wider than its field.
func Encode(in Inst) (Encoding, error) {
	if in.Op >= mnemonicCount {
		return Encoding{}, fmt.Errorf("%w: unknown mnemonic %d", ErrUnencodable, in.Op)
	}
	f, err := in.form()
	if err != nil {
		return Encoding{}, err
	}
	oc, ok := opcodes[in.Op][f]
	if !ok {
		return Encoding{}, fmt.Errorf("%w: %s has no %s form (%s)", ErrUnencodable, in.Op, f, in)
	}

	e := &encoder{valueAt: -1, dispAt: -1}
	bad := func(format string, args ...any) (Encoding, error) {
		return Encoding{}, fmt.Errorf("%w: %s: %s", ErrUnencodable, in, fmt.Sprintf(format, args...))
	}

	switch f {
	case formZO:
		e.buf = append(e.buf, oc.code...)

	case formO:
		r := in.Args[0].(Reg)
		e.prefixes(W64, false, false, r.extended())
		e.buf = append(e.buf, oc.code[0]+r.low())

	case formOI:
		r := in.Args[0].(Reg)
		v := in.Args[1].(Imm).Value
		if r.Width == W8 || r == RIP {
			return bad("register %s", r)
		}
		if !fits(v, r.Width, false) {
			return Encoding{}, fmt.Errorf("%w: %s: %#x into %d bits", ErrOverflow, in, v, r.Width)
		}
		e.prefixes(r.Width, r.Width == W64, false, r.extended())
		e.buf = append(e.buf, oc.code[0]+r.low())
		e.imm(v, r.Width)

	case formM:
		rm := in.Args[0]
		width := operandWidth(rm)
		if width == W8 {
			return bad("8-bit operand")
		}
		if r, isReg := rm.(Reg); isReg && r == RIP {
			return bad("rip is not a register operand")
		}
		if in.Op.default64() && width != W64 {
			return bad("%d-bit operand", width)
		}
		e.prefixes(width, width == W64 && !in.Op.default64(), false, isExt(rm))
		e.buf = append(e.buf, oc.code...)
		e.modrm(oc.ext, rm)

	case formMR, formRM:
		rm, reg := in.Args[0], in.Args[1]
		if f == formRM {
			rm, reg = in.Args[1], in.Args[0]
		}
		r := reg.(Reg)
		if r.Width == W8 || r == RIP {
			return bad("register %s", r)
		}
		if other, isReg := rm.(Reg); isReg && (other.Width != r.Width || other == RIP) {
			return bad("operand widths differ")
		}
		if _, isMem := rm.(Mem); isMem && r.Width != W64 {
			return bad("memory operands are qword")
		}
		e.prefixes(r.Width, r.Width == W64, r.extended(), isExt(rm))
		e.buf = append(e.buf, oc.code...)
		e.modrm(r.low(), rm)

	case formMI, formMI8:
		rm := in.Args[0]
		v := in.Args[1].(Imm).Value
		width := operandWidth(rm)
		if width == W8 {
			return bad("8-bit operand")
		}
		if r, isReg := rm.(Reg); isReg && r == RIP {
			return bad("rip is not a register operand")
		}
		field := W32
		switch {
		case f == formMI8:
			field = W8
		case width == W16:
			field = W16
		}
		if !fits(v, field, width == W64 || f == formMI8) {
			return Encoding{}, fmt.Errorf("%w: %s: %#x into %d bits", ErrOverflow, in, v, field)
		}
		e.prefixes(width, width == W64, false, isExt(rm))
		e.buf = append(e.buf, oc.code...)
		e.modrm(oc.ext, rm)
		e.imm(v, field)

	case formMC:
		rm := in.Args[0]
		width := operandWidth(rm)
		if width == W8 {
			return bad("8-bit operand")
		}
		e.prefixes(width, width == W64, false, isExt(rm))
		e.buf = append(e.buf, oc.code...)
		e.modrm(oc.ext, rm)

	case formI:
		imm := in.Args[0].(Imm)
		field := W32
		if imm.Width == W16 {
			field = W16
		}
		if !fits(imm.Value, field, true) {
			return Encoding{}, fmt.Errorf("%w: %s: %#x into %d bits", ErrOverflow, in, imm.Value, field)
		}
		e.prefixes(field, false, false, false)
		e.buf = append(e.buf, oc.code...)
		e.imm(imm.Value, field)

	case formD:
		e.buf = append(e.buf, oc.code...)
		e.imm(int64(in.Args[0].(Rel)), W32)
	}

	return Encoding{Bytes: e.buf, ValueAt: e.valueAt, DispAt: e.dispAt}, nil
}

// Len is the encoded length of in, or an error when it cannot be encoded.
func Len(in Inst) (int, error) {
	enc, err := Encode(in)
	if err != nil {
		return 0, err
	}
	return len(enc.Bytes), nil
}
