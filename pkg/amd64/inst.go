package amd64

import (
	"fmt"
	"strings"
)

// Mnemonic identifies an instruction. The set is closed: Encode knows an
// opcode table for each of these and nothing else.
type Mnemonic uint8

const (
	MOV Mnemonic = iota
	ADD
	SUB
	AND
	OR
	XOR
	MUL
	DIV
	INC
	DEC
	SHL
	CMP
	PUSH
	POP
	CALL
	JMP
	JL
	JG
	JGE
	RET
	SYSCALL
	mnemonicCount
)

var mnemonicNames = [mnemonicCount]string{
	MOV: "mov", ADD: "add", SUB: "sub", AND: "and", OR: "or", XOR: "xor",
	MUL: "mul", DIV: "div", INC: "inc", DEC: "dec", SHL: "shl", CMP: "cmp",
	PUSH: "push", POP: "pop", CALL: "call", JMP: "jmp", JL: "jl", JG: "jg",
	JGE: "jge", RET: "ret", SYSCALL: "syscall",
}

func (m Mnemonic) String() string {
	if m < mnemonicCount {
		return mnemonicNames[m]
	}
	return fmt.Sprintf("Mnemonic(%d)", m)
}

// IsBranch reports whether m takes a Rel operand that targets a label.
func (m Mnemonic) IsBranch() bool {
	switch m {
	case CALL, JMP, JL, JG, JGE:
		return true
	}
	return false
}

// Inst is one abstract instruction. Symbol names the call target or data
// item the instruction refers to and is informational only.
type Inst struct {
	Op     Mnemonic
	Args   [2]Arg
	Symbol string
}

// I builds an instruction. More than two operands is a construction bug.
func I(op Mnemonic, args ...Arg) Inst {
	if len(args) > 2 {
		panic(fmt.Sprintf("amd64: %s given %d operands", op, len(args)))
	}
	in := Inst{Op: op}
	copy(in.Args[:], args)
	return in
}

// Sym attaches a symbol name.
func (in Inst) Sym(name string) Inst {
	in.Symbol = name
	return in
}

func (in Inst) argc() int {
	switch {
	case in.Args[0] == nil:
		return 0
	case in.Args[1] == nil:
		return 1
	}
	return 2
}

// WithValue returns a copy with its immediate or relative operand replaced.
func (in Inst) WithValue(v int64) (Inst, error) {
	for i, a := range in.Args {
		switch a := a.(type) {
		case Imm:
			a.Value = v
			in.Args[i] = a
			return in, nil
		case Rel:
			if v < -1<<31 || v > 1<<31-1 {
				return in, fmt.Errorf("%w: rel32 %#x", ErrOverflow, v)
			}
			in.Args[i] = Rel(v)
			return in, nil
		}
	}
	return in, fmt.Errorf("%w: %s has no value operand", ErrUnencodable, in)
}

// WithDisp returns a copy with its memory displacement replaced.
func (in Inst) WithDisp(d int32) (Inst, error) {
	for i, a := range in.Args {
		if m, ok := a.(Mem); ok {
			m.Disp = d
			in.Args[i] = m
			return in, nil
		}
	}
	return in, fmt.Errorf("%w: %s has no memory operand", ErrUnencodable, in)
}

func (in Inst) String() string {
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	for i := 0; i < in.argc(); i++ {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(in.Args[i].String())
	}
	if in.Symbol != "" {
		sb.WriteString(" <")
		sb.WriteString(in.Symbol)
		sb.WriteByte('>')
	}
	return sb.String()
}
