package amd64

import "fmt"

// Width is an operand size in bits.
type Width uint8

const (
	W8  Width = 8
	W16 Width = 16
	W32 Width = 32
	W64 Width = 64
)

// Reg is a general-purpose register of a given width. Code is the 4-bit
// register number used in ModRM/REX fields.
type Reg struct {
	Code  uint8
	Width Width
}

const ripCode = 0x10

var (
	RAX = Reg{0, W64}
	RCX = Reg{1, W64}
	RDX = Reg{2, W64}
	RBX = Reg{3, W64}
	RSP = Reg{4, W64}
	RBP = Reg{5, W64}
	RSI = Reg{6, W64}
	RDI = Reg{7, W64}
	R8  = Reg{8, W64}
	R9  = Reg{9, W64}
	R10 = Reg{10, W64}
	R11 = Reg{11, W64}
	R12 = Reg{12, W64}
	R13 = Reg{13, W64}
	R14 = Reg{14, W64}
	R15 = Reg{15, W64}

	EAX  = Reg{0, W32}
	ECX  = Reg{1, W32}
	EDX  = Reg{2, W32}
	EBX  = Reg{3, W32}
	R8D  = Reg{8, W32}
	R9D  = Reg{9, W32}
	R10D = Reg{10, W32}
	R11D = Reg{11, W32}

	AX = Reg{0, W16}
	CX = Reg{1, W16}
	DX = Reg{2, W16}
	BX = Reg{3, W16}

	CL = Reg{1, W8}

	// RIP is only valid as the base of a memory operand.
	RIP = Reg{ripCode, W64}
)

var regNames = map[Width][]string{
	W64: {"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"},
	W32: {"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi", "r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"},
	W16: {"ax", "cx", "dx", "bx", "sp", "bp", "si", "di", "r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w"},
	W8:  {"al", "cl", "dl", "bl"},
}

func (r Reg) String() string {
	if r.Code == ripCode {
		return "rip"
	}
	names := regNames[r.Width]
	if int(r.Code) < len(names) {
		return names[r.Code]
	}
	return fmt.Sprintf("r?%d/%d", r.Code, r.Width)
}

func (r Reg) low() byte      { return r.Code & 7 }
func (r Reg) extended() bool { return r.Code&8 != 0 && r.Code != ripCode }
func (Reg) isArg()           {}
