// Package stack tracks the frame of the function being generated and emits
// the instructions that grow and shrink it.
//
// Depth is measured in bytes below the frame pointer; a value stored at
// depth d lives at [rbp-d]. The frame pointer itself is 16-byte aligned
// (callers align before every call and the prologue pushes rbp over the
// return address), so rsp is aligned exactly when Depth()%16 == 0.
package stack

import (
	"errors"
	"fmt"

	"github.com/xplshn/jcc/pkg/amd64"
)

//go:generate mockgen -write_package_comment=false -package=stack_test -destination=mock_emitter_test.go github.com/xplshn/jcc/pkg/stack Emitter

const (
	Alignment = 16
	SlotSize  = 8
)

var (
	ErrMisaligned = errors.New("stack misaligned at call")
	ErrNoScope    = errors.New("no open scope")
)

type Emitter interface {
	Emit(in amd64.Inst) error
}

// Manager keeps one depth counter per open lexical scope.
type Manager struct {
	out    Emitter
	scopes []int
}

func New(out Emitter) *Manager {
	return &Manager{out: out}
}

// Depth is the number of bytes between rbp and rsp.
func (m *Manager) Depth() int {
	d := 0
	for _, s := range m.scopes {
		d += s
	}
	return d
}

// Scopes is the number of open scopes.
func (m *Manager) Scopes() int { return len(m.scopes) }

// Aligned reports whether rsp is 16-byte aligned.
func (m *Manager) Aligned() bool { return m.Depth()%Alignment == 0 }

func (m *Manager) grow(n int) error {
	if len(m.scopes) == 0 {
		return ErrNoScope
	}
	m.scopes[len(m.scopes)-1] += n
	return nil
}

// Prologue saves the caller's frame pointer and opens the function scope.
func (m *Manager) Prologue() error {
	if err := m.out.Emit(amd64.I(amd64.PUSH, amd64.RBP)); err != nil {
		return err
	}
	if err := m.out.Emit(amd64.I(amd64.MOV, amd64.RBP, amd64.RSP)); err != nil {
		return err
	}
	m.scopes = append(m.scopes[:0], 0)
	return nil
}

// Realign forces rsp to a 16-byte boundary. Used where the incoming
// alignment is unknown, such as the image entry point.
func (m *Manager) Realign() error {
	if len(m.scopes) == 0 {
		return ErrNoScope
	}
	if err := m.out.Emit(amd64.I(amd64.AND, amd64.RSP, amd64.Imm32(-Alignment))); err != nil {
		return err
	}
	m.scopes = m.scopes[:1]
	m.scopes[0] = 0
	return nil
}

// Return leaves the function from anywhere inside it. Scope bookkeeping is
// untouched since code after it still belongs to the open scopes.
func (m *Manager) Return() error {
	for _, in := range []amd64.Inst{
		amd64.I(amd64.MOV, amd64.RSP, amd64.RBP),
		amd64.I(amd64.POP, amd64.RBP),
		amd64.I(amd64.RET),
	} {
		if err := m.out.Emit(in); err != nil {
			return err
		}
	}
	return nil
}

// Epilogue returns from the function and closes every scope.
func (m *Manager) Epilogue() error {
	if len(m.scopes) == 0 {
		return ErrNoScope
	}
	if err := m.Return(); err != nil {
		return err
	}
	m.scopes = m.scopes[:0]
	return nil
}

// EnterScope opens a nested block.
func (m *Manager) EnterScope() {
	m.scopes = append(m.scopes, 0)
}

// ExitScope frees everything the innermost scope allocated.
func (m *Manager) ExitScope() error {
	if len(m.scopes) < 2 {
		return fmt.Errorf("%w: cannot close the function scope with ExitScope", ErrNoScope)
	}
	size := m.scopes[len(m.scopes)-1]
	m.scopes = m.scopes[:len(m.scopes)-1]
	if size == 0 {
		return nil
	}
	return m.out.Emit(amd64.I(amd64.ADD, amd64.RSP, amd64.Imm32(int64(size))))
}

// Push saves r and returns the depth it was stored at.
func (m *Manager) Push(r amd64.Reg) (int, error) {
	if err := m.out.Emit(amd64.I(amd64.PUSH, r)); err != nil {
		return 0, err
	}
	if err := m.grow(SlotSize); err != nil {
		return 0, err
	}
	return m.Depth(), nil
}

func (m *Manager) Pop(r amd64.Reg) error {
	if err := m.out.Emit(amd64.I(amd64.POP, r)); err != nil {
		return err
	}
	return m.grow(-SlotSize)
}

// Reserve moves rsp down by n bytes and returns the new depth.
func (m *Manager) Reserve(n int) (int, error) {
	if n == 0 {
		return m.Depth(), nil
	}
	if err := m.out.Emit(amd64.I(amd64.SUB, amd64.RSP, amd64.Imm32(int64(n)))); err != nil {
		return 0, err
	}
	if err := m.grow(n); err != nil {
		return 0, err
	}
	return m.Depth(), nil
}

// Store materializes words on the stack so that words[0] ends up at the
// lowest address, with extra zero-initialized bytes above the last word. It
// returns the depth of words[0]. RAX is clobbered.
func (m *Manager) Store(words []uint64, extra int) (int, error) {
	if extra%SlotSize != 0 {
		return 0, fmt.Errorf("stack: extra space %d is not a multiple of %d", extra, SlotSize)
	}
	if extra > 0 {
		if err := m.out.Emit(amd64.I(amd64.XOR, amd64.RAX, amd64.RAX)); err != nil {
			return 0, err
		}
		for i := 0; i < extra/SlotSize; i++ {
			if _, err := m.Push(amd64.RAX); err != nil {
				return 0, err
			}
		}
	}
	for i := len(words) - 1; i >= 0; i-- {
		if err := m.out.Emit(amd64.I(amd64.MOV, amd64.RAX, amd64.Imm64(int64(words[i])))); err != nil {
			return 0, err
		}
		if _, err := m.Push(amd64.RAX); err != nil {
			return 0, err
		}
	}
	return m.Depth(), nil
}

// Pad reserves one slot when the scope leaves rsp misaligned.
func (m *Manager) Pad() error {
	if m.Aligned() {
		return nil
	}
	_, err := m.Reserve(Alignment - m.Depth()%Alignment)
	return err
}

// Call is the per-call alignment state: the padding and shadow space
// reserved just before one call instruction, released right after it.
type Call struct {
	Padding int
	Shadow  int
}

// BeginCall aligns rsp and reserves shadow bytes for the callee.
func (m *Manager) BeginCall(shadow int) (Call, error) {
	var c Call
	if !m.Aligned() {
		c.Padding = Alignment - m.Depth()%Alignment
	}
	c.Shadow = shadow
	if _, err := m.Reserve(c.Padding + c.Shadow); err != nil {
		return Call{}, err
	}
	if !m.Aligned() {
		return Call{}, fmt.Errorf("%w: depth %d after %d bytes of shadow space", ErrMisaligned, m.Depth(), shadow)
	}
	return c, nil
}

// EndCall releases what BeginCall reserved.
func (m *Manager) EndCall(c Call) error {
	n := c.Padding + c.Shadow
	if n == 0 {
		return nil
	}
	if err := m.out.Emit(amd64.I(amd64.ADD, amd64.RSP, amd64.Imm32(int64(n)))); err != nil {
		return err
	}
	return m.grow(-n)
}

// Check fails unless rsp is aligned; run it right before a call.
func (m *Manager) Check() error {
	if !m.Aligned() {
		return fmt.Errorf("%w: depth %d", ErrMisaligned, m.Depth())
	}
	return nil
}
