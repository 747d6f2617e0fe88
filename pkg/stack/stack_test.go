package stack_test

import (
	"errors"

	gomock "github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/xplshn/jcc/pkg/amd64"
	"github.com/xplshn/jcc/pkg/stack"
)

var _ = Describe("Manager", func() {
	var (
		mockCtrl *gomock.Controller
		out      *MockEmitter
		m        *stack.Manager
	)

	expect := func(ins ...Inst) {
		calls := make([]*gomock.Call, len(ins))
		for i, in := range ins {
			calls[i] = out.EXPECT().Emit(in).Return(nil)
		}
		gomock.InOrder(calls...)
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		out = NewMockEmitter(mockCtrl)
		m = stack.New(out)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("emits the frame prologue and epilogue", func() {
		expect(
			I(PUSH, RBP),
			I(MOV, RBP, RSP),
			I(MOV, RSP, RBP),
			I(POP, RBP),
			I(RET),
		)
		Expect(m.Prologue()).To(Succeed())
		Expect(m.Depth()).To(Equal(0))
		Expect(m.Epilogue()).To(Succeed())
		Expect(m.Scopes()).To(Equal(0))
	})

	It("reports the depth of stored values", func() {
		expect(
			I(PUSH, RBP),
			I(MOV, RBP, RSP),
			I(PUSH, RDI),
			I(MOV, RAX, Imm64(7)),
			I(PUSH, RAX),
			I(MOV, RAX, Imm64(1)),
			I(PUSH, RAX),
		)
		Expect(m.Prologue()).To(Succeed())
		d, err := m.Push(RDI)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(8))

		d, err = m.Store([]uint64{1, 7}, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(24))
		Expect(m.Aligned()).To(BeFalse())
	})

	It("zero-fills extra space above stored words", func() {
		expect(
			I(PUSH, RBP),
			I(MOV, RBP, RSP),
			I(XOR, RAX, RAX),
			I(PUSH, RAX),
			I(PUSH, RAX),
			I(MOV, RAX, Imm64(5)),
			I(PUSH, RAX),
		)
		Expect(m.Prologue()).To(Succeed())
		d, err := m.Store([]uint64{5}, 16)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(24))
	})

	It("frees a nested scope on exit", func() {
		expect(
			I(PUSH, RBP),
			I(MOV, RBP, RSP),
			I(PUSH, RAX),
			I(SUB, RSP, Imm32(8)),
			I(ADD, RSP, Imm32(16)),
		)
		Expect(m.Prologue()).To(Succeed())
		m.EnterScope()
		_, err := m.Push(RAX)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Pad()).To(Succeed())
		Expect(m.Depth()).To(Equal(16))
		Expect(m.ExitScope()).To(Succeed())
		Expect(m.Depth()).To(Equal(0))
	})

	It("does not emit anything for an empty scope", func() {
		expect(I(PUSH, RBP), I(MOV, RBP, RSP))
		Expect(m.Prologue()).To(Succeed())
		m.EnterScope()
		Expect(m.ExitScope()).To(Succeed())
		Expect(m.ExitScope()).To(MatchError(stack.ErrNoScope))
	})

	It("pads a misaligned call and releases the padding after it", func() {
		expect(
			I(PUSH, RBP),
			I(MOV, RBP, RSP),
			I(PUSH, RDI),
			I(SUB, RSP, Imm32(8)),
			I(ADD, RSP, Imm32(8)),
		)
		Expect(m.Prologue()).To(Succeed())
		_, err := m.Push(RDI)
		Expect(err).NotTo(HaveOccurred())

		call, err := m.BeginCall(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(call).To(Equal(stack.Call{Padding: 8}))
		Expect(m.Check()).To(Succeed())

		Expect(m.EndCall(call)).To(Succeed())
		Expect(m.Depth()).To(Equal(8))
	})

	It("keeps padding and shadow space per call", func() {
		expect(
			I(PUSH, RBP),
			I(MOV, RBP, RSP),
			I(SUB, RSP, Imm32(32)),
			I(PUSH, RCX),
			I(SUB, RSP, Imm32(40)),
			I(ADD, RSP, Imm32(40)),
			I(ADD, RSP, Imm32(32)),
		)
		Expect(m.Prologue()).To(Succeed())
		outer, err := m.BeginCall(32)
		Expect(err).NotTo(HaveOccurred())
		Expect(outer).To(Equal(stack.Call{Shadow: 32}))

		_, err = m.Push(RCX)
		Expect(err).NotTo(HaveOccurred())
		inner, err := m.BeginCall(32)
		Expect(err).NotTo(HaveOccurred())
		Expect(inner).To(Equal(stack.Call{Padding: 8, Shadow: 32}))

		Expect(m.EndCall(inner)).To(Succeed())
		Expect(m.Depth()).To(Equal(40))
		Expect(m.EndCall(outer)).To(Succeed())
		Expect(m.Depth()).To(Equal(8))
	})

	It("rejects shadow space that breaks alignment", func() {
		expect(I(PUSH, RBP), I(MOV, RBP, RSP), I(SUB, RSP, Imm32(8)))
		Expect(m.Prologue()).To(Succeed())
		_, err := m.BeginCall(8)
		Expect(err).To(MatchError(stack.ErrMisaligned))
	})

	It("realigns an entry frame", func() {
		expect(I(PUSH, RBP), I(MOV, RBP, RSP), I(PUSH, RAX), I(AND, RSP, Imm32(-16)))
		Expect(m.Prologue()).To(Succeed())
		_, err := m.Push(RAX)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Realign()).To(Succeed())
		Expect(m.Depth()).To(Equal(0))
	})

	It("propagates emitter failures", func() {
		boom := errors.New("boom")
		out.EXPECT().Emit(gomock.Any()).Return(boom)
		Expect(m.Prologue()).To(MatchError(boom))
	})

	It("needs an open scope before allocating", func() {
		out.EXPECT().Emit(I(PUSH, RAX)).Return(nil)
		_, err := m.Push(RAX)
		Expect(err).To(MatchError(stack.ErrNoScope))
	})
})
