package codectx_test

import (
	"encoding/binary"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/xplshn/jcc/pkg/amd64"
	"github.com/xplshn/jcc/pkg/codectx"
)

func rel32(code []byte, end int) int {
	return int(int32(binary.LittleEndian.Uint32(code[end-4 : end])))
}

var _ = Describe("Context", func() {
	var c *codectx.Context

	BeforeEach(func() {
		c = codectx.New()
	})

	It("tracks offsets as the running sum of encoded lengths", func() {
		ins := []Inst{
			I(PUSH, RBP),
			I(MOV, RBP, RSP),
			I(MOV, RAX, Imm64(42)),
			I(PUSH, RAX),
			I(SUB, RSP, Imm32(8)),
			I(SYSCALL),
		}
		Expect(c.EmitAll(ins...)).To(Succeed())

		sum := 0
		for i, in := range ins {
			Expect(c.Offset(i)).To(Equal(sum))
			n, err := Len(in)
			Expect(err).NotTo(HaveOccurred())
			sum += n
		}
		Expect(c.Size()).To(Equal(sum))
		Expect(c.Offset(c.Len())).To(Equal(sum))

		code, err := c.Bytes()
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(HaveLen(sum))
	})

	It("rejects an unencodable instruction without appending it", func() {
		err := c.Emit(I(DIV, Imm32(2)))
		Expect(err).To(MatchError(ErrUnencodable))
		Expect(c.Len()).To(Equal(0))
		Expect(c.Size()).To(Equal(0))
	})

	It("resolves a backward loop jump", func() {
		Expect(c.Emit(I(XOR, RCX, RCX))).To(Succeed())
		Expect(c.Label("loop")).To(Succeed())
		Expect(c.EmitAll(
			I(INC, RCX),
			I(CMP, RCX, Imm32(0x32000)),
		)).To(Succeed())
		Expect(c.Jump(JL, "loop")).To(Succeed())
		Expect(c.ResolveLabels()).To(Succeed())

		code, err := c.Bytes()
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal([]byte{
			0x48, 0x31, 0xC9,
			0x48, 0xFF, 0xC1,
			0x48, 0x81, 0xF9, 0x00, 0x20, 0x03, 0x00,
			0x0F, 0x8C, 0xF0, 0xFF, 0xFF, 0xFF,
		}))
	})

	It("resolves forward jumps", func() {
		Expect(c.Jump(JMP, "check")).To(Succeed())
		Expect(c.Emit(I(INC, RAX))).To(Succeed())
		Expect(c.Label("check")).To(Succeed())
		Expect(c.Emit(I(RET))).To(Succeed())
		Expect(c.ResolveLabels()).To(Succeed())

		code, err := c.Bytes()
		Expect(err).NotTo(HaveOccurred())
		Expect(rel32(code, 5)).To(Equal(3))
	})

	It("fails on an undefined label", func() {
		Expect(c.Jump(JGE, "nowhere")).To(Succeed())
		Expect(c.ResolveLabels()).To(MatchError(codectx.ErrUndefinedSymbol))
	})

	It("refuses duplicate labels and calls through Jump", func() {
		Expect(c.Label("a")).To(Succeed())
		Expect(c.Label("a")).To(MatchError(codectx.ErrDuplicateSymbol))
		Expect(c.Jump(CALL, "a")).To(MatchError(codectx.ErrNotBranch))
	})

	It("patches every call to land on its label", func() {
		Expect(c.Call("helper")).To(Succeed())
		Expect(c.Emit(I(RET))).To(Succeed())
		Expect(c.Call("helper")).To(Succeed())
		Expect(c.Label("helper")).To(Succeed())
		Expect(c.EmitAll(I(PUSH, RBP), I(POP, RBP), I(RET))).To(Succeed())
		Expect(c.Call("helper")).To(Succeed())

		Expect(c.ResolveCalls(codectx.Externals{})).To(Succeed())
		code, err := c.Bytes()
		Expect(err).NotTo(HaveOccurred())

		target, _ := c.LabelOffset("helper")
		Expect(c.CallSites("helper")).To(HaveLen(3))
		for _, idx := range c.CallSites("helper") {
			end := c.Offset(idx + 1)
			Expect(end + rel32(code, end)).To(Equal(target))
		}
	})

	It("routes imports through one trampoline per symbol", func() {
		Expect(c.Call("WriteFile")).To(Succeed())
		Expect(c.Call("ExitProcess")).To(Succeed())
		Expect(c.Call("WriteFile")).To(Succeed())
		size := c.Size()

		Expect(c.ResolveCalls(codectx.Externals{
			Imports: map[string]bool{"WriteFile": true, "ExitProcess": true},
		})).To(Succeed())
		Expect(c.Size()).To(Equal(size + 2*codectx.SizeOfTrampoline))

		tramps := c.Trampolines()
		Expect(tramps).To(Equal(map[string]int{
			"ExitProcess": size,
			"WriteFile":   size + codectx.SizeOfTrampoline,
		}))

		const textRVA = 0x1000
		iat := map[string]uint64{"ExitProcess": 0x3040, "WriteFile": 0x3048}
		Expect(c.ResolveImports(textRVA, iat)).To(Succeed())

		code, err := c.Bytes()
		Expect(err).NotTo(HaveOccurred())
		for _, sym := range []string{"WriteFile", "ExitProcess"} {
			for _, idx := range c.CallSites(sym) {
				end := c.Offset(idx + 1)
				Expect(end + rel32(code, end)).To(Equal(tramps[sym]))
			}
			tEnd := tramps[sym] + codectx.SizeOfTrampoline
			Expect(code[tramps[sym] : tramps[sym]+2]).To(Equal([]byte{0xFF, 0x25}))
			Expect(uint64(textRVA + tEnd + rel32(code, tEnd))).To(Equal(iat[sym]))
		}
	})

	It("uses caller-supplied offsets for non-import externals", func() {
		Expect(c.Emit(I(RET))).To(Succeed())
		Expect(c.Call("memcpy")).To(Succeed())
		Expect(c.ResolveCalls(codectx.Externals{Offsets: map[string]int{"memcpy": 0}})).To(Succeed())
		code, err := c.Bytes()
		Expect(err).NotTo(HaveOccurred())
		Expect(rel32(code, 6)).To(Equal(-6))
	})

	It("fails on a call to nothing", func() {
		Expect(c.Call("missing")).To(Succeed())
		Expect(c.ResolveCalls(codectx.Externals{})).To(MatchError(codectx.ErrUndefinedSymbol))
	})

	It("refuses to patch an operand twice", func() {
		Expect(c.Label("f")).To(Succeed())
		Expect(c.Call("f")).To(Succeed())
		Expect(c.ResolveCalls(codectx.Externals{})).To(Succeed())
		Expect(c.ResolveCalls(codectx.Externals{})).To(MatchError(codectx.ErrDoublePatch))
	})

	It("lays data out with a running cursor", func() {
		sizes := []int{16, 8, 24}
		names := []string{"a", "b", "c"}
		for i, n := range names {
			_, err := c.Data.Add(n, make([]byte, sizes[i]))
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := c.Data.Add("a", nil)
		Expect(err).To(MatchError(codectx.ErrDuplicateSymbol))

		Expect(c.Emit(I(PUSH, RAX))).To(Succeed())
		regs := []Reg{RDI, RSI, RDX}
		for i, n := range names {
			Expect(c.DataRef(regs[i], n)).To(Succeed())
		}

		const base = 0x08000000 + 0x1000
		Expect(c.ResolveData(base)).To(Succeed())

		want := []codectx.Patch{
			{Index: 1, Field: codectx.FieldValue, Value: base},
			{Index: 2, Field: codectx.FieldValue, Value: base + 16},
			{Index: 3, Field: codectx.FieldValue, Value: base + 24},
		}
		Expect(cmp.Diff(want, c.Patches())).To(BeEmpty())

		sites, err := c.AbsoluteSites()
		Expect(err).NotTo(HaveOccurred())
		Expect(sites).To(Equal([]int{1 + 2, 11 + 2, 21 + 2}))

		code, err := c.Bytes()
		Expect(err).NotTo(HaveOccurred())
		Expect(binary.LittleEndian.Uint64(code[13:21])).To(Equal(uint64(base + 16)))
		Expect(c.Data.Bytes()).To(HaveLen(48))
	})

	It("fails on data that was never declared", func() {
		Expect(c.DataRef(RAX, "ghost")).To(Succeed())
		Expect(c.ResolveData(0)).To(MatchError(codectx.ErrUndefinedSymbol))
	})
})
