// Package codectx holds the instruction stream of one compilation and
// resolves the addresses inside it once they are known.
//
// Instructions live in an arena addressed by index. Anything unknown at
// emission time (branch targets, import slots, data addresses) is emitted as
// zero and recorded as a relocation; the Resolve* phases turn relocations
// into patches, and Bytes applies the patches while encoding. A patch only
// ever changes an operand value, never the encoding form, so offsets taken
// during emission stay valid.
package codectx

import (
	"errors"
	"fmt"
	"sort"

	"github.com/xplshn/jcc/pkg/amd64"
)

var (
	ErrUndefinedSymbol = errors.New("undefined symbol")
	ErrDuplicateSymbol = errors.New("duplicate symbol")
	ErrDoublePatch     = errors.New("operand patched twice")
	ErrLengthChanged   = errors.New("instruction length changed after patching")
	ErrNotBranch       = errors.New("not a branch mnemonic")
)

type RelocKind uint8

const (
	RelocLabel RelocKind = iota
	RelocImport
	RelocData
)

func (k RelocKind) String() string {
	switch k {
	case RelocLabel:
		return "label"
	case RelocImport:
		return "import"
	case RelocData:
		return "data"
	}
	return fmt.Sprintf("RelocKind(%d)", k)
}

// Reloc marks the operand of instruction Index as depending on Symbol.
type Reloc struct {
	Index  int
	Symbol string
	Kind   RelocKind
}

type Field uint8

const (
	FieldValue Field = iota
	FieldDisp
)

// Patch replaces one operand field of one instruction.
type Patch struct {
	Index int
	Field Field
	Value int64
}

type patchKey struct {
	index int
	field Field
}

// SizeOfTrampoline is the length of jmp [rip+disp32].
const SizeOfTrampoline = 6

type Context struct {
	insts       []amd64.Inst
	offsets     []int
	labels      map[string]int
	calls       map[string][]int
	relocs      []Reloc
	patches     map[patchKey]int64
	order       []patchKey
	trampolines map[string]int
	dataRefs    []int

	Data *DataSection
}

func New() *Context {
	return &Context{
		offsets:     []int{0},
		labels:      make(map[string]int),
		calls:       make(map[string][]int),
		patches:     make(map[patchKey]int64),
		trampolines: make(map[string]int),
		Data:        NewDataSection(),
	}
}

// Emit appends in. An unencodable instruction is rejected here, at the
// point of emission, so nothing downstream sees it.
func (c *Context) Emit(in amd64.Inst) error {
	n, err := amd64.Len(in)
	if err != nil {
		return fmt.Errorf("emit #%d: %w", len(c.insts), err)
	}
	c.insts = append(c.insts, in)
	c.offsets = append(c.offsets, c.Size()+n)
	return nil
}

func (c *Context) EmitAll(ins ...amd64.Inst) error {
	for _, in := range ins {
		if err := c.Emit(in); err != nil {
			return err
		}
	}
	return nil
}

// Label binds name to the current end of the stream.
func (c *Context) Label(name string) error {
	if _, dup := c.labels[name]; dup {
		return fmt.Errorf("%w: label '%s'", ErrDuplicateSymbol, name)
	}
	c.labels[name] = c.Size()
	return nil
}

// Call emits a call to symbol with a zero displacement.
func (c *Context) Call(symbol string) error {
	if err := c.Emit(amd64.I(amd64.CALL, amd64.Rel(0)).Sym(symbol)); err != nil {
		return err
	}
	c.calls[symbol] = append(c.calls[symbol], len(c.insts)-1)
	return nil
}

// Jump emits a jump to a label defined in the same function.
func (c *Context) Jump(op amd64.Mnemonic, label string) error {
	if !op.IsBranch() || op == amd64.CALL {
		return fmt.Errorf("%w: %s", ErrNotBranch, op)
	}
	if err := c.Emit(amd64.I(op, amd64.Rel(0)).Sym(label)); err != nil {
		return err
	}
	c.relocs = append(c.relocs, Reloc{Index: len(c.insts) - 1, Symbol: label, Kind: RelocLabel})
	return nil
}

// DataRef loads the absolute address of a data-section symbol into reg.
func (c *Context) DataRef(reg amd64.Reg, symbol string) error {
	if err := c.Emit(amd64.I(amd64.MOV, reg, amd64.Imm64(0)).Sym(symbol)); err != nil {
		return err
	}
	c.relocs = append(c.relocs, Reloc{Index: len(c.insts) - 1, Symbol: symbol, Kind: RelocData})
	c.dataRefs = append(c.dataRefs, len(c.insts)-1)
	return nil
}

// Size is the byte length of everything emitted so far.
func (c *Context) Size() int { return c.offsets[len(c.offsets)-1] }

// Len is the number of emitted instructions.
func (c *Context) Len() int { return len(c.insts) }

// Offset is the byte position of instruction i; Offset(Len()) is Size().
func (c *Context) Offset(i int) int { return c.offsets[i] }

func (c *Context) LabelOffset(name string) (int, bool) {
	off, ok := c.labels[name]
	return off, ok
}

// Labels returns a copy of the label table.
func (c *Context) Labels() map[string]int {
	out := make(map[string]int, len(c.labels))
	for k, v := range c.labels {
		out[k] = v
	}
	return out
}

// CallSites returns the instruction indexes of every call to symbol.
func (c *Context) CallSites(symbol string) []int { return c.calls[symbol] }

// Relocs returns the relocations not yet turned into patches.
func (c *Context) Relocs() []Reloc { return c.relocs }

func (c *Context) Patches() []Patch {
	out := make([]Patch, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, Patch{Index: k.index, Field: k.field, Value: c.patches[k]})
	}
	return out
}

func (c *Context) patch(index int, field Field, value int64) error {
	k := patchKey{index, field}
	if _, dup := c.patches[k]; dup {
		return fmt.Errorf("%w: #%d (%s)", ErrDoublePatch, index, c.insts[index])
	}
	c.patches[k] = value
	c.order = append(c.order, k)
	return nil
}

// rel is the displacement from the end of instruction index to target.
func (c *Context) rel(index, target int) int64 {
	return int64(target - c.offsets[index+1])
}

// ResolveLabels patches every pending jump whose label is known. Call it at
// the end of each function: a label still missing then is undefined.
func (c *Context) ResolveLabels() error {
	var rest []Reloc
	for _, r := range c.relocs {
		if r.Kind != RelocLabel {
			rest = append(rest, r)
			continue
		}
		target, ok := c.labels[r.Symbol]
		if !ok {
			return fmt.Errorf("%w: label '%s'", ErrUndefinedSymbol, r.Symbol)
		}
		if err := c.patch(r.Index, FieldValue, c.rel(r.Index, target)); err != nil {
			return err
		}
	}
	c.relocs = rest
	return nil
}

// Externals describes call targets that are not labels in this stream.
// Imports are reached through a trampoline jumping via the import address
// table; Offsets are targets whose text offset the caller already knows.
type Externals struct {
	Imports map[string]bool
	Offsets map[string]int
}

// ResolveCalls patches every recorded call. It must run once, after the
// last instruction of the program has been emitted, because trampolines are
// appended to the end of the stream.
func (c *Context) ResolveCalls(ext Externals) error {
	symbols := make([]string, 0, len(c.calls))
	for s := range c.calls {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		target, ok := c.labels[sym]
		switch {
		case ok:
		case ext.Imports[sym]:
			var err error
			if target, err = c.trampoline(sym); err != nil {
				return err
			}
		default:
			if target, ok = ext.Offsets[sym]; !ok {
				return fmt.Errorf("%w: function '%s'", ErrUndefinedSymbol, sym)
			}
		}
		for _, idx := range c.calls[sym] {
			if err := c.patch(idx, FieldValue, c.rel(idx, target)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Context) trampoline(sym string) (int, error) {
	if idx, ok := c.trampolines[sym]; ok {
		return c.offsets[idx], nil
	}
	at := c.Size()
	if err := c.Emit(amd64.I(amd64.JMP, amd64.RIPRel(0)).Sym(sym)); err != nil {
		return 0, err
	}
	idx := len(c.insts) - 1
	c.trampolines[sym] = idx
	c.relocs = append(c.relocs, Reloc{Index: idx, Symbol: sym, Kind: RelocImport})
	return at, nil
}

// Trampolines maps each import symbol to the text offset of its trampoline.
func (c *Context) Trampolines() map[string]int {
	out := make(map[string]int, len(c.trampolines))
	for s, idx := range c.trampolines {
		out[s] = c.offsets[idx]
	}
	return out
}

// ResolveImports points each trampoline at its import address table slot.
// textAddr and the iat addresses must be in the same address space (both
// RVAs or both virtual addresses).
func (c *Context) ResolveImports(textAddr uint64, iat map[string]uint64) error {
	var rest []Reloc
	for _, r := range c.relocs {
		if r.Kind != RelocImport {
			rest = append(rest, r)
			continue
		}
		slot, ok := iat[r.Symbol]
		if !ok {
			return fmt.Errorf("%w: import '%s'", ErrUndefinedSymbol, r.Symbol)
		}
		disp := int64(slot) - int64(textAddr+uint64(c.offsets[r.Index+1]))
		if disp < -1<<31 || disp > 1<<31-1 {
			return fmt.Errorf("%w: import '%s' is %#x bytes away", amd64.ErrOverflow, r.Symbol, disp)
		}
		if err := c.patch(r.Index, FieldDisp, disp); err != nil {
			return err
		}
	}
	c.relocs = rest
	return nil
}

// ResolveData patches every data reference with dataAddr plus the symbol's
// offset in the data section.
func (c *Context) ResolveData(dataAddr uint64) error {
	var rest []Reloc
	for _, r := range c.relocs {
		if r.Kind != RelocData {
			rest = append(rest, r)
			continue
		}
		off, ok := c.Data.Offset(r.Symbol)
		if !ok {
			return fmt.Errorf("%w: data '%s'", ErrUndefinedSymbol, r.Symbol)
		}
		if err := c.patch(r.Index, FieldValue, int64(dataAddr+off)); err != nil {
			return err
		}
	}
	c.relocs = rest
	return nil
}

// AbsoluteSites returns the text offsets of every 64-bit absolute address
// field, which a relocatable image must list for the loader.
func (c *Context) AbsoluteSites() ([]int, error) {
	var sites []int
	for _, i := range c.dataRefs {
		enc, err := amd64.Encode(c.insts[i])
		if err != nil {
			return nil, err
		}
		sites = append(sites, c.offsets[i]+enc.ValueAt)
	}
	return sites, nil
}

// Inst returns instruction i with its patches applied.
func (c *Context) Inst(i int) (amd64.Inst, error) {
	in := c.insts[i]
	var err error
	if v, ok := c.patches[patchKey{i, FieldValue}]; ok {
		if in, err = in.WithValue(v); err != nil {
			return in, err
		}
	}
	if d, ok := c.patches[patchKey{i, FieldDisp}]; ok {
		if d < -1<<31 || d > 1<<31-1 {
			return in, fmt.Errorf("%w: displacement %#x", amd64.ErrOverflow, d)
		}
		if in, err = in.WithDisp(int32(d)); err != nil {
			return in, err
		}
	}
	return in, nil
}

// Bytes encodes the whole stream with all patches applied.
func (c *Context) Bytes() ([]byte, error) {
	out := make([]byte, 0, c.Size())
	for i := range c.insts {
		in, err := c.Inst(i)
		if err != nil {
			return nil, err
		}
		enc, err := amd64.Encode(in)
		if err != nil {
			return nil, err
		}
		if want := c.offsets[i+1] - c.offsets[i]; len(enc.Bytes) != want {
			return nil, fmt.Errorf("%w: #%d %s is %d bytes, was %d", ErrLengthChanged, i, in, len(enc.Bytes), want)
		}
		out = append(out, enc.Bytes...)
	}
	return out, nil
}
