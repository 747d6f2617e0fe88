// Package pe writes PE32+ executables for x86-64 Windows with sections
// .text, .rdata (imports), .data and .reloc.
package pe

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	FileAlignment    = 0x200
	SectionAlignment = 0x1000

	lfanew         = 0x80
	optHeaderSize  = 240
	numSections    = 4
	sectionHdrSize = 40
	idtEntrySize   = 20
	thunkSize      = 8

	relBasedDir64 = 0xA000
)

var dosStub = []byte{
	0x0e, 0x1f, 0xba, 0x0e, 0x00, 0xb4, 0x09, 0xcd,
	0x21, 0xb8, 0x01, 0x4c, 0xcd, 0x21, 0x54, 0x68,
	0x69, 0x73, 0x20, 0x70, 0x72, 0x6f, 0x67, 0x72,
	0x61, 0x6d, 0x20, 0x63, 0x61, 0x6e, 0x6e, 0x6f,
	0x74, 0x20, 0x62, 0x65, 0x20, 0x72, 0x75, 0x6e,
	0x20, 0x69, 0x6e, 0x20, 0x44, 0x4f, 0x53, 0x20,
	0x6d, 0x6f, 0x64, 0x65, 0x2e, 0x0d, 0x0d, 0x0a,
	0x24, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// Import is one DLL and the functions taken from it.
type Import struct {
	DLL       string
	Functions []string
}

// Section is one entry of the section table.
type Section struct {
	Name            string
	RVA             uint32
	VirtualSize     uint32
	FileOffset      uint32
	RawSize         uint32
	Characteristics uint32
}

func (s Section) header() pe.SectionHeader32 {
	h := pe.SectionHeader32{
		VirtualSize:      s.VirtualSize,
		VirtualAddress:   s.RVA,
		SizeOfRawData:    s.RawSize,
		PointerToRawData: s.FileOffset,
		Characteristics:  s.Characteristics,
	}
	copy(h.Name[:], s.Name)
	return h
}

// Layout is the complete placement of an image. The import tables and the
// base relocation blocks are built with it since their sizes feed the
// section sizes.
type Layout struct {
	ImageBase     uint64
	SizeOfHeaders uint32
	SizeOfImage   uint32
	Text          Section
	RData         Section
	Data          Section
	Reloc         Section

	// IAT maps each imported function to the RVA of its address table slot.
	IAT       map[string]uint32
	ImportDir pe.DataDirectory
	IATDir    pe.DataDirectory
	RelocDir  pe.DataDirectory

	rdata []byte
	reloc []byte
}

func alignUp(v, align uint32) uint32 { return (v + align - 1) &^ (align - 1) }

// NewLayout places the sections. sites are text offsets of 64-bit absolute
// addresses the loader must fix up when it rebases the image.
func NewLayout(base uint64, textSize, dataSize int, imports []Import, sites []int) (*Layout, error) {
	if base%0x10000 != 0 {
		return nil, fmt.Errorf("pe: image base %#x is not 64K aligned", base)
	}
	l := &Layout{ImageBase: base, IAT: make(map[string]uint32)}

	headers := uint32(lfanew + 4 + 20 + optHeaderSize + numSections*sectionHdrSize)
	l.SizeOfHeaders = alignUp(headers, FileAlignment)

	next := func(prev Section, name string, size int, chars uint32) Section {
		s := Section{Name: name, VirtualSize: uint32(size), Characteristics: chars}
		s.RVA = alignUp(prev.RVA+prev.VirtualSize, SectionAlignment)
		s.FileOffset = prev.FileOffset + prev.RawSize
		s.RawSize = alignUp(uint32(size), FileAlignment)
		return s
	}

	l.Text = Section{
		Name: ".text", RVA: SectionAlignment, VirtualSize: uint32(textSize),
		FileOffset: l.SizeOfHeaders, RawSize: alignUp(uint32(textSize), FileAlignment),
		Characteristics: pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ,
	}

	rdataRVA := alignUp(l.Text.RVA+l.Text.VirtualSize, SectionAlignment)
	l.rdata = l.buildImports(rdataRVA, imports)
	l.RData = next(l.Text, ".rdata", len(l.rdata), pe.IMAGE_SCN_CNT_INITIALIZED_DATA|pe.IMAGE_SCN_MEM_READ)

	// A zero-sized section would map nothing; keep at least one word.
	if dataSize < 8 {
		dataSize = 8
	}
	l.Data = next(l.RData, ".data", dataSize, pe.IMAGE_SCN_CNT_INITIALIZED_DATA|pe.IMAGE_SCN_MEM_READ|pe.IMAGE_SCN_MEM_WRITE)

	l.reloc = buildRelocs(l.Text.RVA, sites)
	l.Reloc = next(l.Data, ".reloc", len(l.reloc), pe.IMAGE_SCN_CNT_INITIALIZED_DATA|pe.IMAGE_SCN_MEM_DISCARDABLE|pe.IMAGE_SCN_MEM_READ)
	l.RelocDir = pe.DataDirectory{VirtualAddress: l.Reloc.RVA, Size: uint32(len(l.reloc))}

	l.SizeOfImage = alignUp(l.Reloc.RVA+l.Reloc.VirtualSize, SectionAlignment)
	return l, nil
}

// buildImports lays out, in order: the import directory table, every
// lookup table, every address table, the hint/name entries and the DLL
// names. The address tables are contiguous so one IAT directory covers them.
func (l *Layout) buildImports(rva uint32, imports []Import) []byte {
	idtSize := (len(imports) + 1) * idtEntrySize
	thunks := 0
	for _, imp := range imports {
		thunks += len(imp.Functions) + 1
	}
	iltOff := idtSize
	iatOff := iltOff + thunks*thunkSize
	namesOff := iatOff + thunks*thunkSize

	var names bytes.Buffer
	hint := make(map[string]int)
	for _, imp := range imports {
		for _, fn := range imp.Functions {
			hint[fn] = namesOff + names.Len()
			names.Write([]byte{0, 0})
			names.WriteString(fn)
			names.WriteByte(0)
			if names.Len()%2 != 0 {
				names.WriteByte(0)
			}
		}
	}
	dllName := make([]int, len(imports))
	for i, imp := range imports {
		dllName[i] = namesOff + names.Len()
		names.WriteString(imp.DLL)
		names.WriteByte(0)
	}

	buf := make([]byte, namesOff+names.Len())
	copy(buf[namesOff:], names.Bytes())

	slot := 0
	for i, imp := range imports {
		e := buf[i*idtEntrySize:]
		binary.LittleEndian.PutUint32(e[0:], rva+uint32(iltOff+slot*thunkSize))
		binary.LittleEndian.PutUint32(e[12:], rva+uint32(dllName[i]))
		binary.LittleEndian.PutUint32(e[16:], rva+uint32(iatOff+slot*thunkSize))
		for _, fn := range imp.Functions {
			entry := uint64(rva + uint32(hint[fn]))
			binary.LittleEndian.PutUint64(buf[iltOff+slot*thunkSize:], entry)
			binary.LittleEndian.PutUint64(buf[iatOff+slot*thunkSize:], entry)
			l.IAT[fn] = rva + uint32(iatOff+slot*thunkSize)
			slot++
		}
		slot++
	}

	l.ImportDir = pe.DataDirectory{VirtualAddress: rva, Size: uint32(idtSize)}
	l.IATDir = pe.DataDirectory{VirtualAddress: rva + uint32(iatOff), Size: uint32(thunks * thunkSize)}
	return buf
}

// buildRelocs groups DIR64 entries into one block per 4K page. With no
// sites it still emits one empty block so the directory is well formed.
func buildRelocs(sectionRVA uint32, sites []int) []byte {
	sorted := append([]int(nil), sites...)
	sort.Ints(sorted)

	var out []byte
	block := func(page uint32, entries []uint16) {
		if len(entries)%2 != 0 {
			entries = append(entries, 0)
		}
		var hdr [8]byte
		binary.LittleEndian.PutUint32(hdr[0:], page)
		binary.LittleEndian.PutUint32(hdr[4:], uint32(8+2*len(entries)))
		out = append(out, hdr[:]...)
		for _, e := range entries {
			out = binary.LittleEndian.AppendUint16(out, e)
		}
	}

	if len(sorted) == 0 {
		block(sectionRVA, nil)
		return out
	}
	for i := 0; i < len(sorted); {
		page := (sectionRVA + uint32(sorted[i])) &^ (SectionAlignment - 1)
		var entries []uint16
		for ; i < len(sorted); i++ {
			rva := sectionRVA + uint32(sorted[i])
			if rva&^(SectionAlignment-1) != page {
				break
			}
			entries = append(entries, uint16(relBasedDir64|rva&(SectionAlignment-1)))
		}
		block(page, entries)
	}
	return out
}

// Sections lists the section table in file order.
func (l *Layout) Sections() []Section { return []Section{l.Text, l.RData, l.Data, l.Reloc} }

// Entry is the RVA of the first text byte.
func (l *Layout) Entry() uint32 { return l.Text.RVA }

// DataAddr is the virtual address of the data section at the preferred base.
func (l *Layout) DataAddr() uint64 { return l.ImageBase + uint64(l.Data.RVA) }

func (l *Layout) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PE32+ x86-64, image base %#x, entry rva %#x, image size %#x\n", l.ImageBase, l.Entry(), l.SizeOfImage)
	fmt.Fprintf(&sb, "  %-8s %-10s %-10s %-10s %-10s %s\n", "section", "rva", "vsize", "offset", "rawsize", "flags")
	for _, s := range l.Sections() {
		fmt.Fprintf(&sb, "  %-8s %#-10x %#-10x %#-10x %#-10x %#x\n", s.Name, s.RVA, s.VirtualSize, s.FileOffset, s.RawSize, s.Characteristics)
	}
	names := make([]string, 0, len(l.IAT))
	for fn := range l.IAT {
		names = append(names, fn)
	}
	sort.Slice(names, func(i, j int) bool { return l.IAT[names[i]] < l.IAT[names[j]] })
	for _, fn := range names {
		fmt.Fprintf(&sb, "  iat %#x %s\n", l.IAT[fn], fn)
	}
	return sb.String()
}

// Timestamp derives TimeDateStamp from the code so identical inputs give
// identical files.
func Timestamp(text []byte) uint32 { return uint32(xxhash.Sum64(text)) }

// Write serializes the image. text and data must have the sizes the layout
// was computed for (data may be shorter; the rest is zero filled).
func Write(w io.Writer, l *Layout, text, data []byte) error {
	if uint32(len(text)) != l.Text.VirtualSize || uint32(len(data)) > l.Data.VirtualSize {
		return fmt.Errorf("pe: sections are %d+%d bytes, layout expects %d+%d", len(text), len(data), l.Text.VirtualSize, l.Data.VirtualSize)
	}

	var buf bytes.Buffer
	put := func(v interface{}) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	dos := make([]byte, lfanew)
	copy(dos, "MZ")
	binary.LittleEndian.PutUint32(dos[0x3C:], lfanew)
	copy(dos[0x40:], dosStub)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	put(pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_AMD64,
		NumberOfSections:     numSections,
		TimeDateStamp:        Timestamp(text),
		SizeOfOptionalHeader: optHeaderSize,
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_LARGE_ADDRESS_AWARE,
	})

	opt := pe.OptionalHeader64{
		Magic:                       0x20B,
		MajorLinkerVersion:          1,
		SizeOfCode:                  l.Text.RawSize,
		SizeOfInitializedData:       l.RData.RawSize + l.Data.RawSize + l.Reloc.RawSize,
		AddressOfEntryPoint:         l.Entry(),
		BaseOfCode:                  l.Text.RVA,
		ImageBase:                   l.ImageBase,
		SectionAlignment:            SectionAlignment,
		FileAlignment:               FileAlignment,
		MajorOperatingSystemVersion: 6,
		MajorSubsystemVersion:       6,
		SizeOfImage:                 l.SizeOfImage,
		SizeOfHeaders:               l.SizeOfHeaders,
		Subsystem:                   pe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
		DllCharacteristics: pe.IMAGE_DLLCHARACTERISTICS_HIGH_ENTROPY_VA |
			pe.IMAGE_DLLCHARACTERISTICS_DYNAMIC_BASE |
			pe.IMAGE_DLLCHARACTERISTICS_NX_COMPAT |
			pe.IMAGE_DLLCHARACTERISTICS_TERMINAL_SERVER_AWARE,
		SizeOfStackReserve:  0x100000,
		SizeOfStackCommit:   0x1000,
		SizeOfHeapReserve:   0x100000,
		SizeOfHeapCommit:    0x1000,
		NumberOfRvaAndSizes: 16,
	}
	opt.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IMPORT] = l.ImportDir
	opt.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_BASERELOC] = l.RelocDir
	opt.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IAT] = l.IATDir
	put(opt)

	for _, s := range l.Sections() {
		put(s.header())
	}

	body := []struct {
		sec   Section
		bytes []byte
	}{{l.Text, text}, {l.RData, l.rdata}, {l.Data, data}, {l.Reloc, l.reloc}}
	for _, b := range body {
		buf.Write(make([]byte, int(b.sec.FileOffset)-buf.Len()))
		buf.Write(b.bytes)
	}
	last := l.Reloc
	buf.Write(make([]byte, int(last.FileOffset+last.RawSize)-buf.Len()))

	_, err := w.Write(buf.Bytes())
	return err
}
