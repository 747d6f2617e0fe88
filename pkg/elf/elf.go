// Package elf writes statically linked x86-64 ELF executables with three
// loadable segments (headers, data, text) and a minimal section table.
package elf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

const (
	PageSize = 0x1000

	headerSize  = 64
	phdrSize    = 56
	shdrSize    = 64
	numSegments = 3
	numSections = 4

	// HeadersSize is the ELF header plus the program header table.
	HeadersSize = headerSize + numSegments*phdrSize
)

var shstrtab = []byte("\x00.data\x00.text\x00.shstrtab\x00")

const (
	nameData     = 1
	nameText     = 7
	nameShstrtab = 13
	shstrndx     = 3
)

// Segment is one PT_LOAD entry and the section that shares its bytes.
type Segment struct {
	Name   string
	Offset uint64
	Vaddr  uint64
	Size   uint64
	Flags  elf.ProgFlag
}

func (s Segment) End() uint64 { return s.Vaddr + s.Size }

// Layout places every part of the file. Each segment starts on a fresh page
// and keeps vaddr congruent to its file offset modulo the page size.
type Layout struct {
	Base     uint64
	Headers  Segment
	Data     Segment
	Text     Segment
	Shstrtab uint64
	Shoff    uint64
	FileSize uint64
}

func alignUp(v, align uint64) uint64 { return (v + align - 1) &^ (align - 1) }

func place(prev Segment, offset uint64) uint64 {
	return alignUp(prev.End(), PageSize) + offset%PageSize
}

// NewLayout computes the layout for an image with the given section sizes.
// base must be page aligned.
func NewLayout(base uint64, dataSize, textSize int) (*Layout, error) {
	if base%PageSize != 0 {
		return nil, fmt.Errorf("elf: base %#x is not page aligned", base)
	}
	l := &Layout{Base: base}
	l.Headers = Segment{Name: "headers", Offset: 0, Vaddr: base, Size: HeadersSize, Flags: elf.PF_R}
	l.Data = Segment{Name: ".data", Offset: HeadersSize, Size: uint64(dataSize), Flags: elf.PF_R | elf.PF_W}
	l.Data.Vaddr = place(l.Headers, l.Data.Offset)
	l.Text = Segment{Name: ".text", Offset: l.Data.Offset + l.Data.Size, Size: uint64(textSize), Flags: elf.PF_R | elf.PF_X}
	// An empty data segment still owns a page so text never shares one.
	prev := l.Data
	if prev.Size == 0 {
		prev.Size = 1
	}
	l.Text.Vaddr = place(prev, l.Text.Offset)
	l.Shstrtab = l.Text.Offset + l.Text.Size
	l.Shoff = alignUp(l.Shstrtab+uint64(len(shstrtab)), 8)
	l.FileSize = l.Shoff + numSections*shdrSize
	return l, nil
}

// Entry is the address of the first text byte.
func (l *Layout) Entry() uint64 { return l.Text.Vaddr }

// Segments lists the loadable segments in file order.
func (l *Layout) Segments() []Segment { return []Segment{l.Headers, l.Data, l.Text} }

func (l *Layout) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ELF64 x86-64, entry %#x\n", l.Entry())
	fmt.Fprintf(&sb, "  %-10s %-10s %-18s %-10s %s\n", "segment", "offset", "vaddr", "size", "flags")
	for _, s := range l.Segments() {
		fmt.Fprintf(&sb, "  %-10s %#-10x %#-18x %#-10x %s\n", s.Name, s.Offset, s.Vaddr, s.Size, s.Flags)
	}
	fmt.Fprintf(&sb, "  section headers at %#x, file size %#x\n", l.Shoff, l.FileSize)
	return sb.String()
}

// Write serializes the image. data and text must have the sizes the layout
// was computed for.
func Write(w io.Writer, l *Layout, data, text []byte) error {
	if uint64(len(data)) != l.Data.Size || uint64(len(text)) != l.Text.Size {
		return fmt.Errorf("elf: sections are %d+%d bytes, layout expects %d+%d", len(data), len(text), l.Data.Size, l.Text.Size)
	}

	var buf bytes.Buffer
	buf.Grow(int(l.FileSize))
	put := func(v interface{}) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	put(elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     l.Entry(),
		Phoff:     headerSize,
		Shoff:     l.Shoff,
		Ehsize:    headerSize,
		Phentsize: phdrSize,
		Phnum:     numSegments,
		Shentsize: shdrSize,
		Shnum:     numSections,
		Shstrndx:  shstrndx,
	})

	for _, s := range l.Segments() {
		put(elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(s.Flags),
			Off:    s.Offset,
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: s.Size,
			Memsz:  s.Size,
			Align:  PageSize,
		})
	}

	buf.Write(data)
	buf.Write(text)
	buf.Write(shstrtab)
	buf.Write(make([]byte, l.Shoff-uint64(buf.Len())))

	put(elf.Section64{})
	put(elf.Section64{
		Name: nameData, Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
		Addr: l.Data.Vaddr, Off: l.Data.Offset, Size: l.Data.Size, Addralign: 8,
	})
	put(elf.Section64{
		Name: nameText, Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
		Addr: l.Text.Vaddr, Off: l.Text.Offset, Size: l.Text.Size, Addralign: 1,
	})
	put(elf.Section64{
		Name: nameShstrtab, Type: uint32(elf.SHT_STRTAB),
		Off: l.Shstrtab, Size: uint64(len(shstrtab)), Addralign: 1,
	})

	_, err := w.Write(buf.Bytes())
	return err
}
