package pe_test

import (
	"bytes"
	stdpe "debug/pe"
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xplshn/jcc/pkg/pe"
)

const base = 0x140000000

var imports = []pe.Import{
	{DLL: "KERNEL32.dll", Functions: []string{"ExitProcess", "GetStdHandle", "WriteFile"}},
	{DLL: "api-ms-win-crt-stdio-l1-1-0.dll", Functions: []string{"__acrt_iob_func", "__stdio_common_vfprintf", "fflush"}},
}

func build(text, data []byte, sites []int) (*pe.Layout, *stdpe.File, []byte) {
	l, err := pe.NewLayout(base, len(text), len(data), imports, sites)
	Expect(err).NotTo(HaveOccurred())
	var buf bytes.Buffer
	Expect(pe.Write(&buf, l, text, data)).To(Succeed())
	f, err := stdpe.NewFile(bytes.NewReader(buf.Bytes()))
	Expect(err).NotTo(HaveOccurred())
	return l, f, buf.Bytes()
}

var _ = Describe("Layout", func() {
	It("aligns every section to both quanta in declared order", func() {
		l, err := pe.NewLayout(base, 0x1234, 24, imports, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(l.SizeOfHeaders).To(Equal(uint32(0x400)))
		Expect(l.Text.RVA).To(Equal(uint32(0x1000)))
		Expect(l.RData.RVA).To(Equal(uint32(0x3000)))
		Expect(l.Text.RawSize).To(Equal(uint32(0x1400)))

		prev := l.Text
		for _, s := range l.Sections()[1:] {
			Expect(s.RVA % pe.SectionAlignment).To(BeZero())
			Expect(s.FileOffset % pe.FileAlignment).To(BeZero())
			Expect(s.RVA).To(BeNumerically(">=", prev.RVA+prev.VirtualSize))
			Expect(s.FileOffset).To(Equal(prev.FileOffset + prev.RawSize))
			prev = s
		}
	})

	It("gives each import a distinct slot inside the IAT directory", func() {
		l, err := pe.NewLayout(base, 16, 8, imports, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(l.IAT).To(HaveLen(6))
		seen := map[uint32]bool{}
		for _, rva := range l.IAT {
			Expect(seen[rva]).To(BeFalse())
			seen[rva] = true
			Expect(rva).To(BeNumerically(">=", l.IATDir.VirtualAddress))
			Expect(rva).To(BeNumerically("<", l.IATDir.VirtualAddress+l.IATDir.Size))
		}
		// KERNEL32's table ends with a null slot before the CRT's begins.
		Expect(l.IAT["__acrt_iob_func"] - l.IAT["WriteFile"]).To(Equal(uint32(16)))
	})

	It("requires a 64K aligned base", func() {
		_, err := pe.NewLayout(base+0x1000, 0, 0, nil, nil)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Write", func() {
	text := []byte{0x55, 0x48, 0x89, 0xE5, 0xC3}
	data := []byte{2, 0, 0, 0, 0, 0, 0, 0, '%', 'd', 0, 0, 0, 0, 0, 0}

	It("produces headers the standard reader accepts", func() {
		l, f, _ := build(text, data, nil)
		Expect(f.Machine).To(Equal(uint16(stdpe.IMAGE_FILE_MACHINE_AMD64)))
		Expect(f.Characteristics).To(Equal(uint16(0x22)))
		opt, ok := f.OptionalHeader.(*stdpe.OptionalHeader64)
		Expect(ok).To(BeTrue())
		Expect(opt.ImageBase).To(Equal(uint64(base)))
		Expect(opt.AddressOfEntryPoint).To(Equal(uint32(0x1000)))
		Expect(opt.SizeOfImage).To(Equal(l.SizeOfImage))
		Expect(opt.SizeOfHeaders).To(Equal(uint32(0x400)))
		Expect(opt.Subsystem).To(Equal(uint16(stdpe.IMAGE_SUBSYSTEM_WINDOWS_CUI)))
		Expect(opt.DllCharacteristics).To(Equal(uint16(0x8160)))
		Expect(opt.NumberOfRvaAndSizes).To(Equal(uint32(16)))

		var names []string
		for _, s := range f.Sections {
			names = append(names, s.Name)
		}
		Expect(names).To(Equal([]string{".text", ".rdata", ".data", ".reloc"}))
		Expect(f.Section(".text").Characteristics).To(Equal(uint32(0x60000020)))
		Expect(f.Section(".rdata").Characteristics).To(Equal(uint32(0x40000040)))
		Expect(f.Section(".data").Characteristics).To(Equal(uint32(0xC0000040)))
		Expect(f.Section(".reloc").Characteristics).To(Equal(uint32(0x42000040)))

		got, err := f.Section(".text").Data()
		Expect(err).NotTo(HaveOccurred())
		Expect(got[:len(text)]).To(Equal(text))
	})

	It("lists every import", func() {
		_, f, _ := build(text, data, nil)
		syms, err := f.ImportedSymbols()
		Expect(err).NotTo(HaveOccurred())
		Expect(syms).To(ConsistOf(
			"ExitProcess:KERNEL32.dll", "GetStdHandle:KERNEL32.dll", "WriteFile:KERNEL32.dll",
			"__acrt_iob_func:api-ms-win-crt-stdio-l1-1-0.dll",
			"__stdio_common_vfprintf:api-ms-win-crt-stdio-l1-1-0.dll",
			"fflush:api-ms-win-crt-stdio-l1-1-0.dll",
		))
	})

	It("groups base relocations per page", func() {
		sites := []int{0x1010, 0x12, 0x1008, 0x2}
		l, f, _ := build(make([]byte, 0x1100), data, sites)
		raw, err := f.Section(".reloc").Data()
		Expect(err).NotTo(HaveOccurred())
		raw = raw[:l.RelocDir.Size]

		page := binary.LittleEndian.Uint32(raw[0:])
		size := binary.LittleEndian.Uint32(raw[4:])
		Expect(page).To(Equal(uint32(0x1000)))
		Expect(size).To(Equal(uint32(12)))
		Expect(binary.LittleEndian.Uint16(raw[8:])).To(Equal(uint16(0xA002)))
		Expect(binary.LittleEndian.Uint16(raw[10:])).To(Equal(uint16(0xA012)))

		next := raw[size:]
		Expect(binary.LittleEndian.Uint32(next[0:])).To(Equal(uint32(0x2000)))
		Expect(binary.LittleEndian.Uint32(next[4:])).To(Equal(uint32(12)))
		Expect(binary.LittleEndian.Uint16(next[8:])).To(Equal(uint16(0xA008)))
		Expect(binary.LittleEndian.Uint16(next[10:])).To(Equal(uint16(0xA010)))
		Expect(uint32(len(raw))).To(Equal(size + 12))
	})

	It("pads an odd block with an absolute entry", func() {
		l, f, _ := build(text, data, []int{0})
		raw, err := f.Section(".reloc").Data()
		Expect(err).NotTo(HaveOccurred())
		Expect(l.RelocDir.Size).To(Equal(uint32(12)))
		Expect(binary.LittleEndian.Uint16(raw[10:])).To(BeZero())
	})

	It("stamps the file deterministically from the code", func() {
		_, a, _ := build(text, data, nil)
		_, b, _ := build(text, data, nil)
		_, c, _ := build([]byte{0xC3}, data, nil)
		Expect(a.TimeDateStamp).To(Equal(pe.Timestamp(text)))
		Expect(a.TimeDateStamp).To(Equal(b.TimeDateStamp))
		Expect(a.TimeDateStamp).NotTo(Equal(c.TimeDateStamp))
	})
})
