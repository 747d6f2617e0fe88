package codegen

import (
	"bytes"

	"github.com/xplshn/jcc/pkg/config"
	"github.com/xplshn/jcc/pkg/elf"
)

type elfBackend struct{}

func (b *elfBackend) Link(unit *Unit, cfg *config.Config) (*Image, error) {
	code := unit.Code
	l, err := elf.NewLayout(cfg.ImageBase, code.Data.Len(), code.Size())
	if err != nil {
		return nil, err
	}
	if err := code.ResolveData(l.Data.Vaddr); err != nil {
		return nil, err
	}
	text, err := finish(code)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := elf.Write(&buf, l, code.Data.Bytes(), text); err != nil {
		return nil, err
	}
	return &Image{
		File:     buf.Bytes(),
		Text:     text,
		TextAddr: l.Text.Vaddr,
		Symbols:  symbolMap(code, l.Text.Vaddr),
		Layout:   l,
	}, nil
}
