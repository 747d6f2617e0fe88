package codegen

import (
	"bytes"

	"github.com/xplshn/jcc/pkg/config"
	"github.com/xplshn/jcc/pkg/pe"
)

type peBackend struct{}

// Link lays the image out around the text size, which is final once the
// trampolines exist, then resolves imports as RVAs and data as absolute
// addresses covered by base relocations.
func (b *peBackend) Link(unit *Unit, cfg *config.Config) (*Image, error) {
	code := unit.Code
	sites, err := code.AbsoluteSites()
	if err != nil {
		return nil, err
	}
	l, err := pe.NewLayout(cfg.ImageBase, code.Size(), code.Data.Len(), unit.Imports, sites)
	if err != nil {
		return nil, err
	}

	iat := make(map[string]uint64, len(l.IAT))
	for name, rva := range l.IAT {
		iat[name] = uint64(rva)
	}
	if err := code.ResolveImports(uint64(l.Text.RVA), iat); err != nil {
		return nil, err
	}
	if err := code.ResolveData(l.DataAddr()); err != nil {
		return nil, err
	}
	text, err := finish(code)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := pe.Write(&buf, l, text, code.Data.Bytes()); err != nil {
		return nil, err
	}
	textAddr := l.ImageBase + uint64(l.Text.RVA)
	return &Image{
		File:     buf.Bytes(),
		Text:     text,
		TextAddr: textAddr,
		Symbols:  symbolMap(code, textAddr),
		Layout:   l,
	}, nil
}
