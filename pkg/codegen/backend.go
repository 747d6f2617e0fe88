package codegen

import (
	"fmt"

	"github.com/xplshn/jcc/pkg/ast"
	"github.com/xplshn/jcc/pkg/codectx"
	"github.com/xplshn/jcc/pkg/config"
	"github.com/xplshn/jcc/pkg/symbols"
)

// Image is a linked executable together with what a listing needs.
type Image struct {
	File     []byte
	Text     []byte
	TextAddr uint64
	// Symbols maps the address of every label to its name.
	Symbols map[uint64]string
	Layout  fmt.Stringer
}

// Backend is the interface that all executable formats must implement.
type Backend interface {
	// Link places a generated unit in an image, resolving every data and
	// import address, and serializes it.
	Link(unit *Unit, cfg *config.Config) (*Image, error)
}

// NewBackend returns the image writer for the configured target.
func NewBackend(cfg *config.Config) (Backend, error) {
	switch cfg.Target {
	case config.TargetLinux:
		return &elfBackend{}, nil
	case config.TargetWindows:
		return &peBackend{}, nil
	}
	return nil, fmt.Errorf("no backend for target '%s'", cfg.Target)
}

// Compile runs every pass after parsing.
func Compile(prog *ast.Node, cfg *config.Config) (*Image, *Unit, error) {
	table, err := symbols.Build(prog, cfg)
	if err != nil {
		return nil, nil, err
	}
	ctx, err := NewContext(table, cfg)
	if err != nil {
		return nil, nil, err
	}
	unit, err := ctx.Generate()
	if err != nil {
		return nil, nil, err
	}
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	img, err := backend.Link(unit, cfg)
	if err != nil {
		return nil, nil, err
	}
	return img, unit, nil
}

// finish encodes the text once nothing is left to resolve.
func finish(code *codectx.Context) ([]byte, error) {
	if rest := code.Relocs(); len(rest) > 0 {
		return nil, fmt.Errorf("%d unresolved references, first '%s' (%s)", len(rest), rest[0].Symbol, rest[0].Kind)
	}
	return code.Bytes()
}

func symbolMap(code *codectx.Context, textAddr uint64) map[uint64]string {
	out := make(map[uint64]string)
	for name, off := range code.Labels() {
		out[textAddr+uint64(off)] = name
	}
	for name, off := range code.Trampolines() {
		out[textAddr+uint64(off)] = name + "@iat"
	}
	return out
}
