package codectx

import "fmt"

// Datum is one constant in the data section.
type Datum struct {
	Symbol string
	Bytes  []byte
	Offset uint64
}

// DataSection holds constants in declaration order. Each datum starts where
// the previous one ended.
type DataSection struct {
	items  []Datum
	index  map[string]int
	cursor uint64
}

func NewDataSection() *DataSection {
	return &DataSection{index: make(map[string]int)}
}

// Add appends a datum and returns its offset from the start of the section.
func (d *DataSection) Add(symbol string, b []byte) (uint64, error) {
	if _, dup := d.index[symbol]; dup {
		return 0, fmt.Errorf("%w: data symbol '%s' defined twice", ErrDuplicateSymbol, symbol)
	}
	off := d.cursor
	d.index[symbol] = len(d.items)
	d.items = append(d.items, Datum{Symbol: symbol, Bytes: b, Offset: off})
	d.cursor += uint64(len(b))
	return off, nil
}

func (d *DataSection) Offset(symbol string) (uint64, bool) {
	i, ok := d.index[symbol]
	if !ok {
		return 0, false
	}
	return d.items[i].Offset, true
}

func (d *DataSection) Items() []Datum { return d.items }

func (d *DataSection) Len() int { return int(d.cursor) }

func (d *DataSection) Bytes() []byte {
	out := make([]byte, 0, d.cursor)
	for _, it := range d.items {
		out = append(out, it.Bytes...)
	}
	return out
}
