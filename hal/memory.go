package hal

import (
	"errors"
	"fmt"
	"sort"

	"keel/keelos/abi"
)

var ErrBusFault = errors.New("bus fault")

// RAM is a sparse simulated address space backed by one bank per distinct
// (merged) region. Accesses through RAM are privileged: protection is the
// caller's concern.
type RAM struct {
	banks []bank
}

type bank struct {
	base uint32
	data []byte
	boot []byte
}

// NewRAM maps every region in regions. Overlapping regions share storage.
func NewRAM(regions []abi.Region) *RAM {
	rs := make([]abi.Region, 0, len(regions))
	for _, r := range regions {
		if r.Size > 0 {
			rs = append(rs, r)
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Base < rs[j].Base })

	var spans []abi.Region
	for _, r := range rs {
		if n := len(spans); n > 0 && uint64(r.Base) <= spans[n-1].End() {
			last := &spans[n-1]
			if r.End() > last.End() {
				last.Size = uint32(r.End() - uint64(last.Base))
			}
			continue
		}
		spans = append(spans, r)
	}

	m := &RAM{banks: make([]bank, len(spans))}
	for i, s := range spans {
		m.banks[i] = bank{base: s.Base, data: make([]byte, s.Size), boot: make([]byte, s.Size)}
	}
	return m
}

func (m *RAM) find(addr, n uint32) (*bank, uint32, error) {
	i := sort.Search(len(m.banks), func(i int) bool {
		return uint64(m.banks[i].base)+uint64(len(m.banks[i].data)) > uint64(addr)
	})
	if i == len(m.banks) {
		return nil, 0, fmt.Errorf("access %#08x+%d: %w", addr, n, ErrBusFault)
	}
	b := &m.banks[i]
	if addr < b.base || uint64(addr)+uint64(n) > uint64(b.base)+uint64(len(b.data)) {
		return nil, 0, fmt.Errorf("access %#08x+%d: %w", addr, n, ErrBusFault)
	}
	return b, addr - b.base, nil
}

// Read copies len(p) bytes at addr into p.
func (m *RAM) Read(addr uint32, p []byte) error {
	b, off, err := m.find(addr, uint32(len(p)))
	if err != nil {
		return err
	}
	copy(p, b.data[off:])
	return nil
}

// Write copies p to addr.
func (m *RAM) Write(addr uint32, p []byte) error {
	b, off, err := m.find(addr, uint32(len(p)))
	if err != nil {
		return err
	}
	copy(b.data[off:], p)
	return nil
}

// Load writes p at addr and records it as the boot contents of that range.
func (m *RAM) Load(addr uint32, p []byte) error {
	b, off, err := m.find(addr, uint32(len(p)))
	if err != nil {
		return err
	}
	copy(b.data[off:], p)
	copy(b.boot[off:], p)
	return nil
}

// Reset restores r to its boot contents.
func (m *RAM) Reset(r abi.Region) {
	b, off, err := m.find(r.Base, r.Size)
	if err != nil {
		return
	}
	copy(b.data[off:off+r.Size], b.boot[off:off+r.Size])
}
