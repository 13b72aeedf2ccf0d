package abi

import "strings"

// RegionAttr is the permission set of a memory region.
type RegionAttr uint32

const (
	AttrRead RegionAttr = 1 << iota
	AttrWrite
	AttrExecute
	// AttrDevice marks device (strongly ordered, uncached) memory.
	AttrDevice
	// AttrShared allows the region to overlap regions of other tasks that
	// are also marked shared.
	AttrShared
)

var attrNames = []struct {
	a    RegionAttr
	name string
}{
	{AttrRead, "read"},
	{AttrWrite, "write"},
	{AttrExecute, "execute"},
	{AttrDevice, "device"},
	{AttrShared, "shared"},
}

// ParseRegionAttr maps an attribute name to its flag.
func ParseRegionAttr(name string) (RegionAttr, bool) {
	for _, n := range attrNames {
		if n.name == name {
			return n.a, true
		}
	}
	return 0, false
}

func (a RegionAttr) String() string {
	var parts []string
	for _, n := range attrNames {
		if a&n.a != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Permits reports whether a grants every access in need.
func (a RegionAttr) Permits(need RegionAttr) bool {
	need &= AttrRead | AttrWrite | AttrExecute
	return a&need == need
}

// Region is a permissioned range of the address space.
type Region struct {
	Base uint32
	Size uint32
	Attr RegionAttr
}

// End returns one past the last address, as a 64-bit value so that a region
// ending at the top of the address space does not wrap.
func (r Region) End() uint64 { return uint64(r.Base) + uint64(r.Size) }

// Contains reports whether [addr, addr+n) lies entirely inside r.
func (r Region) Contains(addr, n uint32) bool {
	start := uint64(addr)
	return start >= uint64(r.Base) && start+uint64(n) <= r.End()
}

// Overlaps reports whether r and o share at least one byte.
func (r Region) Overlaps(o Region) bool {
	if r.Size == 0 || o.Size == 0 {
		return false
	}
	return uint64(r.Base) < o.End() && uint64(o.Base) < r.End()
}
