package hal

import (
	"errors"
	"fmt"
	"math/bits"

	"keel/keelos/abi"
)

// ProtectionUnit is a memory protection unit with a fixed number of region
// slots. It only constrains unprivileged (task) accesses.
type ProtectionUnit interface {
	Slots() int
	// Disable turns protection off while slots are rewritten.
	Disable()
	Clear(slot int)
	Program(slot int, r abi.Region)
	Enable()
	// Permits reports whether an unprivileged access of n bytes at addr
	// with the given access kind is allowed by the programmed slots.
	Permits(addr, n uint32, need abi.RegionAttr) bool
}

// ARMv7-M MPU register fields.
const (
	rbarValid  = 1 << 4
	rbarRegion = 0xF

	rasrEnable    = 1 << 0
	rasrSizeShift = 1
	rasrSizeMask  = 0x1F << rasrSizeShift
	rasrB         = 1 << 16
	rasrC         = 1 << 17
	rasrS         = 1 << 18
	rasrTexShift  = 19
	rasrTexMask   = 0x7 << rasrTexShift
	rasrAPShift   = 24
	rasrAPMask    = 0x7 << rasrAPShift
	rasrXN        = 1 << 28

	apPrivOnly = 0b001
	apReadOnly = 0b010
	apFull     = 0b011

	armv7mMinRegion = 32
)

var ErrRegionNotEncodable = errors.New("region not encodable")

// CheckARMv7M reports why r cannot be programmed into an ARMv7-M MPU slot.
func CheckARMv7M(r abi.Region) error {
	if r.Size < armv7mMinRegion {
		return fmt.Errorf("size %#x below %d: %w", r.Size, armv7mMinRegion, ErrRegionNotEncodable)
	}
	if r.Size&(r.Size-1) != 0 {
		return fmt.Errorf("size %#x not a power of two: %w", r.Size, ErrRegionNotEncodable)
	}
	if r.Base&(r.Size-1) != 0 {
		return fmt.Errorf("base %#x not aligned to size %#x: %w", r.Base, r.Size, ErrRegionNotEncodable)
	}
	return nil
}

// EncodeARMv7M returns the RBAR and RASR values that map r in slot.
func EncodeARMv7M(slot int, r abi.Region) (rbar, rasr uint32, err error) {
	if err := CheckARMv7M(r); err != nil {
		return 0, 0, err
	}
	if slot < 0 || slot > rbarRegion {
		return 0, 0, fmt.Errorf("slot %d: %w", slot, ErrRegionNotEncodable)
	}

	rbar = r.Base | rbarValid | uint32(slot)

	sizeField := uint32(bits.TrailingZeros32(r.Size) - 1)
	rasr = rasrEnable | sizeField<<rasrSizeShift

	var ap uint32
	switch {
	case r.Attr&abi.AttrWrite != 0:
		ap = apFull
	case r.Attr&abi.AttrRead != 0:
		ap = apReadOnly
	default:
		ap = apPrivOnly
	}
	rasr |= ap << rasrAPShift

	if r.Attr&abi.AttrExecute == 0 {
		rasr |= rasrXN
	}

	if r.Attr&abi.AttrDevice != 0 {
		// Shareable device: TEX=000 C=0 B=1 S=1.
		rasr |= rasrB | rasrS
	} else {
		// Normal, write-back write-allocate: TEX=001 C=1 B=1.
		rasr |= 1<<rasrTexShift | rasrC | rasrB
		if r.Attr&abi.AttrShared != 0 {
			rasr |= rasrS
		}
	}
	return rbar, rasr, nil
}

// DecodeARMv7M reverses EncodeARMv7M. It reports false for a disabled slot.
func DecodeARMv7M(rbar, rasr uint32) (abi.Region, bool) {
	if rasr&rasrEnable == 0 {
		return abi.Region{}, false
	}
	sizeField := (rasr & rasrSizeMask) >> rasrSizeShift
	size := uint64(1) << (sizeField + 1)
	if size > 1<<31 {
		// Only reachable through hand-written register values.
		return abi.Region{}, false
	}

	r := abi.Region{
		Base: rbar &^ uint32(size-1),
		Size: uint32(size),
	}

	switch (rasr & rasrAPMask) >> rasrAPShift {
	case apFull:
		r.Attr |= abi.AttrRead | abi.AttrWrite
	case apReadOnly:
		r.Attr |= abi.AttrRead
	}
	if rasr&rasrXN == 0 {
		r.Attr |= abi.AttrExecute
	}

	tex := (rasr & rasrTexMask) >> rasrTexShift
	if tex == 0 && rasr&rasrC == 0 && rasr&rasrB != 0 {
		r.Attr |= abi.AttrDevice
	} else if rasr&rasrS != 0 {
		r.Attr |= abi.AttrShared
	}
	return r, true
}
