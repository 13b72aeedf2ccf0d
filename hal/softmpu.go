package hal

import (
	"sync"

	"keel/keelos/abi"
)

// SoftMPU is a ProtectionUnit implemented in software.
//
// In ARMv7-M mode each slot holds the RBAR/RASR register images a hardware
// MPU would be given, and access checks decode them; regions that cannot be
// encoded leave their slot disabled. In flat mode slots hold regions as-is,
// which lets host images use arbitrary region sizes.
type SoftMPU struct {
	mu      sync.Mutex
	armv7m  bool
	enabled bool
	slots   []softSlot
}

type softSlot struct {
	valid      bool
	rbar, rasr uint32
	region     abi.Region
}

// NewSoftMPU returns a protection unit with n slots.
func NewSoftMPU(n int, armv7m bool) *SoftMPU {
	return &SoftMPU{armv7m: armv7m, slots: make([]softSlot, n)}
}

func (m *SoftMPU) Slots() int { return len(m.slots) }

func (m *SoftMPU) Disable() {
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
}

func (m *SoftMPU) Enable() {
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
}

func (m *SoftMPU) Clear(slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot < 0 || slot >= len(m.slots) {
		return
	}
	m.slots[slot] = softSlot{}
}

func (m *SoftMPU) Program(slot int, r abi.Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot < 0 || slot >= len(m.slots) {
		return
	}
	if !m.armv7m {
		m.slots[slot] = softSlot{valid: true, region: r}
		return
	}
	rbar, rasr, err := EncodeARMv7M(slot, r)
	if err != nil {
		m.slots[slot] = softSlot{}
		return
	}
	decoded, ok := DecodeARMv7M(rbar, rasr)
	m.slots[slot] = softSlot{valid: ok, rbar: rbar, rasr: rasr, region: decoded}
}

// Registers returns the register images of slot (zero in flat mode).
func (m *SoftMPU) Registers(slot int) (rbar, rasr uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot < 0 || slot >= len(m.slots) {
		return 0, 0
	}
	return m.slots[slot].rbar, m.slots[slot].rasr
}

// Programmed returns the regions currently mapped, by slot.
func (m *SoftMPU) Programmed() []abi.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []abi.Region
	for _, s := range m.slots {
		if s.valid {
			out = append(out, s.region)
		}
	}
	return out
}

func (m *SoftMPU) Permits(addr, n uint32, need abi.RegionAttr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return false
	}
	for _, s := range m.slots {
		if !s.valid {
			continue
		}
		if s.region.Contains(addr, n) && s.region.Attr.Permits(need) {
			return true
		}
	}
	return false
}
