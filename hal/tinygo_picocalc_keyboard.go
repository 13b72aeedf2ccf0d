//go:build tinygo && baremetal && picocalc

package hal

import (
	"errors"
	"machine"
	"time"
)

const (
	picoCalcKbdAddr uint16 = 0x1F
	picoCalcKbdFIFO byte   = 0x09

	picoCalcKeyDown byte = 0x01
	picoCalcKeyAlt  byte = 0xA1
	picoCalcKeyCtrl byte = 0xA5
)

// i2cKeyboard reads the key FIFO of the PicoCalc keyboard controller.
type i2cKeyboard struct {
	bus   *machine.I2C
	write [1]byte
	read  [2]byte
}

func initI2CKeyboard() (*i2cKeyboard, error) {
	for _, bus := range []*machine.I2C{machine.I2C1, machine.I2C0} {
		if bus == nil {
			continue
		}
		for _, freq := range []uint32{100_000, 400_000} {
			err := bus.Configure(machine.I2CConfig{
				SCL:       machine.GP7,
				SDA:       machine.GP6,
				Frequency: freq,
			})
			if err != nil {
				continue
			}
			k := &i2cKeyboard{bus: bus, write: [1]byte{picoCalcKbdFIFO}}
			// The controller is slow to come up after power-on.
			for try := 0; try < 50; try++ {
				if k.bus.Tx(picoCalcKbdAddr, k.write[:], k.read[:]) == nil {
					return k, nil
				}
				time.Sleep(10 * time.Millisecond)
			}
		}
	}
	return nil, errors.New("keyboard: no controller on I2C")
}

// pressed pops one FIFO entry and reports whether it was a key going down.
// Modifiers alone do not count.
func (k *i2cKeyboard) pressed() bool {
	if k.bus.Tx(picoCalcKbdAddr, k.write[:], k.read[:]) != nil {
		return false
	}
	state, key := k.read[0], k.read[1]
	if state != picoCalcKeyDown || key == 0 {
		return false
	}
	return key != picoCalcKeyAlt && key != picoCalcKeyCtrl
}

func (k *i2cKeyboard) run(irq *irqLines) {
	for {
		if k.pressed() {
			irq.raise(UARTIRQ)
		}
		time.Sleep(2 * TickPeriod)
	}
}
