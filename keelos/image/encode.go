package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"keel/hal"
	"keel/keelos/abi"
)

// Binary layout (little-endian):
//
//	header:
//	  [4]byte magic "KEEL"
//	  u16     format version
//	  u16     reserved
//	  u32     body length
//	  u32     CRC-32 (IEEE) of the body
//	body:
//	  str name; u8 target; u8 mpu slots; i16 supervisor; u32 supervisor bits; u16 idle
//	  u16 region count; per region: str name, u32 base, u32 size, u32 attr
//	  u16 kernel region count; per entry: u16 region index
//	  u16 task count; per task: str name, str program, u8 priority, u8 flags,
//	      u32 watchdog, u8 region count, u16 region index..., u8 notification count, str...
//	  u16 irq count; per irq: u32 line, u16 task, u32 bits
//
// str is u8 length followed by that many bytes.
const (
	headerSize    = 16
	formatVersion = 1
)

var magic = [4]byte{'K', 'E', 'E', 'L'}

var ErrBadImage = errors.New("bad image")

const (
	taskFlagStart = 1 << iota
	taskFlagIdle
	taskFlagSingleShot
)

// Encode serializes img. The image must already be valid.
func Encode(img *Image) ([]byte, error) {
	var e encoder
	e.str(img.Name)
	e.u8(uint8(img.Target))
	e.u8(img.MPUSlots)
	e.u16(uint16(int16(img.Supervisor)))
	e.u32(img.SupervisorBits)
	e.u16(uint16(img.Idle))

	e.u16(uint16(len(img.Regions)))
	for _, r := range img.Regions {
		e.str(r.Name)
		e.u32(r.Base)
		e.u32(r.Size)
		e.u32(uint32(r.Attr))
	}

	e.u16(uint16(len(img.KernelRegions)))
	for _, ri := range img.KernelRegions {
		e.u16(ri)
	}

	e.u16(uint16(len(img.Tasks)))
	for _, t := range img.Tasks {
		e.str(t.Name)
		e.str(t.Program)
		e.u8(t.Priority)
		var flags uint8
		if t.Start {
			flags |= taskFlagStart
		}
		if t.Idle {
			flags |= taskFlagIdle
		}
		if t.Policy == RestartSingleShot {
			flags |= taskFlagSingleShot
		}
		e.u8(flags)
		e.u32(t.Watchdog)
		e.count(len(t.Regions), "task regions")
		for _, ri := range t.Regions {
			e.u16(ri)
		}
		e.count(len(t.Notifications), "task notifications")
		for _, n := range t.Notifications {
			e.str(n)
		}
	}

	e.u16(uint16(len(img.IRQs)))
	for _, q := range img.IRQs {
		e.u32(q.Line)
		e.u16(q.Task)
		e.u32(q.Bits)
	}
	if e.err != nil {
		return nil, e.err
	}

	out := make([]byte, headerSize, headerSize+len(e.buf))
	copy(out[0:4], magic[:])
	binary.LittleEndian.PutUint16(out[4:6], formatVersion)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(e.buf)))
	binary.LittleEndian.PutUint32(out[12:16], crc32.ChecksumIEEE(e.buf))
	return append(out, e.buf...), nil
}

// Decode parses an encoded image. Trailing bytes after the body (flash
// padding) are ignored. The result is not re-validated.
func Decode(data []byte) (*Image, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrBadImage)
	}
	if [4]byte(data[0:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadImage, data[0:4])
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != formatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrBadImage, v, formatVersion)
	}
	n := binary.LittleEndian.Uint32(data[8:12])
	if uint64(n) > uint64(len(data)-headerSize) {
		return nil, fmt.Errorf("%w: body of %d bytes truncated to %d", ErrBadImage, n, len(data)-headerSize)
	}
	body := data[headerSize : headerSize+int(n)]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(data[12:16]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrBadImage)
	}

	d := decoder{buf: body}
	img := &Image{}
	img.Name = d.str()
	img.Target = Target(d.u8())
	img.MPUSlots = d.u8()
	img.Supervisor = int(int16(d.u16()))
	img.SupervisorBits = d.u32()
	img.Idle = int(d.u16())

	img.Regions = make([]Region, d.u16())
	for i := range img.Regions {
		img.Regions[i] = Region{
			Name: d.str(),
			Region: abi.Region{
				Base: d.u32(),
				Size: d.u32(),
				Attr: abi.RegionAttr(d.u32()),
			},
		}
	}

	if k := d.u16(); k > 0 {
		img.KernelRegions = make([]uint16, k)
		for i := range img.KernelRegions {
			img.KernelRegions[i] = d.u16()
		}
	}

	img.Tasks = make([]Task, d.u16())
	for i := range img.Tasks {
		t := &img.Tasks[i]
		t.Name = d.str()
		t.Program = d.str()
		t.Priority = d.u8()
		flags := d.u8()
		t.Start = flags&taskFlagStart != 0
		t.Idle = flags&taskFlagIdle != 0
		if flags&taskFlagSingleShot != 0 {
			t.Policy = RestartSingleShot
		}
		t.Watchdog = d.u32()
		if k := d.u8(); k > 0 {
			t.Regions = make([]uint16, k)
			for j := range t.Regions {
				t.Regions[j] = d.u16()
			}
		}
		if k := d.u8(); k > 0 {
			t.Notifications = make([]string, k)
			for j := range t.Notifications {
				t.Notifications[j] = d.str()
			}
		}
	}

	if k := d.u16(); k > 0 {
		img.IRQs = make([]IRQ, k)
		for i := range img.IRQs {
			img.IRQs[i] = IRQ{Line: d.u32(), Task: d.u16(), Bits: d.u32()}
		}
	}

	if d.err != nil {
		return nil, d.err
	}
	return img, nil
}

// ReadFlash loads the image stored at the start of flash.
func ReadFlash(f hal.Flash) (*Image, error) {
	var hdr [headerSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("read image header: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[8:12])
	if uint64(n)+headerSize > uint64(f.SizeBytes()) {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds flash", ErrBadImage, n)
	}
	buf := make([]byte, headerSize+int(n))
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return Decode(buf)
}

type encoder struct {
	buf []byte
	err error
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }

func (e *encoder) count(n int, what string) {
	if n > 0xFF && e.err == nil {
		e.err = fmt.Errorf("%w: %d %s do not fit the table", ErrBadImage, n, what)
	}
	e.u8(uint8(n))
}

func (e *encoder) str(s string) {
	if len(s) > 0xFF && e.err == nil {
		e.err = fmt.Errorf("%w: name %.16q... longer than 255 bytes", ErrBadImage, s)
	}
	e.u8(uint8(len(s)))
	e.buf = append(e.buf, s[:min(len(s), 0xFF)]...)
}

type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.buf) {
		d.err = fmt.Errorf("%w: truncated at offset %d", ErrBadImage, d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) str() string {
	n := int(d.u8())
	b := d.take(n)
	return string(b)
}
