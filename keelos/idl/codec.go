package idl

import (
	"encoding/binary"
	"fmt"
)

func put(buf []byte, t Type, v uint64) {
	switch t {
	case TypeU8, TypeBool:
		buf[0] = uint8(v)
	case TypeU16:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case TypeU32:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case TypeU64:
		binary.LittleEndian.PutUint64(buf, v)
	}
}

func get(buf []byte, t Type) uint64 {
	switch t {
	case TypeU8, TypeBool:
		return uint64(buf[0])
	case TypeU16:
		return uint64(binary.LittleEndian.Uint16(buf))
	case TypeU32:
		return uint64(binary.LittleEndian.Uint32(buf))
	case TypeU64:
		return binary.LittleEndian.Uint64(buf)
	default:
		return 0
	}
}

// EncodeArgs packs vals in argument order.
func (op *Op) EncodeArgs(vals ...uint64) ([]byte, error) {
	if len(vals) != len(op.Args) {
		return nil, fmt.Errorf("%s: %d values for %d args: %w", op.Name, len(vals), len(op.Args), ErrArgCount)
	}
	buf := make([]byte, op.ArgSize())
	off := 0
	for i, a := range op.Args {
		if vals[i] > a.Type.max() {
			return nil, fmt.Errorf("%s: %s = %d does not fit %s: %w", op.Name, a.Name, vals[i], a.Type, ErrArgRange)
		}
		put(buf[off:], a.Type, vals[i])
		off += a.Type.Size()
	}
	return buf, nil
}

// DecodeArgs unpacks an argument block. Trailing bytes are ignored.
func (op *Op) DecodeArgs(b []byte) ([]uint64, error) {
	if len(b) < op.ArgSize() {
		return nil, fmt.Errorf("%s: %d bytes, want %d: %w", op.Name, len(b), op.ArgSize(), ErrShortMessage)
	}
	vals := make([]uint64, len(op.Args))
	off := 0
	for i, a := range op.Args {
		vals[i] = get(b[off:], a.Type)
		off += a.Type.Size()
	}
	return vals, nil
}

// EncodeReply packs a successful reply.
func (op *Op) EncodeReply(v uint64) []byte {
	buf := make([]byte, op.Reply.Size())
	put(buf, op.Reply, v)
	return buf
}

// DecodeReply unpacks a successful reply.
func (op *Op) DecodeReply(b []byte) (uint64, error) {
	if len(b) < op.Reply.Size() {
		return 0, fmt.Errorf("%s reply: %d bytes, want %d: %w", op.Name, len(b), op.Reply.Size(), ErrShortMessage)
	}
	return get(b, op.Reply), nil
}
