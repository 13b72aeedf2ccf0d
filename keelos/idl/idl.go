// Package idl reads interface descriptions and moves typed requests over the
// kernel's rendezvous IPC.
//
// An interface is described in TOML:
//
//	name = "Clock"
//
//	[ops.sleep]
//	args = { ticks = "u32" }
//	reply = { ok = "u64", err = "ClockError" }
//	lease = "read"
//	idempotent = false
//
//	[errors.ClockError]
//	repr = "clike"
//	variants = ["Busy", "ZeroDuration"]
//
// Operations are numbered from 1 in declaration order, arguments are packed
// little-endian in declaration order, and error variants are numbered from 1
// and travel as the response code.
package idl

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"

	"keel/keelos/abi"
)

var (
	ErrBadInterface = errors.New("bad interface description")
	ErrNoSuchOp     = errors.New("no such operation")
	ErrShortMessage = errors.New("short message")
	ErrArgCount     = errors.New("wrong argument count")
	ErrArgRange     = errors.New("argument out of range")
)

// Type is an argument or reply type.
type Type uint8

const (
	TypeNone Type = iota
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeBool
)

func ParseType(s string) (Type, bool) {
	switch s {
	case "", "()":
		return TypeNone, true
	case "u8":
		return TypeU8, true
	case "u16":
		return TypeU16, true
	case "u32":
		return TypeU32, true
	case "u64":
		return TypeU64, true
	case "bool":
		return TypeBool, true
	default:
		return 0, false
	}
}

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "()"
	case TypeU8:
		return "u8"
	case TypeU16:
		return "u16"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Size is the encoded size in bytes.
func (t Type) Size() int {
	switch t {
	case TypeU8, TypeBool:
		return 1
	case TypeU16:
		return 2
	case TypeU32:
		return 4
	case TypeU64:
		return 8
	default:
		return 0
	}
}

func (t Type) max() uint64 {
	switch t {
	case TypeBool:
		return 1
	case TypeNone:
		return 0
	default:
		return 1<<(8*uint(t.Size())) - 1
	}
}

// Arg is one named argument.
type Arg struct {
	Name string
	Type Type
}

// Op is one operation of an interface.
type Op struct {
	Name string
	Code uint32
	Args []Arg
	// Reply is the type of a successful reply.
	Reply Type
	// Errors is the error set of the operation, or nil.
	Errors *ErrorSet
	// Lease is the access the operation requires on lease 0, or zero when
	// it takes no lease.
	Lease      abi.LeaseAttr
	Idempotent bool
}

// ArgSize is the encoded size of the argument block.
func (op *Op) ArgSize() int {
	n := 0
	for _, a := range op.Args {
		n += a.Type.Size()
	}
	return n
}

// ErrorSet is a C-like error enumeration.
type ErrorSet struct {
	Name     string
	Variants []string
}

// Variant returns the name of code.
func (e *ErrorSet) Variant(code uint32) (string, bool) {
	if code == 0 || int(code) > len(e.Variants) {
		return "", false
	}
	return e.Variants[code-1], true
}

// Code returns the response code of the named variant.
func (e *ErrorSet) Code(name string) (uint32, bool) {
	for i, v := range e.Variants {
		if v == name {
			return uint32(i + 1), true
		}
	}
	return 0, false
}

// Interface is a parsed interface description.
type Interface struct {
	Name   string
	Ops    []Op
	Errors map[string]*ErrorSet
}

// Op returns the named operation.
func (in *Interface) Op(name string) (*Op, bool) {
	for i := range in.Ops {
		if in.Ops[i].Name == name {
			return &in.Ops[i], true
		}
	}
	return nil, false
}

// OpByCode returns the operation numbered code.
func (in *Interface) OpByCode(code uint32) (*Op, bool) {
	if code == 0 || int(code) > len(in.Ops) {
		return nil, false
	}
	return &in.Ops[code-1], true
}

type description struct {
	Name   string               `toml:"name"`
	Ops    map[string]opDesc    `toml:"ops"`
	Errors map[string]errorDesc `toml:"errors"`
}

type opDesc struct {
	Args       map[string]string `toml:"args"`
	Reply      replyDesc         `toml:"reply"`
	Lease      string            `toml:"lease"`
	Idempotent bool              `toml:"idempotent"`
}

type replyDesc struct {
	Ok  string `toml:"ok"`
	Err string `toml:"err"`
}

type errorDesc struct {
	Repr     string   `toml:"repr"`
	Variants []string `toml:"variants"`
}

// Parse reads an interface description.
func Parse(data []byte) (*Interface, error) {
	var d description
	md, err := toml.Decode(string(data), &d)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadInterface, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %q", ErrBadInterface, undecoded[0].String())
	}

	var opOrder []string
	argOrder := make(map[string][]string)
	for _, key := range md.Keys() {
		switch {
		case len(key) == 2 && key[0] == "ops":
			opOrder = append(opOrder, key[1])
		case len(key) == 4 && key[0] == "ops" && key[2] == "args":
			argOrder[key[1]] = append(argOrder[key[1]], key[3])
		}
	}

	in := &Interface{Name: d.Name, Errors: make(map[string]*ErrorSet)}
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("interface has no name"))
	}
	for name, e := range d.Errors {
		if e.Repr != "clike" {
			errs = append(errs, fmt.Errorf("errors %s: unsupported repr %q", name, e.Repr))
			continue
		}
		if len(e.Variants) == 0 {
			errs = append(errs, fmt.Errorf("errors %s: no variants", name))
			continue
		}
		in.Errors[name] = &ErrorSet{Name: name, Variants: e.Variants}
	}

	for i, name := range opOrder {
		od := d.Ops[name]
		op := Op{Name: name, Code: uint32(i + 1), Idempotent: od.Idempotent}
		for _, an := range ordered(od.Args, argOrder[name]) {
			t, ok := ParseType(od.Args[an])
			if !ok || t == TypeNone {
				errs = append(errs, fmt.Errorf("op %s: arg %s: bad type %q", name, an, od.Args[an]))
				continue
			}
			op.Args = append(op.Args, Arg{Name: an, Type: t})
		}
		if op.ArgSize() > abi.MaxMessage {
			errs = append(errs, fmt.Errorf("op %s: arguments exceed %d bytes", name, abi.MaxMessage))
		}
		t, ok := ParseType(od.Reply.Ok)
		if !ok {
			errs = append(errs, fmt.Errorf("op %s: bad reply type %q", name, od.Reply.Ok))
		}
		op.Reply = t
		if od.Reply.Err != "" {
			set, ok := in.Errors[od.Reply.Err]
			if !ok {
				errs = append(errs, fmt.Errorf("op %s: unknown error set %q", name, od.Reply.Err))
			}
			op.Errors = set
		}
		switch od.Lease {
		case "":
		case "read":
			op.Lease = abi.LeaseRead
		case "write":
			op.Lease = abi.LeaseWrite
		case "read-write":
			op.Lease = abi.LeaseRead | abi.LeaseWrite
		default:
			errs = append(errs, fmt.Errorf("op %s: bad lease %q", name, od.Lease))
		}
		in.Ops = append(in.Ops, op)
	}
	if len(in.Ops) == 0 {
		errs = append(errs, errors.New("interface has no operations"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadInterface, d.Name, err)
	}
	return in, nil
}

// MustParse is Parse for descriptions embedded at build time.
func MustParse(data []byte) *Interface {
	in, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return in
}

// ordered returns the keys of m in declaration order, falling back to
// sorted order for keys the decoder did not report.
func ordered(m map[string]string, declared []string) []string {
	out := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, k := range declared {
		if _, ok := m[k]; ok && !seen[k] {
			out = append(out, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
