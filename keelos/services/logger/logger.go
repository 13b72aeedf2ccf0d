// Package logger is the log server. Clients lend it the bytes of a line;
// the server copies them out and writes them to the board's log.
package logger

import (
	_ "embed"
	"fmt"

	"keel/hal"
	"keel/keelos/abi"
	"keel/keelos/idl"
	"keel/keelos/userlib"
)

//go:embed logger.toml
var description []byte

// Interface is the logger's IPC interface.
var Interface = idl.MustParse(description)

// MaxLine is the longest line the server copies.
const MaxLine = 120

type Level uint8

const (
	Info Level = iota
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Info:
		return "I"
	case Warn:
		return "W"
	case Error:
		return "E"
	default:
		return "?"
	}
}

// Program returns the log server writing to out.
func Program(out hal.Logger) userlib.Program {
	return func(sys *userlib.Sys) {
		srv := idl.NewServer(sys, Interface)
		var line [MaxLine]byte
		srv.Handle("write", func(req *idl.Request) {
			level := Level(req.Arg("level"))
			if level > Error {
				req.Fail("BadLevel")
				return
			}
			_, n, code := sys.BorrowInfo(req.Sender, 0)
			if code != abi.ResponseOK {
				return
			}
			got, code := sys.BorrowRead(req.Sender, 0, 0, line[:min(n, MaxLine)])
			if code != abi.ResponseOK {
				return
			}
			out.WriteLineString(fmt.Sprintf("%s %s: %s", level, sys.PeerName(req.Sender.Index()), line[:got]))
			req.Reply(0)
		})
		srv.Serve()
	}
}

// Client writes lines to the log server from a staging buffer in the
// caller's heap.
type Client struct {
	sys *userlib.Sys
	c   *idl.Client
	buf uint32
}

// NewClient binds to the named log server.
func NewClient(sys *userlib.Sys, server string) (*Client, error) {
	c, err := idl.NewClient(sys, Interface, server)
	if err != nil {
		return nil, err
	}
	buf, ok := sys.Alloc(MaxLine)
	if !ok {
		return nil, fmt.Errorf("logger client: no heap for a %d byte line", MaxLine)
	}
	return &Client{sys: sys, c: c, buf: buf}, nil
}

// Printf formats a line and sends it. Lines longer than MaxLine are cut.
func (c *Client) Printf(level Level, format string, args ...any) error {
	b := []byte(fmt.Sprintf(format, args...))
	b = b[:min(len(b), MaxLine)]
	c.sys.Store(c.buf, b)
	lease := userlib.Lease{Attr: abi.LeaseRead, Addr: c.buf, Len: uint32(len(b))}
	_, err := c.c.CallLease("write", &lease, uint64(level))
	return err
}
