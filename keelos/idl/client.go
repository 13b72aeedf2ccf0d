package idl

import (
	"errors"
	"fmt"

	"keel/keelos/abi"
	"keel/keelos/userlib"
)

var (
	ErrNoServer = errors.New("no such server task")
	// ErrServerRestarted is returned for a non-idempotent call whose server
	// was restarted while it was pending.
	ErrServerRestarted = errors.New("server restarted")
)

// maxAttempts bounds the retries of an idempotent call.
const maxAttempts = 3

// ServerError is an error variant returned by a server.
type ServerError struct {
	Op      string
	Code    uint32
	Variant string
}

func (e *ServerError) Error() string {
	if e.Variant != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Variant)
	}
	return fmt.Sprintf("%s: error %d", e.Op, e.Code)
}

// Client calls one server through an interface.
type Client struct {
	sys   *userlib.Sys
	iface *Interface
	id    abi.TaskID
}

// NewClient binds iface to the named server task.
func NewClient(sys *userlib.Sys, iface *Interface, server string) (*Client, error) {
	id, ok := sys.Task(server)
	if !ok {
		return nil, fmt.Errorf("%s client: %q: %w", iface.Name, server, ErrNoServer)
	}
	return &Client{sys: sys, iface: iface, id: id}, nil
}

// Server returns the identity the client currently sends to.
func (c *Client) Server() abi.TaskID { return c.id }

// Call invokes op with args and returns the decoded reply.
func (c *Client) Call(op string, args ...uint64) (uint64, error) {
	return c.CallLease(op, nil, args...)
}

// CallLease is Call with a lease offered as lease 0.
func (c *Client) CallLease(name string, lease *userlib.Lease, args ...uint64) (uint64, error) {
	op, ok := c.iface.Op(name)
	if !ok {
		return 0, fmt.Errorf("%s.%s: %w", c.iface.Name, name, ErrNoSuchOp)
	}
	msg, err := op.EncodeArgs(args...)
	if err != nil {
		return 0, err
	}
	var leases []userlib.Lease
	if lease != nil {
		leases = append(leases, *lease)
	}
	reply := make([]byte, op.Reply.Size())

	for attempt := 1; ; attempt++ {
		code, n := c.sys.Send(c.id, op.Code, msg, reply, leases...)
		if gen, dead := abi.DeadGeneration(code); dead {
			c.id = abi.NewTaskID(c.id.Index(), gen)
			if !op.Idempotent || attempt == maxAttempts {
				return 0, fmt.Errorf("%s.%s: %w", c.iface.Name, name, ErrServerRestarted)
			}
			continue
		}
		if code != abi.ResponseOK {
			e := &ServerError{Op: c.iface.Name + "." + name, Code: code}
			if op.Errors != nil {
				e.Variant, _ = op.Errors.Variant(code)
			}
			return 0, e
		}
		return op.DecodeReply(reply[:min(n, len(reply))])
	}
}
