package idl

import (
	"fmt"

	"keel/keelos/abi"
	"keel/keelos/userlib"
)

// Reasons passed to reply_fault for malformed requests.
const (
	ReasonBadOp uint32 = iota + 1
	ReasonBadArgs
	ReasonReplyBuffer
	ReasonBadLease
)

// Request is one decoded call. A handler answers it with Reply or Fail;
// a request left unanswered stays pending and can be answered later
// through Server.Reply.
type Request struct {
	Op     *Op
	Sender abi.TaskID
	Args   []uint64
	Leases int

	srv      *Server
	answered bool
}

// Arg returns the named argument.
func (r *Request) Arg(name string) uint64 {
	for i, a := range r.Op.Args {
		if a.Name == name {
			return r.Args[i]
		}
	}
	return 0
}

func (r *Request) Reply(v uint64) {
	r.srv.Reply(r.Sender, r.Op, v)
	r.answered = true
}

// Fail answers with the named error variant of the operation's error set.
func (r *Request) Fail(variant string) {
	code := uint32(1)
	if r.Op.Errors != nil {
		if c, ok := r.Op.Errors.Code(variant); ok {
			code = c
		}
	}
	r.srv.sys.Reply(r.Sender, code, nil)
	r.answered = true
}

func (r *Request) Answered() bool { return r.answered }

// Handler serves one operation.
type Handler func(req *Request)

// Server dispatches requests for one interface.
type Server struct {
	sys      *userlib.Sys
	iface    *Interface
	handlers []Handler
	mask     uint32
	notify   func(bits uint32)
	buf      [abi.MaxMessage]byte
}

func NewServer(sys *userlib.Sys, iface *Interface) *Server {
	return &Server{sys: sys, iface: iface, handlers: make([]Handler, len(iface.Ops))}
}

// Handle registers the handler of the named operation.
func (s *Server) Handle(name string, h Handler) error {
	op, ok := s.iface.Op(name)
	if !ok {
		return fmt.Errorf("%s.%s: %w", s.iface.Name, name, ErrNoSuchOp)
	}
	s.handlers[op.Code-1] = h
	return nil
}

// OnNotification makes Serve deliver the notifications in mask to fn.
func (s *Server) OnNotification(mask uint32, fn func(bits uint32)) {
	s.mask, s.notify = mask, fn
}

// Reply answers a pending request of op.
func (s *Server) Reply(sender abi.TaskID, op *Op, v uint64) {
	s.sys.Reply(sender, abi.ResponseOK, op.EncodeReply(v))
}

// Serve dispatches forever.
func (s *Server) Serve() {
	for {
		s.ServeOne()
	}
}

// ServeOne receives and dispatches one message or notification. Requests
// that do not match the interface fault their sender.
func (s *Server) ServeOne() {
	msg := s.sys.Recv(s.buf[:], s.mask)
	if msg.IsNotification() {
		if s.notify != nil {
			s.notify(msg.Notifications)
		}
		return
	}
	op, ok := s.iface.OpByCode(msg.Op)
	if !ok || s.handlers[op.Code-1] == nil {
		s.sys.ReplyFault(msg.Sender, ReasonBadOp)
		return
	}
	args, err := op.DecodeArgs(msg.Data)
	if err != nil {
		s.sys.ReplyFault(msg.Sender, ReasonBadArgs)
		return
	}
	if msg.ReplyCap < op.Reply.Size() {
		s.sys.ReplyFault(msg.Sender, ReasonReplyBuffer)
		return
	}
	if op.Lease != 0 {
		if msg.Leases < 1 {
			s.sys.ReplyFault(msg.Sender, ReasonBadLease)
			return
		}
		attr, _, code := s.sys.BorrowInfo(msg.Sender, 0)
		if code != abi.ResponseOK {
			return
		}
		if attr&op.Lease != op.Lease {
			s.sys.ReplyFault(msg.Sender, ReasonBadLease)
			return
		}
	}
	s.handlers[op.Code-1](&Request{Op: op, Sender: msg.Sender, Args: args, Leases: msg.Leases, srv: s})
}
