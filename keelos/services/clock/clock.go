// Package clock is the clock server: the current tick count and timed
// wakeups for tasks that would rather not manage their own timer.
package clock

import (
	_ "embed"

	"keel/keelos/abi"
	"keel/keelos/idl"
	"keel/keelos/userlib"
)

//go:embed clock.toml
var description []byte

// Interface is the clock's IPC interface.
var Interface = idl.MustParse(description)

const maxSleepers = 32

type sleeper struct {
	inUse  bool
	due    uint64
	sender abi.TaskID
}

type service struct {
	sys      *userlib.Sys
	srv      *idl.Server
	sleep    *idl.Op
	timerBit uint32
	sleepers [maxSleepers]sleeper
}

// Program serves the clock. The task needs a notification named "timer".
func Program(sys *userlib.Sys) {
	s := &service{
		sys:      sys,
		srv:      idl.NewServer(sys, Interface),
		timerBit: sys.Notification("timer"),
	}
	if s.timerBit == 0 {
		sys.Panic("clock: no timer notification")
	}
	s.sleep, _ = Interface.Op("sleep")
	s.srv.Handle("now", func(req *idl.Request) { req.Reply(sys.Now()) })
	s.srv.Handle("sleep", s.handleSleep)
	s.srv.OnNotification(s.timerBit, func(uint32) { s.wakeReady() })
	s.srv.Serve()
}

// handleSleep parks the sender until its deadline; the reply is the wakeup.
func (s *service) handleSleep(req *idl.Request) {
	ticks := req.Arg("ticks")
	if ticks == 0 {
		req.Fail("ZeroDuration")
		return
	}
	if !s.schedule(s.sys.Now()+ticks, req.Sender) {
		req.Fail("TooManySleepers")
		return
	}
	s.arm()
}

func (s *service) schedule(due uint64, sender abi.TaskID) bool {
	for i := range s.sleepers {
		if s.sleepers[i].inUse {
			continue
		}
		s.sleepers[i] = sleeper{inUse: true, due: due, sender: sender}
		return true
	}
	return false
}

func (s *service) wakeReady() {
	now := s.sys.Now()
	for i := range s.sleepers {
		sl := &s.sleepers[i]
		if !sl.inUse || sl.due > now {
			continue
		}
		s.srv.Reply(sl.sender, s.sleep, now)
		*sl = sleeper{}
	}
	s.arm()
}

// arm points the task timer at the earliest pending deadline.
func (s *service) arm() {
	var next uint64
	found := false
	for _, sl := range s.sleepers {
		if sl.inUse && (!found || sl.due < next) {
			next, found = sl.due, true
		}
	}
	if !found {
		s.sys.ClearTimer()
		return
	}
	s.sys.SetTimer(next, s.timerBit)
}
