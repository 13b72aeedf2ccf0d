package userlib

import "keel/keelos/abi"

// Now returns the kernel tick count.
func (s *Sys) Now() uint64 {
	r := s.trap(abi.SysGetTimer)
	return uint64(r[0]) | uint64(r[1])<<32
}

// Timer returns the state of the task's timer.
func (s *Sys) Timer() (enabled bool, deadline uint64, bits uint32) {
	r := s.trap(abi.SysGetTimer)
	return r[2] != 0, uint64(r[3]) | uint64(r[4])<<32, r[5]
}

// SetTimer posts bits to the task once the tick count reaches deadline.
func (s *Sys) SetTimer(deadline uint64, bits uint32) {
	s.trap(abi.SysSetTimer, 1, uint32(deadline), uint32(deadline>>32), bits)
}

func (s *Sys) ClearTimer() {
	s.trap(abi.SysSetTimer, 0, 0, 0, 0)
}

// SleepFor blocks for ticks using the notification bit.
func (s *Sys) SleepFor(ticks uint64, bit uint32) {
	s.SleepUntil(s.Now()+ticks, bit)
}

// SleepUntil blocks until the tick count reaches deadline.
func (s *Sys) SleepUntil(deadline uint64, bit uint32) {
	s.SetTimer(deadline, bit)
	s.RecvFrom(abi.KernelID, nil, bit)
}
