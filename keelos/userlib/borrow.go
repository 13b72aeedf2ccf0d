package userlib

import "keel/keelos/abi"

// BorrowInfo returns the attributes and length of a sender's lease.
func (s *Sys) BorrowInfo(sender abi.TaskID, lease int) (abi.LeaseAttr, uint32, uint32) {
	r := s.trap(abi.SysBorrowInfo, uint32(sender), uint32(lease))
	if r[0] != abi.ResponseOK {
		return 0, 0, r[0]
	}
	return abi.LeaseAttr(r[1]), r[2], abi.ResponseOK
}

// BorrowRead copies from a sender's lease at off into dst. It returns the
// number of bytes copied and the response code.
func (s *Sys) BorrowRead(sender abi.TaskID, lease int, off uint32, dst []byte) (int, uint32) {
	done := 0
	for done < len(dst) {
		chunk := min(len(dst)-done, abi.MaxMessage)
		r := s.trap(abi.SysBorrowRead, uint32(sender), uint32(lease), off+uint32(done), s.inBuf(), uint32(chunk))
		if r[0] != abi.ResponseOK {
			return done, r[0]
		}
		n := int(r[1])
		if n > 0 {
			s.port.Load(s.inBuf(), dst[done:done+n])
		}
		done += n
		if n < chunk {
			break
		}
	}
	return done, abi.ResponseOK
}

// BorrowWrite copies src into a sender's lease at off.
func (s *Sys) BorrowWrite(sender abi.TaskID, lease int, off uint32, src []byte) (int, uint32) {
	done := 0
	for done < len(src) {
		chunk := min(len(src)-done, abi.MaxMessage)
		s.port.Store(s.outBuf(), src[done:done+chunk])
		r := s.trap(abi.SysBorrowWrite, uint32(sender), uint32(lease), off+uint32(done), s.outBuf(), uint32(chunk))
		if r[0] != abi.ResponseOK {
			return done, r[0]
		}
		n := int(r[1])
		done += n
		if n < chunk {
			break
		}
	}
	return done, abi.ResponseOK
}
