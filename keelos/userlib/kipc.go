package userlib

import (
	"encoding/binary"

	"keel/keelos/abi"
)

func (s *Sys) kipc(op uint16, reply []byte, words ...uint32) (uint32, int) {
	var msg [8]byte
	for i, w := range words {
		binary.LittleEndian.PutUint32(msg[4*i:], w)
	}
	return s.Send(abi.KernelID, uint32(op), msg[:4*len(words)], reply)
}

// TaskStatus reads the scheduling state, generation and fault count of
// task i.
func (s *Sys) TaskStatus(i abi.TaskIndex) (state abi.TaskState, gen abi.Generation, faults uint32, code uint32) {
	var resp [12]byte
	code, _ = s.kipc(abi.KipcReadTaskStatus, resp[:], uint32(i))
	if code != abi.ResponseOK {
		return 0, 0, 0, code
	}
	return abi.TaskState(binary.LittleEndian.Uint32(resp[0:4])),
		abi.Generation(binary.LittleEndian.Uint32(resp[4:8])),
		binary.LittleEndian.Uint32(resp[8:12]),
		code
}

// FaultInfo reads the last fault of task i.
func (s *Sys) FaultInfo(i abi.TaskIndex) (abi.FaultInfo, uint32) {
	var resp [abi.FaultInfoSize]byte
	code, _ := s.kipc(abi.KipcFaultInfo, resp[:], uint32(i))
	if code != abi.ResponseOK {
		return abi.FaultInfo{}, code
	}
	info, _ := abi.DecodeFaultInfo(resp[:])
	return info, code
}

// FindFaulted returns the first Faulted task at or after start.
func (s *Sys) FindFaulted(start abi.TaskIndex) (abi.TaskIndex, bool) {
	var resp [4]byte
	code, _ := s.kipc(abi.KipcFindFaulted, resp[:], uint32(start))
	if code != abi.ResponseOK {
		return 0, false
	}
	n := binary.LittleEndian.Uint32(resp[:])
	if n == 0 {
		return 0, false
	}
	return abi.TaskIndex(n - 1), true
}

// RestartTask resets task i, starting it when start is set. Only the
// supervisor may call it.
func (s *Sys) RestartTask(i abi.TaskIndex, start bool) uint32 {
	var st uint32
	if start {
		st = 1
	}
	code, _ := s.kipc(abi.KipcRestartTask, nil, uint32(i), st)
	return code
}
