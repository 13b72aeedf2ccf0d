// Package supervisor is the fault handler task: it is notified whenever a
// task faults, restarts every faulted task and reports what happened.
package supervisor

import (
	"keel/keelos/abi"
	"keel/keelos/services/logger"
	"keel/keelos/userlib"
)

// restart is one restarted task.
type restart struct {
	task  abi.TaskIndex
	fault abi.FaultInfo
	code  uint32
}

// Program supervises the image. The task needs a notification named
// "fault"; a task named "logger" is used for reports when present.
func Program(sys *userlib.Sys) {
	bit := sys.Notification("fault")
	if bit == 0 {
		sys.Panic("supervisor: no fault notification")
	}
	var log *logger.Client
	if c, err := logger.NewClient(sys, "logger"); err == nil {
		log = c
	}

	counts := make(map[abi.TaskIndex]uint32)
	for {
		sys.RecvFrom(abi.KernelID, nil, bit)

		// Restart everything before talking to anyone: the logger may be
		// among the faulted tasks.
		var done []restart
		for start := abi.TaskIndex(0); ; {
			i, ok := sys.FindFaulted(start)
			if !ok {
				break
			}
			info, _ := sys.FaultInfo(i)
			done = append(done, restart{task: i, fault: info, code: sys.RestartTask(i, true)})
			start = i + 1
		}

		if log == nil {
			continue
		}
		for _, r := range done {
			counts[r.task]++
			if r.code != abi.ResponseOK {
				log.Printf(logger.Error, "restart %s failed: code %d", sys.PeerName(r.task), r.code)
				continue
			}
			log.Printf(logger.Warn, "restarted %s (%s), %d so far", sys.PeerName(r.task), r.fault, counts[r.task])
		}
	}
}
