package tasks

import (
	"encoding/binary"

	"keel/keelos/abi"
	"keel/keelos/idl"
	"keel/keelos/services/clock"
	"keel/keelos/services/logger"
	"keel/keelos/userlib"
)

// Pong operations.
const (
	OpEcho uint32 = iota + 1
	OpRounds
)

const (
	// PingPeriod is the pause between two pings, in ticks.
	PingPeriod = 50
	// PingCrashEvery makes ping fault on purpose every that many rounds.
	PingCrashEvery = 10
)

// Ping sends a numbered ping to pong every PingPeriod ticks and, every
// PingCrashEvery rounds, stores to an address it does not own.
func Ping(sys *userlib.Sys) {
	clk, err := idl.NewClient(sys, clock.Interface, "clock")
	if err != nil {
		sys.Panic(err.Error())
	}
	log, err := logger.NewClient(sys, "logger")
	if err != nil {
		sys.Panic(err.Error())
	}
	pong, ok := sys.Task("pong")
	if !ok {
		sys.Panic("ping: no pong task")
	}

	var msg, reply [4]byte
	for round := uint32(1); ; round++ {
		if _, err := clk.Call("sleep", PingPeriod); err != nil {
			log.Printf(logger.Warn, "sleep: %v", err)
		}
		binary.LittleEndian.PutUint32(msg[:], round)
		code, n := sys.Send(pong, OpEcho, msg[:], reply[:])
		if gen, dead := abi.DeadGeneration(code); dead {
			log.Printf(logger.Warn, "round %d: pong restarted", round)
			pong = abi.NewTaskID(pong.Index(), gen)
			continue
		}
		if n != len(msg) || reply != msg {
			log.Printf(logger.Error, "round %d: bad echo (%d bytes)", round, n)
		}
		if round%PingCrashEvery == 0 {
			log.Printf(logger.Warn, "round %d: storing to the null page", round)
			sys.Write32(0, round)
		}
	}
}

// Pong echoes pings and counts interrupts on its "uart" notification.
func Pong(sys *userlib.Sys) {
	uart := sys.Notification("uart")
	log, _ := logger.NewClient(sys, "logger")

	var buf [64]byte
	var rounds, irqs uint32
	for {
		msg := sys.Recv(buf[:], uart)
		if msg.IsNotification() {
			irqs++
			if log != nil {
				log.Printf(logger.Info, "uart interrupt %d", irqs)
			}
			sys.IRQControl(uart, true)
			continue
		}
		if msg.Code != abi.ResponseOK {
			continue
		}
		switch msg.Op {
		case OpEcho:
			rounds++
			sys.Reply(msg.Sender, abi.ResponseOK, msg.Data)
		case OpRounds:
			var out [4]byte
			binary.LittleEndian.PutUint32(out[:], rounds)
			sys.Reply(msg.Sender, abi.ResponseOK, out[:])
		default:
			sys.ReplyFault(msg.Sender, idl.ReasonBadOp)
		}
	}
}
