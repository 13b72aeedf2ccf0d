// Package tasks holds the demo task programs and the program table the
// host and board builds boot with.
package tasks

import (
	"keel/hal"
	"keel/keelos/services/clock"
	"keel/keelos/services/logger"
	"keel/keelos/services/supervisor"
	"keel/keelos/userlib"
)

// Programs returns every program an app description may name. The log
// server writes to out.
func Programs(out hal.Logger) map[string]userlib.Program {
	return map[string]userlib.Program{
		"supervisor": supervisor.Program,
		"clock":      clock.Program,
		"logger":     logger.Program(out),
		"ping":       Ping,
		"pong":       Pong,
		"idle":       Idle,
	}
}

// Idle waits for interrupts forever.
func Idle(sys *userlib.Sys) {
	for {
		sys.Idle()
	}
}
