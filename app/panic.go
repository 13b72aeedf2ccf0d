package app

import (
	"fmt"
	"strings"

	"keel/hal"
	"keel/keelos/cpu"
)

// installPanicHandler reports task panics on out and, when there is a
// monitor, on screen. The kernel has already faulted the task by the time
// the handler runs.
func installPanicHandler(out hal.Logger, mon *monitor) {
	cpu.SetPanicHandler(func(info cpu.PanicInfo) {
		if out != nil {
			out.WriteLineString(fmt.Sprintf("keel: panic in task %s (%d): %v", info.Name, info.Task, info.Value))
			for _, line := range strings.Split(string(info.Stack), "\n") {
				if line != "" {
					out.WriteLineString("  " + line)
				}
			}
		}
		if mon != nil {
			mon.showPanic(info)
		}
	})
}
