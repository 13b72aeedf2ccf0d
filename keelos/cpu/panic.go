package cpu

import (
	"runtime"
	"strings"
	"sync/atomic"

	"keel/keelos/abi"
)

// PanicInfo describes a Go panic raised by task code.
type PanicInfo struct {
	Task  abi.TaskIndex
	Name  string
	Value any
	Stack []byte
	Fault abi.FaultInfo
}

var panicHandler atomic.Value // func(PanicInfo)

// SetPanicHandler installs a process-wide hook called for every task panic,
// after the fault has been recorded. It must not panic.
func SetPanicHandler(fn func(PanicInfo)) {
	panicHandler.Store(fn)
}

func notifyPanic(info PanicInfo) {
	if v := panicHandler.Load(); v != nil {
		if fn, ok := v.(func(PanicInfo)); ok && fn != nil {
			fn(info)
		}
	}
}

// classify maps a recovered panic value to the processor fault it stands
// for.
func classify(v any) abi.FaultInfo {
	if err, ok := v.(runtime.Error); ok {
		if strings.Contains(err.Error(), "divide by zero") {
			return abi.FaultInfo{Kind: abi.FaultArithmetic}
		}
		return abi.FaultInfo{Kind: abi.FaultIllegal}
	}
	return abi.FaultInfo{Kind: abi.FaultPanic}
}
