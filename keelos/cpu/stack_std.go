//go:build !tinygo

package cpu

import "runtime/debug"

func captureStack() []byte {
	return debug.Stack()
}
