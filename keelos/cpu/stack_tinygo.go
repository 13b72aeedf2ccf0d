//go:build tinygo

package cpu

func captureStack() []byte { return nil }
