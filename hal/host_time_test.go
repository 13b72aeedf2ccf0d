//go:build !tinygo

package hal

import (
	"testing"
	"time"
)

func drain(ch <-chan uint64) []uint64 {
	var out []uint64
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestHostTimeStepsByWallClock(t *testing.T) {
	now := time.Unix(0, 0)
	ht := newHostTime()
	ht.now = func() time.Time { return now }

	ht.step(1)
	if got := drain(ht.Ticks()); len(got) != 1 || got[0] != 1 {
		t.Fatalf("first step ticks = %v, want [1]", got)
	}

	now = now.Add(2500 * time.Microsecond)
	ht.step(1)
	if got := drain(ht.Ticks()); len(got) != 2 || got[1] != 3 {
		t.Fatalf("ticks after 2.5ms = %v, want [2 3]", got)
	}

	now = now.Add(600 * time.Microsecond)
	ht.step(1)
	if got := drain(ht.Ticks()); len(got) != 1 || got[0] != 4 {
		t.Fatalf("ticks after carry = %v, want [4]", got)
	}
}
