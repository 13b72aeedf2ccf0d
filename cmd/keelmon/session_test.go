package main

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"keel/keelos/abi"
)

type lineLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineLog) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *lineLog) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

func newDemoSession(t *testing.T) (*session, *lineLog) {
	t.Helper()
	img, err := loadImage("", "../../apps/demo/app.toml")
	require.NoError(t, err)
	log := &lineLog{}
	s, err := newSession(img, log, 100)
	require.NoError(t, err)
	t.Cleanup(s.close)
	return s, log
}

func TestLoadImageNeedsASource(t *testing.T) {
	_, err := loadImage("", "")
	require.Error(t, err)
}

func TestStepAndRun(t *testing.T) {
	s, _ := newDemoSession(t)

	out, err := s.step([]string{"10"})
	require.NoError(t, err)
	require.Contains(t, out, "ran 10 steps")

	_, err = s.step([]string{"zero"})
	require.ErrorIs(t, err, errUsage)

	out, err = s.run([]string{"30"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, s.m.Snapshot().Now, uint64(30))
	require.Contains(t, out, "t=")
}

func TestIRQ(t *testing.T) {
	s, _ := newDemoSession(t)

	out, err := s.irq([]string{"16"})
	require.NoError(t, err)
	require.Equal(t, "irq 16 raised for pong", out)

	_, err = s.irq([]string{"3"})
	require.ErrorContains(t, err, "not bound")
}

func TestTablesNameEveryTask(t *testing.T) {
	s, _ := newDemoSession(t)
	s.m.RunSteps(50)

	table := s.tasks()
	for _, name := range []string{"supervisor", "logger", "clock", "pong", "ping", "idle"} {
		require.Contains(t, table, name)
	}

	regions, err := s.regions([]string{"ping"})
	require.NoError(t, err)
	require.Equal(t, 2, len(strings.Split(strings.TrimSpace(regions), "\n")), regions)

	_, err = s.regions([]string{"nobody"})
	require.Error(t, err)

	require.Contains(t, s.mpu(), "mapped:")
}

func TestInjectAndRestart(t *testing.T) {
	s, log := newDemoSession(t)
	s.m.RunSteps(50)
	ping, _ := s.img.TaskByName("ping")

	_, err := s.inject([]string{"ping", "7"})
	require.NoError(t, err)
	status := s.m.Kernel().Status()[ping]
	require.Equal(t, uint32(1), status.Faults)
	require.Equal(t, abi.FaultInjected, status.LastFault.Kind)
	require.Equal(t, uint32(7), status.LastFault.Reason)

	s.m.RunSteps(200)
	require.NotEqual(t, abi.StateFaulted, s.m.Kernel().State(abi.TaskIndex(ping)))

	out, err := s.restart([]string{"ping", "stopped"})
	require.NoError(t, err)
	require.Contains(t, out, "restarted ping")
	require.Equal(t, abi.StateStopped, s.m.Kernel().State(abi.TaskIndex(ping)))

	_, err = s.restart([]string{"ping", "later"})
	require.ErrorIs(t, err, errUsage)
	require.NotEmpty(t, log.lines)
}
