package hal

// irqLines fans device events into one Interrupts stream.
type irqLines struct {
	ch chan uint32
}

func newIRQLines(depth int) *irqLines {
	return &irqLines{ch: make(chan uint32, depth)}
}

func (l *irqLines) Lines() <-chan uint32 { return l.ch }

// raise queues line unless the stream is full.
func (l *irqLines) raise(line uint32) {
	select {
	case l.ch <- line:
	default:
	}
}
