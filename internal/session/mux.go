package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"basinflow.ai/internal/protocol"
)

var ErrInboxClosed = errors.New("session: inbox closed")

// Mux merges decoded client commands with a ticker into one Source. It also implements
// Clock. The transport pushes commands and calls CloseInbox when the client goes away.
type Mux struct {
	interval time.Duration

	inbox  chan protocol.Command
	ticks  chan uint64
	closed chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	mu   sync.Mutex
	gen  uint64
	stop chan struct{}
}

func NewMux(interval time.Duration, inboxSize int) *Mux {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if inboxSize <= 0 {
		inboxSize = 16
	}
	return &Mux{
		interval: interval,
		inbox:    make(chan protocol.Command, inboxSize),
		ticks:    make(chan uint64, 1),
		closed:   make(chan struct{}),
	}
}

// Push queues a command, waiting for room unless ctx ends or the inbox is closed.
func (m *Mux) Push(ctx context.Context, c protocol.Command) error {
	select {
	case <-m.closed:
		return ErrInboxClosed
	default:
	}
	select {
	case m.inbox <- c:
		return nil
	case <-m.closed:
		return ErrInboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mux) CloseInbox() {
	m.closeOnce.Do(func() { close(m.closed) })
}

func (m *Mux) Next(ctx context.Context) (Event, error) {
	// Commands already queued are delivered before reporting the close.
	select {
	case c := <-m.inbox:
		return CommandEvent(c), nil
	default:
	}
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case c := <-m.inbox:
		return CommandEvent(c), nil
	case g := <-m.ticks:
		return TickEvent(g), nil
	case <-m.closed:
		return Event{}, io.EOF
	}
}

func (m *Mux) Start() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	// A tick left over from the previous generation would hold the slot.
	select {
	case <-m.ticks:
	default:
	}

	m.gen++
	gen := m.gen
	stop := make(chan struct{})
	m.stop = stop

	m.wg.Add(1)
	go m.tickLoop(gen, stop)
	return gen
}

func (m *Mux) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Mux) stopLocked() {
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// Close stops the ticker and waits for its goroutine.
func (m *Mux) Close() {
	m.Stop()
	m.CloseInbox()
	m.wg.Wait()
}

func (m *Mux) tickLoop(gen uint64, stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.offer(gen)
		}
	}
}

// offer queues a tick for gen. A pending tick of the same generation means the session
// is behind, so this one coalesces; a pending tick of an older generation is replaced.
func (m *Mux) offer(gen uint64) {
	for {
		select {
		case m.ticks <- gen:
			return
		default:
		}
		select {
		case pending := <-m.ticks:
			if pending == gen {
				select {
				case m.ticks <- gen:
				default:
				}
				return
			}
		default:
		}
	}
}
