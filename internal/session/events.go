// Package session drives one simulation per client connection.
//
// A Session consumes a single stream of events (decoded client commands and clock ticks)
// from a Source, applies them to its runner and publishes progress to an Outbox. It never
// touches the network itself, so tests feed it by hand.
package session

import (
	"context"

	"basinflow.ai/internal/protocol"
)

type EventKind int

const (
	EventCommand EventKind = iota + 1
	EventTick
)

type Event struct {
	Kind    EventKind
	Command protocol.Command
	// Generation identifies the clock run that produced a tick.
	Generation uint64
}

func CommandEvent(c protocol.Command) Event { return Event{Kind: EventCommand, Command: c} }

func TickEvent(gen uint64) Event { return Event{Kind: EventTick, Generation: gen} }

// Source yields the next event. It returns io.EOF once the client is gone.
type Source interface {
	Next(ctx context.Context) (Event, error)
}

// Clock generates ticks into the Source. Start stops any previous run and returns the
// generation its ticks will carry. Generations start at 1.
type Clock interface {
	Start() uint64
	Stop()
}

// Outbox delivers an encoded message to the client.
type Outbox interface {
	Send(ctx context.Context, payload []byte) error
}
