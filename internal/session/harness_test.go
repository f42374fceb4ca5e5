package session

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"basinflow.ai/internal/protocol"
)

// manualClock hands out generations without producing ticks; the script does that.
type manualClock struct {
	gen     uint64
	starts  int
	stops   int
	running bool
}

func (c *manualClock) Start() uint64 {
	c.gen++
	c.starts++
	c.running = true
	return c.gen
}

func (c *manualClock) Stop() {
	c.stops++
	c.running = false
}

type step func(c *manualClock) Event

// script is a Source replaying steps in order, then io.EOF.
type script struct {
	clock *manualClock
	steps []step
}

func (s *script) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if len(s.steps) == 0 {
		return Event{}, io.EOF
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st(s.clock), nil
}

func cmd(kind protocol.Kind) step {
	return func(*manualClock) Event { return CommandEvent(protocol.Command{Kind: kind}) }
}

func start(levels []float64, hours float64) step {
	return func(*manualClock) Event {
		return CommandEvent(protocol.Command{
			Kind:  protocol.KindStart,
			Start: protocol.StartParams{Landscape: levels, Hours: hours},
		})
	}
}

// frame decodes a raw client frame the way the transport does.
func frame(raw string) step {
	return func(*manualClock) Event {
		c, err := protocol.Decode([]byte(raw))
		if err != nil {
			panic(err)
		}
		return CommandEvent(c)
	}
}

// tick delivers a tick from the clock's latest generation.
func tick() step {
	return func(c *manualClock) Event { return TickEvent(c.gen) }
}

func staleTick(gen uint64) step {
	return func(*manualClock) Event { return TickEvent(gen) }
}

type outbox struct {
	msgs [][]byte
	err  error
}

func (o *outbox) Send(_ context.Context, b []byte) error {
	if o.err != nil {
		return o.err
	}
	o.msgs = append(o.msgs, append([]byte(nil), b...))
	return nil
}

type recorder struct{ recs []Record }

func (r *recorder) Record(rec Record) { r.recs = append(r.recs, rec) }

func (r *recorder) kinds() []RecordKind {
	out := make([]RecordKind, 0, len(r.recs))
	for _, rec := range r.recs {
		out = append(out, rec.Kind)
	}
	return out
}

type harness struct {
	clock *manualClock
	out   *outbox
	rec   *recorder
	ctrs  *Counters
	sess  *Session
}

func newHarness(opts Options, steps ...step) *harness {
	h := &harness{clock: &manualClock{}, out: &outbox{}, rec: &recorder{}, ctrs: &Counters{}}
	opts.Recorder = h.rec
	opts.Counters = h.ctrs
	if opts.ID == "" {
		opts.ID = "s-test"
	}
	h.sess = New(&script{clock: h.clock, steps: steps}, h.clock, h.out, opts)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	require.NoError(t, h.sess.Run(context.Background()))
}

func decode(t *testing.T, b []byte) (string, json.RawMessage) {
	t.Helper()
	env, err := protocol.DecodeEnvelope(b)
	require.NoError(t, err)
	return env.Event, env.Params
}

func (h *harness) progress(t *testing.T) []protocol.ProgressParams {
	t.Helper()
	var out []protocol.ProgressParams
	for _, m := range h.out.msgs {
		ev, raw := decode(t, m)
		if ev != protocol.EventProgress {
			continue
		}
		var p protocol.ProgressParams
		require.NoError(t, json.Unmarshal(raw, &p))
		out = append(out, p)
	}
	return out
}

func (h *harness) errorEvents(t *testing.T) []protocol.ErrorParams {
	t.Helper()
	var out []protocol.ErrorParams
	for _, m := range h.out.msgs {
		ev, raw := decode(t, m)
		if ev != protocol.EventError {
			continue
		}
		var p protocol.ErrorParams
		require.NoError(t, json.Unmarshal(raw, &p))
		out = append(out, p)
	}
	return out
}
