package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"basinflow.ai/internal/protocol"
	"basinflow.ai/internal/sim/runner"
)

var ErrPanic = errors.New("session: panic in event loop")

// Counters are shared by every session of a process. All fields are safe for concurrent use.
type Counters struct {
	Ticks    atomic.Int64
	Rejected atomic.Int64
	Runs     atomic.Int64
}

type Options struct {
	ID         string
	RemoteAddr string
	Runner     runner.Config
	// JournalTicks records every processed tick, not only lifecycle transitions.
	JournalTicks bool

	Recorder Recorder
	Counters *Counters
	Logger   *zap.Logger
	Now      func() time.Time
}

// Status is a point-in-time view of a session for operators.
type Status struct {
	ID         string    `json:"session_id"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
	State      string    `json:"state"`
	RunSeq     int       `json:"run_seq"`
	Segments   int       `json:"segments"`
	Elapsed    float64   `json:"elapsed_hours"`
	Target     float64   `json:"target_hours"`
}

type Session struct {
	id         string
	remoteAddr string

	src   Source
	clock Clock
	out   Outbox

	r            *runner.Runner
	gen          uint64
	runSeq       int
	completedSeq int
	journalTicks bool

	rec      Recorder
	counters *Counters
	log      *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	status Status
}

func New(src Source, clock Clock, out Outbox, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Counters == nil {
		opts.Counters = &Counters{}
	}
	s := &Session{
		id:           opts.ID,
		remoteAddr:   opts.RemoteAddr,
		src:          src,
		clock:        clock,
		out:          out,
		r:            runner.New(opts.Runner),
		journalTicks: opts.JournalTicks,
		rec:          opts.Recorder,
		counters:     opts.Counters,
		log:          opts.Logger.With(zap.String("session", opts.ID)),
		now:          opts.Now,
	}
	s.status = Status{ID: s.id, RemoteAddr: s.remoteAddr, OpenedAt: s.now().UTC(), State: runner.Idle.String()}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run processes events until the source reports io.EOF (nil is returned) or ctx ends.
// A panic while handling an event is returned as an error wrapping ErrPanic.
func (s *Session) Run(ctx context.Context) (err error) {
	s.record(Record{Kind: RecordOpen, RemoteAddr: s.remoteAddr})
	defer func() {
		s.clock.Stop()
		if p := recover(); p != nil {
			s.log.Error("session panic", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
		s.record(Record{Kind: RecordClose, RunSeq: s.runSeq, Elapsed: s.r.Elapsed()})
	}()

	for {
		ev, err := s.src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.handle(ctx, ev); err != nil {
			return err
		}
		s.refreshStatus()
	}
}

func (s *Session) handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventTick:
		return s.onTick(ctx, ev.Generation)
	case EventCommand:
		switch ev.Command.Kind {
		case protocol.KindStart:
			return s.onStart(ctx, ev.Command)
		case protocol.KindPause:
			return s.onPause(ctx)
		case protocol.KindResume:
			return s.onResume(ctx)
		case protocol.KindForward:
			return s.onForward(ctx)
		default:
			s.log.Debug("ignoring unknown command")
		}
	}
	return nil
}

func (s *Session) onStart(ctx context.Context, cmd protocol.Command) error {
	if cmd.Invalid != nil {
		return s.reject(ctx, cmd.Invalid)
	}
	p := cmd.Start
	if err := s.r.Start(p.Landscape, p.Hours); err != nil {
		if isValidation(err) {
			return s.reject(ctx, err)
		}
		_ = s.sendError(ctx, protocol.ErrInternal, "simulation could not be started")
		return fmt.Errorf("start: %w", err)
	}

	s.clock.Stop()
	s.gen = s.clock.Start()
	s.runSeq++
	s.counters.Runs.Add(1)
	cfg := s.r.Config()
	s.record(Record{
		Kind:         RecordStart,
		RunSeq:       s.runSeq,
		Landscape:    append([]float64(nil), p.Landscape...),
		Hours:        p.Hours,
		DtHours:      cfg.DtHours,
		TransferRate: cfg.TransferRate,
	})
	s.log.Info("run started",
		zap.Int("run_seq", s.runSeq),
		zap.Int("segments", len(p.Landscape)),
		zap.Float64("hours", p.Hours),
	)
	return s.sendProgress(ctx)
}

// reject reports a start that never reached the runner's state; the current run is untouched.
func (s *Session) reject(ctx context.Context, err error) error {
	s.counters.Rejected.Add(1)
	s.record(Record{Kind: RecordReject, Code: protocol.ErrBadRequest, Error: err.Error()})
	s.log.Debug("start rejected", zap.Error(err))
	return s.sendError(ctx, protocol.ErrBadRequest, err.Error())
}

func (s *Session) onPause(ctx context.Context) error {
	if s.r.Pause() {
		s.stopClock()
		s.record(Record{Kind: RecordPause, RunSeq: s.runSeq, Elapsed: s.r.Elapsed()})
	}
	if !s.r.Loaded() {
		return nil
	}
	return s.sendProgress(ctx)
}

func (s *Session) onResume(ctx context.Context) error {
	if s.r.Resume() {
		s.gen = s.clock.Start()
		s.record(Record{Kind: RecordResume, RunSeq: s.runSeq, Elapsed: s.r.Elapsed()})
	}
	if !s.r.Loaded() {
		return nil
	}
	return s.sendProgress(ctx)
}

// onForward drains the run synchronously and reports only the terminal state.
func (s *Session) onForward(ctx context.Context) error {
	if !s.r.Loaded() {
		return nil
	}
	s.stopClock()
	n := s.r.Forward()
	s.counters.Ticks.Add(int64(n))
	s.record(Record{Kind: RecordForward, RunSeq: s.runSeq, Elapsed: s.r.Elapsed(), Ticks: n})
	s.maybeComplete()
	return s.sendProgress(ctx)
}

func (s *Session) onTick(ctx context.Context, gen uint64) error {
	if gen == 0 || gen != s.gen {
		return nil
	}
	if !s.r.Tick() {
		return nil
	}
	s.counters.Ticks.Add(1)
	if s.journalTicks {
		s.record(Record{Kind: RecordTick, RunSeq: s.runSeq, Elapsed: s.r.Elapsed(), Levels: s.r.Levels()})
	}
	if s.r.State() == runner.Complete {
		s.stopClock()
		s.maybeComplete()
	}
	return s.sendProgress(ctx)
}

func (s *Session) stopClock() {
	s.clock.Stop()
	s.gen = 0
}

func (s *Session) maybeComplete() {
	if s.r.State() != runner.Complete || s.completedSeq == s.runSeq {
		return
	}
	s.completedSeq = s.runSeq
	s.record(Record{
		Kind:        RecordComplete,
		RunSeq:      s.runSeq,
		Elapsed:     s.r.Elapsed(),
		Ticks:       s.r.Ticks(),
		Levels:      s.r.Levels(),
		TotalVolume: s.r.TotalVolume(),
	})
	s.log.Info("run complete", zap.Int("run_seq", s.runSeq), zap.Int("ticks", s.r.Ticks()))
}

func (s *Session) sendProgress(ctx context.Context) error {
	p := s.r.Progress()
	b, err := protocol.EncodeProgress(protocol.ProgressParams{Running: p.Running, Time: p.Time, Levels: p.Levels})
	if err != nil {
		return err
	}
	return s.out.Send(ctx, b)
}

func (s *Session) sendError(ctx context.Context, code, msg string) error {
	b, err := protocol.EncodeError(code, msg)
	if err != nil {
		return err
	}
	return s.out.Send(ctx, b)
}

func (s *Session) record(r Record) {
	if s.rec == nil {
		return
	}
	r.Session = s.id
	r.At = s.now().UTC()
	s.rec.Record(r)
}

func (s *Session) refreshStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = s.r.State().String()
	s.status.RunSeq = s.runSeq
	s.status.Segments = s.r.Segments()
	s.status.Elapsed = s.r.Elapsed()
	s.status.Target = s.r.Target()
}

func isValidation(err error) bool {
	return errors.Is(err, runner.ErrEmptyLandscape) ||
		errors.Is(err, runner.ErrInvalidLevel) ||
		errors.Is(err, runner.ErrInvalidHours) ||
		errors.Is(err, runner.ErrTooLarge)
}
