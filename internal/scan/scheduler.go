// Package scan drives cooperative, cancellable scans over large corpora.
//
// A Scheduler runs one session at a time. Start snapshots the corpus; the host
// then calls Tick once per scheduling interval, and each Tick processes at
// most BatchSize items before returning control. Cancellation is a flag that
// is observed at the start of every tick and before every item; in-flight
// work is never interrupted.
//
// All mutating calls (Start, Tick, Cancel) must come from a single goroutine.
// Progress and State are safe to call from any goroutine.
package scan

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultBatchSize is the batch size used when a caller has no preference.
const DefaultBatchSize = 256

// Options configures a single session.
type Options struct {
	// BatchSize is the maximum number of items processed per Tick. Must be >= 1.
	BatchSize int

	// TickBudget, when positive, ends a tick early once this much wall time
	// has elapsed. At least one item is processed per tick regardless.
	TickBudget time.Duration

	OnMatch     func(MatchRecord)
	OnProgress  func(Progress)
	OnSoftError func(*SoftItemError)
}

// Scheduler owns the session state machine:
//
//	Idle -> Preparing -> Running -> {Completed | Cancelled}
//
// A terminal session returns to Preparing only through a new Start.
type Scheduler struct {
	matcher Matcher
	logger  *slog.Logger
	now     func() time.Time

	state     atomic.Int32
	cancelled atomic.Bool
	total     atomic.Int64
	processed atomic.Int64
	matched   atomic.Int64

	handle   Handle
	opts     Options
	queue    []Item
	matches  []MatchRecord
	softErrs []SoftItemError
	ticks    int
}

// NewScheduler creates an idle Scheduler that checks items with m.
// A nil logger discards output.
func NewScheduler(m Matcher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		matcher: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Start begins a session over the items produced by src. It fails with
// ErrInvalidState while another session is active and with a *StartError when
// src cannot be enumerated; in that case the scheduler is left Idle.
func (s *Scheduler) Start(src ItemSource, target string, opts Options) (Handle, error) {
	if st := s.State(); st.Active() {
		return Handle{}, invalidState("start", st)
	}
	if opts.BatchSize < 1 {
		return Handle{}, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, opts.BatchSize)
	}
	if src == nil {
		s.reset()
		return Handle{}, &StartError{Err: fmt.Errorf("no item source")}
	}

	items, err := src.Items()
	if err != nil {
		s.reset()
		s.logger.Error("scan start failed", "target", target, "error", err)
		return Handle{}, &StartError{Err: err}
	}

	s.reset()
	s.opts = opts
	s.queue = make([]Item, len(items))
	copy(s.queue, items)
	s.total.Store(int64(len(items)))
	s.handle = Handle{
		ID:        uuid.New(),
		Target:    target,
		Total:     len(items),
		StartedAt: s.now(),
	}
	s.state.Store(int32(StatePreparing))

	s.logger.Debug("scan session prepared",
		"session", s.handle.ID.String(),
		"target", target,
		"total", len(items),
		"batch_size", opts.BatchSize)
	return s.handle, nil
}

// Tick advances the active session by at most one batch.
func (s *Scheduler) Tick() error {
	st := s.State()
	if !st.Active() {
		return invalidState("tick", st)
	}
	s.ticks++
	if st == StatePreparing {
		s.state.Store(int32(StateRunning))
	}

	var started time.Time
	if s.opts.TickBudget > 0 {
		started = s.now()
	}

	for n := 0; n < s.opts.BatchSize && len(s.queue) > 0; n++ {
		if s.cancelled.Load() {
			s.finish(StateCancelled)
			return nil
		}
		if n > 0 && s.opts.TickBudget > 0 && s.now().Sub(started) >= s.opts.TickBudget {
			break
		}
		item := s.queue[0]
		s.queue[0] = Item{}
		s.queue = s.queue[1:]
		s.process(item)
	}

	// Catches a cancel issued before this tick when nothing was left to
	// process, and one issued from a callback after the last item.
	if s.cancelled.Load() {
		s.finish(StateCancelled)
		return nil
	}
	if len(s.queue) == 0 {
		s.finish(StateCompleted)
		return nil
	}
	s.reportProgress()
	return nil
}

// Cancel requests cancellation of the active session. The request is
// observed by the next Tick. Cancelling a finished session is a no-op;
// cancelling before any session was started returns ErrInvalidState.
func (s *Scheduler) Cancel() error {
	st := s.State()
	switch {
	case st.Active():
		s.cancelled.Store(true)
		return nil
	case st.Terminal():
		return nil
	default:
		return invalidState("cancel", st)
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Progress returns the session counters.
func (s *Scheduler) Progress() Progress {
	return Progress{
		Processed:  int(s.processed.Load()),
		Total:      int(s.total.Load()),
		MatchCount: int(s.matched.Load()),
	}
}

// Ticks returns how many times Tick has advanced the current session.
func (s *Scheduler) Ticks() int {
	return s.ticks
}

// Matches returns a copy of the records collected so far, in enqueue order.
func (s *Scheduler) Matches() []MatchRecord {
	out := make([]MatchRecord, len(s.matches))
	copy(out, s.matches)
	return out
}

// SoftErrors returns a copy of the per-item failures recorded so far.
func (s *Scheduler) SoftErrors() []SoftItemError {
	out := make([]SoftItemError, len(s.softErrs))
	copy(out, s.softErrs)
	return out
}

func (s *Scheduler) process(item Item) {
	class, ok, err := s.match(item)
	if err != nil {
		soft := SoftItemError{Item: item, Err: err}
		s.softErrs = append(s.softErrs, soft)
		s.processed.Add(1)
		s.logger.Warn("scan item skipped",
			"session", s.handle.ID.String(),
			"item", item.ID,
			"owner", item.Owner,
			"error", err)
		if s.opts.OnSoftError != nil {
			s.opts.OnSoftError(&soft)
		}
		return
	}

	if ok {
		rec := MatchRecord{Source: item, Identifier: s.handle.Target, Classification: class}
		s.matches = append(s.matches, rec)
		s.matched.Add(1)
		if s.opts.OnMatch != nil {
			s.opts.OnMatch(rec)
		}
	}
	s.processed.Add(1)
}

// match calls the Matcher, converting a panic into a soft error.
func (s *Scheduler) match(item Item) (class string, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			class, ok, err = "", false, fmt.Errorf("matcher panic: %v", r)
		}
	}()
	return s.matcher.Match(item, s.handle.Target)
}

func (s *Scheduler) finish(st State) {
	s.state.Store(int32(st))
	s.queue = nil
	p := s.Progress()
	s.logger.Info("scan session finished",
		"session", s.handle.ID.String(),
		"state", st.String(),
		"processed", p.Processed,
		"total", p.Total,
		"matches", p.MatchCount,
		"soft_errors", len(s.softErrs),
		"ticks", s.ticks)
	s.reportProgress()
}

func (s *Scheduler) reportProgress() {
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(s.Progress())
	}
}

func (s *Scheduler) reset() {
	s.state.Store(int32(StateIdle))
	s.cancelled.Store(false)
	s.total.Store(0)
	s.processed.Store(0)
	s.matched.Store(0)
	s.handle = Handle{}
	s.opts = Options{}
	s.queue = nil
	s.matches = nil
	s.softErrs = nil
	s.ticks = 0
}
