package reftrace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jward/reftrace/internal/refindex"
	"github.com/jward/reftrace/internal/runtime"
	"github.com/jward/reftrace/internal/scan"
	"github.com/jward/reftrace/internal/store"
)

// ScanRequest describes one scan.
type ScanRequest struct {
	// Target is either a path to an artifact, whose identity is searched
	// for, or a literal identifier.
	Target string
	// Scope limits the corpus to a subdirectory. Empty scans the project.
	Scope string
	// BatchSize overrides the Engine's items-per-tick when > 0.
	BatchSize int
	// OnProgress is called after every tick.
	OnProgress func(Progress)
}

// ScanReport is the outcome of a finished or cancelled scan.
type ScanReport struct {
	SessionID  string
	Target     string // identifier searched for
	TargetPath string // artifact Target was resolved from, if any
	Scope      string
	State      ScanState
	Progress   Progress
	Ticks      int
	Matches    []Match
	ItemErrors []ItemError
	Duration   time.Duration
}

// Cancelled reports whether the scan stopped before processing every item.
func (r *ScanReport) Cancelled() bool {
	return r.State == scan.StateCancelled
}

// RunScan runs a reference scan to completion, one tick per tick interval,
// and persists the session. Cancelling ctx cancels the scan at the next item
// boundary; the partial session is still persisted and returned without
// error.
func (e *Engine) RunScan(ctx context.Context, req ScanRequest) (*ScanReport, error) {
	if req.Target == "" {
		return nil, ErrEmptyTarget
	}
	batchSize := e.batchSize
	if req.BatchSize > 0 {
		batchSize = req.BatchSize
	}

	target, targetPath := e.resolveTarget(req.Target)
	scope := e.scopeKey(req.Scope)
	logger := e.logger.With("component", "scan", "target", target)

	source := scan.SourceFunc(func() ([]scan.Item, error) {
		items, err := e.host.Enumerate(req.Scope)
		if err != nil {
			return nil, err
		}
		if targetPath == "" {
			return items, nil
		}
		out := items[:0]
		for _, it := range items {
			if it.ID != targetPath {
				out = append(out, it)
			}
		}
		return out, nil
	})

	batch := store.NewScanBatch(store.ScanSession{})
	sched := scan.NewScheduler(e.matcher(ctx), logger)
	h, err := sched.Start(source, target, scan.Options{
		BatchSize:  batchSize,
		TickBudget: e.tickBudget,
		OnMatch:    func(m scan.MatchRecord) {
			batch.RecordMatch(store.Match{
				ItemID:         m.Source.ID,
				Owner:          m.Source.Owner,
				Identifier:     m.Identifier,
				Classification: m.Classification,
			})
		},
		OnSoftError: func(se *scan.SoftItemError) {
			batch.RecordItemError(store.ItemError{
				ItemID:  se.Item.ID,
				Owner:   se.Item.Owner,
				Message: se.Err.Error(),
			})
		},
		OnProgress: req.OnProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("reftrace: start scan: %w", err)
	}

	batch.Session = store.ScanSession{
		ID:          h.ID.String(),
		Target:      target,
		TargetPath:  targetPath,
		Scope:       scope,
		BatchSize:   batchSize,
		ScriptsHash: e.ScriptsHash(),
		StartedAt:   h.StartedAt,
	}
	logger.Info("scan started", "session", batch.Session.ID, "items", h.Total, "batch_size", batchSize)

	if err := e.drive(ctx, sched); err != nil {
		return nil, err
	}

	p := sched.Progress()
	finished := time.Now()
	batch.Session.State = sched.State().String()
	batch.Session.Total = p.Total
	batch.Session.Processed = p.Processed
	batch.Session.MatchCount = p.MatchCount
	batch.Session.SoftErrorCount = len(batch.ItemErrors)
	batch.Session.Ticks = sched.Ticks()
	batch.Session.FinishedAt = finished

	if err := e.store.CommitScan(batch); err != nil {
		return nil, fmt.Errorf("reftrace: %w", err)
	}
	if e.keepSessions > 0 {
		n, err := e.store.PruneSessions(e.keepSessions)
		if err != nil {
			logger.Warn("pruning sessions failed", "error", err)
		} else if n > 0 {
			logger.Debug("pruned sessions", "count", n)
		}
	}

	logger.Info("scan finished",
		"session", batch.Session.ID,
		"state", batch.Session.State,
		"processed", p.Processed,
		"matches", p.MatchCount,
		"soft_errors", batch.Session.SoftErrorCount,
		"ticks", batch.Session.Ticks,
	)

	return &ScanReport{
		SessionID:  batch.Session.ID,
		Target:     target,
		TargetPath: targetPath,
		Scope:      scope,
		State:      sched.State(),
		Progress:   p,
		Ticks:      batch.Session.Ticks,
		Matches:    batch.Matches,
		ItemErrors: batch.ItemErrors,
		Duration:   finished.Sub(h.StartedAt),
	}, nil
}

// drive ticks sched until it reaches a terminal state. Once ctx is done the
// scan is cancelled and ticked immediately so it settles without waiting for
// the tick source.
func (e *Engine) drive(ctx context.Context, sched *scan.Scheduler) error {
	ticks := e.ticks(e.tickInterval)
	defer ticks.Stop()

	cancelled := false
	for sched.State().Active() {
		if !cancelled {
			select {
			case <-ctx.Done():
				cancelled = true
				if err := sched.Cancel(); err != nil {
					return fmt.Errorf("reftrace: cancel scan: %w", err)
				}
				continue
			case <-ticks.C():
			}
		}
		if err := sched.Tick(); err != nil {
			return fmt.Errorf("reftrace: tick: %w", err)
		}
	}
	return nil
}

// resolveTarget maps a scan target to the identifier searched for. A target
// naming an existing artifact yields that artifact's identity and its path;
// anything else is searched for literally.
func (e *Engine) resolveTarget(target string) (identifier, path string) {
	id, err := e.host.Identity(target)
	if err != nil {
		if !isNotExist(err) {
			e.logger.Debug("target is not an artifact", "target", target, "error", err)
		}
		return target, ""
	}
	return id, e.relPath(target)
}

// matcher checks an item's content for the target and, on a hit, classifies
// it with the script for the item's extension. A classification failure is
// logged and leaves the classification empty; only unreadable content is a
// soft error.
func (e *Engine) matcher(ctx context.Context) scan.Matcher {
	// The scheduler processes one item at a time, so the index's last read
	// is the content of the item being matched.
	var lastID string
	var last []byte
	index := refindex.New(refindex.ContentFunc(func(id string) ([]byte, error) {
		content, err := e.host.ReadContent(id)
		lastID, last = id, content
		return content, err
	}))

	return scan.MatcherFunc(func(item scan.Item, target string) (string, bool, error) {
		ok, err := index.Lookup(item.ID, target)
		if err != nil || !ok {
			return "", false, err
		}
		content := last
		if lastID != item.ID {
			if content, err = e.host.ReadContent(item.ID); err != nil {
				return "", false, fmt.Errorf("%w: %s: %w", refindex.ErrUnreadable, item.ID, err)
			}
		}
		class, err := e.runtime.Classify(ctx, runtime.Match{
			Path:    item.ID,
			Owner:   item.Owner,
			Content: content,
			Target:  target,
		})
		switch {
		case errors.Is(err, runtime.ErrNoScript):
			return "", true, nil
		case err != nil:
			e.logger.Warn("classification failed", "path", item.ID, "error", err)
			return "", true, nil
		}
		return class, true, nil
	})
}

// newID returns a fresh analysis ID.
func newID() string {
	return uuid.NewString()
}
