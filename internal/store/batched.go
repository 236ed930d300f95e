package store

import "sync"

// Recorder receives scan results as they are produced.
type Recorder interface {
	RecordMatch(m Match)
	RecordItemError(e ItemError)
}

// ScanBatch buffers one session's matches and item errors in memory so the
// whole session is written by a single CommitScan. Seq numbers are assigned
// in record order.
type ScanBatch struct {
	mu sync.Mutex

	Session    ScanSession
	Matches    []Match
	ItemErrors []ItemError
}

// Compile-time check: *ScanBatch satisfies Recorder.
var _ Recorder = (*ScanBatch)(nil)

// NewScanBatch creates an empty batch for session.
func NewScanBatch(session ScanSession) *ScanBatch {
	return &ScanBatch{Session: session}
}

func (b *ScanBatch) RecordMatch(m Match) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m.SessionID = b.Session.ID
	m.Seq = len(b.Matches)
	b.Matches = append(b.Matches, m)
}

func (b *ScanBatch) RecordItemError(e ItemError) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e.SessionID = b.Session.ID
	b.ItemErrors = append(b.ItemErrors, e)
}
