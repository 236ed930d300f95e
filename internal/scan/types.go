package scan

import (
	"time"

	"github.com/google/uuid"
)

// Item is one unit of work in a scan: an artifact identifier plus the
// collection it was enumerated from.
type Item struct {
	ID    string
	Owner string
}

// MatchRecord is one artifact found to contain the scan target.
type MatchRecord struct {
	Source         Item
	Identifier     string
	Classification string
}

// Progress is a point-in-time view of a session's counters.
type Progress struct {
	Processed  int
	Total      int
	MatchCount int
}

// Done reports whether every enqueued item has been processed.
func (p Progress) Done() bool { return p.Processed >= p.Total }

// Handle identifies a started session.
type Handle struct {
	ID        uuid.UUID
	Target    string
	Total     int
	StartedAt time.Time
}

// State is a session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StatePreparing
	StateRunning
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Active reports whether a session is in flight.
func (s State) Active() bool { return s == StatePreparing || s == StateRunning }

// Terminal reports whether a session has finished.
func (s State) Terminal() bool { return s == StateCompleted || s == StateCancelled }

// ItemSource supplies the corpus for a session. Items is called once, at
// Start.
type ItemSource interface {
	Items() ([]Item, error)
}

// Items is a fixed, already-enumerated corpus.
type Items []Item

func (s Items) Items() ([]Item, error) { return s, nil }

// SourceFunc adapts a function to ItemSource.
type SourceFunc func() ([]Item, error)

func (f SourceFunc) Items() ([]Item, error) { return f() }

// Matcher checks one item against the target. A non-nil error is a soft,
// per-item failure: the item counts as processed and the scan continues.
type Matcher interface {
	Match(item Item, target string) (classification string, matched bool, err error)
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(item Item, target string) (string, bool, error)

func (f MatcherFunc) Match(item Item, target string) (string, bool, error) {
	return f(item, target)
}
