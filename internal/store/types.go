package store

import "time"

// Scan domain types

type ScanSession struct {
	ID             string
	Target         string // identifier searched for
	TargetPath     string // artifact the identifier was resolved from, if any
	Scope          string
	State          string
	Total          int
	Processed      int
	MatchCount     int
	SoftErrorCount int
	BatchSize      int
	Ticks          int
	ScriptsHash    string // hash of the classification scripts in effect
	StartedAt      time.Time
	FinishedAt     time.Time
}

type Match struct {
	ID             int64
	SessionID      string
	Seq            int
	ItemID         string
	Owner          string
	Identifier     string
	Classification string
}

type ItemError struct {
	ID        int64
	SessionID string
	ItemID    string
	Owner     string
	Message   string
}

// Analysis domain types

// Analysis statuses.
const (
	AnalysisOK     = "ok"
	AnalysisCyclic = "cyclic"
)

type Analysis struct {
	ID         string
	Scope      string
	Status     string
	NodeCount  int
	EdgeCount  int
	MaxLayer   int
	CycleNodes []string
	CreatedAt  time.Time
}

// Artifact is one graph node of an analysis. Layer is 0 for cyclic analyses.
type Artifact struct {
	AnalysisID string
	Path       string
	Owner      string
	Identity   string
	Hash       string
	Layer      int
}

type Dependency struct {
	AnalysisID string
	FromPath   string
	ToPath     string
}
