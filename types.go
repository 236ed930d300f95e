package reftrace

import (
	"github.com/jward/reftrace/internal/scan"
	"github.com/jward/reftrace/internal/store"
)

// Public aliases for internal types that appear in the Engine and
// QueryBuilder APIs.

type Store = store.Store
type ScanSession = store.ScanSession
type Match = store.Match
type ItemError = store.ItemError
type Analysis = store.Analysis
type Artifact = store.Artifact
type Dependency = store.Dependency

type ScanState = scan.State
type Progress = scan.Progress
