// Package refindex decides whether an artifact's serialized content refers to
// a target identifier.
//
// Matching is plain substring containment of the canonical identifier. It is
// a cheap heuristic: an identifier can appear in content without a structural
// dependency, and a reference encoded differently will be missed. Results are
// candidates, not proof.
package refindex

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrUnreadable marks content that could not be read. Callers treat it as a
// soft, per-item failure and keep scanning.
var ErrUnreadable = errors.New("refindex: content unreadable")

// Matches reports whether content contains target. An empty target never
// matches.
func Matches(content []byte, target string) bool {
	if target == "" || len(content) < len(target) {
		return false
	}
	return bytes.Contains(content, []byte(target))
}

// ContentReader returns the raw serialized content of an artifact.
type ContentReader interface {
	ReadContent(id string) ([]byte, error)
}

// ContentFunc adapts a plain function to ContentReader.
type ContentFunc func(id string) ([]byte, error)

func (f ContentFunc) ReadContent(id string) ([]byte, error) { return f(id) }

// Index checks artifacts for references by reading their content.
type Index struct {
	content ContentReader
}

// New returns an Index reading artifact content through r.
func New(r ContentReader) *Index {
	return &Index{content: r}
}

// Lookup reads the artifact identified by id and reports whether it contains
// target. Read failures and panics in the reader yield false and an error
// wrapping ErrUnreadable.
func (ix *Index) Lookup(id, target string) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("%w: %s: %v", ErrUnreadable, id, r)
		}
	}()

	content, readErr := ix.content.ReadContent(id)
	if readErr != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrUnreadable, id, readErr)
	}
	return Matches(content, target), nil
}
