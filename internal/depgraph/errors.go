package depgraph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCyclicDependency is matched by every *CycleError.
var ErrCyclicDependency = errors.New("cyclic dependency")

// CycleError reports a graph that does not admit a layering. Nodes lists the
// identifiers whose layer was still changing after the last permitted pass,
// sorted.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	const limit = 8
	names := e.Nodes
	suffix := ""
	if len(names) > limit {
		suffix = fmt.Sprintf(" (+%d more)", len(names)-limit)
		names = names[:limit]
	}
	return fmt.Sprintf("cyclic dependency among %d artifacts: %s%s",
		len(e.Nodes), strings.Join(names, ", "), suffix)
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCyclicDependency
}
