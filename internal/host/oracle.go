package host

import (
	"context"
	"fmt"
	"slices"

	"github.com/jward/reftrace/internal/refindex"
)

// Oracle answers ReferencesOf for one corpus. An artifact references another
// when its content contains the other's identity, or when one of its source
// imports resolves to it. Self references are dropped.
type Oracle struct {
	host       *FSHost
	corpus     []string
	identities map[string]string
	imports    *importResolver
}

// Oracle builds the reference oracle for corpus, resolving every identity up
// front.
func (h *FSHost) Oracle(corpus []string) (ReferenceOracle, error) {
	o := &Oracle{
		host:       h,
		corpus:     corpus,
		identities: make(map[string]string, len(corpus)),
		imports:    newImportResolver(corpus),
	}
	for _, rel := range corpus {
		id, err := h.Identity(rel)
		if err != nil {
			return nil, fmt.Errorf("oracle: %w", err)
		}
		o.identities[rel] = id
	}
	return o, nil
}

// ReferencesOf returns the corpus artifacts rel references, sorted.
func (o *Oracle) ReferencesOf(rel string) ([]string, error) {
	content, err := o.host.ReadContent(rel)
	if err != nil {
		return nil, err
	}
	return o.ReferencesIn(rel, content)
}

// ReferencesIn is ReferencesOf over content already read from rel.
func (o *Oracle) ReferencesIn(rel string, content []byte) ([]string, error) {
	refs := make(map[string]bool)
	for _, other := range o.corpus {
		if other == rel {
			continue
		}
		if refindex.Matches(content, o.identities[other]) {
			refs[other] = true
		}
	}

	specs, err := ExtractImports(context.Background(), rel, content)
	if err != nil {
		o.host.logger.Debug("import extraction failed", "path", rel, "error", err)
	}
	for _, spec := range specs {
		for _, target := range o.imports.resolve(rel, spec) {
			if target != rel {
				refs[target] = true
			}
		}
	}

	out := make([]string, 0, len(refs))
	for r := range refs {
		out = append(out, r)
	}
	slices.Sort(out)
	return out, nil
}
