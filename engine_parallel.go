package reftrace

import (
	"context"
	"fmt"
	goruntime "runtime"
	"sync"

	"github.com/jward/reftrace/internal/host"
	"github.com/jward/reftrace/internal/scan"
	"github.com/jward/reftrace/internal/store"
)

// artifactInfo is everything Analyze needs to know about one artifact.
type artifactInfo struct {
	item     scan.Item
	identity string
	hash     string
	refs     []string
}

// discover collects the identity, content hash and references of every item.
// Results are returned in item order either way.
func (e *Engine) discover(ctx context.Context, items []scan.Item, oracle host.ReferenceOracle) ([]artifactInfo, error) {
	if e.useParallel && len(items) > 1 {
		return e.discoverParallel(ctx, items, oracle)
	}
	out := make([]artifactInfo, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := e.inspect(item, oracle)
		if err != nil {
			return nil, err
		}
		out[i] = info
	}
	return out, nil
}

// discoverParallel runs inspect over a worker pool:
//
//	Phase A (serial):   Queue every item with its position.
//	Phase B (parallel): Read, hash and collect references per item.
//	Phase C (serial):   Gather results back into item order.
func (e *Engine) discoverParallel(ctx context.Context, items []scan.Item, oracle host.ReferenceOracle) ([]artifactInfo, error) {
	// ---- Phase A: Serial queueing ----
	type job struct {
		pos  int
		item scan.Item
	}
	workCh := make(chan job, len(items))
	for i, item := range items {
		workCh <- job{pos: i, item: item}
	}
	close(workCh)

	// ---- Phase B: Parallel inspection ----
	numWorkers := min(goruntime.NumCPU(), len(items))
	if numWorkers < 1 {
		numWorkers = 1
	}

	type result struct {
		pos  int
		info artifactInfo
		err  error
	}
	resultCh := make(chan result, len(items))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range workCh {
				if err := ctx.Err(); err != nil {
					resultCh <- result{pos: j.pos, err: err}
					continue
				}
				info, err := e.inspect(j.item, oracle)
				resultCh <- result{pos: j.pos, info: info, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	// ---- Phase C: Serial gather ----
	out := make([]artifactInfo, len(items))
	var errs []error
	for res := range resultCh {
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		out[res.pos] = res.info
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("reference discovery had %d error(s): %w", len(errs), errs[0])
	}
	return out, nil
}

// inspect does the per-artifact work of discovery.
func (e *Engine) inspect(item scan.Item, oracle host.ReferenceOracle) (artifactInfo, error) {
	content, err := e.host.ReadContent(item.ID)
	if err != nil {
		return artifactInfo{}, fmt.Errorf("read %s: %w", item.ID, err)
	}
	identity, err := e.host.Identity(item.ID)
	if err != nil {
		return artifactInfo{}, fmt.Errorf("identity of %s: %w", item.ID, err)
	}
	var refs []string
	if co, ok := oracle.(host.ContentOracle); ok {
		refs, err = co.ReferencesIn(item.ID, content)
	} else {
		refs, err = oracle.ReferencesOf(item.ID)
	}
	if err != nil {
		return artifactInfo{}, fmt.Errorf("references of %s: %w", item.ID, err)
	}
	return artifactInfo{
		item:     item,
		identity: identity,
		hash:     store.ContentHash(content),
		refs:     refs,
	}, nil
}
