package search

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Document is one resource document fetched from the key-value store.
type Document struct {
	Key  string
	Body []byte
}

// FullTextEngine is the inverted-index backend used for first-pass key
// retrieval. An empty query list matches all documents of the type.
type FullTextEngine interface {
	// SearchKeys returns up to size ordered document keys starting at
	// offset, plus the engine's total match count.
	SearchKeys(ctx context.Context, tenant, resourceType string, queries []FTSQuery, sort []SortField, offset, size int) ([]string, int64, error)
	// Count returns the total match count without fetching keys.
	Count(ctx context.Context, tenant, resourceType string, queries []FTSQuery) (int64, error)
}

// FilterEngine evaluates residual predicates the full-text engine
// cannot express.
type FilterEngine interface {
	MatchKeys(ctx context.Context, tenant, resourceType string, predicates []FilterPredicate) ([]string, error)
}

// DocumentStore serves batched key-value reads of resource documents.
type DocumentStore interface {
	BatchGet(ctx context.Context, tenant string, keys []string) ([]Document, error)
}

// Executor runs a QueryPlan against the two backend engines. Backend
// failures are logged once and surfaced as ErrBackendUnavailable; no
// partial or inconsistent key set is ever returned.
type Executor struct {
	fulltext FullTextEngine
	filter   FilterEngine
	log      zerolog.Logger
}

// NewExecutor creates an Executor over the two engines.
func NewExecutor(fulltext FullTextEngine, filter FilterEngine, log zerolog.Logger) *Executor {
	return &Executor{fulltext: fulltext, filter: filter, log: log}
}

// Run executes the plan and returns up to size ordered keys, the match
// total, and whether the key window misses matches beyond the size cap.
// When both engines contribute, the filter keys intersect the full-text
// result, preserving full-text order; a capped full-text window then
// marks the result truncated because matches past the cap were never
// seen by the intersection. Predicate-only plans go straight to the
// filter engine, and their total counts every filter match, not just
// the returned window.
func (e *Executor) Run(ctx context.Context, tenant, resourceType string, plan *QueryPlan, sort []SortField, size int) ([]string, int64, bool, error) {
	// Predicate-only plan: no full-text stage at all.
	if !plan.HasFTSQueries() && plan.HasPredicates() {
		keys, err := e.filter.MatchKeys(ctx, tenant, resourceType, plan.Predicates)
		if err != nil {
			e.log.Error().Err(err).Str("resource_type", resourceType).Msg("filter engine query failed")
			return nil, 0, false, fmt.Errorf("filter stage: %w", ErrBackendUnavailable)
		}
		total := int64(len(keys))
		if len(keys) > size {
			keys = keys[:size]
		}
		return keys, total, total > int64(len(keys)), nil
	}

	keys, total, err := e.fulltext.SearchKeys(ctx, tenant, resourceType, plan.FTSQueries, sort, 0, size)
	if err != nil {
		e.log.Error().Err(err).Str("resource_type", resourceType).Msg("full-text search failed")
		return nil, 0, false, fmt.Errorf("full-text stage: %w", ErrBackendUnavailable)
	}
	truncated := total > int64(len(keys))

	if plan.HasPredicates() {
		filterKeys, err := e.filter.MatchKeys(ctx, tenant, resourceType, plan.Predicates)
		if err != nil {
			e.log.Error().Err(err).Str("resource_type", resourceType).Msg("filter engine query failed")
			return nil, 0, false, fmt.Errorf("filter stage: %w", ErrBackendUnavailable)
		}
		keys = intersectOrdered(keys, filterKeys)
		// Exact only when the full-text window held every match;
		// truncated stays set otherwise.
		total = int64(len(keys))
	}

	return keys, total, truncated, nil
}

// intersectOrdered keeps the elements of ordered that also appear in
// members, preserving the order of the first argument.
func intersectOrdered(ordered, members []string) []string {
	set := make(map[string]struct{}, len(members))
	for _, k := range members {
		set[k] = struct{}{}
	}

	out := ordered[:0:0]
	for _, k := range ordered {
		if _, ok := set[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
