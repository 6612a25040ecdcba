package opensearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinsearch/clinsearch/internal/platform/search"
)

// Engine implements search.FullTextEngine over an OpenSearch cluster.
// Each tenant and resource type pair maps to its own index.
type Engine struct {
	client      SearchDoer
	indexPrefix string
	log         zerolog.Logger
}

// NewEngine creates an Engine over the given client.
func NewEngine(client SearchDoer, indexPrefix string, log zerolog.Logger) *Engine {
	return &Engine{client: client, indexPrefix: indexPrefix, log: log}
}

func (e *Engine) indexFor(tenant, resourceType string) string {
	return fmt.Sprintf("%s-%s-%s", e.indexPrefix, strings.ToLower(tenant), strings.ToLower(resourceType))
}

// SearchKeys implements search.FullTextEngine. Scoring is irrelevant
// for key retrieval, so results are ordered by the requested sort
// fields (default: last-updated descending) and only document ids are
// returned.
func (e *Engine) SearchKeys(ctx context.Context, tenant, resourceType string, queries []search.FTSQuery, sort []search.SortField, offset, size int) ([]string, int64, error) {
	body, err := buildRequestBody(resourceType, queries, sort, offset, size)
	if err != nil {
		return nil, 0, err
	}

	e.log.Debug().Str("index", e.indexFor(tenant, resourceType)).
		RawJSON("body", body).Msg("full-text key search")

	resp, err := e.client.Search(ctx, e.indexFor(tenant, resourceType), body)
	if err != nil {
		return nil, 0, err
	}

	keys := make([]string, len(resp.Hits))
	for i, hit := range resp.Hits {
		keys[i] = hit.ID
	}

	e.log.Debug().Int("keys", len(keys)).Int64("total", resp.Total).
		Str("resource_type", resourceType).Msg("full-text search returned")
	return keys, resp.Total, nil
}

// Count implements search.FullTextEngine via a size-0 search.
func (e *Engine) Count(ctx context.Context, tenant, resourceType string, queries []search.FTSQuery) (int64, error) {
	body, err := buildRequestBody(resourceType, queries, nil, 0, 0)
	if err != nil {
		return 0, err
	}

	resp, err := e.client.Search(ctx, e.indexFor(tenant, resourceType), body)
	if err != nil {
		return 0, err
	}
	return resp.Total, nil
}

func buildRequestBody(resourceType string, queries []search.FTSQuery, sort []search.SortField, offset, size int) ([]byte, error) {
	body := map[string]any{
		"query":   combinedQuery(resourceType, queries),
		"from":    offset,
		"size":    size,
		"_source": false,
	}

	if size > 0 {
		body["sort"] = sortClause(sort)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("opensearch: marshal request body: %w", err)
	}
	return raw, nil
}

// combinedQuery ANDs the resource-type filter with all sub-queries.
// No sub-queries means "match every document of the type".
func combinedQuery(resourceType string, queries []search.FTSQuery) map[string]any {
	filter := map[string]any{"term": map[string]any{"resourceType": resourceType}}

	if len(queries) == 0 {
		return map[string]any{"bool": map[string]any{"filter": []any{filter}}}
	}

	must := make([]any, len(queries))
	for i, q := range queries {
		must[i] = translate(q)
	}
	return map[string]any{"bool": map[string]any{
		"filter": []any{filter},
		"must":   must,
	}}
}

// translate renders one backend-neutral sub-query as OpenSearch DSL.
func translate(q search.FTSQuery) map[string]any {
	switch q.Kind {
	case search.FTSMatch:
		return map[string]any{"match": map[string]any{q.Field: q.Term}}
	case search.FTSTerm:
		return map[string]any{"term": map[string]any{q.Field: q.Term}}
	case search.FTSPrefix:
		return map[string]any{"prefix": map[string]any{q.Field: q.Term}}
	case search.FTSDateRange:
		bounds := map[string]any{}
		if q.Start != "" {
			if q.IncludeStart {
				bounds["gte"] = q.Start
			} else {
				bounds["gt"] = q.Start
			}
		}
		if q.End != "" {
			if q.IncludeEnd {
				bounds["lte"] = q.End
			} else {
				bounds["lt"] = q.End
			}
		}
		return map[string]any{"range": map[string]any{q.Field: bounds}}
	case search.FTSConjunction:
		must := make([]any, len(q.Children))
		for i, child := range q.Children {
			must[i] = translate(child)
		}
		return map[string]any{"bool": map[string]any{"must": must}}
	case search.FTSDisjunction:
		should := make([]any, len(q.Children))
		for i, child := range q.Children {
			should[i] = translate(child)
		}
		return map[string]any{"bool": map[string]any{
			"should":               should,
			"minimum_should_match": 1,
		}}
	default:
		return map[string]any{"match_none": map[string]any{}}
	}
}

// sortClause renders the sort order, defaulting to last-updated
// descending with the document id as tiebreaker so pagination windows
// are deterministic.
func sortClause(sort []search.SortField) []any {
	if len(sort) == 0 {
		sort = []search.SortField{{Field: "meta.lastUpdated", Descending: true}}
	}

	clause := make([]any, 0, len(sort)+1)
	for _, sf := range sort {
		order := "asc"
		if sf.Descending {
			order = "desc"
		}
		clause = append(clause, map[string]any{sf.Field: map[string]any{"order": order}})
	}
	clause = append(clause, map[string]any{"_id": map[string]any{"order": "asc"}})
	return clause
}
