// Package postgres implements the filter-predicate engine and the
// batched key-value document reads over a JSONB resources table.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinsearch/clinsearch/internal/platform/search"
)

// Store implements search.FilterEngine and search.DocumentStore.
//
// Documents live in a single table:
//
//	resources(tenant_id text, resource_type text, key text, body jsonb)
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewStore creates a Store over the given pool.
func NewStore(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{pool: pool, log: log}
}

// MatchKeys implements search.FilterEngine. Predicates are ANDed; the
// result is ordered by key so intersections with the full-text result
// are deterministic.
func (s *Store) MatchKeys(ctx context.Context, tenant, resourceType string, predicates []search.FilterPredicate) ([]string, error) {
	var sb strings.Builder
	sb.WriteString("SELECT key FROM resources WHERE tenant_id = $1 AND resource_type = $2")
	args := []interface{}{tenant, resourceType}

	argIdx := 3
	for _, p := range predicates {
		clause, arg, next := PredicateClause(p, argIdx)
		sb.WriteString(" AND ")
		sb.WriteString(clause)
		args = append(args, arg)
		argIdx = next
	}
	sb.WriteString(" ORDER BY key")

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("filter query: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan filter row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("filter rows: %w", err)
	}

	s.log.Debug().Int("keys", len(keys)).Str("resource_type", resourceType).
		Int("predicates", len(predicates)).Msg("filter engine matched")
	return keys, nil
}

// BatchGet implements search.DocumentStore. Results follow the order
// of the requested keys; keys with no document are skipped.
func (s *Store) BatchGet(ctx context.Context, tenant string, keys []string) ([]search.Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		"SELECT key, body FROM resources WHERE tenant_id = $1 AND key = ANY($2)",
		tenant, keys)
	if err != nil {
		return nil, fmt.Errorf("batch get: %w", err)
	}
	defer rows.Close()

	byKey := make(map[string][]byte, len(keys))
	for rows.Next() {
		var key string
		var body []byte
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		byKey[key] = body
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("document rows: %w", err)
	}

	return OrderDocuments(keys, byKey), nil
}

// OrderDocuments arranges fetched bodies in requested-key order,
// dropping keys that resolved to nothing.
func OrderDocuments(keys []string, byKey map[string][]byte) []search.Document {
	docs := make([]search.Document, 0, len(byKey))
	for _, key := range keys {
		if body, ok := byKey[key]; ok {
			docs = append(docs, search.Document{Key: key, Body: body})
		}
	}
	return docs
}

// PredicateClause renders one filter predicate as a SQL condition over
// the JSONB body. It returns the clause, its bind argument, and the
// next positional parameter index.
func PredicateClause(p search.FilterPredicate, argIdx int) (string, interface{}, int) {
	expr := fmt.Sprintf("body #>> '{%s}'", strings.Join(p.Path, ","))
	placeholder := fmt.Sprintf("$%d", argIdx)
	if p.Numeric {
		expr = "(" + expr + ")::numeric"
		placeholder += "::numeric"
	}

	var op string
	switch p.Op {
	case search.OpNeq:
		op = "<>"
	case search.OpGt:
		op = ">"
	case search.OpGte:
		op = ">="
	case search.OpLt:
		op = "<"
	case search.OpLte:
		op = "<="
	case search.OpEndsWith:
		return fmt.Sprintf("%s LIKE '%%' || $%d", expr, argIdx), p.Value, argIdx + 1
	default:
		op = "="
	}

	return fmt.Sprintf("%s %s %s", expr, op, placeholder), p.Value, argIdx + 1
}
