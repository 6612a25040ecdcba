package search

import (
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FTSKind identifies the shape of a full-text sub-query.
type FTSKind int

const (
	// FTSMatch is an analyzed match against a field.
	FTSMatch FTSKind = iota
	// FTSTerm is an exact, unanalyzed term comparison.
	FTSTerm
	// FTSPrefix matches values starting with the term.
	FTSPrefix
	// FTSDateRange matches a date/time window.
	FTSDateRange
	// FTSConjunction requires all children to match.
	FTSConjunction
	// FTSDisjunction requires any child to match.
	FTSDisjunction
)

// FTSQuery is one sub-query for the full-text engine. It is
// backend-neutral; the executor translates it to the engine's wire
// format.
type FTSQuery struct {
	Kind  FTSKind
	Field string
	Term  string

	// Date range bounds, RFC3339 or YYYY-MM-DD. Empty means unbounded.
	Start        string
	End          string
	IncludeStart bool
	IncludeEnd   bool

	Children []FTSQuery
}

// MatchQuery builds an analyzed match sub-query.
func MatchQuery(field, term string) FTSQuery {
	return FTSQuery{Kind: FTSMatch, Field: field, Term: term}
}

// TermQuery builds an exact term sub-query.
func TermQuery(field, term string) FTSQuery {
	return FTSQuery{Kind: FTSTerm, Field: field, Term: term}
}

// PrefixQuery builds a prefix sub-query.
func PrefixQuery(field, term string) FTSQuery {
	return FTSQuery{Kind: FTSPrefix, Field: field, Term: term}
}

// Conjunction combines sub-queries with AND semantics.
func Conjunction(children ...FTSQuery) FTSQuery {
	return FTSQuery{Kind: FTSConjunction, Children: children}
}

// Disjunction combines sub-queries with OR semantics.
func Disjunction(children ...FTSQuery) FTSQuery {
	if len(children) == 1 {
		return children[0]
	}
	return FTSQuery{Kind: FTSDisjunction, Children: children}
}

// PredicateOp is a comparison operator for residual filter predicates.
type PredicateOp string

const (
	OpEq       PredicateOp = "eq"
	OpNeq      PredicateOp = "neq"
	OpGt       PredicateOp = "gt"
	OpGte      PredicateOp = "gte"
	OpLt       PredicateOp = "lt"
	OpLte      PredicateOp = "lte"
	OpEndsWith PredicateOp = "ends-with"
)

// FilterPredicate is one residual criterion the full-text engine
// cannot express, evaluated by the secondary filter engine. Path is
// the JSON field path inside the resource document.
type FilterPredicate struct {
	Path    []string
	Op      PredicateOp
	Value   string
	Numeric bool
}

// SortField is one _sort component.
type SortField struct {
	Field      string
	Descending bool
}

// QueryPlan is the combined output of plan building: full-text
// sub-queries, residual filter predicates, and resolved chained
// parameters that require a target-stage query before they can be
// expressed as a pointer-field sub-query.
//
// A plan is non-empty iff it has at least one sub-query or predicate.
// Callers must distinguish "match everything" from "no valid criteria"
// explicitly; emptiness alone does not.
type QueryPlan struct {
	FTSQueries []FTSQuery
	Predicates []FilterPredicate
	Chains     []*ChainParam
}

// IsEmpty reports whether the plan carries no sub-queries and no
// predicates.
func (p *QueryPlan) IsEmpty() bool {
	return len(p.FTSQueries) == 0 && len(p.Predicates) == 0
}

// HasFTSQueries reports whether any full-text sub-queries are present.
func (p *QueryPlan) HasFTSQueries() bool { return len(p.FTSQueries) > 0 }

// HasPredicates reports whether any residual predicates are present.
func (p *QueryPlan) HasPredicates() bool { return len(p.Predicates) > 0 }

// PlanBuilder turns validated parameters into a QueryPlan.
type PlanBuilder struct {
	registry MetadataRegistry
	resolver *ChainResolver
	log      zerolog.Logger
}

// NewPlanBuilder creates a PlanBuilder.
func NewPlanBuilder(registry MetadataRegistry, resolver *ChainResolver, log zerolog.Logger) *PlanBuilder {
	return &PlanBuilder{registry: registry, resolver: resolver, log: log}
}

// Build consumes the validated parameter set for one search.
// Control and framework parameters are skipped; _has and _revinclude
// never contribute here (they require a second query stage coordinated
// by the pagination layer). Chain parameters that fail resolution are
// omitted, matching the soft-failure contract of the resolver.
func (b *PlanBuilder) Build(resourceType string, params url.Values) *QueryPlan {
	plan := &QueryPlan{}

	for key, values := range params {
		if IsControlParam(key) || IsFrameworkParam(key) {
			continue
		}
		if len(values) == 0 {
			continue
		}

		if IsChainedKey(key) {
			if chain, ok := b.resolver.Resolve(key, values[0], resourceType); ok {
				plan.Chains = append(plan.Chains, chain)
			}
			continue
		}

		base, modifier := SplitModifier(key)
		info, found := b.registry.Param(resourceType, base)
		if !found {
			continue
		}

		field := fieldFromPath(info.Path)

		switch info.Type {
		case ParamTypeToken:
			var perValue []FTSQuery
			for _, value := range values {
				perValue = append(perValue, tokenQuery(field, value))
			}
			plan.FTSQueries = append(plan.FTSQueries, Disjunction(perValue...))
		case ParamTypeString:
			for _, value := range values {
				plan.FTSQueries = append(plan.FTSQueries, stringQuery(field, value, modifier))
			}
		case ParamTypeDate:
			for _, value := range values {
				q, pred, ok := dateQuery(field, value)
				if !ok {
					continue
				}
				if pred != nil {
					plan.Predicates = append(plan.Predicates, *pred)
				} else {
					plan.FTSQueries = append(plan.FTSQueries, q)
				}
			}
		case ParamTypeNumber:
			for _, value := range values {
				plan.Predicates = append(plan.Predicates, numberPredicate(info.Path, value))
			}
		case ParamTypeReference:
			for _, value := range values {
				plan.Predicates = append(plan.Predicates, referencePredicate(info.Path, value))
			}
		default:
			b.log.Warn().Str("param", base).Str("type", info.Type.String()).
				Msg("unsupported search parameter type, skipping")
		}
	}

	return plan
}

// ChainReferenceQuery expresses "the pointer field holds any of these
// references" as a full-text sub-query, used once the chain's target
// stage has produced the matching target keys.
func ChainReferenceQuery(ftsField string, refs []string) FTSQuery {
	children := make([]FTSQuery, 0, len(refs))
	for _, ref := range refs {
		children = append(children, TermQuery(ftsField, ref))
	}
	return Disjunction(children...)
}

// ParseSort parses a _sort value. A leading "-" means descending.
func ParseSort(sortValue string) []SortField {
	if sortValue == "" {
		return nil
	}

	var fields []SortField
	for _, part := range strings.Split(sortValue, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sf := SortField{Field: part}
		if strings.HasPrefix(part, "-") {
			sf.Descending = true
			sf.Field = part[1:]
		}
		fields = append(fields, sf)
	}
	return fields
}

// fieldFromPath strips the resource-type segment from a canonical
// path: "Observation.effectiveDateTime" -> "effectiveDateTime".
func fieldFromPath(canonicalPath string) string {
	if idx := strings.Index(canonicalPath, "."); idx >= 0 {
		return canonicalPath[idx+1:]
	}
	return canonicalPath
}

// docPathFromCanonical converts a canonical path into document field
// segments: "Observation.valueQuantity.value" -> [valueQuantity value].
func docPathFromCanonical(canonicalPath string) []string {
	parts := strings.Split(canonicalPath, ".")
	if len(parts) > 1 {
		return parts[1:]
	}
	return parts
}

func tokenQuery(field, value string) FTSQuery {
	if !strings.Contains(value, "|") {
		return MatchQuery(field, value)
	}

	parts := strings.SplitN(value, "|", 2)
	system, code := parts[0], parts[1]
	switch {
	case system != "" && code != "":
		return Conjunction(
			MatchQuery(field+".system", system),
			MatchQuery(field+".code", code),
		)
	case code != "":
		return MatchQuery(field+".code", code)
	default:
		return MatchQuery(field+".system", system)
	}
}

func stringQuery(field, value, modifier string) FTSQuery {
	switch modifier {
	case "exact":
		return TermQuery(field, value)
	case "contains":
		return MatchQuery(field, value)
	default:
		return PrefixQuery(field, strings.ToLower(value))
	}
}

// dateQuery builds a date-range sub-query from a prefixed value.
// "ne" cannot be expressed as a single range and degrades to a
// residual predicate. Unparseable literals are dropped; the validator
// has already rejected genuinely malformed input.
func dateQuery(field, value string) (FTSQuery, *FilterPredicate, bool) {
	prefix, literal := SplitComparisonPrefix(value)

	dayOnly := len(literal) == 10
	if dayOnly {
		if _, err := time.Parse("2006-01-02", literal); err != nil {
			return FTSQuery{}, nil, false
		}
	} else if _, err := time.Parse(time.RFC3339, literal); err != nil {
		return FTSQuery{}, nil, false
	}

	q := FTSQuery{Kind: FTSDateRange, Field: field}
	switch prefix {
	case "", "eq", "ap":
		q.Start, q.IncludeStart = literal, true
		q.End, q.IncludeEnd = endOfPeriod(literal, dayOnly), false
	case "ge":
		q.Start, q.IncludeStart = literal, true
	case "gt", "sa":
		q.Start, q.IncludeStart = literal, false
	case "le":
		q.End, q.IncludeEnd = literal, true
	case "lt", "eb":
		q.End, q.IncludeEnd = literal, false
	case "ne":
		pred := &FilterPredicate{Path: strings.Split(field, "."), Op: OpNeq, Value: literal}
		return FTSQuery{}, pred, true
	default:
		return FTSQuery{}, nil, false
	}
	return q, nil, true
}

// endOfPeriod returns the exclusive upper bound for an equality match:
// the next day for date-only literals, the literal itself otherwise.
func endOfPeriod(literal string, dayOnly bool) string {
	if !dayOnly {
		return literal
	}
	t, err := time.Parse("2006-01-02", literal)
	if err != nil {
		return literal
	}
	return t.AddDate(0, 0, 1).Format("2006-01-02")
}

func numberPredicate(canonicalPath, value string) FilterPredicate {
	prefix, literal := SplitComparisonPrefix(value)
	return FilterPredicate{
		Path:    docPathFromCanonical(canonicalPath),
		Op:      opForPrefix(prefix),
		Value:   literal,
		Numeric: true,
	}
}

// referencePredicate matches a reference field. "Type/id" compares the
// full pointer; a bare id matches any type pointing at that id.
func referencePredicate(canonicalPath, value string) FilterPredicate {
	path := append(docPathFromCanonical(canonicalPath), "reference")
	if strings.Contains(value, "/") {
		return FilterPredicate{Path: path, Op: OpEq, Value: value}
	}
	return FilterPredicate{Path: path, Op: OpEndsWith, Value: "/" + value}
}

func opForPrefix(prefix string) PredicateOp {
	switch prefix {
	case "ne":
		return OpNeq
	case "gt", "sa":
		return OpGt
	case "ge":
		return OpGte
	case "lt", "eb":
		return OpLt
	case "le":
		return OpLte
	default:
		return OpEq
	}
}
