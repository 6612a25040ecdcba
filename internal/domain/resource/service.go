// Package resource exposes the FHIR search API: parameter validation,
// query planning, two-stage chained, include and reverse-include
// execution, and token-based pagination over cached key windows.
package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinsearch/clinsearch/internal/platform/search"
)

// ServiceConfig carries the collaborators and limits of the search
// service. All fields are required unless noted.
type ServiceConfig struct {
	Registry  search.MetadataRegistry
	Validator *search.Validator
	Planner   *search.PlanBuilder
	Executor  *search.Executor
	FullText  search.FullTextEngine
	Documents search.DocumentStore
	Manager   *search.StateManager
	Cache     *search.PaginationCache

	// KeyCap bounds the first fetch of any search. Windows that hit the
	// cap are marked truncated.
	KeyCap          int
	DefaultPageSize int
	MaxPageSize     int

	Log zerolog.Logger
}

// Service orchestrates one search end to end. It owns no state of its
// own; all cross-request state lives in the injected StateManager.
type Service struct {
	registry  search.MetadataRegistry
	validator *search.Validator
	planner   *search.PlanBuilder
	executor  *search.Executor
	fulltext  search.FullTextEngine
	docs      search.DocumentStore
	manager   *search.StateManager
	cache     *search.PaginationCache

	keyCap          int
	defaultPageSize int
	maxPageSize     int

	log zerolog.Logger
}

// NewService creates a Service from its configuration.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		registry:        cfg.Registry,
		validator:       cfg.Validator,
		planner:         cfg.Planner,
		executor:        cfg.Executor,
		fulltext:        cfg.FullText,
		docs:            cfg.Documents,
		manager:         cfg.Manager,
		cache:           cfg.Cache,
		keyCap:          cfg.KeyCap,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
		log:             cfg.Log,
	}
}

// SearchInput is one search request.
type SearchInput struct {
	ResourceType string
	Params       url.Values
	Tenant       string
	// BaseURL is the service root, e.g. "https://host/fhir". Entry
	// fullUrls and pagination links are built from it.
	BaseURL string
	// SelfURL is the request URL echoed back as the bundle's self link.
	SelfURL string
}

// Search validates, plans and executes a search, opens a pagination
// window for the result keys and returns the first page as a bundle.
func (s *Service) Search(ctx context.Context, in SearchInput) (*Bundle, error) {
	timings := search.NewTimings()

	if err := s.validator.Validate(in.ResourceType, in.Params); err != nil {
		return nil, err
	}
	timings.Mark("validate")

	pageSize := s.pageSize(in.Params)
	sort := search.ParseSort(in.Params.Get("_sort"))

	// _count=0 is a count-only request: no entries, no window.
	if in.Params.Get("_count") == "0" {
		return s.countOnly(ctx, in, timings)
	}

	plan := s.planner.Build(in.ResourceType, in.Params)

	// Reverse chains (_has) restrict the primary key set to resources
	// referenced by matching target resources.
	hasKeys, hasActive, err := s.reverseChainKeys(ctx, in)
	if err != nil {
		return nil, err
	}

	// Chained parameters need a target-stage query each; the matching
	// target keys become a pointer-field sub-query on the primary plan.
	for _, chain := range plan.Chains {
		chainPlan := s.planner.Build(chain.TargetType, url.Values{chain.TailParam: {chain.Value}})
		targetKeys, _, _, err := s.executor.Run(ctx, in.Tenant, chain.TargetType, chainPlan, nil, s.keyCap)
		if err != nil {
			return nil, err
		}
		plan.FTSQueries = append(plan.FTSQueries, search.ChainReferenceQuery(chain.FTSField, targetKeys))
	}
	timings.Mark("chain_stage")

	primaryKeys, total, truncated, err := s.executor.Run(ctx, in.Tenant, in.ResourceType, plan, sort, s.keyCap)
	if err != nil {
		return nil, err
	}
	timings.Mark("primary_query")

	if hasActive {
		primaryKeys = intersectKeys(primaryKeys, hasKeys)
		total = int64(len(primaryKeys))
	}

	kind := search.SearchKindPlain
	if len(plan.Chains) > 0 {
		kind = search.SearchKindChain
	}

	keys := primaryKeys
	primaryCount := 0
	var stageState *search.SearchState

	if inc, ok := search.ParseInclude(in.Params.Get("_include")); ok {
		kind = search.SearchKindInclude
		primaryCount = len(primaryKeys)

		incKeys, err := s.includeStage(ctx, in, inc, primaryKeys)
		if err != nil {
			return nil, err
		}
		keys = append(keys, incKeys...)
		timings.Mark("include_stage")
	}

	if ri, ok := search.ParseRevInclude(in.Params.Get("_revinclude")); ok {
		kind = search.SearchKindRevInclude
		primaryCount = len(primaryKeys)

		incKeys, state, err := s.revIncludeStage(ctx, in, ri, primaryKeys, len(keys), pageSize)
		if err != nil {
			return nil, err
		}
		keys = append(keys, incKeys...)
		stageState = state
		timings.Mark("revinclude_stage")
	}

	page, err := s.cache.Begin(ctx, search.PaginationStateConfig{
		Kind:         kind,
		ResourceType: in.ResourceType,
		Keys:         keys,
		PageSize:     pageSize,
		Tenant:       in.Tenant,
		BaseURL:      in.BaseURL,
		PrimaryCount: primaryCount,
		Truncated:    truncated,
	})
	if err != nil {
		return nil, err
	}
	if stageState != nil {
		s.manager.PutSearchState(page.Token, stageState)
		// The window can end before the include stream does; keep the
		// next link alive so the remaining batches stay reachable.
		if stageState.HasMoreRevInclude() {
			page.HasMore = true
		}
	}
	timings.Mark("first_page")

	s.log.Info().Str("resource_type", in.ResourceType).Str("tenant", in.Tenant).
		Int64("total", total).Int("window", len(keys)).Bool("truncated", truncated).
		Object("timings", timings).Msg("search executed")

	return s.buildBundle(page, &total, in.SelfURL), nil
}

// NextPage serves the next page of an open window. When a revinclude
// window is consumed but the engine reported more included resources
// than the first fetch could hold, the secondary stage is re-issued at
// the stored offset to continue the include stream.
func (s *Service) NextPage(ctx context.Context, token, tenant string) (*Bundle, error) {
	page, err := s.cache.FetchPage(ctx, token, tenant)
	if err != nil {
		return nil, err
	}

	if page.Kind == search.SearchKindRevInclude {
		if len(page.Keys) == 0 {
			if extra, ok, err := s.continueIncludes(ctx, token, tenant, page); err != nil {
				return nil, err
			} else if ok {
				page = extra
			}
		} else if !page.HasMore {
			if state, err := s.manager.GetSearchState(token, tenant); err == nil && state.HasMoreRevInclude() {
				page.HasMore = true
			}
		}
	}

	return s.buildBundle(page, nil, pageURL(page.BaseURL, token)), nil
}

// Release drops a pagination window before its TTL.
func (s *Service) Release(token string) {
	s.cache.Release(token)
	s.manager.RemoveSearchState(token)
}

// pageSize resolves _count against the configured default and maximum.
func (s *Service) pageSize(params url.Values) int {
	raw := params.Get("_count")
	if raw == "" {
		return s.defaultPageSize
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return s.defaultPageSize
	}
	if n > s.maxPageSize {
		return s.maxPageSize
	}
	return n
}

// countOnly answers a _count=0 search: the total match count with no
// entries and no pagination window.
func (s *Service) countOnly(ctx context.Context, in SearchInput, timings *search.Timings) (*Bundle, error) {
	plan := s.planner.Build(in.ResourceType, in.Params)

	var total int64
	var err error
	if plan.HasPredicates() || len(plan.Chains) > 0 {
		// Residual predicates and chains cannot be counted by the
		// full-text engine alone; run the bounded search and count keys.
		var keys []string
		keys, _, _, err = s.executor.Run(ctx, in.Tenant, in.ResourceType, plan, nil, s.keyCap)
		total = int64(len(keys))
	} else {
		total, err = s.fulltext.Count(ctx, in.Tenant, in.ResourceType, plan.FTSQueries)
		if err != nil {
			err = fmt.Errorf("count stage: %w", search.ErrBackendUnavailable)
		}
	}
	if err != nil {
		return nil, err
	}
	timings.Mark("count")

	s.log.Info().Str("resource_type", in.ResourceType).Str("tenant", in.Tenant).
		Int64("total", total).Object("timings", timings).Msg("count-only search executed")

	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Link:         []BundleLink{{Relation: "self", URL: in.SelfURL}},
	}, nil
}

// reverseChainKeys runs the target-stage query for every _has parameter
// and returns the primary keys referenced by matching target resources.
// Malformed _has keys are ignored. The boolean reports whether any
// _has parameter was active.
func (s *Service) reverseChainKeys(ctx context.Context, in SearchInput) (map[string]struct{}, bool, error) {
	var keys map[string]struct{}
	active := false

	for key, values := range in.Params {
		if !strings.HasPrefix(key, "_has:") || len(values) == 0 {
			continue
		}
		has, ok := search.ParseHasParam(key, values[0])
		if !ok {
			s.log.Warn().Str("param", key).Msg("malformed _has parameter, ignoring")
			continue
		}

		refPath, ok := s.referenceFieldPath(has.TargetResource, has.ReferenceField)
		if !ok {
			s.log.Warn().Str("param", key).Str("target", has.TargetResource).
				Str("field", has.ReferenceField).Msg("_has reference field not resolvable, ignoring")
			continue
		}

		targetPlan := s.planner.Build(has.TargetResource, url.Values{has.CriteriaParam: {has.CriteriaValue}})
		targetKeys, _, _, err := s.executor.Run(ctx, in.Tenant, has.TargetResource, targetPlan, nil, s.keyCap)
		if err != nil {
			return nil, false, err
		}

		docs, err := s.docs.BatchGet(ctx, in.Tenant, targetKeys)
		if err != nil {
			return nil, false, fmt.Errorf("reverse chain fetch: %w", search.ErrBackendUnavailable)
		}

		found := make(map[string]struct{})
		prefix := in.ResourceType + "/"
		for _, doc := range docs {
			if ref := extractReference(doc.Body, refPath); strings.HasPrefix(ref, prefix) {
				found[ref] = struct{}{}
			}
		}

		if !active {
			keys, active = found, true
			continue
		}
		// Multiple _has parameters AND together.
		for k := range keys {
			if _, ok := found[k]; !ok {
				delete(keys, k)
			}
		}
	}

	return keys, active, nil
}

// referenceFieldPath resolves a reference search parameter to the
// document field segments holding the pointer.
func (s *Service) referenceFieldPath(resourceType, param string) ([]string, bool) {
	info, found := s.registry.Param(resourceType, param)
	if !found || !info.IsReference() || info.Path == "" {
		return nil, false
	}
	parts := strings.Split(info.Path, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return parts, true
}

// includeStage follows the forward references named by an _include
// directive: the primary documents are fetched, the reference field is
// read from each, and the referenced keys are returned for the window,
// deduplicated and capped by the remaining key budget.
func (s *Service) includeStage(ctx context.Context, in SearchInput, inc *search.IncludeParam, primaryKeys []string) ([]string, error) {
	if len(primaryKeys) == 0 {
		return nil, nil
	}
	budget := s.keyCap - len(primaryKeys)
	if budget <= 0 {
		return nil, nil
	}

	refPath, ok := s.referenceFieldPath(inc.ResourceType, inc.SearchParam)
	if !ok {
		s.log.Warn().Str("type", inc.ResourceType).Str("param", inc.SearchParam).
			Msg("_include parameter not resolvable, ignoring")
		return nil, nil
	}

	docs, err := s.docs.BatchGet(ctx, in.Tenant, primaryKeys)
	if err != nil {
		return nil, fmt.Errorf("include stage: %w", search.ErrBackendUnavailable)
	}

	seen := make(map[string]struct{}, len(primaryKeys))
	for _, k := range primaryKeys {
		seen[k] = struct{}{}
	}

	var incKeys []string
	for _, doc := range docs {
		ref := extractReference(doc.Body, refPath)
		if !strings.Contains(ref, "/") {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		incKeys = append(incKeys, ref)
		if len(incKeys) == budget {
			break
		}
	}
	return incKeys, nil
}

// revIncludeStage fetches the first batch of reverse-included resources
// and returns their keys plus the stage coordinator that allows
// fetching further include batches after the window is consumed. The
// key budget is what the cap leaves after the keys already in the
// window.
func (s *Service) revIncludeStage(ctx context.Context, in SearchInput, ri *search.RevIncludeParam, primaryKeys []string, windowLen, pageSize int) ([]string, *search.SearchState, error) {
	if len(primaryKeys) == 0 {
		return nil, nil, nil
	}

	budget := s.keyCap - windowLen
	if budget <= 0 {
		return nil, nil, nil
	}

	refQuery := search.ChainReferenceQuery(ri.SearchParam+".reference", primaryKeys)
	incKeys, incTotal, err := s.fulltext.SearchKeys(ctx, in.Tenant, ri.ResourceType,
		[]search.FTSQuery{refQuery}, nil, 0, budget)
	if err != nil {
		return nil, nil, fmt.Errorf("revinclude stage: %w", search.ErrBackendUnavailable)
	}

	state := search.NewSearchState(search.SearchStateConfig{
		Kind:                search.SearchKindRevInclude,
		PrimaryResourceType: in.ResourceType,
		PrimaryKeys:         primaryKeys,
		TotalPrimary:        len(primaryKeys),
		RevIncludeType:      ri.ResourceType,
		RevIncludeParam:     ri.SearchParam,
		TotalRevInclude:     int(incTotal),
		PageSize:            pageSize,
		Tenant:              in.Tenant,
		Criteria:            in.Params,
		TTL:                 s.manager.TTL(),
	})
	state.AdvancePrimary(len(primaryKeys))
	state.AdvanceRevInclude(len(incKeys))

	return incKeys, state, nil
}

// continueIncludes re-issues the revinclude secondary stage for the
// next batch when the stored window is consumed but the engine holds
// more included resources. Returns false when there is nothing left.
func (s *Service) continueIncludes(ctx context.Context, token, tenant string, page *search.Page) (*search.Page, bool, error) {
	state, err := s.manager.GetSearchState(token, tenant)
	if err != nil {
		// The window outlived its stage coordinator; the include stream
		// ends early rather than failing the page.
		s.log.Warn().Err(err).Str("token", token).Str("tenant", tenant).
			Msg("revinclude coordinator missing or expired, ending include stream")
		return nil, false, nil
	}
	if !state.HasMoreRevInclude() {
		return nil, false, nil
	}

	_, offset := state.Offsets()
	refQuery := search.ChainReferenceQuery(state.RevIncludeParam()+".reference", state.PrimaryKeys())
	incKeys, _, err := s.fulltext.SearchKeys(ctx, tenant, state.RevIncludeType(),
		[]search.FTSQuery{refQuery}, nil, offset, state.PageSize())
	if err != nil {
		return nil, false, fmt.Errorf("revinclude stage: %w", search.ErrBackendUnavailable)
	}
	if len(incKeys) == 0 {
		return nil, false, nil
	}

	docs, err := s.docs.BatchGet(ctx, tenant, incKeys)
	if err != nil {
		return nil, false, fmt.Errorf("page fetch: %w", search.ErrBackendUnavailable)
	}
	state.AdvanceRevInclude(len(incKeys))

	return &search.Page{
		Token:        token,
		Keys:         incKeys,
		Documents:    docs,
		ResourceType: page.ResourceType,
		Kind:         search.SearchKindRevInclude,
		PageSize:     state.PageSize(),
		PageNumber:   page.PageNumber,
		TotalPages:   page.TotalPages,
		TotalResults: page.TotalResults,
		HasMore:      state.HasMoreRevInclude(),
		Truncated:    page.Truncated,
		PrimaryCount: 0,
		BaseURL:      page.BaseURL,
	}, true, nil
}

// buildBundle renders a served page as a searchset bundle. Entry modes
// follow the key's position in the window: leading keys up to the
// primary count are matches, the rest are included resources.
func (s *Service) buildBundle(page *search.Page, total *int64, selfURL string) *Bundle {
	bundle := &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        total,
		Link:         []BundleLink{{Relation: "self", URL: selfURL}},
	}
	if page.HasMore {
		bundle.Link = append(bundle.Link, BundleLink{
			Relation: "next",
			URL:      pageURL(page.BaseURL, page.Token),
		})
	}

	withIncludes := page.Kind == search.SearchKindRevInclude || page.Kind == search.SearchKindInclude
	windowOffset := (page.PageNumber - 1) * page.PageSize

	bodies := make(map[string][]byte, len(page.Documents))
	for _, doc := range page.Documents {
		bodies[doc.Key] = doc.Body
	}

	// Modes are decided by key position, not document position: a key
	// whose document is gone still occupies its slot in the window, so
	// the match/include boundary never shifts.
	for i, key := range page.Keys {
		body, ok := bodies[key]
		if !ok {
			continue
		}
		mode := "match"
		if withIncludes && windowOffset+i >= page.PrimaryCount {
			mode = "include"
		}
		bundle.Entry = append(bundle.Entry, BundleEntry{
			FullURL:  page.BaseURL + "/" + key,
			Resource: json.RawMessage(body),
			Search:   &EntrySearch{Mode: mode},
		})
	}

	if page.Truncated {
		warning := NewOutcome("warning", "incomplete",
			fmt.Sprintf("result window truncated at %d keys; narrow the search to see every match", page.TotalResults))
		raw, err := json.Marshal(warning)
		if err == nil {
			bundle.Entry = append(bundle.Entry, BundleEntry{
				Resource: raw,
				Search:   &EntrySearch{Mode: "outcome"},
			})
		}
	}

	return bundle
}

func pageURL(baseURL, token string) string {
	return baseURL + "/_page/" + token
}

// intersectKeys keeps the ordered keys that are members of the set.
func intersectKeys(ordered []string, set map[string]struct{}) []string {
	out := ordered[:0:0]
	for _, k := range ordered {
		if _, ok := set[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// extractReference reads the reference pointer at the given field path
// of a resource document. Missing or non-object fields return "".
func extractReference(body []byte, path []string) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}

	var cur any = doc
	for _, seg := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = obj[seg]
	}

	obj, ok := cur.(map[string]any)
	if !ok {
		return ""
	}
	ref, _ := obj["reference"].(string)
	return ref
}
