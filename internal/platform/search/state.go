package search

import (
	"sync"
	"time"
)

// SearchKind distinguishes the pagination strategies a stored window
// may follow.
type SearchKind string

const (
	SearchKindPlain      SearchKind = "plain"
	SearchKindRevInclude SearchKind = "revinclude"
	SearchKindInclude    SearchKind = "include"
	SearchKindChain      SearchKind = "chain"
)

// PaginationStateConfig carries every field of a pagination window.
// All fields are set at construction; no partially-initialized state
// is ever visible to another goroutine.
type PaginationStateConfig struct {
	Kind         SearchKind
	ResourceType string
	Keys         []string // full ordered key list from the bounded first fetch
	PageSize     int
	Tenant       string
	BaseURL      string
	// PrimaryCount is how many leading keys belong to the primary
	// resource type (revinclude searches only; 0 otherwise).
	PrimaryCount int
	// Truncated records that the first fetch hit the key cap, so the
	// window may not cover every match.
	Truncated bool
	TTL       time.Duration
}

// PaginationState is one server-held window of search results. The
// key list is immutable after construction; only the cursor advances.
// The cursor is guarded by the state's own mutex so racing page
// requests on one token yield last-write-wins, never a torn offset.
type PaginationState struct {
	kind         SearchKind
	resourceType string
	keys         []string
	pageSize     int
	tenant       string
	baseURL      string
	primaryCount int
	truncated    bool
	ttl          time.Duration
	createdAt    time.Time

	mu        sync.Mutex
	offset    int
	expiresAt time.Time
}

// NewPaginationState builds a fully-initialized window with
// expiry = now + TTL.
func NewPaginationState(cfg PaginationStateConfig) *PaginationState {
	now := time.Now()
	return &PaginationState{
		kind:         cfg.Kind,
		resourceType: cfg.ResourceType,
		keys:         cfg.Keys,
		pageSize:     cfg.PageSize,
		tenant:       cfg.Tenant,
		baseURL:      cfg.BaseURL,
		primaryCount: cfg.PrimaryCount,
		truncated:    cfg.Truncated,
		ttl:          cfg.TTL,
		createdAt:    now,
		expiresAt:    now.Add(cfg.TTL),
	}
}

func (s *PaginationState) Kind() SearchKind      { return s.kind }
func (s *PaginationState) ResourceType() string  { return s.resourceType }
func (s *PaginationState) Tenant() string        { return s.tenant }
func (s *PaginationState) BaseURL() string       { return s.baseURL }
func (s *PaginationState) PageSize() int         { return s.pageSize }
func (s *PaginationState) PrimaryCount() int     { return s.primaryCount }
func (s *PaginationState) Truncated() bool       { return s.truncated }
func (s *PaginationState) CreatedAt() time.Time  { return s.createdAt }
func (s *PaginationState) TotalResults() int     { return len(s.keys) }

// IsExpired reports whether wall-clock now is past the expiry.
func (s *PaginationState) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().After(s.expiresAt)
}

// Extend refreshes the expiry to now + TTL (sliding window), keeping
// active pagination sessions alive.
func (s *PaginationState) Extend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = time.Now().Add(s.ttl)
}

// HasMoreResults reports whether the cursor has not yet consumed the
// whole key list.
func (s *PaginationState) HasMoreResults() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset < len(s.keys)
}

// CurrentOffset returns the cursor position.
func (s *PaginationState) CurrentOffset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// RemainingResults returns how many keys are left to serve.
func (s *PaginationState) RemainingResults() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rem := len(s.keys) - s.offset; rem > 0 {
		return rem
	}
	return 0
}

// NextPageKeys returns the key slice [offset, min(offset+pageSize, total))
// and advances the cursor past it. A consumed window returns an empty
// slice, not an error.
func (s *PaginationState) NextPageKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.offset
	if from >= len(s.keys) {
		return []string{}
	}
	to := from + s.pageSize
	if to > len(s.keys) {
		to = len(s.keys)
	}
	s.offset = to
	return s.keys[from:to]
}

// TotalPages is ceil(total / pageSize).
func (s *PaginationState) TotalPages() int {
	if s.pageSize <= 0 {
		return 0
	}
	return (len(s.keys) + s.pageSize - 1) / s.pageSize
}

// CurrentPage is the 1-based page number at the current cursor.
func (s *PaginationState) CurrentPage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pageSize <= 0 {
		return 1
	}
	return s.offset/s.pageSize + 1
}

// SearchStateConfig carries every field of a multi-stage revinclude
// coordination state.
type SearchStateConfig struct {
	Kind                SearchKind
	PrimaryResourceType string
	PrimaryKeys         []string
	TotalPrimary        int
	RevIncludeType      string
	RevIncludeParam     string
	TotalRevInclude     int
	PageSize            int
	Tenant              string
	// Criteria is the original query criteria needed to re-issue the
	// secondary stage.
	Criteria map[string][]string
	TTL      time.Duration
}

// SearchState coordinates multi-stage reverse-include pagination. It
// tracks two independent offset/total pairs because the primary and
// included result sets are fetched and exhausted independently.
type SearchState struct {
	kind                SearchKind
	primaryResourceType string
	primaryKeys         []string
	revIncludeType      string
	revIncludeParam     string
	pageSize            int
	tenant              string
	criteria            map[string][]string
	ttl                 time.Duration
	createdAt           time.Time

	mu               sync.Mutex
	totalPrimary     int
	totalRevInclude  int
	primaryOffset    int
	revIncludeOffset int
	expiresAt        time.Time
}

// NewSearchState builds a fully-initialized multi-stage state.
func NewSearchState(cfg SearchStateConfig) *SearchState {
	now := time.Now()
	return &SearchState{
		kind:                cfg.Kind,
		primaryResourceType: cfg.PrimaryResourceType,
		primaryKeys:         cfg.PrimaryKeys,
		revIncludeType:      cfg.RevIncludeType,
		revIncludeParam:     cfg.RevIncludeParam,
		pageSize:            cfg.PageSize,
		tenant:              cfg.Tenant,
		criteria:            cfg.Criteria,
		ttl:                 cfg.TTL,
		createdAt:           now,
		totalPrimary:        cfg.TotalPrimary,
		totalRevInclude:     cfg.TotalRevInclude,
		expiresAt:           now.Add(cfg.TTL),
	}
}

func (s *SearchState) Kind() SearchKind             { return s.kind }
func (s *SearchState) PrimaryResourceType() string  { return s.primaryResourceType }
func (s *SearchState) PrimaryKeys() []string        { return s.primaryKeys }
func (s *SearchState) RevIncludeType() string       { return s.revIncludeType }
func (s *SearchState) RevIncludeParam() string      { return s.revIncludeParam }
func (s *SearchState) PageSize() int                { return s.pageSize }
func (s *SearchState) Tenant() string               { return s.tenant }
func (s *SearchState) Criteria() map[string][]string { return s.criteria }

// IsExpired reports whether the state has passed its TTL.
func (s *SearchState) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().After(s.expiresAt)
}

// PrimaryExhausted reports whether the primary result set has been
// fully served.
func (s *SearchState) PrimaryExhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primaryOffset >= s.totalPrimary
}

// HasMoreRevInclude reports whether included resources remain.
func (s *SearchState) HasMoreRevInclude() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revIncludeOffset < s.totalRevInclude
}

// Offsets returns both cursor positions.
func (s *SearchState) Offsets() (primary, revInclude int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primaryOffset, s.revIncludeOffset
}

// AdvancePrimary moves the primary cursor by n.
func (s *SearchState) AdvancePrimary(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primaryOffset += n
}

// AdvanceRevInclude moves the included-resource cursor by n.
func (s *SearchState) AdvanceRevInclude(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revIncludeOffset += n
}
