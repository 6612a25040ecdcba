package search

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Page is one served window slice: the keys for this page, their
// documents, and the metadata a caller needs to build response links.
type Page struct {
	Token        string
	Keys         []string
	Documents    []Document
	ResourceType string
	Kind         SearchKind
	PageSize     int
	PageNumber   int
	TotalPages   int
	TotalResults int
	HasMore      bool
	Truncated    bool
	PrimaryCount int
	BaseURL      string
}

// PaginationCache serves pages from server-held key windows. The
// expensive full-text query runs once per logical search; every
// subsequent page is a key-range slice plus a cheap batched
// key-value read.
type PaginationCache struct {
	manager *StateManager
	docs    DocumentStore
	log     zerolog.Logger
}

// NewPaginationCache creates a PaginationCache over the state manager
// and document store.
func NewPaginationCache(manager *StateManager, docs DocumentStore, log zerolog.Logger) *PaginationCache {
	return &PaginationCache{manager: manager, docs: docs, log: log}
}

// Begin stores a freshly fetched key window and serves its first page.
// The returned token is the client's opaque cursor for subsequent
// pages. cfg.TTL defaults to the manager's configured TTL.
func (c *PaginationCache) Begin(ctx context.Context, cfg PaginationStateConfig) (*Page, error) {
	if cfg.TTL == 0 {
		cfg.TTL = c.manager.TTL()
	}

	state := NewPaginationState(cfg)
	token := c.manager.Store(state)

	page, err := c.servePage(ctx, token, state)
	if err != nil {
		c.manager.Remove(token)
		return nil, err
	}

	c.log.Debug().Str("token", token).Str("resource_type", cfg.ResourceType).
		Int("keys", len(cfg.Keys)).Int("page_size", cfg.PageSize).
		Msg("pagination window opened")
	return page, nil
}

// FetchPage serves the next page for a token. Unknown or expired
// tokens return ErrStaleToken so the caller can tell the client to
// restart the search rather than believe pagination has ended. A
// fresh but fully consumed window returns an empty page, not an
// error. Each successful fetch extends the window's expiry (sliding
// TTL).
func (c *PaginationCache) FetchPage(ctx context.Context, token, tenant string) (*Page, error) {
	state, err := c.manager.Get(token, tenant)
	if err != nil {
		return nil, err
	}

	state.Extend()
	return c.servePage(ctx, token, state)
}

// Release drops a window before its TTL (explicit client completion).
func (c *PaginationCache) Release(token string) {
	c.manager.Remove(token)
}

func (c *PaginationCache) servePage(ctx context.Context, token string, state *PaginationState) (*Page, error) {
	keys := state.NextPageKeys()

	var docs []Document
	if len(keys) > 0 {
		var err error
		docs, err = c.docs.BatchGet(ctx, state.Tenant(), keys)
		if err != nil {
			c.log.Error().Err(err).Int("keys", len(keys)).Msg("batched document read failed")
			return nil, fmt.Errorf("page fetch: %w", ErrBackendUnavailable)
		}
	}

	// The page number is derived from where this slice started, not
	// from the advanced cursor, so partial last pages number correctly.
	pageNumber := 1
	if state.PageSize() > 0 {
		pageNumber = (state.CurrentOffset()-len(keys))/state.PageSize() + 1
	}

	return &Page{
		Token:        token,
		Keys:         keys,
		Documents:    docs,
		ResourceType: state.ResourceType(),
		Kind:         state.Kind(),
		PageSize:     state.PageSize(),
		PageNumber:   pageNumber,
		TotalPages:   state.TotalPages(),
		TotalResults: state.TotalResults(),
		HasMore:      state.HasMoreResults(),
		Truncated:    state.Truncated(),
		PrimaryCount: state.PrimaryCount(),
		BaseURL:      state.BaseURL(),
	}, nil
}
