package search

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StateManager is the token-keyed TTL store shared by the pagination
// cache and the multi-stage revinclude coordinator. It is constructed
// once at startup and injected into every consumer; TTL and sweep
// interval are configuration, not hidden constants.
//
// The maps are concurrent: request workers get/put/remove without
// blocking each other, and the background sweep may race a lookup of
// an expired entry; "not found" is a valid outcome either way.
type StateManager struct {
	ttl           time.Duration
	sweepInterval time.Duration
	log           zerolog.Logger

	pagination sync.Map // token -> *PaginationState
	multiStage sync.Map // token -> *SearchState

	stopOnce sync.Once
	done     chan struct{}
}

// NewStateManager creates a StateManager. Call Start to launch the
// eviction sweep and Stop on shutdown.
func NewStateManager(ttl, sweepInterval time.Duration, log zerolog.Logger) *StateManager {
	return &StateManager{
		ttl:           ttl,
		sweepInterval: sweepInterval,
		log:           log,
		done:          make(chan struct{}),
	}
}

// TTL returns the configured state time-to-live.
func (m *StateManager) TTL() time.Duration { return m.ttl }

// newToken generates an unguessable opaque pagination token.
func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Store saves a pagination state and returns its token.
func (m *StateManager) Store(state *PaginationState) string {
	token := newToken()
	m.pagination.Store(token, state)
	m.log.Debug().Str("token", token).Int("keys", state.TotalResults()).
		Str("tenant", state.Tenant()).Msg("stored pagination state")
	return token
}

// Get returns the pagination state for a token. Unknown tokens,
// expired states, and tenant mismatches all surface as ErrStaleToken;
// expired states are removed on access.
func (m *StateManager) Get(token, tenant string) (*PaginationState, error) {
	if token == "" {
		return nil, ErrStaleToken
	}

	v, ok := m.pagination.Load(token)
	if !ok {
		return nil, ErrStaleToken
	}
	state := v.(*PaginationState)

	if state.Tenant() != tenant {
		m.log.Warn().Str("token", token).Str("tenant", tenant).
			Msg("pagination token used with wrong tenant")
		return nil, ErrStaleToken
	}
	if state.IsExpired() {
		m.pagination.Delete(token)
		m.log.Debug().Str("token", token).Msg("pagination state expired on access")
		return nil, ErrStaleToken
	}

	return state, nil
}

// Remove deletes a pagination state (explicit release).
func (m *StateManager) Remove(token string) {
	m.pagination.Delete(token)
}

// StoreSearchState saves a multi-stage state and returns its token.
func (m *StateManager) StoreSearchState(state *SearchState) string {
	token := newToken()
	m.multiStage.Store(token, state)
	return token
}

// PutSearchState saves a multi-stage state under an existing token, so
// a revinclude search shares one token between its pagination window
// and its stage coordinator.
func (m *StateManager) PutSearchState(token string, state *SearchState) {
	m.multiStage.Store(token, state)
}

// GetSearchState returns the multi-stage state for a token, with the
// same staleness contract as Get.
func (m *StateManager) GetSearchState(token, tenant string) (*SearchState, error) {
	if token == "" {
		return nil, ErrStaleToken
	}

	v, ok := m.multiStage.Load(token)
	if !ok {
		return nil, ErrStaleToken
	}
	state := v.(*SearchState)

	if state.Tenant() != tenant {
		return nil, ErrStaleToken
	}
	if state.IsExpired() {
		m.multiStage.Delete(token)
		return nil, ErrStaleToken
	}

	return state, nil
}

// RemoveSearchState deletes a multi-stage state.
func (m *StateManager) RemoveSearchState(token string) {
	m.multiStage.Delete(token)
}

// Len returns the number of stored states of both kinds.
func (m *StateManager) Len() int {
	n := 0
	m.pagination.Range(func(_, _ any) bool { n++; return true })
	m.multiStage.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Start launches the background eviction sweep.
func (m *StateManager) Start() {
	go m.sweepLoop()
}

// Stop terminates the sweep goroutine.
func (m *StateManager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *StateManager) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.done:
			return
		}
	}
}

// Sweep scans all stored states and evicts the expired ones. It never
// holds a lock across the whole scan; removal races with live lookups
// are benign because the entry is expired in both interpretations.
func (m *StateManager) Sweep() {
	before := m.Len()
	removed := 0

	m.pagination.Range(func(key, value any) bool {
		if value.(*PaginationState).IsExpired() {
			m.pagination.Delete(key)
			removed++
		}
		return true
	})
	m.multiStage.Range(func(key, value any) bool {
		if value.(*SearchState).IsExpired() {
			m.multiStage.Delete(key)
			removed++
		}
		return true
	})

	if removed > 0 {
		m.log.Info().Int("removed", removed).Int("before", before).Int("after", m.Len()).
			Msg("evicted expired search states")
	}
}
