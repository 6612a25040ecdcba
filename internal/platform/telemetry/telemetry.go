// Package telemetry records HTTP server metrics for the search service
// and serves them in Prometheus text exposition format. It keeps
// counters, gauges and duration histograms in process memory; no
// metrics SDK or collector is involved.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/labstack/echo/v4"
)

// durationBuckets are the request-duration histogram boundaries in
// seconds.
var durationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// histogram is a thread-safe histogram with fixed bucket boundaries.
// Bucket counts are stored non-cumulative; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits, for atomic add
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records one value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			h.mu.Unlock()
			return
		}
	}
	// Beyond every boundary: counted in +Inf at export.
	h.mu.Unlock()
}

// Count returns the number of observations.
func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the sum of all observations.
func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// LabelsKey builds the map key for a labeled duration histogram.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

// Provider holds the service's metric state. The zero value is not
// usable; create one with NewProvider.
type Provider struct {
	mu        sync.RWMutex
	durations map[string]*histogram // keyed by LabelsKey

	active   int64
	searches *counterStore
}

// NewProvider creates an empty metrics provider.
func NewProvider() *Provider {
	return &Provider{
		durations: make(map[string]*histogram),
		searches:  newCounterStore(),
	}
}

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) inc(key string) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, 1)
		return
	}
	s.mu.Lock()
	if p, ok = s.items[key]; ok {
		s.mu.Unlock()
		atomic.AddInt64(p, 1)
		return
	}
	v := int64(1)
	s.items[key] = &v
	s.mu.Unlock()
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.items[key]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

func (p *Provider) durationFor(key string) *histogram {
	p.mu.RLock()
	h, ok := p.durations[key]
	p.mu.RUnlock()
	if ok {
		return h
	}
	p.mu.Lock()
	if h, ok = p.durations[key]; !ok {
		h = newHistogram(durationBuckets)
		p.durations[key] = h
	}
	p.mu.Unlock()
	return h
}

// Duration returns the labeled duration histogram, or nil.
func (p *Provider) Duration(key string) *histogram {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.durations[key]
}

// ActiveRequests returns the number of requests currently in flight.
func (p *Provider) ActiveRequests() int64 {
	return atomic.LoadInt64(&p.active)
}

// SearchCount returns the number of recorded search requests for a
// resource type.
func (p *Provider) SearchCount(resourceType string) int64 {
	return p.searches.get(resourceType)
}

// Middleware returns an echo middleware recording request duration,
// in-flight count and per-resource-type search counts.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&p.active, -1)
			elapsed := time.Since(start).Seconds()

			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			status := fmt.Sprintf("%d", c.Response().Status)

			p.durationFor(LabelsKey(req.Method, route, status)).Observe(elapsed)

			if req.Method == http.MethodGet {
				if rt := resourceTypeFromPath(req.URL.Path); rt != "" {
					p.searches.inc(rt)
				}
			}

			return err
		}
	}
}

// Handler serves the Prometheus text exposition of all metrics.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		p.mu.RLock()
		snap := make(map[string]*histogram, len(p.durations))
		for k, h := range p.durations {
			snap[k] = h
		}
		p.mu.RUnlock()
		for key, h := range snap {
			parts := strings.SplitN(key, "|", 3)
			if len(parts) != 3 {
				continue
			}
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogram(&b, "http_server_request_duration_seconds", labels, h)
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", p.ActiveRequests())

		b.WriteString("# HELP search_requests_total Search requests by resource type.\n")
		b.WriteString("# TYPE search_requests_total counter\n")
		for rt, val := range p.searches.snapshot() {
			fmt.Fprintf(&b, "search_requests_total{resource_type=%q} %d\n", rt, val)
		}
		b.WriteByte('\n')

		return c.String(http.StatusOK, b.String())
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()

	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

// resourceTypeFromPath extracts the FHIR resource type from a request
// path. Non-FHIR paths, pagination paths and lowercase segments return
// "".
func resourceTypeFromPath(path string) string {
	const prefix = "/fhir/"
	idx := strings.Index(path, prefix)
	if idx < 0 {
		return ""
	}

	rest := path[idx+len(prefix):]
	if slashIdx := strings.IndexByte(rest, '/'); slashIdx >= 0 {
		rest = rest[:slashIdx]
	}
	if rest == "" || !unicode.IsUpper(rune(rest[0])) {
		return ""
	}
	return rest
}
