package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func serveThrough(t *testing.T, p *Provider, method, target string, status int) {
	t.Helper()
	e := echo.New()
	e.Use(p.Middleware())
	e.Add(method, "/fhir/:resourceType", func(c echo.Context) error {
		return c.NoContent(status)
	})

	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	p := NewProvider()
	serveThrough(t, p, http.MethodGet, "/fhir/Patient?gender=female", http.StatusOK)

	key := LabelsKey("GET", "/fhir/:resourceType", "200")
	h := p.Duration(key)
	if h == nil {
		t.Fatalf("expected a duration histogram for %s", key)
	}
	if h.Count() != 1 {
		t.Errorf("expected 1 observation, got %d", h.Count())
	}
	if p.ActiveRequests() != 0 {
		t.Errorf("active requests must return to 0, got %d", p.ActiveRequests())
	}
}

func TestMiddleware_CountsSearchesByResourceType(t *testing.T) {
	p := NewProvider()
	serveThrough(t, p, http.MethodGet, "/fhir/Patient", http.StatusOK)
	serveThrough(t, p, http.MethodGet, "/fhir/Patient", http.StatusOK)
	serveThrough(t, p, http.MethodGet, "/fhir/Observation", http.StatusOK)

	if got := p.SearchCount("Patient"); got != 2 {
		t.Errorf("Patient searches = %d, want 2", got)
	}
	if got := p.SearchCount("Observation"); got != 1 {
		t.Errorf("Observation searches = %d, want 1", got)
	}
}

func TestHandler_ExpositionFormat(t *testing.T) {
	p := NewProvider()
	serveThrough(t, p, http.MethodGet, "/fhir/Patient", http.StatusOK)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := p.Handler()(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE http_server_request_duration_seconds histogram",
		"http_server_request_duration_seconds_count{",
		"http_server_active_requests 0",
		`search_requests_total{resource_type="Patient"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q:\n%s", want, body)
		}
	}
}

func TestResourceTypeFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/fhir/Patient", "Patient"},
		{"/fhir/Patient/123", "Patient"},
		{"/fhir/_page/abc", ""},
		{"/health", ""},
		{"/fhir/", ""},
	}

	for _, tt := range tests {
		if got := resourceTypeFromPath(tt.path); got != tt.want {
			t.Errorf("resourceTypeFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
