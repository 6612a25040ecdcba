package resource

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(engine *fakeEngine, filter *fakeFilter, docs *fakeDocs) *Handler {
	return NewHandler(newTestService(engine, filter, docs), "default", testLog)
}

func searchRequest(t *testing.T, h *Handler, target, tenant string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if tenant != "" {
		c.Set("tenant_id", tenant)
	}

	resourceType := strings.TrimPrefix(strings.SplitN(target, "?", 2)[0], "/fhir/")
	c.SetParamNames("resourceType")
	c.SetParamValues(resourceType)

	if err := h.Search(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return rec
}

func decodeOutcome(t *testing.T, rec *httptest.ResponseRecorder) *OperationOutcome {
	t.Helper()
	var outcome OperationOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("response is not an OperationOutcome: %v", err)
	}
	return &outcome
}

func TestHandler_SearchOK(t *testing.T) {
	engine := &fakeEngine{keys: map[string][]string{"Patient": patientKeys(3)}}
	h := newTestHandler(engine, &fakeFilter{}, &fakeDocs{})

	rec := searchRequest(t, h, "/fhir/Patient?gender=female", "acme")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var bundle Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("response is not a bundle: %v", err)
	}
	if bundle.ResourceType != "Bundle" || bundle.Type != "searchset" {
		t.Errorf("unexpected bundle header: %s/%s", bundle.ResourceType, bundle.Type)
	}
	if len(bundle.Entry) != 3 {
		t.Errorf("expected 3 entries, got %d", len(bundle.Entry))
	}
	if len(bundle.Link) == 0 || !strings.Contains(bundle.Link[0].URL, "gender=female") {
		t.Errorf("self link must echo the query: %+v", bundle.Link)
	}
}

func TestHandler_SearchValidationError(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, &fakeFilter{}, &fakeDocs{})

	rec := searchRequest(t, h, "/fhir/Patient?favorite-color=blue", "acme")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	outcome := decodeOutcome(t, rec)
	if len(outcome.Issue) != 1 || outcome.Issue[0].Code != "unknown-parameter" {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
}

func TestHandler_SearchBackendDown(t *testing.T) {
	h := newTestHandler(&fakeEngine{err: errors.New("cluster down")}, &fakeFilter{}, &fakeDocs{})

	rec := searchRequest(t, h, "/fhir/Patient?gender=female", "acme")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if outcome := decodeOutcome(t, rec); outcome.Issue[0].Code != "transient" {
		t.Errorf("unexpected outcome code: %s", outcome.Issue[0].Code)
	}
}

func TestHandler_SearchDefaultTenant(t *testing.T) {
	engine := &fakeEngine{keys: map[string][]string{"Patient": patientKeys(1)}}
	h := newTestHandler(engine, &fakeFilter{}, &fakeDocs{})

	// No tenant on the context: the handler falls back to the default.
	rec := searchRequest(t, h, "/fhir/Patient?gender=female", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_PageStaleToken(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, &fakeFilter{}, &fakeDocs{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/fhir/_page/bogus", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("tenant_id", "acme")
	c.SetParamNames("token")
	c.SetParamValues("bogus")

	if err := h.Page(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", rec.Code)
	}
	if outcome := decodeOutcome(t, rec); outcome.Issue[0].Code != "expired" {
		t.Errorf("unexpected outcome code: %s", outcome.Issue[0].Code)
	}
}

func TestHandler_PageWalkOverHTTP(t *testing.T) {
	engine := &fakeEngine{keys: map[string][]string{"Patient": patientKeys(8)}}
	h := newTestHandler(engine, &fakeFilter{}, &fakeDocs{})

	rec := searchRequest(t, h, "/fhir/Patient?gender=female", "acme")
	var first Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode first page: %v", err)
	}

	var next string
	for _, link := range first.Link {
		if link.Relation == "next" {
			next = link.URL
		}
	}
	if next == "" {
		t.Fatal("expected a next link on the first page")
	}
	token := next[strings.LastIndex(next, "/")+1:]

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, next, nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("tenant_id", "acme")
	c.SetParamNames("token")
	c.SetParamValues(token)

	if err := h.Page(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var second Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode second page: %v", err)
	}
	if len(second.Entry) != 3 {
		t.Errorf("expected 3 entries on the final page, got %d", len(second.Entry))
	}
}

func TestHandler_PageForeignTenant(t *testing.T) {
	engine := &fakeEngine{keys: map[string][]string{"Patient": patientKeys(8)}}
	h := newTestHandler(engine, &fakeFilter{}, &fakeDocs{})

	rec := searchRequest(t, h, "/fhir/Patient?gender=female", "acme")
	var bundle Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("decode: %v", err)
	}
	token := tokenFromNext(t, &bundle)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/fhir/_page/"+token, nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("tenant_id", "other")
	c.SetParamNames("token")
	c.SetParamValues(token)

	if err := h.Page(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusGone {
		t.Fatalf("another tenant's token must read as stale, got %d", rec.Code)
	}
}

func TestHandler_Release(t *testing.T) {
	engine := &fakeEngine{keys: map[string][]string{"Patient": patientKeys(8)}}
	h := newTestHandler(engine, &fakeFilter{}, &fakeDocs{})

	rec := searchRequest(t, h, "/fhir/Patient?gender=female", "acme")
	var bundle Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("decode: %v", err)
	}
	token := tokenFromNext(t, &bundle)

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/fhir/_page/"+token, nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("token")
	c.SetParamValues(token)

	if err := h.Release(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	// The released token is gone.
	req = httptest.NewRequest(http.MethodGet, "/fhir/_page/"+token, nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.Set("tenant_id", "acme")
	c.SetParamNames("token")
	c.SetParamValues(token)
	if err := h.Page(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410 after release, got %d", rec.Code)
	}
}
