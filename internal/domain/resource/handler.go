package resource

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinsearch/clinsearch/internal/platform/search"
)

// Handler exposes the search service over HTTP.
type Handler struct {
	svc           *Service
	defaultTenant string
	log           zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, defaultTenant string, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, defaultTenant: defaultTenant, log: log}
}

// RegisterRoutes mounts the search endpoints on the FHIR group.
func (h *Handler) RegisterRoutes(fhir *echo.Group) {
	fhir.GET("/_page/:token", h.Page)
	fhir.DELETE("/_page/:token", h.Release)
	fhir.GET("/:resourceType", h.Search)
}

// Search handles GET /fhir/:resourceType.
func (h *Handler) Search(c echo.Context) error {
	resourceType := c.Param("resourceType")
	baseURL := h.baseURL(c)

	selfURL := baseURL + "/" + resourceType
	if raw := c.Request().URL.RawQuery; raw != "" {
		selfURL += "?" + raw
	}

	bundle, err := h.svc.Search(c.Request().Context(), SearchInput{
		ResourceType: resourceType,
		Params:       c.QueryParams(),
		Tenant:       h.tenant(c),
		BaseURL:      baseURL,
		SelfURL:      selfURL,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}

// Page handles GET /fhir/_page/:token.
func (h *Handler) Page(c echo.Context) error {
	bundle, err := h.svc.NextPage(c.Request().Context(), c.Param("token"), h.tenant(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}

// Release handles DELETE /fhir/_page/:token: the client is done with
// the window before its TTL.
func (h *Handler) Release(c echo.Context) error {
	h.svc.Release(c.Param("token"))
	return c.NoContent(http.StatusNoContent)
}

// tenant returns the tenant resolved by the auth middleware, falling
// back to the configured default.
func (h *Handler) tenant(c echo.Context) string {
	if tenant, ok := c.Get("tenant_id").(string); ok && tenant != "" {
		return tenant
	}
	return h.defaultTenant
}

func (h *Handler) baseURL(c echo.Context) string {
	return c.Scheme() + "://" + c.Request().Host + "/fhir"
}

// writeError maps service errors to FHIR OperationOutcome responses:
// validation failures are 400, stale pagination tokens 410, backend
// outages 503, anything else 500.
func (h *Handler) writeError(c echo.Context, err error) error {
	var ve *search.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, NewOutcome("error", ve.Code, ve.Error()))
	case errors.Is(err, search.ErrStaleToken):
		return c.JSON(http.StatusGone,
			NewOutcome("error", "expired", "pagination token is unknown or expired; restart the search"))
	case errors.Is(err, search.ErrBackendUnavailable):
		return c.JSON(http.StatusServiceUnavailable,
			NewOutcome("error", "transient", "search backend unavailable; retry later"))
	default:
		h.log.Error().Err(err).Msg("unhandled search error")
		return c.JSON(http.StatusInternalServerError,
			NewOutcome("error", "exception", "internal server error"))
	}
}
