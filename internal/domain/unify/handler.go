package unify

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/annotext/annotext/internal/domain/refindex"
	"github.com/annotext/annotext/pkg/codes"
)

// Handler provides the reference lookup and unification REST endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new unify handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers unify routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/icdo3/search", h.Search)
	api.GET("/icdo3/validate", h.Validate)
	api.POST("/icdo3/combine", h.Combine)
	api.GET("/icdo3/topographies", h.Topographies)
	api.GET("/icdo3/morphologies", h.Morphologies)
	api.GET("/icdo3/unified/:note_id", h.GetUnified)
}

func getLimit(c echo.Context) int {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		return 0
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func lookupError(err error) error {
	if errors.Is(err, ErrIndexUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reference table is not loaded")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
}

// Search handles GET /api/v1/icdo3/search?q=...&morphology=...&topography=...
func (h *Handler) Search(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
	}

	filter := refindex.SearchFilter{
		MorphologyPrefix: c.QueryParam("morphology"),
		TopographyPrefix: c.QueryParam("topography"),
	}
	results, err := h.svc.Search(query, filter, getLimit(c))
	if err != nil {
		return lookupError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"query":             query,
		"morphology_filter": filter.MorphologyPrefix,
		"topography_filter": filter.TopographyPrefix,
		"results":           results,
		"total_count":       len(results),
	})
}

// Validate handles GET /api/v1/icdo3/validate?morphology=...&topography=...
func (h *Handler) Validate(c echo.Context) error {
	morphology := c.QueryParam("morphology")
	topography := c.QueryParam("topography")
	if morphology == "" || topography == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameters 'morphology' and 'topography' are required")
	}

	result, err := h.svc.Validate(morphology, topography)
	if err != nil {
		return lookupError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type combineBody struct {
	SessionID string `json:"session_id"`
	QueryCode string `json:"query_code"`
	CombineRequest
}

// Combine handles POST /api/v1/icdo3/combine. The pair may be given as
// separate morphology and topography codes or as a joined query_code;
// session and note identifiers may also arrive as query parameters.
func (h *Handler) Combine(c echo.Context) error {
	var body combineBody
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if v := c.QueryParam("session_id"); v != "" {
		body.SessionID = v
	}
	if v := c.QueryParam("note_id"); v != "" {
		body.NoteID = v
	}
	if body.QueryCode != "" && body.MorphologyCode == "" && body.TopographyCode == "" {
		body.MorphologyCode, body.TopographyCode = codes.Split(body.QueryCode)
		if body.MorphologyCode == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "query_code is not a valid joined code")
		}
	}
	if body.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if body.NoteID == "" || body.MorphologyCode == "" || body.TopographyCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "note_id, morphology_code and topography_code are required")
	}

	unified, err := h.svc.Combine(c.Request().Context(), body.SessionID, body.CombineRequest)
	if errors.Is(err, ErrIndexUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reference table is not loaded")
	}
	if errors.Is(err, ErrCombinationNotFound) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to combine codes")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":      true,
		"unified_code": unified,
		"message":      "unified code stored for note " + unified.NoteID,
	})
}

// Topographies handles GET /api/v1/icdo3/topographies?morphology=...
func (h *Handler) Topographies(c echo.Context) error {
	morphology := c.QueryParam("morphology")
	if morphology == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'morphology' is required")
	}

	options, err := h.svc.Topographies(morphology, getLimit(c))
	if err != nil {
		return lookupError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"morphology":   morphology,
		"topographies": options,
		"count":        len(options),
	})
}

// Morphologies handles GET /api/v1/icdo3/morphologies?topography=...
func (h *Handler) Morphologies(c echo.Context) error {
	topography := c.QueryParam("topography")
	if topography == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'topography' is required")
	}

	options, err := h.svc.Morphologies(topography, getLimit(c))
	if err != nil {
		return lookupError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"topography":   topography,
		"morphologies": options,
		"count":        len(options),
	})
}

// GetUnified handles GET /api/v1/icdo3/unified/:note_id?session_id=...
func (h *Handler) GetUnified(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	noteID := c.Param("note_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'session_id' is required")
	}

	unified, err := h.svc.GetUnified(c.Request().Context(), sessionID, noteID)
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"note_id":      noteID,
			"unified_code": nil,
			"exists":       false,
		})
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load unified code")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"note_id":      noteID,
		"unified_code": unified,
		"exists":       true,
	})
}
