package annotation

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler provides REST endpoints for annotation selection.
type Handler struct {
	svc *Service
}

// NewHandler creates a new annotation handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers annotation routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/icdo3/select", h.SelectCandidate)
	api.GET("/icdo3/annotations/:note_id", h.GetAnnotations)
	api.DELETE("/icdo3/annotations/:note_id", h.DeleteAnnotations)
}

type selectRequest struct {
	SessionID      string `json:"session_id"`
	NoteID         string `json:"note_id"`
	PromptType     string `json:"prompt_type"`
	CandidateIndex int    `json:"candidate_index"`
}

// SelectCandidate handles POST /api/v1/icdo3/select. Parameters may be sent
// as query parameters or as a JSON body; query parameters win.
func (h *Handler) SelectCandidate(c echo.Context) error {
	var req selectRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if v := c.QueryParam("session_id"); v != "" {
		req.SessionID = v
	}
	if v := c.QueryParam("note_id"); v != "" {
		req.NoteID = v
	}
	if v := c.QueryParam("prompt_type"); v != "" {
		req.PromptType = v
	}
	if v := c.QueryParam("candidate_index"); v != "" {
		index, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "candidate_index must be an integer")
		}
		req.CandidateIndex = index
	}
	if req.SessionID == "" || req.NoteID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id and note_id are required")
	}
	// Raw prompt names like "histological-tipo-int" are accepted and mapped
	// onto their annotation slot.
	if req.PromptType != PromptHistology && req.PromptType != PromptSite {
		req.PromptType = ClassifyPrompt(req.PromptType)
	}
	if req.PromptType == PromptUnclassified {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt_type must name a histology or site prompt")
	}

	doc, err := h.svc.SelectCandidate(c.Request().Context(), req.SessionID, req.NoteID, req.PromptType, req.CandidateIndex)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no extraction found for this note and prompt type")
	}
	if errors.Is(err, ErrCandidateIndexOutOfRange) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to select candidate")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"icdo3_code": doc,
		"message":    fmt.Sprintf("candidate %d selected for %s", req.CandidateIndex, req.PromptType),
	})
}

// GetAnnotations handles GET /api/v1/icdo3/annotations/:note_id?session_id=...
func (h *Handler) GetAnnotations(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	noteID := c.Param("note_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'session_id' is required")
	}

	docs, err := h.svc.ForNote(c.Request().Context(), sessionID, noteID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load annotations")
	}
	return c.JSON(http.StatusOK, docs)
}

// DeleteAnnotations handles DELETE /api/v1/icdo3/annotations/:note_id?session_id=...
func (h *Handler) DeleteAnnotations(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	noteID := c.Param("note_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'session_id' is required")
	}

	if err := h.svc.DeleteNote(c.Request().Context(), sessionID, noteID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete annotations")
	}
	return c.NoContent(http.StatusNoContent)
}
