package extract

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/annotext/annotext/internal/domain/annotation"
)

// Handler provides the REST endpoint that runs extraction and records the
// result as an annotation.
type Handler struct {
	extractor *Extractor
	annots    *annotation.Service
}

// NewHandler creates a new extraction handler.
func NewHandler(extractor *Extractor, annots *annotation.Service) *Handler {
	return &Handler{extractor: extractor, annots: annots}
}

// RegisterRoutes registers extraction routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/annotations/extract", h.Extract)
}

type extractRequest struct {
	SessionID  string `json:"session_id"`
	NoteID     string `json:"note_id"`
	Prompt     string `json:"prompt"`
	PromptType string `json:"prompt_type"`
	Text       string `json:"text"`
	NoteText   string `json:"note_text"`
}

// Extract handles POST /api/v1/annotations/extract. The prompt type may be
// given explicitly or classified from the free-text prompt; unclassified
// prompts are rejected since there is no slot to store the result under.
// Identifiers may arrive as query parameters or in the JSON body; query
// parameters win.
func (h *Handler) Extract(c echo.Context) error {
	var req extractRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
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
	if req.SessionID == "" || req.NoteID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id and note_id are required")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	promptType := req.PromptType
	if promptType == "" {
		promptType = annotation.ClassifyPrompt(req.Prompt)
	}
	if promptType != annotation.PromptHistology && promptType != annotation.PromptSite {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt could not be classified as histology or site")
	}

	doc, err := h.extractor.Extract(c.Request().Context(), req.NoteID, promptType, req.Text, req.NoteText)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "extraction failed")
	}

	if err := h.annots.RecordExtraction(c.Request().Context(), req.SessionID, doc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store extraction")
	}
	return c.JSON(http.StatusOK, doc)
}
