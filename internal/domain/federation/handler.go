package federation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/uhi/gateway/internal/domain/directory"
)

type Handler struct {
	engine *Engine
	dir    *directory.Service
}

func NewHandler(engine *Engine, dir *directory.Service) *Handler {
	return &Handler{engine: engine, dir: dir}
}

// RegisterRoutes wires the caller-facing search API onto the api group and
// the participant callback intake onto the gateway group.
func (h *Handler) RegisterRoutes(api, gateway *echo.Group) {
	api.POST("/search", h.Search)
	api.GET("/search/:id", h.GetResults)
	api.POST("/search/:id/cancel", h.Cancel)
	gateway.POST("/on_search", h.OnSearch)
}

type searchRequest struct {
	Capability string            `json:"capability"`
	Parameters map[string]string `json:"parameters,omitempty"`
	DeadlineMs int               `json:"deadline_ms,omitempty"`
}

func (h *Handler) Search(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Capability == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "capability is required")
	}

	txnID, err := h.engine.Search(c.Request().Context(),
		Criteria{Capability: req.Capability, Parameters: req.Parameters},
		time.Duration(req.DeadlineMs)*time.Millisecond)
	if err != nil {
		if errors.Is(err, ErrNoParticipants) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"transaction_id": txnID})
}

func (h *Handler) GetResults(c echo.Context) error {
	res, err := h.engine.GetResults(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrUnknownTransaction) {
			return echo.NewHTTPError(http.StatusNotFound, "transaction not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Cancel(c echo.Context) error {
	res, err := h.engine.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownTransaction):
			return echo.NewHTTPError(http.StatusNotFound, "transaction not found")
		case errors.Is(err, ErrTransactionClosed):
			return echo.NewHTTPError(http.StatusConflict, "transaction already finished")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, res)
}

type callbackRequest struct {
	TransactionID string          `json:"transaction_id"`
	ParticipantID string          `json:"participant_id"`
	Update        bool            `json:"update,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// OnSearch is the participant callback intake. The body must be signed with
// the claimed participant's shared secret; a missing or bad signature is
// treated as stray. Stray callbacks are handled internally; participants
// always receive 202 unless the request is malformed, so the network never
// learns transaction state from this endpoint.
func (h *Handler) OnSearch(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}
	var req callbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TransactionID == "" || req.ParticipantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "transaction_id and participant_id are required")
	}

	if !h.verifyCallback(c, req.ParticipantID, body) {
		h.engine.RejectCallback(req.TransactionID, req.ParticipantID)
		return c.NoContent(http.StatusAccepted)
	}

	h.engine.HandleCallback(c.Request().Context(), req.TransactionID, req.ParticipantID, req.Payload, req.Update)
	return c.NoContent(http.StatusAccepted)
}

// verifyCallback checks the signature header against the raw body under the
// claimed participant's secret. An unknown participant fails closed.
func (h *Handler) verifyCallback(c echo.Context, participantID string, body []byte) bool {
	sig := strings.TrimPrefix(c.Request().Header.Get(HeaderSignature), signaturePrefix)
	if sig == "" {
		return false
	}
	p, err := h.dir.Get(c.Request().Context(), participantID)
	if err != nil {
		return false
	}
	return VerifySignature(body, p.Secret, sig)
}
