package access

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/uhi/gateway/internal/platform/auth"
)

type Handler struct {
	gate *Gate
}

func NewHandler(gate *Gate) *Handler {
	return &Handler{gate: gate}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/access/request", h.RequestAccess)
}

// RequestAccess runs one gated access. The requester identity and roles come
// from the authenticated context, never from the request body.
func (h *Handler) RequestAccess(c echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	req.Requester = auth.UserIDFromContext(ctx)
	req.RequesterRoles = auth.RolesFromContext(ctx)
	if req.ResourceType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_type is required")
	}

	res, err := h.gate.Request(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingJustification):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrAuditUnavailable):
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	status := http.StatusOK
	if !res.Decision.Allowed() {
		status = http.StatusForbidden
	}
	return c.JSON(status, res)
}
