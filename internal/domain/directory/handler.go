package directory

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/uhi/gateway/internal/platform/auth"
	"github.com/uhi/gateway/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/participants", h.Register, auth.RequireRole("admin"))
	api.GET("/participants", h.List)
	api.GET("/participants/:id", h.Get)
	api.POST("/participants/:id/verify", h.Verify, auth.RequireRole("admin"))
	api.POST("/participants/:id/suspend", h.Suspend, auth.RequireRole("admin"))
}

type registerRequest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	CallbackURL  string   `json:"callback_url"`
	Secret       string   `json:"secret"`
	Capabilities []string `json:"capabilities"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Register(c.Request().Context(), &Participant{
		ID:           req.ID,
		Name:         req.Name,
		CallbackURL:  req.CallbackURL,
		Secret:       req.Secret,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidParticipant) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "participant not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Verify(c echo.Context) error {
	return h.setTrust(c, TrustVerified)
}

func (h *Handler) Suspend(c echo.Context) error {
	return h.setTrust(c, TrustSuspended)
}

func (h *Handler) setTrust(c echo.Context, status string) error {
	if err := h.svc.UpdateTrustStatus(c.Request().Context(), c.Param("id"), status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "participant not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"trust_status": status})
}
