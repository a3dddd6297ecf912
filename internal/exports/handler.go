package exports

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/castline/backend/internal/middleware"
	"github.com/castline/backend/internal/organizations"
	"github.com/castline/backend/pkg/response"
)

// Handler handles export endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an exports handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Request handles POST /organizations/:orgId/productions/:productionId/exports.
func (h *Handler) Request(c *gin.Context) {
	exp, err := h.svc.RequestExport(c.Request.Context(), c.Param("orgId"), middleware.UserID(c), c.Param("productionId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Accepted(c, exp)
}

// Get handles GET /organizations/:orgId/exports/:exportId.
func (h *Handler) Get(c *gin.Context) {
	view, err := h.svc.GetExport(c.Request.Context(), c.Param("orgId"), middleware.UserID(c), c.Param("exportId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, view)
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, organizations.ErrNotPermitted):
		response.Forbidden(c, organizations.ErrNotPermitted.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrProductionNotFound):
		response.NotFound(c, err.Error())
	default:
		h.logger.Error("exports request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.RequestID(c)),
			zap.Error(err),
		)
		response.Internal(c, "something went wrong")
	}
}
