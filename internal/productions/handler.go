package productions

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/castline/backend/internal/middleware"
	"github.com/castline/backend/internal/organizations"
	"github.com/castline/backend/pkg/response"
)

// CreateRequest is the body for POST /organizations/:orgId/productions.
type CreateRequest struct {
	Name        string      `json:"name" binding:"required"`
	Description *string     `json:"description"`
	Roles       []RoleInput `json:"roles" binding:"dive"`
}

// RoleRequest is the body for POST /organizations/:orgId/productions/:productionId/roles.
type RoleRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
}

// Handler handles production endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a productions handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Create handles POST /organizations/:orgId/productions.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.svc.CreateProduction(c.Request.Context(), c.Param("orgId"), middleware.UserID(c), req.Name, req.Description, req.Roles)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, p)
}

// CreateRole handles POST /organizations/:orgId/productions/:productionId/roles.
func (h *Handler) CreateRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	role, err := h.svc.CreateRole(c.Request.Context(), c.Param("orgId"), middleware.UserID(c), c.Param("productionId"), req.Name, req.Description)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, role)
}

// List handles GET /organizations/:orgId/productions.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.ListProductions(c.Request.Context(), c.Param("orgId"), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, list)
}

// Get handles GET /organizations/:orgId/productions/:productionId.
func (h *Handler) Get(c *gin.Context) {
	p, err := h.svc.GetProduction(c.Request.Context(), c.Param("orgId"), middleware.UserID(c), c.Param("productionId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, p)
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, organizations.ErrNotPermitted):
		response.Forbidden(c, organizations.ErrNotPermitted.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, ErrNotFound.Error())
	case errors.Is(err, ErrInvalidInput):
		response.BadRequest(c, err.Error())
	default:
		h.logger.Error("productions request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.RequestID(c)),
			zap.Error(err),
		)
		response.Internal(c, "something went wrong")
	}
}
