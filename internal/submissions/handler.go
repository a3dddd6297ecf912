package submissions

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/castline/backend/internal/middleware"
	"github.com/castline/backend/pkg/response"
)

// SubmitRequest is the body for POST /public/submit/:orgId/:productionId/:roleId.
type SubmitRequest struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone"`
}

// Handler serves the unauthenticated submission endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a submissions handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Submit handles POST /public/submit/:orgId/:productionId/:roleId.
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	subID, err := h.svc.Submit(c.Request.Context(), Application{
		OrganizationID: c.Param("orgId"),
		ProductionID:   c.Param("productionId"),
		RoleID:         c.Param("roleId"),
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		Phone:          req.Phone,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, gin.H{"id": subID})
}

// GetRole handles GET /public/submit/:orgId/:productionId/:roleId.
func (h *Handler) GetRole(c *gin.Context) {
	role, err := h.svc.GetPublicRole(c.Request.Context(), c.Param("orgId"), c.Param("productionId"), c.Param("roleId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, role)
}

// GetOrganization handles GET /public/organizations/:orgId.
func (h *Handler) GetOrganization(c *gin.Context) {
	org, err := h.svc.GetPublicOrganization(c.Request.Context(), c.Param("orgId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, org)
}

// ListProductions handles GET /public/organizations/:orgId/productions.
func (h *Handler) ListProductions(c *gin.Context) {
	list, err := h.svc.ListPublicProductions(c.Request.Context(), c.Param("orgId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, list)
}

// GetProduction handles GET /public/organizations/:orgId/productions/:productionId.
func (h *Handler) GetProduction(c *gin.Context) {
	p, err := h.svc.GetPublicProduction(c.Request.Context(), c.Param("orgId"), c.Param("productionId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, p)
}

func (h *Handler) fail(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		response.Invalid(c, ErrInvalidApplication.Error(), verr.Fields)
	case errors.Is(err, ErrInvalidApplication):
		response.BadRequest(c, ErrInvalidApplication.Error())
	case errors.Is(err, ErrRoleNotAvailable):
		response.NotFound(c, ErrRoleNotAvailable.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "not found")
	case errors.Is(err, ErrConflict):
		response.Conflict(c, ErrConflict.Error())
	default:
		h.logger.Error("public request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.RequestID(c)),
			zap.Error(err),
		)
		response.Internal(c, "something went wrong")
	}
}
