package organizations

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/castline/backend/internal/middleware"
	"github.com/castline/backend/internal/models"
	"github.com/castline/backend/pkg/response"
)

// Handler handles organization and membership HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an organizations handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// OrganizationRequest is the body for POST /organizations and PATCH /organizations/:orgId.
type OrganizationRequest struct {
	Name string `json:"name" binding:"required"`
}

// InviteRequest is the body for POST /organizations/:orgId/members.
type InviteRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required"`
}

// ChangeRoleRequest is the body for PATCH /organizations/:orgId/members/:memberId.
type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// CreateOrganization handles POST /organizations. The caller becomes the owner.
func (h *Handler) CreateOrganization(c *gin.Context) {
	var body OrganizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	org, err := h.svc.CreateOrganization(c.Request.Context(), middleware.UserID(c), body.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, org)
}

// UpdateOrganization handles PATCH /organizations/:orgId.
func (h *Handler) UpdateOrganization(c *gin.Context) {
	var body OrganizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	org, err := h.svc.UpdateOrganization(c.Request.Context(), c.Param("orgId"), middleware.UserID(c), body.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, org)
}

// GetOrganization handles GET /organizations/:orgId.
func (h *Handler) GetOrganization(c *gin.Context) {
	org, err := h.svc.GetOrganization(c.Request.Context(), c.Param("orgId"), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, org)
}

// ListMyOrganizations handles GET /organizations.
func (h *Handler) ListMyOrganizations(c *gin.Context) {
	orgs, err := h.svc.ListMyOrganizations(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if orgs == nil {
		orgs = []models.OrganizationMembership{}
	}
	response.OK(c, orgs)
}

// ListMembers handles GET /organizations/:orgId/members.
func (h *Handler) ListMembers(c *gin.Context) {
	members, err := h.svc.ListMembers(c.Request.Context(), c.Param("orgId"), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, members)
}

// InviteMember handles POST /organizations/:orgId/members.
func (h *Handler) InviteMember(c *gin.Context) {
	var body InviteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "valid email and role required")
		return
	}
	member, err := h.svc.InviteMember(c.Request.Context(), c.Param("orgId"), middleware.UserID(c), body.Email, models.NormalizeOrgRole(body.Role))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, member)
}

// ChangeMemberRole handles PATCH /organizations/:orgId/members/:memberId.
func (h *Handler) ChangeMemberRole(c *gin.Context) {
	var body ChangeRoleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "role required")
		return
	}
	role := models.NormalizeOrgRole(body.Role)
	err := h.svc.ChangeMemberRole(c.Request.Context(), c.Param("orgId"), middleware.UserID(c), c.Param("memberId"), role)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"member_id": c.Param("memberId"), "role": role})
}

// RemoveMember handles DELETE /organizations/:orgId/members/:memberId.
func (h *Handler) RemoveMember(c *gin.Context) {
	if err := h.svc.RemoveMember(c.Request.Context(), c.Param("orgId"), middleware.UserID(c), c.Param("memberId")); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

// TransferOwnership handles POST /organizations/:orgId/members/:memberId/transfer-ownership.
func (h *Handler) TransferOwnership(c *gin.Context) {
	if err := h.svc.TransferOwnership(c.Request.Context(), c.Param("orgId"), middleware.UserID(c), c.Param("memberId")); err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"owner_member_id": c.Param("memberId")})
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotPermitted):
		response.Forbidden(c, "you do not have permission to do that")
	case errors.Is(err, ErrMemberNotFound), errors.Is(err, ErrUserNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrAlreadyMember):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrCannotRemoveSelf), errors.Is(err, ErrAlreadyOwner),
		errors.Is(err, ErrInvalidRole), errors.Is(err, ErrInvalidName):
		response.BadRequest(c, err.Error())
	default:
		h.logger.Error("organizations request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.RequestID(c)),
			zap.Error(err),
		)
		response.Internal(c, "something went wrong")
	}
}
