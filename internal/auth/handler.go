package auth

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/castline/backend/internal/middleware"
	"github.com/castline/backend/internal/models"
	"github.com/castline/backend/pkg/response"
	"github.com/castline/backend/pkg/utils"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required,max=100"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// ActiveOrganizationRequest is the body for PUT /me/active-organization.
type ActiveOrganizationRequest struct {
	OrganizationID string `json:"organization_id" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// MeResponse describes the caller and the organizations they belong to.
type MeResponse struct {
	User          models.UserPublic               `json:"user"`
	Identity      *Identity                       `json:"identity"`
	Organizations []models.OrganizationMembership `json:"organizations"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo     *Repository
	jwt      *JWTService
	resolver *Resolver
	members  Memberships
	logger   *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo *Repository, jwt *JWTService, resolver *Resolver, members Memberships, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jwt: jwt, resolver: resolver, members: members, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if len(req.Password) > utils.MaxPasswordBytes {
		response.BadRequest(c, fmt.Sprintf("password must be at most %d bytes", utils.MaxPasswordBytes))
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hash password", zap.Error(err))
		response.Internal(c, "failed to hash password")
		return
	}
	user, err := h.repo.Create(c.Request.Context(), req.Email, hash, req.Name)
	if errors.Is(err, ErrEmailTaken) {
		response.Conflict(c, ErrEmailTaken.Error())
		return
	}
	if err != nil {
		h.logger.Error("create user", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	h.logger.Info("user registered", zap.String("user_id", user.ID))
	response.Created(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			h.logger.Error("load user", zap.Error(err))
		}
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// Me handles GET /me.
func (h *Handler) Me(c *gin.Context) {
	ctx := c.Request.Context()
	user, err := h.repo.GetByID(ctx, middleware.UserID(c))
	if errors.Is(err, ErrUserNotFound) {
		response.Unauthorized(c, "account no longer exists")
		return
	}
	if err != nil {
		h.logger.Error("load user", zap.Error(err))
		response.Internal(c, "something went wrong")
		return
	}
	ident, err := h.resolver.Resolve(c)
	if err != nil {
		h.logger.Error("resolve identity", zap.Error(err))
		response.Internal(c, "something went wrong")
		return
	}
	orgs, err := h.members.ListMyOrganizations(ctx, user.ID)
	if err != nil {
		h.logger.Error("list organizations", zap.Error(err))
		response.Internal(c, "something went wrong")
		return
	}
	if orgs == nil {
		orgs = []models.OrganizationMembership{}
	}
	response.OK(c, MeResponse{User: user.ToPublic(), Identity: ident, Organizations: orgs})
}

// SetActiveOrganization handles PUT /me/active-organization.
func (h *Handler) SetActiveOrganization(c *gin.Context) {
	var req ActiveOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "organization_id required")
		return
	}
	userID := middleware.UserID(c)
	err := h.resolver.SetActiveOrganization(c.Request.Context(), userID, req.OrganizationID)
	if errors.Is(err, ErrNotMember) {
		response.Forbidden(c, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("set active organization", zap.Error(err))
		response.Internal(c, "something went wrong")
		return
	}
	response.OK(c, Identity{UserID: userID, ActiveOrganizationID: req.OrganizationID})
}
