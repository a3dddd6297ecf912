// Package candidates is the organization-scoped read model over deduplicated candidates.
package candidates

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/castline/backend/internal/middleware"
	"github.com/castline/backend/internal/models"
	"github.com/castline/backend/internal/organizations"
	"github.com/castline/backend/internal/store"
	"github.com/castline/backend/pkg/response"
)

// Service lists candidates for members of an organization.
type Service struct {
	store store.Store
}

// NewService creates a candidates service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// ListCandidates returns orgID's candidates with submission counts, ordered by
// last name then first name. Any member may list.
func (s *Service) ListCandidates(ctx context.Context, orgID, userID string) ([]models.CandidateSummary, error) {
	list := []models.CandidateSummary{}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := organizations.RequireRole(ctx, tx, orgID, userID, models.OrgRoleMember); err != nil {
			return err
		}
		found, err := tx.ListCandidates(ctx, orgID)
		if err != nil {
			return err
		}
		list = append(list, found...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Handler serves GET /organizations/:orgId/candidates.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a candidates handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// List handles GET /organizations/:orgId/candidates.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.ListCandidates(c.Request.Context(), c.Param("orgId"), middleware.UserID(c))
	switch {
	case err == nil:
		response.OK(c, list)
	case errors.Is(err, organizations.ErrNotPermitted):
		response.Forbidden(c, err.Error())
	default:
		h.logger.Error("list candidates failed", zap.String("organization_id", c.Param("orgId")), zap.Error(err))
		response.Internal(c, "failed to list candidates")
	}
}
