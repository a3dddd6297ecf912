// Package exports requests and reports asynchronous CSV exports of a production's submissions.
package exports

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/castline/backend/internal/metrics"
	"github.com/castline/backend/internal/models"
	"github.com/castline/backend/internal/organizations"
	"github.com/castline/backend/internal/store"
	"github.com/castline/backend/pkg/id"
	"github.com/castline/backend/pkg/queue"
)

var (
	ErrNotFound           = errors.New("export not found")
	ErrProductionNotFound = errors.New("production not found")
)

// Enqueuer hands an export to the background worker.
type Enqueuer interface {
	EnqueueExport(ctx context.Context, payload queue.ExportPayload) error
}

// Presigner signs a temporary download link for a stored export.
type Presigner interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// View is an export as returned to a client. DownloadURL is set once completed.
type View struct {
	models.Export
	DownloadURL string `json:"download_url,omitempty"`
}

// Service creates export records and reads them back. Only owners and admins may use it.
type Service struct {
	store    store.Store
	enqueuer Enqueuer
	presign  Presigner
	logger   *zap.Logger
}

// NewService creates an exports service.
func NewService(st store.Store, enqueuer Enqueuer, presign Presigner, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, enqueuer: enqueuer, presign: presign, logger: logger}
}

// RequestExport records a pending export of productionID and enqueues it. If
// the enqueue fails the export is marked failed and the error returned.
func (s *Service) RequestExport(ctx context.Context, orgID, userID, productionID string) (*models.Export, error) {
	exp := &models.Export{
		ID:             id.New(id.PrefixExport),
		OrganizationID: orgID,
		ProductionID:   productionID,
		RequestedBy:    userID,
		Status:         models.ExportPending,
	}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := organizations.RequireRole(ctx, tx, orgID, userID, models.OrgRoleAdmin); err != nil {
			return err
		}
		p, err := tx.GetProduction(ctx, productionID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && p.OrganizationID != orgID) {
			return ErrProductionNotFound
		}
		if err != nil {
			return fmt.Errorf("load production: %w", err)
		}
		if err := tx.CreateExport(ctx, exp); err != nil {
			return fmt.Errorf("create export: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload := queue.ExportPayload{ExportID: exp.ID, OrganizationID: orgID, ProductionID: productionID}
	if err := s.enqueuer.EnqueueExport(ctx, payload); err != nil {
		s.logger.Error("enqueue export failed", zap.String("export_id", exp.ID), zap.Error(err))
		metrics.ExportJob(metrics.OutcomeError)
		if markErr := MarkFailed(ctx, s.store, exp.ID, "could not be queued"); markErr != nil {
			s.logger.Error("mark export failed", zap.String("export_id", exp.ID), zap.Error(markErr))
		}
		return nil, fmt.Errorf("enqueue export: %w", err)
	}
	s.logger.Info("export requested",
		zap.String("export_id", exp.ID),
		zap.String("organization_id", orgID),
		zap.String("production_id", productionID),
	)
	return exp, nil
}

// GetExport returns an export of orgID, with a presigned link when it is completed.
func (s *Service) GetExport(ctx context.Context, orgID, userID, exportID string) (*View, error) {
	var exp *models.Export
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := organizations.RequireRole(ctx, tx, orgID, userID, models.OrgRoleAdmin); err != nil {
			return err
		}
		var err error
		exp, err = tx.GetExport(ctx, exportID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && exp.OrganizationID != orgID) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	view := &View{Export: *exp}
	if exp.Status == models.ExportCompleted && exp.ObjectKey != nil {
		url, err := s.presign.PresignDownload(ctx, *exp.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("presign export: %w", err)
		}
		view.DownloadURL = url
	}
	return view, nil
}

// MarkFailed sets an export to failed with reason, unless it already completed.
func MarkFailed(ctx context.Context, st store.Store, exportID, reason string) error {
	return st.InTx(ctx, func(tx store.Tx) error {
		exp, err := tx.GetExport(ctx, exportID)
		if err != nil {
			return err
		}
		if exp.Status == models.ExportCompleted {
			return nil
		}
		exp.Status = models.ExportFailed
		exp.Error = &reason
		return tx.UpdateExport(ctx, exp)
	})
}
