package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/castline/backend/internal/exports"
	"github.com/castline/backend/internal/metrics"
	"github.com/castline/backend/internal/models"
	"github.com/castline/backend/internal/store"
	"github.com/castline/backend/pkg/queue"
	"github.com/castline/backend/pkg/storage"
)

// Events published to the organization room when an export settles.
const (
	EventExportCompleted = "export_completed"
	EventExportFailed    = "export_failed"
)

// JobQueue is the part of queue.Queue the worker consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (deadLettered bool, err error)
}

// Uploader stores a rendered export.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
}

// EventPublisher delivers an event to everyone watching an organization.
type EventPublisher interface {
	PublishToOrganization(orgID, event string, payload interface{})
}

// ExportSettled is the payload of export_completed and export_failed.
type ExportSettled struct {
	ExportID     string              `json:"export_id"`
	ProductionID string              `json:"production_id"`
	Status       models.ExportStatus `json:"status"`
}

// ExportProcessor processes export jobs: load submissions, render CSV, upload to S3, update DB.
type ExportProcessor struct {
	store    store.Store
	uploader Uploader
	queue    JobQueue
	events   EventPublisher
	logger   *zap.Logger
	backoff  time.Duration
	now      func() time.Time
}

// NewExportProcessor creates an export processor. events may be nil.
func NewExportProcessor(st store.Store, uploader Uploader, q JobQueue, events EventPublisher, logger *zap.Logger) *ExportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportProcessor{
		store:    st,
		uploader: uploader,
		queue:    q,
		events:   events,
		logger:   logger,
		backoff:  queue.RetryBackoff,
		now:      time.Now,
	}
}

// Process executes one export job. Completed exports are left untouched.
func (p *ExportProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := job.ExportPayload()
	if err != nil {
		return err
	}

	var (
		exp   *models.Export
		roles []models.Role
		subs  []models.Submission
	)
	err = p.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		exp, err = tx.GetExport(ctx, payload.ExportID)
		if err != nil {
			return fmt.Errorf("load export %s: %w", payload.ExportID, err)
		}
		if exp.Status == models.ExportCompleted {
			return nil
		}
		prod, err := tx.GetProduction(ctx, exp.ProductionID)
		if err != nil {
			return fmt.Errorf("load production: %w", err)
		}
		if prod.OrganizationID != exp.OrganizationID {
			return fmt.Errorf("production %s is not in organization %s", prod.ID, exp.OrganizationID)
		}
		if roles, err = tx.ListRoles(ctx, prod.ID); err != nil {
			return err
		}
		subs, err = tx.ListSubmissionsByProduction(ctx, prod.ID)
		return err
	})
	if err != nil {
		return err
	}
	if exp.Status == models.ExportCompleted {
		p.logger.Info("export already completed", zap.String("export_id", exp.ID))
		return nil
	}

	var buf bytes.Buffer
	if err := exports.RenderCSV(&buf, roles, subs); err != nil {
		return fmt.Errorf("render csv: %w", err)
	}
	key := storage.ExportKey(exp.OrganizationID, exp.ID)
	if err := p.uploader.Upload(ctx, key, storage.ContentTypeCSV, &buf); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	completedAt := p.now().UTC()
	err = p.store.InTx(ctx, func(tx store.Tx) error {
		exp.Status = models.ExportCompleted
		exp.ObjectKey = &key
		exp.Error = nil
		exp.CompletedAt = &completedAt
		return tx.UpdateExport(ctx, exp)
	})
	if err != nil {
		p.logger.Error("update export result failed", zap.Error(err), zap.String("export_id", exp.ID))
		return fmt.Errorf("update db: %w", err)
	}

	metrics.ExportJob(metrics.OutcomeOK)
	p.publish(exp, EventExportCompleted)
	p.logger.Info("export completed",
		zap.String("export_id", exp.ID),
		zap.String("s3_key", key),
		zap.Int("rows", len(subs)),
	)
	return nil
}

// handle runs one job and retries it on failure. A dead-lettered job marks its export failed.
func (p *ExportProcessor) handle(ctx context.Context, job *queue.Job) {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	err := p.Process(ctx, job)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))

	deadLettered, reErr := p.queue.Retry(ctx, job)
	if reErr != nil {
		p.logger.Error("retry enqueue failed", zap.Error(reErr))
	}
	if !deadLettered {
		p.sleep(ctx)
		return
	}

	metrics.ExportJob(metrics.OutcomeError)
	payload, perr := job.ExportPayload()
	if perr != nil {
		return
	}
	if markErr := exports.MarkFailed(ctx, p.store, payload.ExportID, err.Error()); markErr != nil {
		p.logger.Error("mark export failed", zap.String("export_id", payload.ExportID), zap.Error(markErr))
		return
	}
	p.publish(&models.Export{ID: payload.ExportID, OrganizationID: payload.OrganizationID, ProductionID: payload.ProductionID}, EventExportFailed)
}

// Run starts concurrency worker loops and blocks until ctx is done.
func (p *ExportProcessor) Run(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	var g errgroup.Group
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			p.loop(ctx)
			return nil
		})
	}
	_ = g.Wait()
	p.logger.Info("export worker stopped")
}

func (p *ExportProcessor) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}
		p.handle(ctx, job)
	}
}

func (p *ExportProcessor) sleep(ctx context.Context) {
	if p.backoff <= 0 {
		return
	}
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *ExportProcessor) publish(exp *models.Export, event string) {
	if p.events == nil {
		return
	}
	status := models.ExportCompleted
	if event == EventExportFailed {
		status = models.ExportFailed
	}
	p.events.PublishToOrganization(exp.OrganizationID, event, ExportSettled{
		ExportID:     exp.ID,
		ProductionID: exp.ProductionID,
		Status:       status,
	})
}
