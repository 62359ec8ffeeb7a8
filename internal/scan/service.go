package scan

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"polyarb/internal/models"
	"polyarb/internal/repository"
)

// ErrScanInProgress is returned by Trigger while a scan is running.
var ErrScanInProgress = models.NewScanError(models.ErrScanBusy, "a scan is already running", nil)

// Service wraps the orchestrator with single-flight triggering and
// report persistence. The API and the cron schedule both go through it.
type Service struct {
	Orchestrator *Orchestrator
	Repo         repository.Repository
	Logger       *zap.Logger

	mu      sync.Mutex
	running bool
	last    *models.ScanReport
}

// Trigger runs one scan. Concurrent triggers are refused, not queued:
// the caller retries or reads the last report instead.
func (s *Service) Trigger(ctx context.Context) (*models.ScanReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrScanInProgress
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	report, runErr := s.Orchestrator.Run(ctx)
	if report == nil {
		return nil, runErr
	}

	// Canceled scans still leave a partial report worth keeping.
	if err := s.persist(ctx, report); err != nil {
		s.Logger.Error("failed to persist scan report",
			zap.String("scan_id", report.ScanID), zap.Error(err))
		report.Warnings = append(report.Warnings, "report not persisted: "+err.Error())
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, runErr
}

// LastReport returns the most recent in-memory report, if any.
func (s *Service) LastReport() *models.ScanReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Running reports whether a scan is in flight.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) persist(ctx context.Context, report *models.ScanReport) error {
	if s.Repo == nil {
		return nil
	}
	rec, err := models.NewScanRecord(report)
	if err != nil {
		return err
	}
	opps := make([]models.OpportunityRecord, 0, len(report.Opportunities))
	for i := range report.Opportunities {
		oppRec, err := models.NewOpportunityRecord(report.ScanID, &report.Opportunities[i])
		if err != nil {
			return err
		}
		opps = append(opps, *oppRec)
	}
	// Persistence must survive scan cancellation.
	persistCtx := ctx
	if ctx.Err() != nil {
		persistCtx = context.WithoutCancel(ctx)
	}
	return s.Repo.InTx(persistCtx, func(tx *gorm.DB) error {
		if err := s.Repo.InsertScanTx(persistCtx, tx, rec); err != nil {
			return err
		}
		return s.Repo.InsertOpportunitiesTx(persistCtx, tx, opps)
	})
}
