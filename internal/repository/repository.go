package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"polyarb/internal/models"
)

// Repository persists scan runs and the opportunities they surface.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	InsertScanTx(ctx context.Context, tx *gorm.DB, item *models.ScanRecord) error
	GetScanByScanID(ctx context.Context, scanID string) (*models.ScanRecord, error)
	ListScans(ctx context.Context, params ListScansParams) ([]models.ScanRecord, error)
	CountScans(ctx context.Context, params ListScansParams) (int64, error)
	LatestScan(ctx context.Context) (*models.ScanRecord, error)

	InsertOpportunitiesTx(ctx context.Context, tx *gorm.DB, items []models.OpportunityRecord) error
	ListOpportunities(ctx context.Context, params ListOpportunitiesParams) ([]models.OpportunityRecord, error)
	CountOpportunities(ctx context.Context, params ListOpportunitiesParams) (int64, error)

	DeleteScansBefore(ctx context.Context, before time.Time) (int64, error)
}

type ListScansParams struct {
	Limit    int
	Offset   int
	Since    *time.Time
	Canceled *bool
	OrderBy  string
	Asc      *bool
}

type ListOpportunitiesParams struct {
	Limit    int
	Offset   int
	ScanID   *string
	Strategy *string
	Status   *string
	MinAPY   *float64
	OrderBy  string
	Asc      *bool
}
