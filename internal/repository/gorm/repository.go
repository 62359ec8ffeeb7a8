package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"polyarb/internal/models"
	"polyarb/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- scans ------------------------------------------------------------------

func (s *Store) InsertScanTx(ctx context.Context, tx *gorm.DB, item *models.ScanRecord) error {
	if item == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(item).Error
}

func (s *Store) GetScanByScanID(ctx context.Context, scanID string) (*models.ScanRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rec models.ScanRecord
	err := s.db.WithContext(ctx).First(&rec, "scan_id = ?", scanID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListScans(ctx context.Context, params repository.ListScansParams) ([]models.ScanRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.scansQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "started_at")
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.ScanRecord
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountScans(ctx context.Context, params repository.ListScansParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	if err := s.scansQuery(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) scansQuery(ctx context.Context, params repository.ListScansParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.ScanRecord{})
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("started_at >= ?", *params.Since)
	}
	if params.Canceled != nil {
		query = query.Where("canceled = ?", *params.Canceled)
	}
	return query
}

func (s *Store) LatestScan(ctx context.Context) (*models.ScanRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rec models.ScanRecord
	err := s.db.WithContext(ctx).Order("started_at desc").First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// --- opportunities ----------------------------------------------------------

func (s *Store) InsertOpportunitiesTx(ctx context.Context, tx *gorm.DB, items []models.OpportunityRecord) error {
	if len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).CreateInBatches(items, 100).Error
}

func (s *Store) ListOpportunities(ctx context.Context, params repository.ListOpportunitiesParams) ([]models.OpportunityRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.opportunitiesQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.OpportunityRecord
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOpportunities(ctx context.Context, params repository.ListOpportunitiesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	if err := s.opportunitiesQuery(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) opportunitiesQuery(ctx context.Context, params repository.ListOpportunitiesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.OpportunityRecord{})
	if params.ScanID != nil && strings.TrimSpace(*params.ScanID) != "" {
		query = query.Where("scan_id = ?", strings.TrimSpace(*params.ScanID))
	}
	if params.Strategy != nil && strings.TrimSpace(*params.Strategy) != "" {
		query = query.Where("strategy = ?", strings.TrimSpace(*params.Strategy))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.MinAPY != nil {
		query = query.Where("apy >= ?", *params.MinAPY)
	}
	return query
}

// --- retention --------------------------------------------------------------

func (s *Store) DeleteScansBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if before.IsZero() {
		return 0, nil
	}
	var scanIDs []string
	if err := s.db.WithContext(ctx).
		Model(&models.ScanRecord{}).
		Where("started_at < ?", before).
		Pluck("scan_id", &scanIDs).Error; err != nil {
		return 0, err
	}
	if len(scanIDs) == 0 {
		return 0, nil
	}
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scan_id IN ?", scanIDs).Delete(&models.OpportunityRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("scan_id IN ?", scanIDs).Delete(&models.ScanRecord{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

var _ repository.Repository = (*Store)(nil)
