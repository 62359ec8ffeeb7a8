package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ScanRecord is the persisted form of one scan run.
type ScanRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	ScanID    string `gorm:"size:64;uniqueIndex;not null"`
	StartedAt time.Time
	Duration  int64 `gorm:"comment:milliseconds"`

	MarketsConsidered int
	LLMCallsUsed      int
	AcceptedCount     int
	Canceled          bool

	StrategiesRun     datatypes.JSON
	RejectionsSummary datatypes.JSON
	Warnings          datatypes.JSON

	CreatedAt time.Time
}

func (ScanRecord) TableName() string { return "scans" }

// OpportunityRecord is the persisted form of one validated opportunity.
type OpportunityRecord struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	OpportunityID string `gorm:"size:64;index"`
	ScanID        string `gorm:"size:64;index;not null"`
	Strategy      string `gorm:"size:32;index;not null"`
	Status        string `gorm:"size:16;index;not null"`

	Cost            string `gorm:"size:32"`
	EffectiveProfit string `gorm:"size:32"`
	ProfitPct       string `gorm:"size:32"`
	SlippageCost    string `gorm:"size:32"`

	APY              float64
	APYRating        string `gorm:"size:16"`
	OracleAlignment  string `gorm:"size:16"`
	DaysToResolution float64

	Legs            datatypes.JSON
	ValidationTrail datatypes.JSON
	Checklist       datatypes.JSON
	Analysis        datatypes.JSON
	Warnings        datatypes.JSON

	DiscoveredAt   time.Time
	PlanSnapshotAt time.Time
	CreatedAt      time.Time
}

func (OpportunityRecord) TableName() string { return "opportunities" }

// NewScanRecord flattens a report for storage.
func NewScanRecord(report *ScanReport) (*ScanRecord, error) {
	strategies, err := json.Marshal(report.StrategiesRun)
	if err != nil {
		return nil, err
	}
	rejections, err := json.Marshal(report.RejectionsSummary)
	if err != nil {
		return nil, err
	}
	warnings, err := json.Marshal(report.Warnings)
	if err != nil {
		return nil, err
	}
	return &ScanRecord{
		ScanID:            report.ScanID,
		StartedAt:         report.StartedAt,
		Duration:          report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
		MarketsConsidered: report.MarketsConsidered,
		LLMCallsUsed:      report.LLMCallsUsed,
		AcceptedCount:     len(report.Opportunities),
		Canceled:          report.Canceled,
		StrategiesRun:     datatypes.JSON(strategies),
		RejectionsSummary: datatypes.JSON(rejections),
		Warnings:          datatypes.JSON(warnings),
	}, nil
}

// NewOpportunityRecord flattens an opportunity for storage under a scan.
func NewOpportunityRecord(scanID string, opp *Opportunity) (*OpportunityRecord, error) {
	legs, err := json.Marshal(opp.Legs)
	if err != nil {
		return nil, err
	}
	trail, err := json.Marshal(opp.ValidationTrail)
	if err != nil {
		return nil, err
	}
	checklist, err := json.Marshal(opp.Checklist)
	if err != nil {
		return nil, err
	}
	warnings, err := json.Marshal(opp.Warnings)
	if err != nil {
		return nil, err
	}
	rec := &OpportunityRecord{
		OpportunityID:    opp.ID,
		ScanID:           scanID,
		Strategy:         string(opp.Strategy),
		Status:           string(opp.Status),
		Cost:             opp.Cost.String(),
		EffectiveProfit:  opp.EffectiveProfit.String(),
		ProfitPct:        opp.ProfitPct.String(),
		SlippageCost:     opp.SlippageCost.String(),
		APY:              opp.APY,
		APYRating:        string(opp.APYRating),
		OracleAlignment:  string(opp.OracleAlignment),
		DaysToResolution: opp.DaysToResolution,
		Legs:             datatypes.JSON(legs),
		ValidationTrail:  datatypes.JSON(trail),
		Checklist:        datatypes.JSON(checklist),
		Warnings:         datatypes.JSON(warnings),
		DiscoveredAt:     opp.DiscoveredAt,
		PlanSnapshotAt:   opp.PlanSnapshotAt,
	}
	if opp.Analysis != nil {
		analysis, err := json.Marshal(opp.Analysis)
		if err != nil {
			return nil, err
		}
		rec.Analysis = datatypes.JSON(analysis)
	}
	return rec, nil
}
