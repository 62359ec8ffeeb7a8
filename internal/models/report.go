package models

import "time"

// ScanReport is the JSON-serializable output of one scan. Opportunities
// holds accepted entries only; everything else that was considered shows
// up in the rejection summary or warnings.
type ScanReport struct {
	ScanID     string    `json:"scan_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	StrategiesRun     []string `json:"strategies_run"`
	MarketsConsidered int      `json:"markets_considered"`
	LLMCallsUsed      int      `json:"llm_calls_used"`

	Opportunities     []Opportunity  `json:"opportunities"`
	RejectionsSummary map[string]int `json:"rejections_summary"`
	Warnings          []string       `json:"warnings"`

	Canceled bool `json:"canceled,omitempty"`
}

// AddRejection bumps the per-layer rejection counter.
func (r *ScanReport) AddRejection(layer string) {
	if r.RejectionsSummary == nil {
		r.RejectionsSummary = map[string]int{}
	}
	r.RejectionsSummary[layer]++
}
