package model

import "time"

// StepStatus is the outcome of a single pipeline step.
type StepStatus string

const (
	StepStatusComplete StepStatus = "complete"
	StepStatusFailed   StepStatus = "failed"
)

// StepResult records timing and row counts for one pipeline step.
type StepResult struct {
	Name     string     `json:"name"`
	Status   StepStatus `json:"status"`
	Rows     int        `json:"rows"`
	Duration int64      `json:"duration_ms"`
	Error    string     `json:"error,omitempty"`
}

// Run summarizes a completed pipeline execution for persistence.
type Run struct {
	ID            string `json:"id"`
	Keyword       string `json:"keyword"`
	JoinPolicy    string `json:"join_policy"`
	SourceCRS     string `json:"source_crs"`
	TargetCRS     string `json:"target_crs"`
	Businesses    int    `json:"businesses"`
	Pharmacies    int    `json:"pharmacies"`
	Matched       int    `json:"matched"`
	Sections      int    `json:"sections"`
	CensusMatched int    `json:"census_matched"`
	// Correlations holds the Pearson r of pharmacy density against each
	// census density; undefined values are omitted.
	Correlations map[string]float64 `json:"correlations,omitempty"`
	Steps        []StepResult       `json:"steps"`
	CreatedAt    time.Time          `json:"created_at"`
}
