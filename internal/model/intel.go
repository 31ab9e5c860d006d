package model

import (
	"encoding/json"
	"time"
)

// EnrichmentCategory identifies an external intelligence source category.
type EnrichmentCategory string

const (
	CategoryFinancial     EnrichmentCategory = "financial"
	CategoryProfessional  EnrichmentCategory = "professional"
	CategorySocial        EnrichmentCategory = "social"
	CategoryLocalBusiness EnrichmentCategory = "local_business"
	CategoryNews          EnrichmentCategory = "news"
)

// AllCategories returns every enrichment category.
func AllCategories() []EnrichmentCategory {
	return []EnrichmentCategory{
		CategoryProfessional,
		CategoryFinancial,
		CategorySocial,
		CategoryLocalBusiness,
		CategoryNews,
	}
}

// CompanyClassification is the public/private verdict of the pre-check.
type CompanyClassification string

const (
	ClassificationPublic  CompanyClassification = "public"
	ClassificationPrivate CompanyClassification = "private"
	ClassificationUnknown CompanyClassification = "unknown"
)

// EnrichmentRecord is one source's contribution for a session.
type EnrichmentRecord struct {
	SessionID string             `json:"sessionId"`
	Category  EnrichmentCategory `json:"category"`
	Present   bool               `json:"present"`
	Skipped   bool               `json:"skipped,omitempty"`
	Payload   json.RawMessage    `json:"payload,omitempty"`
	Error     string             `json:"error,omitempty"`
	FetchedAt time.Time          `json:"fetchedAt"`
}

// IntelligenceSummary is the per-session rollup of an enrichment pass.
type IntelligenceSummary struct {
	SessionID      string                `json:"sessionId"`
	Completeness   float64               `json:"completeness"`
	DurationMs     int64                 `json:"durationMs"`
	Classification CompanyClassification `json:"classification"`
	Populated      []EnrichmentCategory  `json:"populated"`
	Failed         []EnrichmentCategory  `json:"failed,omitempty"`
	LastUpdated    time.Time             `json:"lastUpdated"`
}

// ExternalIntelligence is the complete result of one enrichment pass.
type ExternalIntelligence struct {
	Summary IntelligenceSummary                     `json:"summary"`
	Records map[EnrichmentCategory]EnrichmentRecord `json:"records"`
}
