package model

import (
	"maps"
	"slices"
	"time"
)

// ExtractedData holds contact and business facts pulled from pages, grouped
// by category. Each category is deduplicated within itself.
type ExtractedData struct {
	Emails      []string `json:"emails,omitempty"`
	Phones      []string `json:"phones,omitempty"`
	SocialLinks []string `json:"socialLinks,omitempty"`
	People      []string `json:"people,omitempty"`
	Products    []string `json:"products,omitempty"`
	Services    []string `json:"services,omitempty"`
}

// Categories returns the category slices keyed by category name.
func (e ExtractedData) Categories() map[string][]string {
	return map[string][]string{
		"emails":      e.Emails,
		"phones":      e.Phones,
		"socialLinks": e.SocialLinks,
		"people":      e.People,
		"products":    e.Products,
		"services":    e.Services,
	}
}

// Count is the number of values across all categories.
func (e ExtractedData) Count() int {
	n := 0
	for _, v := range e.Categories() {
		n += len(v)
	}
	return n
}

// Clone returns a deep copy.
func (e ExtractedData) Clone() ExtractedData {
	return ExtractedData{
		Emails:      slices.Clone(e.Emails),
		Phones:      slices.Clone(e.Phones),
		SocialLinks: slices.Clone(e.SocialLinks),
		People:      slices.Clone(e.People),
		Products:    slices.Clone(e.Products),
		Services:    slices.Clone(e.Services),
	}
}

// PageRecord is one fetched page in a scrape result or the merged dataset.
type PageRecord struct {
	CanonicalURL string         `json:"canonicalUrl"`
	URL          string         `json:"url"`
	Title        string         `json:"title"`
	Fields       map[string]any `json:"fields,omitempty"`
	Technologies []string       `json:"technologies,omitempty"`
	Extracted    ExtractedData  `json:"extracted"`
	PhaseTag     string         `json:"phaseTag,omitempty"`
	StatusCode   int            `json:"statusCode,omitempty"`
	FetchedAt    time.Time      `json:"fetchedAt"`
}

// Clone returns a deep copy.
func (p PageRecord) Clone() PageRecord {
	c := p
	if p.Fields != nil {
		c.Fields = maps.Clone(p.Fields)
	}
	c.Technologies = slices.Clone(p.Technologies)
	c.Extracted = p.Extracted.Clone()
	return c
}

// DatasetStats summarizes a MergedDataset.
type DatasetStats struct {
	TotalPages         int            `json:"totalPages"`
	UniqueTechnologies []string       `json:"uniqueTechnologies"`
	PhaseCounts        map[string]int `json:"phaseCounts"`
	DataPoints         int            `json:"dataPoints"`
}

// MergedDataset is the accumulated, deduplicated result of every scrape pass
// for a session. Pages is keyed by canonical URL.
type MergedDataset struct {
	Pages     map[string]PageRecord `json:"pages"`
	Stats     DatasetStats          `json:"stats"`
	Extracted ExtractedData         `json:"extracted"`

	// PhaseURLs tracks which canonical URLs were seen per phase tag so phase
	// counts stay idempotent across replays.
	PhaseURLs map[string][]string `json:"phaseUrls,omitempty"`
}

// NewMergedDataset returns an empty dataset with initialized maps.
func NewMergedDataset() MergedDataset {
	return MergedDataset{
		Pages: make(map[string]PageRecord),
		Stats: DatasetStats{
			UniqueTechnologies: []string{},
			PhaseCounts:        make(map[string]int),
		},
		PhaseURLs: make(map[string][]string),
	}
}

// Clone returns a deep copy.
func (d MergedDataset) Clone() MergedDataset {
	c := MergedDataset{
		Pages: make(map[string]PageRecord, len(d.Pages)),
		Stats: DatasetStats{
			TotalPages:         d.Stats.TotalPages,
			UniqueTechnologies: slices.Clone(d.Stats.UniqueTechnologies),
			PhaseCounts:        make(map[string]int, len(d.Stats.PhaseCounts)),
			DataPoints:         d.Stats.DataPoints,
		},
		Extracted: d.Extracted.Clone(),
		PhaseURLs: make(map[string][]string, len(d.PhaseURLs)),
	}
	if c.Stats.UniqueTechnologies == nil {
		c.Stats.UniqueTechnologies = []string{}
	}
	for k, v := range d.Pages {
		c.Pages[k] = v.Clone()
	}
	maps.Copy(c.Stats.PhaseCounts, d.Stats.PhaseCounts)
	for k, v := range d.PhaseURLs {
		c.PhaseURLs[k] = slices.Clone(v)
	}
	return c
}

// ItemError records a failure for a single URL or source without failing the
// surrounding batch.
type ItemError struct {
	URL     string `json:"url,omitempty"`
	Source  string `json:"source,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Attempt int    `json:"attempt,omitempty"`
}

// ScrapeMetrics summarizes one scraping pass.
type ScrapeMetrics struct {
	PageCount  int   `json:"pageCount"`
	DataPoints int   `json:"dataPoints"`
	DurationMs int64 `json:"durationMs"`
}

// ScrapingResult is the output of one strategy run or one executor pass.
type ScrapingResult struct {
	ScraperID string        `json:"scraperId"`
	SessionID string        `json:"sessionId"`
	Pages     []PageRecord  `json:"pages"`
	Metrics   ScrapeMetrics `json:"metrics"`
	Success   bool          `json:"success"`
	Errors    []ItemError   `json:"errors,omitempty"`
}
