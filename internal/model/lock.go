package model

import "time"

// ExecutionLock grants one scraper exclusive execution against one session
// until it is released or expires.
type ExecutionLock struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	ScraperID  string    `json:"scraperId"`
	TargetURLs []string  `json:"targetUrls"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the lock is no longer live at now.
func (l *ExecutionLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
