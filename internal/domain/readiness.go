package domain

import "time"

// CheckStatus indicates whether a single readiness probe passed.
type CheckStatus string

const (
	CheckStatusPass CheckStatus = "pass"
	CheckStatusFail CheckStatus = "fail"
)

// CheckItem is one readiness probe result with optional hint.
type CheckItem struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Hint    string      `json:"hint,omitempty"`
}

// ReadinessReport aggregates probe results for the service status endpoint.
type ReadinessReport struct {
	GeneratedAt time.Time   `json:"generatedAt"`
	Ready       bool        `json:"ready"`
	Items       []CheckItem `json:"items"`
}
