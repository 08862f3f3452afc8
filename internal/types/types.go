// Package types defines the JSON payloads exchanged over the HTTP boundary.
package types

import (
	"github.com/temirov/ctxserve/internal/ignore"
)

const (
	// RebuildStatusRebuilding reports that a rebuild request started a new build.
	RebuildStatusRebuilding = "rebuilding"
	// RebuildStatusAlreadyBuilding reports that a build was already in flight.
	RebuildStatusAlreadyBuilding = "already_building"

	// HealthStatusOK is the body status of a healthy server.
	HealthStatusOK = "ok"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error    string `json:"error"`
	Building bool   `json:"building,omitempty"`
}

// RebuildResponse answers a rebuild request.
type RebuildResponse struct {
	Status   string `json:"status"`
	Accepted bool   `json:"accepted"`
}

// ProcessRequest is the JSON form of a content request.
type ProcessRequest struct {
	Paths []string `json:"paths"`
}

// CheckIgnoreResponse explains the ignore decision for one path.
type CheckIgnoreResponse struct {
	Path       string          `json:"path"`
	Excluded   bool            `json:"excluded"`
	Reason     ignore.Reason   `json:"reason,omitempty"`
	Source     string          `json:"source,omitempty"`
	Pattern    string          `json:"pattern,omitempty"`
	ExcludedBy string          `json:"excluded_by,omitempty"`
	Sources    []string        `json:"sources"`
	RuleFiles  []ignore.Source `json:"rule_files"`
}

// HealthResponse is the body of the liveness probe.
type HealthResponse struct {
	Status string `json:"status"`
}

// NewCheckIgnoreResponse flattens an explanation together with the discovered rule files.
func NewCheckIgnoreResponse(explanation ignore.Explanation, ruleFiles []ignore.Source) CheckIgnoreResponse {
	sources := explanation.Sources
	if sources == nil {
		sources = []string{}
	}
	if ruleFiles == nil {
		ruleFiles = []ignore.Source{}
	}
	return CheckIgnoreResponse{
		Path:       explanation.Path,
		Excluded:   explanation.Decision.Excluded,
		Reason:     explanation.Decision.Reason,
		Source:     explanation.Decision.Source,
		Pattern:    explanation.Decision.Pattern,
		ExcludedBy: explanation.ExcludedBy,
		Sources:    sources,
		RuleFiles:  ruleFiles,
	}
}

// NewRebuildResponse maps the accepted flag to its status string.
func NewRebuildResponse(accepted bool) RebuildResponse {
	if accepted {
		return RebuildResponse{Status: RebuildStatusRebuilding, Accepted: true}
	}
	return RebuildResponse{Status: RebuildStatusAlreadyBuilding}
}
