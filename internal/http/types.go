package http

import (
	"github.com/fyrsmithlabs/refmerge/internal/processor"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Documents int    `json:"documents"`
	Error     string `json:"error,omitempty"`
}

// BatchResponse is the response body for batch ingest and resolve.
type BatchResponse struct {
	Results []*processor.Result `json:"results"`
	Failed  int                 `json:"failed"`
}

// DeleteResponse is the response body for DELETE /api/v1/documents/:id.
type DeleteResponse struct {
	Deleted string `json:"deleted"`
}
