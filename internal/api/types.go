package api

import (
	"github.com/mattjoyce/satchel/internal/archive"
	"github.com/mattjoyce/satchel/internal/journal"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Archives      int    `json:"archives"`
}

// ListResponse is returned by GET /backups.
type ListResponse struct {
	Archives []archive.Archive `json:"archives"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Operations []journal.Entry `json:"operations"`
}
