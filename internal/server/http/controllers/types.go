package controllers

import (
	"time"

	"github.com/mezeipetister/towl/internal/logfile"
	logsvc "github.com/mezeipetister/towl/internal/services/logs"
)

// addReq is the body of POST /v1/logs and POST /set_log.
type addReq struct {
	Sender    string            `json:"sender"`
	LogFormat logfile.LogFormat `json:"log_format"`
	LogEntry  string            `json:"log_entry"`
}

// entryJSON is one entry as returned by the read endpoints.
type entryJSON struct {
	FileID    uint64            `json:"file_id"`
	Counter   uint64            `json:"counter"`
	Sender    string            `json:"sender"`
	Received  time.Time         `json:"received"`
	LogFormat logfile.LogFormat `json:"log_format"`
	LogEntry  string            `json:"log_entry"`
}

func toEntryJSON(it logsvc.Item) entryJSON {
	return entryJSON{
		FileID:    it.FileID,
		Counter:   it.Counter,
		Sender:    it.Sender,
		Received:  it.Received,
		LogFormat: it.LogFormat,
		LogEntry:  it.LogEntry,
	}
}

type retainReq struct {
	FileID uint64 `json:"file_id"`
}

type retainOutcome struct {
	FileID uint64 `json:"file_id"`
	Kind   string `json:"kind"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

type retainResp struct {
	Boundary uint64          `json:"boundary"`
	Outcomes []retainOutcome `json:"outcomes"`
}

type statusResp struct {
	ActiveID    uint64         `json:"active_id,omitempty"`
	ActiveCount uint64         `json:"active_count"`
	Files       int            `json:"files"`
	NextID      uint64         `json:"next_id"`
	Boundary    uint64         `json:"boundary"`
	Policy      string         `json:"policy"`
	Quarantined int            `json:"quarantined"`
	Archived    int            `json:"archived"`
	Subscribers map[uint64]int `json:"subscribers,omitempty"`
}
