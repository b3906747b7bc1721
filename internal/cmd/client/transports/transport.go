package transports

import (
	"context"
	"time"
)

// Entry is one log entry as delivered to the CLI.
type Entry struct {
	FileID    uint64    `json:"file_id"`
	Counter   uint64    `json:"counter"`
	Sender    string    `json:"sender"`
	Received  time.Time `json:"received"`
	LogFormat int32     `json:"log_format"`
	LogEntry  string    `json:"log_entry"`
}

// AddRequest is a single entry to append.
type AddRequest struct {
	Sender    string
	LogFormat int32
	LogEntry  string
}

// Position locates an appended entry.
type Position struct {
	FileID  uint64 `json:"file_id"`
	Counter uint64 `json:"counter"`
}

// GetRequest selects entries of one file after a counter.
type GetRequest struct {
	FileID       uint64
	AfterCounter string
	Follow       bool
	Limit        int
}

// RetainOutcome is what retention did to one file.
type RetainOutcome struct {
	FileID uint64 `json:"file_id"`
	Kind   string `json:"kind"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RetainResult aggregates the outcomes of a Retain call.
type RetainResult struct {
	Boundary uint64          `json:"boundary"`
	Outcomes []RetainOutcome `json:"outcomes"`
}

// Status is the server side view of the partition.
type Status struct {
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

// LogsTransport abstracts the transport used by the CLI.
type LogsTransport interface {
	Add(ctx context.Context, req AddRequest) (Position, error)
	List(ctx context.Context) ([]uint64, error)
	Get(ctx context.Context, req GetRequest, onEntry func(Entry) error) error
	Config(ctx context.Context, payload string) (string, error)
	Retain(ctx context.Context, fileID uint64) (RetainResult, error)
	Status(ctx context.Context) (Status, error)
	Close() error
}
