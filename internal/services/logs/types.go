package logsvc

import (
	"context"

	"github.com/mezeipetister/towl/internal/logfile"
	"github.com/mezeipetister/towl/internal/partition"
)

// AddRequest carries one log line from a sender. Received is stamped by
// the service.
type AddRequest struct {
	Sender    string            `json:"sender"`
	LogFormat logfile.LogFormat `json:"log_format"`
	LogEntry  string            `json:"log_entry"`
}

// GetRequest selects the entries of one file. AfterCounter is the number of
// entries the caller already holds, as a decimal string.
type GetRequest struct {
	FileID       uint64 `json:"file_id"`
	AfterCounter string `json:"after_counter"`
	Follow       bool   `json:"follow"`
}

// Item is one streamed entry with its position.
type Item struct {
	FileID  uint64 `json:"file_id"`
	Counter uint64 `json:"counter"`
	logfile.Entry
}

// Sink is implemented by transports to receive streamed items.
type Sink interface {
	Send(Item) error
	Context() context.Context
	Flush() error
}

// Status summarises the engine for health endpoints and the CLI.
type Status struct {
	partition.Stats
	// Subscribers counts live Get streams per file id.
	Subscribers map[uint64]int `json:"subscribers,omitempty"`
}
