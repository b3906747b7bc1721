// Package towlv1 defines the towl.v1.Towl gRPC service: its messages, the
// JSON codec they travel with, the service descriptor and a typed client.
package towlv1

import "time"

type AddRequest struct {
	Sender    string `json:"sender"`
	LogFormat int32  `json:"log_format"`
	LogEntry  string `json:"log_entry"`
}

type AddResponse struct {
	FileID  uint64 `json:"file_id"`
	Counter uint64 `json:"counter"`
}

type ListRequest struct{}

type ListResponse struct {
	FileIDs []uint64 `json:"file_ids"`
}

type GetRequest struct {
	FileID       uint64 `json:"file_id"`
	AfterCounter string `json:"after_counter"`
	Follow       bool   `json:"follow"`
}

// LogEntry is one streamed entry of a Get.
type LogEntry struct {
	FileID    uint64    `json:"file_id"`
	Counter   uint64    `json:"counter"`
	Sender    string    `json:"sender"`
	Received  time.Time `json:"received"`
	LogFormat int32     `json:"log_format"`
	LogEntry  string    `json:"log_entry"`
}

// ConfigRequest carries a JSON object such as {"max_entries_per_file":1000}
// or {"rotation":"daily"}.
type ConfigRequest struct {
	Payload string `json:"payload"`
}

type ConfigResponse struct {
	Message string `json:"message"`
}

type RetainRequest struct {
	FileID uint64 `json:"file_id"`
}

type RetainOutcome struct {
	FileID uint64 `json:"file_id"`
	Kind   string `json:"kind"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

type RetainResponse struct {
	Boundary uint64          `json:"boundary"`
	Outcomes []RetainOutcome `json:"outcomes"`
}

type StatusRequest struct{}

type StatusResponse struct {
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
