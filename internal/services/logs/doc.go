// Package logsvc implements the collector operations (Add, List, Get,
// Config, Retain, Status) over a runtime. Transports adapt it to gRPC and
// HTTP; Get streams through a per-subscriber writer that decouples file
// reads from a slow transport.
package logsvc
