package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	logsvc "github.com/mezeipetister/towl/internal/services/logs"
)

// sseSink writes entries as Server-Sent Events. The event id is the entry
// counter, so a reconnecting client can resume with Last-Event-ID.
type sseSink struct {
	w http.ResponseWriter
	r *http.Request
}

func (s sseSink) Send(it logsvc.Item) error {
	b, err := json.Marshal(toEntryJSON(it))
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("id: " + strconv.FormatUint(it.Counter, 10) + "\ndata: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	return nil
}

func (s sseSink) Context() context.Context {
	return s.r.Context()
}

// Flush pushes buffered events to the client.
func (s sseSink) Flush() error {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// sliceSink collects entries for a bounded JSON response.
type sliceSink struct {
	ctx   context.Context
	items []entryJSON
}

func (s *sliceSink) Send(it logsvc.Item) error {
	s.items = append(s.items, toEntryJSON(it))
	return nil
}
func (s *sliceSink) Context() context.Context { return s.ctx }
func (s *sliceSink) Flush() error             { return nil }
