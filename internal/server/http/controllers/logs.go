package controllers

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"

	logsvc "github.com/mezeipetister/towl/internal/services/logs"
	"github.com/mezeipetister/towl/pkg/log"
)

// maxBodyBytes bounds request bodies; a single entry is far below it.
const maxBodyBytes = 32 << 20

// LogsController exposes the collector operations over HTTP.
type LogsController struct {
	svc    *logsvc.Service
	logger log.Logger
}

// NewLogsController creates a new logs controller.
func NewLogsController(svc *logsvc.Service, logger log.Logger) *LogsController {
	if logger == nil {
		logger = log.Nop()
	}
	return &LogsController{svc: svc, logger: logger}
}

// RegisterRoutes registers:
//   - POST /v1/logs and POST /set_log: add an entry
//   - GET  /v1/files: list file ids
//   - GET  /v1/files/{id}/entries?after=N&follow=true: read or live tail
//   - POST /v1/config: change the rollover policy
//   - POST /v1/retain: apply a retention boundary
func (c *LogsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/logs", c.handleAdd)
	mux.HandleFunc("/set_log", c.handleSetLog)
	mux.HandleFunc("/v1/files", c.handleList)
	mux.HandleFunc("GET /v1/files/{id}/entries", c.handleEntries)
	mux.HandleFunc("/v1/config", c.handleConfig)
	mux.HandleFunc("/v1/retain", c.handleRetain)
}

func (c *LogsController) add(w http.ResponseWriter, r *http.Request) (entryJSON, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return entryJSON{}, false
	}
	var req addReq
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return entryJSON{}, false
	}
	if req.Sender == "" {
		// unnamed senders are identified by their address
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			req.Sender = host
		}
	}
	pos, err := c.svc.Add(r.Context(), logsvc.AddRequest{Sender: req.Sender, LogFormat: req.LogFormat, LogEntry: req.LogEntry})
	if err != nil {
		writeServiceError(w, err)
		return entryJSON{}, false
	}
	return entryJSON{FileID: pos.FileID, Counter: pos.Ordinal, Sender: req.Sender, LogFormat: req.LogFormat, LogEntry: req.LogEntry}, true
}

// handleAdd stores one entry and answers 202 Accepted with its position.
func (c *LogsController) handleAdd(w http.ResponseWriter, r *http.Request) {
	e, ok := c.add(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]uint64{"file_id": e.FileID, "counter": e.Counter})
}

// handleSetLog is the legacy add endpoint; it echoes the stored entry.
func (c *LogsController) handleSetLog(w http.ResponseWriter, r *http.Request) {
	e, ok := c.add(w, r)
	if !ok {
		return
	}
	writeJSON(w, e)
}

func (c *LogsController) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ids, err := c.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"file_ids": ids})
}

// handleEntries returns a JSON array of the entries from ?after= on, or
// streams them as SSE when follow is set. A following client that
// reconnects with Last-Event-ID resumes after that counter.
func (c *LogsController) handleEntries(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file id")
		return
	}
	q := r.URL.Query()
	follow := parseBool(q.Get("follow"))
	after := q.Get("after")
	if after == "" {
		after = "0"
		if last := r.Header.Get("Last-Event-ID"); follow && last != "" {
			n, err := strconv.ParseUint(last, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid Last-Event-ID")
				return
			}
			after = strconv.FormatUint(n+1, 10)
		}
	}
	req := logsvc.GetRequest{FileID: id, AfterCounter: after, Follow: follow}

	if !follow {
		sink := &sliceSink{ctx: r.Context(), items: []entryJSON{}}
		if err := c.svc.Get(r.Context(), req, sink); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, sink.items)
		return
	}

	// Errors known before streaming starts still get a proper status.
	if err := c.svc.Validate(r.Context(), req); err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	if err := c.svc.Get(r.Context(), req, sseSink{w: w, r: r}); !logsvc.IsNormalEnd(err) {
		c.logger.Warn("sse stream ended with error", log.Uint64("file", id), log.Err(err))
		_, _ = w.Write([]byte("event: error\ndata: " + strconv.Quote(err.Error()) + "\n\n"))
		return
	}
	_, _ = w.Write([]byte("event: end\ndata: {}\n\n"))
}

func (c *LogsController) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	msg, err := c.svc.Config(r.Context(), body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]string{"message": msg})
}

func (c *LogsController) handleRetain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req retainReq
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := c.svc.Retain(r.Context(), req.FileID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := retainResp{Boundary: res.Boundary, Outcomes: make([]retainOutcome, 0, len(res.Outcomes))}
	for _, o := range res.Outcomes {
		ro := retainOutcome{FileID: o.ID, Kind: string(o.Kind), URL: o.URL}
		if o.Err != nil {
			ro.Error = o.Err.Error()
		}
		out.Outcomes = append(out.Outcomes, ro)
	}
	writeJSON(w, out)
}
