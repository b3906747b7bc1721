package httpserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/mezeipetister/towl/internal/config"
	"github.com/mezeipetister/towl/internal/runtime"
	pebblestore "github.com/mezeipetister/towl/internal/storage/pebble"
	logsvc "github.com/mezeipetister/towl/internal/services/logs"
	logpkg "github.com/mezeipetister/towl/pkg/log"
)

func newTestServer(t *testing.T, maxEntries uint64) *Server {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Partition.Rotation = ""
	cfg.Partition.MaxEntriesPerFile = maxEntries
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfg})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	return New(rt, logsvc.New(rt), logger)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, 10)
	w := do(t, s, http.MethodGet, "/v1/healthz", "")
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id")
	}
}

func TestAddAndReadEntries(t *testing.T) {
	s := newTestServer(t, 100)
	var fileID uint64
	for i := 0; i < 4; i++ {
		w := do(t, s, http.MethodPost, "/v1/logs", fmt.Sprintf(`{"sender":"web-1","log_format":0,"log_entry":"line %d"}`, i))
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		var pos map[string]uint64
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pos))
		assert.Equal(t, uint64(i), pos["counter"])
		fileID = pos["file_id"]
	}

	w := do(t, s, http.MethodGet, "/v1/files", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"file_ids":[%d]}`, fileID), w.Body.String())

	w = do(t, s, http.MethodGet, fmt.Sprintf("/v1/files/%d/entries?after=2", fileID), "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "line 2", entries[0]["log_entry"])
	assert.Equal(t, float64(3), entries[1]["counter"])

	// default counter is zero
	w = do(t, s, http.MethodGet, fmt.Sprintf("/v1/files/%d/entries", fileID), "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 4)
}

func TestSetLogUsesRemoteAddress(t *testing.T) {
	s := newTestServer(t, 100)
	w := do(t, s, http.MethodPost, "/set_log", `{"log_entry":"legacy"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var e map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	// httptest requests come from 192.0.2.1
	assert.Equal(t, "192.0.2.1", e["sender"])
	assert.Equal(t, "legacy", e["log_entry"])
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t, 1)
	do(t, s, http.MethodPost, "/v1/logs", `{"sender":"s","log_entry":"a"}`)
	do(t, s, http.MethodPost, "/v1/logs", `{"sender":"s","log_entry":"b"}`)

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/v1/files/1/entries?after=x", "", http.StatusBadRequest},
		{http.MethodGet, "/v1/files/abc/entries", "", http.StatusBadRequest},
		{http.MethodGet, "/v1/files/999/entries", "", http.StatusNotFound},
		{http.MethodPost, "/v1/config", `{"rotation":"hourly"}`, http.StatusBadRequest},
		{http.MethodPost, "/v1/logs", `{`, http.StatusBadRequest},
		{http.MethodGet, "/v1/logs", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/v1/retain", `{"file_id":2}`, http.StatusOK},
		{http.MethodGet, "/v1/files/1/entries", "", http.StatusGone},
	}
	for _, tt := range tests {
		w := do(t, s, tt.method, tt.path, tt.body)
		assert.Equal(t, tt.want, w.Code, "%s %s: %s", tt.method, tt.path, w.Body.String())
	}
}

func TestConfigAndStatus(t *testing.T) {
	s := newTestServer(t, 100)
	w := do(t, s, http.MethodPost, "/v1/config", `{"rotation":"weekly"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "weekly")

	do(t, s, http.MethodPost, "/v1/logs", `{"sender":"s","log_entry":"a"}`)
	w = do(t, s, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "weekly rotation", st["policy"])
	assert.Equal(t, float64(1), st["active_count"])
}

func TestFollowSSE(t *testing.T) {
	s := newTestServer(t, 3)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	w := do(t, s, http.MethodPost, "/v1/logs", `{"sender":"s","log_entry":"0"}`)
	var pos map[string]uint64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pos))

	resp, err := http.Get(fmt.Sprintf("%s/v1/files/%d/entries?follow=true", ts.URL, pos["file_id"]))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		do(t, s, http.MethodPost, "/v1/logs", `{"sender":"s","log_entry":"1"}`)
		do(t, s, http.MethodPost, "/v1/logs", `{"sender":"s","log_entry":"2"}`)
	}()

	var ids []string
	var ended bool
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "id: ") {
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		}
		if line == "event: end" {
			ended = true
			break
		}
	}
	assert.True(t, ended, "stream should end once the file is sealed")
	assert.Equal(t, []string{"0", "1", "2"}, ids)
}

func TestFollowUnknownFileIsNotFound(t *testing.T) {
	s := newTestServer(t, 3)
	w := do(t, s, http.MethodGet, "/v1/files/77/entries?follow=1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
