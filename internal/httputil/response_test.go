package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banshee-data/spaceshare/internal/monitoring"
)

func TestErrorResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "payload needs 2 anchors") }, http.StatusBadRequest, "payload needs 2 anchors"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no payload for space") }, http.StatusNotFound, "no payload for space"},
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "store failed") }, http.StatusInternalServerError, "store failed"},
		{"too large", func(w http.ResponseWriter) { WriteJSONError(w, http.StatusRequestEntityTooLarge, "payload too large") }, http.StatusRequestEntityTooLarge, "payload too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content-type = %s, want application/json", ct)
			}
			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["error"] != tt.msg {
				t.Errorf("error = %q, want %q", resp["error"], tt.msg)
			}
		})
	}
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int64{"succeeded": 3})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp map[string]int64
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["succeeded"] != 3 {
		t.Errorf("succeeded = %d, want 3", resp["succeeded"])
	}
}

func TestLoggingMiddleware_RecordsStatus(t *testing.T) {
	original := monitoring.Logf
	defer monitoring.SetLogger(original)

	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, "no payload yet")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/spaces/lobby", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "404") || !strings.Contains(lines[0], "/spaces/lobby") {
		t.Errorf("log line missing status or path: %q", lines[0])
	}
}
