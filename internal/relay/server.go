package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/spaceshare/internal/httputil"
	"github.com/banshee-data/spaceshare/internal/monitoring"
	"github.com/banshee-data/spaceshare/internal/security"
	"github.com/banshee-data/spaceshare/internal/timeutil"
	"github.com/banshee-data/spaceshare/internal/wire"
)

// MaxPayloadBytes caps the size of an accepted PUT body.
const MaxPayloadBytes = 1 << 20

// DeviceIDHeader carries the publisher's ID when the payload omits it.
const DeviceIDHeader = "X-Device-ID"

// Server is the last-write-wins relay for alignment payloads.
type Server struct {
	store Store
	clock timeutil.Clock
}

// NewServer returns a Server over store. A nil clock uses the real clock.
func NewServer(store Store, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{store: store, clock: clock}
}

// ServeMux returns a mux with the /spaces/ and /api/spaces/ routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/spaces/", s.handleSpace)
	mux.HandleFunc("/api/spaces/", s.handleHistory)
	return mux
}

// roomFromPath extracts a single path segment after prefix.
func roomFromPath(path, prefix, suffix string) (string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path {
		return "", false
	}
	if suffix != "" {
		if !strings.HasSuffix(rest, suffix) {
			return "", false
		}
		rest = strings.TrimSuffix(rest, suffix)
	}
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func (s *Server) handleSpace(w http.ResponseWriter, r *http.Request) {
	room, ok := roomFromPath(r.URL.Path, "/spaces/", "")
	if !ok {
		httputil.NotFound(w, "unknown space")
		return
	}
	if err := security.ValidateRoomName(room); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		s.putPayload(w, r, room)
	case http.MethodGet:
		s.getPayload(w, r, room)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) putPayload(w http.ResponseWriter, r *http.Request, room string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes+1))
	if err != nil {
		httputil.BadRequest(w, "failed to read body")
		return
	}
	if len(body) > MaxPayloadBytes {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	p, err := wire.Decode(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	deviceID := p.DeviceID
	if deviceID == "" {
		deviceID = r.Header.Get(DeviceIDHeader)
	}
	if deviceID != "" {
		deviceID = security.SanitizeIdentifier(deviceID)
	}
	rec := stamp(Record{Room: room, DeviceID: deviceID, Body: body}, s.clock)
	if err := s.store.Put(r.Context(), rec); err != nil {
		monitoring.Logf("[Relay] failed to store payload for %s: %v", room, err)
		httputil.InternalServerError(w, "failed to store payload")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getPayload(w http.ResponseWriter, r *http.Request, room string) {
	rec, err := s.store.Get(r.Context(), room)
	if errors.Is(err, ErrNotFound) {
		httputil.NotFound(w, "no payload for space")
		return
	}
	if err != nil {
		monitoring.Logf("[Relay] failed to load payload for %s: %v", room, err)
		httputil.InternalServerError(w, "failed to load payload")
		return
	}
	w.Header().Set("Content-Type", wire.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Last-Modified", rec.StoredAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	w.Write(rec.Body)
}

type historyEntry struct {
	DeviceID string          `json:"device_id,omitempty"`
	StoredAt time.Time       `json:"stored_at"`
	Payload  json.RawMessage `json:"payload"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	room, ok := roomFromPath(r.URL.Path, "/api/spaces/", "/history")
	if !ok {
		httputil.NotFound(w, "unknown endpoint")
		return
	}
	if err := security.ValidateRoomName(room); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := s.store.History(r.Context(), room, limit)
	if err != nil {
		monitoring.Logf("[Relay] failed to load history for %s: %v", room, err)
		httputil.InternalServerError(w, "failed to load history")
		return
	}
	out := make([]historyEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, historyEntry{DeviceID: rec.DeviceID, StoredAt: rec.StoredAt, Payload: rec.Body})
	}
	httputil.WriteJSONOK(w, out)
}
