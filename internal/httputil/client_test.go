package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewStandardClient(t *testing.T) {
	custom := &http.Client{Timeout: time.Second}
	if NewStandardClient(custom) != HTTPClient(custom) {
		t.Error("expected custom client to be returned")
	}
	if NewStandardClient(nil) != HTTPClient(http.DefaultClient) {
		t.Error("nil client should fall back to http.DefaultClient")
	}
}

func TestStandardClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Device-ID") != "dev-a" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("X-Device-ID", "dev-a")
	resp, err := NewStandardClient(nil).Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}
}

func TestMockHTTPClient_QueuedResponses(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusNotFound, `{"error":"no payload"}`).
		AddErrorResponse(errors.New("connection refused"))

	req, _ := http.NewRequest(http.MethodGet, "http://relay.local/spaces/lobby", nil)

	resp, err := mock.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusNotFound || string(body) != `{"error":"no payload"}` {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}

	if _, err := mock.Do(req); err == nil || err.Error() != "connection refused" {
		t.Errorf("expected queued error, got %v", err)
	}

	resp, err = mock.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Errorf("exhausted queue should answer 200, got %v %v", resp, err)
	}

	if mock.RequestCount() != 3 {
		t.Errorf("expected 3 recorded requests, got %d", mock.RequestCount())
	}
	if mock.GetRequest(0) != req || mock.GetRequest(3) != nil || mock.GetRequest(-1) != nil {
		t.Error("GetRequest returned the wrong request")
	}
}

func TestMockHTTPClient_DoFuncRunsUnlocked(t *testing.T) {
	mock := NewMockHTTPClient()
	entered := make(chan struct{})
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		close(entered)
		<-req.Context().Done()
		return nil, req.Context().Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodPut, "http://relay.local/spaces/lobby", nil)

	done := make(chan error, 1)
	go func() {
		_, err := mock.Do(req)
		done <- err
	}()
	<-entered

	// The recorder must stay usable while DoFunc blocks.
	if mock.RequestCount() != 1 {
		t.Errorf("expected 1 recorded request, got %d", mock.RequestCount())
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDrainAndClose(t *testing.T) {
	DrainAndClose(nil)
	DrainAndClose(&http.Response{})

	rc := &trackingBody{}
	DrainAndClose(&http.Response{Body: rc})
	if !rc.closed {
		t.Error("expected body to be closed")
	}
}

type trackingBody struct{ closed bool }

func (b *trackingBody) Read([]byte) (int, error) { return 0, io.EOF }
func (b *trackingBody) Close() error             { b.closed = true; return nil }
