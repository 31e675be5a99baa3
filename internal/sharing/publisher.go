// Package sharing moves alignment payloads between a device and the relay.
//
// The Publisher PUTs the device's anchors and object pose whenever session
// events say something worth sharing changed. The Subscriber polls the relay
// and hands each payload to the device for re-anchoring.
package sharing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/spaceshare/internal/httputil"
	"github.com/banshee-data/spaceshare/internal/monitoring"
	"github.com/banshee-data/spaceshare/internal/session"
	"github.com/banshee-data/spaceshare/internal/wire"
)

// Header names sent with every publish.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderDeviceID  = "X-Device-ID"
)

// DefaultPublishTimeout bounds a single PUT.
const DefaultPublishTimeout = 5 * time.Second

// Source provides the state to publish. *session.Device satisfies it.
type Source interface {
	Snapshot() session.Snapshot
}

// PublisherStats counts what happened to Publish calls.
type PublisherStats struct {
	Started   int64 `json:"started"`
	Skipped   int64 `json:"skipped"`
	Dropped   int64 `json:"dropped"`
	Cancelled int64 `json:"cancelled"`
	Failed    int64 `json:"failed"`
	Succeeded int64 `json:"succeeded"`
}

type publishCall struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Publisher sends the local payload to the relay with at most one request
// in flight.
type Publisher struct {
	client  httputil.HTTPClient
	url     string
	timeout time.Duration
	source  Source

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight *publishCall
	closed   bool

	started, skipped, dropped, cancelled, failed, succeeded atomic.Int64
}

// NewPublisher returns a Publisher that PUTs to url. A zero timeout uses
// DefaultPublishTimeout.
func NewPublisher(client httputil.HTTPClient, url string, timeout time.Duration, source Source) *Publisher {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		client:  client,
		url:     url,
		timeout: timeout,
		source:  source,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Publish sends the current payload. It does nothing while the source has
// fewer than two anchors or is scanning. If a publish is already in flight a
// non-forced call is dropped, while a forced call cancels the in-flight one
// and starts immediately. It reports whether a request was started.
func (p *Publisher) Publish(force bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if p.inflight != nil && !force {
		p.dropped.Add(1)
		return false
	}

	snap := p.source.Snapshot()
	if !snap.Ready() || snap.Scanning {
		p.skipped.Add(1)
		return false
	}
	body, err := wire.Encode(wire.Payload{Anchors: snap.Anchors, Pose: snap.Pose, DeviceID: snap.DeviceID})
	if err != nil {
		p.failed.Add(1)
		monitoring.Logf("[Publisher] failed to encode payload: %v", err)
		return false
	}

	if p.inflight != nil {
		p.inflight.cancel()
		p.cancelled.Add(1)
		monitoring.Logf("[Publisher] cancelled in-flight publish %s", p.inflight.id)
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	call := &publishCall{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
	p.inflight = call
	p.started.Add(1)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(call.done)
		defer cancel()

		err := p.put(ctx, call.id, snap.DeviceID, body)

		p.mu.Lock()
		if p.inflight == call {
			p.inflight = nil
		}
		p.mu.Unlock()

		switch {
		case err == nil:
			p.succeeded.Add(1)
		case errors.Is(err, context.Canceled):
			// counted when it was superseded or the publisher closed
		default:
			p.failed.Add(1)
			monitoring.Logf("[Publisher] publish %s failed: %v", call.id, err)
		}
	}()
	return true
}

func (p *Publisher) put(ctx context.Context, requestID, deviceID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", wire.ContentType)
	req.Header.Set(HeaderRequestID, requestID)
	if deviceID != "" {
		req.Header.Set(HeaderDeviceID, deviceID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer httputil.DrainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}
	return nil
}

// InFlight reports whether a publish is currently running.
func (p *Publisher) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight != nil
}

// Wait blocks until every started publish has finished.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

// Stats returns a copy of the publish counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Started:   p.started.Load(),
		Skipped:   p.skipped.Load(),
		Dropped:   p.dropped.Load(),
		Cancelled: p.cancelled.Load(),
		Failed:    p.failed.Load(),
		Succeeded: p.succeeded.Load(),
	}
}

// Close cancels any in-flight publish and waits for it to return. Later
// Publish calls do nothing.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		if p.inflight != nil {
			p.cancelled.Add(1)
		}
		p.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Publishing is the part of a Publisher the Dispatcher drives.
type Publishing interface {
	Publish(force bool) bool
}

// Dispatcher turns session events into publish calls. Continuous pose
// updates publish opportunistically; gesture ends, placements and scan state
// changes force a publish so the final state always goes out.
type Dispatcher struct {
	Publisher Publishing
}

// Emit implements session.Emitter.
func (d Dispatcher) Emit(e session.Event) {
	switch e.Kind {
	case session.PoseChanged:
		d.Publisher.Publish(false)
	case session.GestureEnded, session.PosePlaced, session.ScanningChanged:
		d.Publisher.Publish(true)
	}
}
