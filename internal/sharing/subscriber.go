package sharing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/banshee-data/spaceshare/internal/align"
	"github.com/banshee-data/spaceshare/internal/anchor"
	"github.com/banshee-data/spaceshare/internal/httputil"
	"github.com/banshee-data/spaceshare/internal/monitoring"
	"github.com/banshee-data/spaceshare/internal/session"
	"github.com/banshee-data/spaceshare/internal/timeutil"
	"github.com/banshee-data/spaceshare/internal/wire"
)

// Subscriber defaults.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultFetchTimeout = 5 * time.Second
	// maxPayloadBytes caps how much of a relay response is read.
	maxPayloadBytes = 1 << 20
)

var (
	// ErrNoPayload means the relay has nothing stored yet.
	ErrNoPayload = errors.New("relay has no payload")
	// ErrOwnPayload means the relay returned this device's own publish.
	ErrOwnPayload = errors.New("payload was published by this device")
)

// Target receives decoded payloads. *session.Device satisfies it.
type Target interface {
	ID() string
	AnchorCount() int
	ApplyRemote(wire.Payload) (align.Result, error)
}

// SubscriberOptions configures a Subscriber. Zero values take defaults.
type SubscriberOptions struct {
	URL          string
	PollInterval time.Duration
	FetchTimeout time.Duration
	CacheBust    bool
	Clock        timeutil.Clock
}

// Subscriber polls the relay and applies what it finds.
type Subscriber struct {
	client httputil.HTTPClient
	target Target
	opts   SubscriberOptions
}

// NewSubscriber returns a Subscriber for target.
func NewSubscriber(client httputil.HTTPClient, target Target, opts SubscriberOptions) *Subscriber {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Subscriber{client: client, target: target, opts: opts}
}

// Run polls on a fixed interval until ctx is done. Poll failures are logged
// and the cycle is skipped.
func (s *Subscriber) Run(ctx context.Context) error {
	ticker := s.opts.Clock.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	monitoring.Logf("[Subscriber] polling %s every %v", s.opts.URL, s.opts.PollInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			res, applied, err := s.Poll(ctx)
			switch {
			case err == nil && applied:
				if res.Residual > 0.05 {
					monitoring.Logf("[Subscriber] aligned on %q/%q with residual %.3fm", res.Names[0], res.Names[1], res.Residual)
				}
			case err == nil, isSkip(err):
				// nothing to report
			default:
				monitoring.Logf("[Subscriber] poll failed: %v", err)
			}
		}
	}
}

// isSkip reports whether err is an expected skip rather than a failure:
// nothing published yet, our own payload, unmet alignment preconditions,
// an active local gesture, or shutdown.
func isSkip(err error) bool {
	for _, target := range []error{
		ErrNoPayload,
		ErrOwnPayload,
		align.ErrNoMatch,
		align.ErrInsufficientAnchors,
		session.ErrNotReady,
		session.ErrManipulating,
		context.Canceled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Poll runs one fetch-and-apply cycle. It reports whether a payload was
// applied. With fewer than two local anchors it returns without fetching.
func (s *Subscriber) Poll(ctx context.Context) (align.Result, bool, error) {
	if s.target.AnchorCount() < anchor.RequiredAnchors {
		return align.Result{}, false, nil
	}

	p, err := s.fetch(ctx)
	if err != nil {
		return align.Result{}, false, err
	}
	if p.DeviceID != "" && p.DeviceID == s.target.ID() {
		return align.Result{}, false, ErrOwnPayload
	}

	res, err := s.target.ApplyRemote(p)
	if err != nil {
		return align.Result{}, false, fmt.Errorf("apply: %w", err)
	}
	return res, true, nil
}

func (s *Subscriber) pollURL() (string, error) {
	if !s.opts.CacheBust {
		return s.opts.URL, nil
	}
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid poll url: %w", err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(s.opts.Clock.Now().Unix(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Subscriber) fetch(ctx context.Context) (wire.Payload, error) {
	target, err := s.pollURL()
	if err != nil {
		return wire.Payload{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return wire.Payload{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", wire.ContentType)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return wire.Payload{}, fmt.Errorf("fetch: %w", err)
	}
	defer httputil.DrainAndClose(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return wire.Payload{}, ErrNoPayload
	case resp.StatusCode != http.StatusOK:
		return wire.Payload{}, fmt.Errorf("relay returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return wire.Payload{}, fmt.Errorf("read body: %w", err)
	}
	p, err := wire.Decode(body)
	if err != nil {
		return wire.Payload{}, fmt.Errorf("decode: %w", err)
	}
	return p, nil
}
