// Package session owns one device's shared-space state.
//
// A Device is the single writer for the anchor registry, the shared object
// pose and the aligned parent frame. Detection, gesture and network inputs
// may arrive on any goroutine; every mutation is serialised by the Device
// lock. State changes are reported as explicit Events to attached Emitters
// (for example the publish dispatcher) instead of being observed implicitly.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/spaceshare/internal/align"
	"github.com/banshee-data/spaceshare/internal/anchor"
	"github.com/banshee-data/spaceshare/internal/geom"
	"github.com/banshee-data/spaceshare/internal/gesture"
	"github.com/banshee-data/spaceshare/internal/monitoring"
	"github.com/banshee-data/spaceshare/internal/timeutil"
	"github.com/banshee-data/spaceshare/internal/wire"
)

var (
	// ErrNotReady means the local registry holds fewer than two anchors.
	ErrNotReady = errors.New("local registry is not ready for alignment")
	// ErrManipulating means a local gesture is in progress.
	ErrManipulating = errors.New("local manipulation in progress")
)

// Snapshot is a consistent copy of a Device's state.
type Snapshot struct {
	DeviceID     string
	Anchors      []anchor.NamedAnchor
	Candidate    *anchor.ScanSession
	Pose         geom.Pose
	Frame        geom.Transform
	Scanning     bool
	Manipulating bool
	Aligned      bool
	AlignedAt    time.Time
	// RemoteAnchors are the peer anchors used for the last alignment.
	RemoteAnchors []anchor.NamedAnchor
}

// Ready reports whether the snapshot holds enough anchors to align or publish.
func (s Snapshot) Ready() bool {
	return len(s.Anchors) >= anchor.RequiredAnchors
}

// Device is the owned aggregate for one device.
type Device struct {
	id    string
	clock timeutil.Clock

	mu            sync.Mutex
	registry      *anchor.Registry
	pose          geom.Pose
	frame         geom.Transform
	aligned       bool
	alignedAt     time.Time
	remoteAnchors []anchor.NamedAnchor
	gestures      gesture.Tracker

	emitMu   sync.RWMutex
	emitters []Emitter
	tail     fanout
}

// Option configures a Device.
type Option func(*Device)

// WithClock sets the clock used for alignment timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(d *Device) { d.clock = c }
}

// WithInitialPose sets the object pose before any manipulation.
func WithInitialPose(p geom.Pose) Option {
	return func(d *Device) { d.pose = p }
}

// NewDevice returns an idle device with an empty registry.
func NewDevice(id string, opts ...Option) *Device {
	d := &Device{
		id:       id,
		clock:    timeutil.RealClock{},
		registry: anchor.NewRegistry(),
		pose:     geom.IdentityPose(),
		frame:    geom.Identity(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ID returns the device identifier.
func (d *Device) ID() string { return d.id }

// Attach adds an Emitter that receives every subsequent event.
func (d *Device) Attach(e Emitter) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.emitters = append(d.emitters, e)
}

// Subscribe returns a buffered channel of events for debugging tails. Slow
// subscribers miss events rather than block the device.
func (d *Device) Subscribe() (string, chan Event) {
	return d.tail.subscribe()
}

// Unsubscribe closes and removes a channel returned by Subscribe.
func (d *Device) Unsubscribe(id string) {
	d.tail.unsubscribe(id)
}

func (d *Device) emit(events ...Event) {
	d.emitMu.RLock()
	emitters := d.emitters
	d.emitMu.RUnlock()
	for _, e := range events {
		for _, em := range emitters {
			em.Emit(e)
		}
		d.tail.publish(e)
	}
}

// Snapshot returns a consistent copy of the device state.
func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Snapshot{
		DeviceID:      d.id,
		Anchors:       d.registry.Confirmed(),
		Pose:          d.pose,
		Frame:         d.frame,
		Scanning:      d.registry.IsScanning(),
		Manipulating:  d.gestures.Active(),
		Aligned:       d.aligned,
		AlignedAt:     d.alignedAt,
		RemoteAnchors: append([]anchor.NamedAnchor(nil), d.remoteAnchors...),
	}
	if c, ok := d.registry.Candidate(); ok {
		s.Candidate = &c
	}
	return s
}

// Pose returns the current shared object pose in the local frame.
func (d *Device) Pose() geom.Pose {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pose
}

// AnchorCount returns the number of confirmed anchors.
func (d *Device) AnchorCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.Count()
}

// StartScanning begins acquiring anchors. See anchor.Registry.StartScanning.
func (d *Device) StartScanning() bool {
	d.mu.Lock()
	started := d.registry.StartScanning()
	d.mu.Unlock()

	if started {
		monitoring.Logf("[Session] %s: scanning for anchors", d.id)
		d.emit(Event{Kind: ScanningChanged, Scanning: true})
	}
	return started
}

// Observe feeds one marker detection update.
func (d *Device) Observe(obs anchor.Observation) {
	d.mu.Lock()
	changed := d.registry.Observe(obs)
	d.mu.Unlock()

	if changed {
		d.emit(Event{Kind: CandidateChanged, Anchor: obs.Name})
	}
}

// Leave reports that a marker is no longer visible.
func (d *Device) Leave(name string) {
	d.mu.Lock()
	cleared := d.registry.Leave(name)
	d.mu.Unlock()

	if cleared {
		d.emit(Event{Kind: CandidateChanged})
	}
}

// Commit confirms the marker currently being observed.
func (d *Device) Commit() (anchor.NamedAnchor, bool) {
	d.mu.Lock()
	wasScanning := d.registry.IsScanning()
	a, ok := d.registry.Commit()
	stopped := wasScanning && !d.registry.IsScanning()
	count := d.registry.Count()
	d.mu.Unlock()

	if !ok {
		return a, false
	}
	monitoring.Logf("[Session] %s: confirmed anchor %q at (%.3f, %.3f, %.3f), %d confirmed",
		d.id, a.Name, a.Position.X, a.Position.Y, a.Position.Z, count)

	events := []Event{{Kind: AnchorConfirmed, Anchor: a.Name}}
	if stopped {
		events = append(events, Event{Kind: ScanningChanged, Scanning: false})
	}
	d.emit(events...)
	return a, true
}

// Reset clears all anchors and stops scanning. The object keeps its current
// pose but is no longer considered aligned.
func (d *Device) Reset() {
	d.mu.Lock()
	wasScanning := d.registry.IsScanning()
	d.registry.Reset()
	d.aligned = false
	d.remoteAnchors = nil
	d.mu.Unlock()

	monitoring.Logf("[Session] %s: registry reset", d.id)
	events := []Event{{Kind: RegistryReset}}
	if wasScanning {
		events = append(events, Event{Kind: ScanningChanged, Scanning: false})
	}
	d.emit(events...)
}

// SetPose places the object outright.
func (d *Device) SetPose(p geom.Pose) error {
	if !p.IsValid() {
		return fmt.Errorf("invalid pose: %+v", p)
	}
	d.mu.Lock()
	d.pose = p
	d.mu.Unlock()

	d.emit(Event{Kind: PosePlaced})
	return nil
}

// BeginGesture captures the current pose as the start of gesture k. It is a
// no-op if k is already active.
func (d *Device) BeginGesture(k gesture.Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gestures.Begin(k, d.pose)
}

// EndGesture releases gesture k and emits GestureEnded.
func (d *Device) EndGesture(k gesture.Kind) bool {
	d.mu.Lock()
	ended := d.gestures.End(k)
	d.mu.Unlock()

	if ended {
		d.emit(Event{Kind: GestureEnded, Gesture: k})
	}
	return ended
}

// IsManipulating reports whether any gesture is active.
func (d *Device) IsManipulating() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gestures.Active()
}

// update runs one gesture update. Updates for a gesture that was never
// begun, or has already ended, are ignored.
func (d *Device) update(fn func(cur geom.Pose) (geom.Pose, bool)) (geom.Pose, bool) {
	d.mu.Lock()
	next, ok := fn(d.pose)
	if ok {
		d.pose = next
	}
	cur := d.pose
	d.mu.Unlock()

	if ok {
		d.emit(Event{Kind: PoseChanged})
	}
	return cur, ok
}

// Drag moves the object to the drag start position plus offset. It returns
// false unless a drag gesture is active.
func (d *Device) Drag(offset geom.Vec) (geom.Pose, bool) {
	return d.update(func(cur geom.Pose) (geom.Pose, bool) {
		return d.gestures.Drag(cur, offset)
	})
}

// Scale sets the object scale to the scale at gesture start times factor.
func (d *Device) Scale(factor float64) (geom.Pose, bool) {
	return d.update(func(cur geom.Pose) (geom.Pose, bool) {
		return d.gestures.Scale(cur, factor)
	})
}

// Rotate sets the object orientation to the orientation at gesture start
// rotated by delta.
func (d *Device) Rotate(delta quat.Number) (geom.Pose, bool) {
	return d.update(func(cur geom.Pose) (geom.Pose, bool) {
		return d.gestures.Rotate(cur, delta)
	})
}

// ApplyRemote re-anchors the shared object from a peer payload. It leaves
// the device untouched and returns an error when the local registry is not
// ready, a gesture is active, the anchors do not match, or the geometry is
// degenerate.
func (d *Device) ApplyRemote(p wire.Payload) (align.Result, error) {
	d.mu.Lock()
	if !d.registry.Ready() {
		d.mu.Unlock()
		return align.Result{}, ErrNotReady
	}
	if d.gestures.Active() {
		d.mu.Unlock()
		return align.Result{}, ErrManipulating
	}
	res, err := align.Resolve(d.registry.Confirmed(), p.Anchors, p.Pose)
	if err != nil {
		d.mu.Unlock()
		return align.Result{}, err
	}
	d.pose = res.Pose
	d.frame = res.Frame
	d.aligned = true
	d.alignedAt = d.clock.Now()
	d.remoteAnchors = append(d.remoteAnchors[:0], p.Anchors...)
	d.mu.Unlock()

	d.emit(Event{Kind: RemoteApplied})
	return res, nil
}
