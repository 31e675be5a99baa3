// Package detect adapts per-frame marker detections into registry updates.
package detect

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/spaceshare/internal/anchor"
	"github.com/banshee-data/spaceshare/internal/geom"
)

// ErrDegenerateMarker is returned when a marker's corners do not span a
// usable quad.
var ErrDegenerateMarker = errors.New("degenerate marker corners")

// Sink receives marker updates. *session.Device satisfies it.
type Sink interface {
	Observe(anchor.Observation)
	Leave(name string)
}

// Corners are the world-space corners of a detected marker.
type Corners struct {
	TopLeft, TopRight, BottomLeft, BottomRight geom.Vec
}

var unitX = r3.Vec{X: 1}

// MarkerFromCorners builds an observation for a marker from its corners.
// The pose sits at the centre of the quad and rotates +X onto the
// top-right to top-left edge. The extent is the edge lengths on X and Z.
func MarkerFromCorners(name string, c Corners) (anchor.Observation, error) {
	top := r3.Sub(c.TopLeft, c.TopRight)
	side := r3.Sub(c.TopLeft, c.BottomLeft)
	width, depth := r3.Norm(top), r3.Norm(side)
	if width < geom.Epsilon {
		return anchor.Observation{}, fmt.Errorf("%w: %q has zero width", ErrDegenerateMarker, name)
	}
	for _, v := range []geom.Vec{c.TopLeft, c.TopRight, c.BottomLeft, c.BottomRight} {
		if !geom.IsFinite(v) {
			return anchor.Observation{}, fmt.Errorf("%w: %q has a non-finite corner", ErrDegenerateMarker, name)
		}
	}

	centre := r3.Scale(0.25, r3.Add(r3.Add(c.TopLeft, c.TopRight), r3.Add(c.BottomLeft, c.BottomRight)))
	pose := geom.At(centre)
	pose.Rotation = shortestArc(unitX, r3.Unit(top))
	return anchor.Observation{
		Name:   name,
		Pose:   pose,
		Extent: geom.Vec{X: width, Z: depth},
	}, nil
}

// shortestArc returns the smallest rotation taking unit vector from onto
// unit vector to.
func shortestArc(from, to geom.Vec) quat.Number {
	d := r3.Dot(from, to)
	if d < -1+geom.Epsilon {
		// Opposite directions: half turn about any perpendicular axis.
		axis := r3.Cross(from, geom.Up)
		if r3.Norm(axis) < geom.Epsilon {
			axis = r3.Cross(from, unitX)
		}
		axis = r3.Unit(axis)
		return quat.Number{Imag: axis.X, Jmag: axis.Y, Kmag: axis.Z}
	}
	c := r3.Cross(from, to)
	return geom.Normalize(quat.Number{Real: 1 + d, Imag: c.X, Jmag: c.Y, Kmag: c.Z})
}

// Detection is one decoded marker in a camera frame.
type Detection struct {
	Name    string
	Corners Corners
}

// FrameDiffer forwards each frame's detections to a Sink and reports
// markers that were visible in the previous frame but not in this one.
//
// Frames that arrive while an earlier frame is still being processed are
// dropped.
type FrameDiffer struct {
	sink Sink
	busy atomic.Bool

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewFrameDiffer returns a FrameDiffer feeding sink.
func NewFrameDiffer(sink Sink) *FrameDiffer {
	return &FrameDiffer{sink: sink, seen: make(map[string]struct{})}
}

// Frame processes one frame. It reports false if the frame was dropped.
// Detections with unusable corners are skipped but still count as visible.
func (f *FrameDiffer) Frame(dets []Detection) bool {
	if !f.busy.CompareAndSwap(false, true) {
		return false
	}
	defer f.busy.Store(false)

	f.mu.Lock()
	defer f.mu.Unlock()

	current := make(map[string]struct{}, len(dets))
	for _, d := range dets {
		if d.Name == "" {
			continue
		}
		current[d.Name] = struct{}{}
		obs, err := MarkerFromCorners(d.Name, d.Corners)
		if err != nil {
			continue
		}
		f.sink.Observe(obs)
	}
	for name := range f.seen {
		if _, ok := current[name]; !ok {
			f.sink.Leave(name)
		}
	}
	f.seen = current
	return true
}

// Visible returns the number of markers seen in the last processed frame.
func (f *FrameDiffer) Visible() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

