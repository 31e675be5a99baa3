// Package gesture turns continuous manipulation gestures into absolute
// object poses.
package gesture

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/spaceshare/internal/geom"
)

// Kind identifies a manipulation gesture.
type Kind int

const (
	Drag Kind = iota
	Scale
	Rotate
	numKinds
)

// String returns the gesture name.
func (k Kind) String() string {
	switch k {
	case Drag:
		return "drag"
	case Scale:
		return "scale"
	case Rotate:
		return "rotate"
	default:
		return "unknown"
	}
}

type state struct {
	active bool
	start  geom.Pose
}

// Tracker remembers, per gesture kind, whether it is active and the pose
// captured when it began. Updates are absolute: start combined with the
// gesture's cumulative delta, so dropped intermediate updates do not drift.
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	states [numKinds]state
}

// Begin starts a gesture from the current pose. It is a no-op returning
// false if that gesture kind is already active.
func (t *Tracker) Begin(k Kind, current geom.Pose) bool {
	if k < 0 || k >= numKinds || t.states[k].active {
		return false
	}
	t.states[k] = state{active: true, start: current}
	return true
}

// End finishes a gesture. It reports whether the gesture was active.
func (t *Tracker) End(k Kind) bool {
	if k < 0 || k >= numKinds || !t.states[k].active {
		return false
	}
	t.states[k] = state{}
	return true
}

// IsActive reports whether gesture k is in progress.
func (t *Tracker) IsActive(k Kind) bool {
	return k >= 0 && k < numKinds && t.states[k].active
}

// Active reports whether any gesture is in progress.
func (t *Tracker) Active() bool {
	for _, s := range t.states {
		if s.active {
			return true
		}
	}
	return false
}

// Start returns the pose captured when gesture k began.
func (t *Tracker) Start(k Kind) (geom.Pose, bool) {
	if !t.IsActive(k) {
		return geom.Pose{}, false
	}
	return t.states[k].start, true
}

// Drag returns current with its translation set to the drag start plus offset.
func (t *Tracker) Drag(current geom.Pose, offset geom.Vec) (geom.Pose, bool) {
	if !t.states[Drag].active || !geom.IsFinite(offset) {
		return current, false
	}
	current.Translation = r3.Add(t.states[Drag].start.Translation, offset)
	return current, true
}

// Scale returns current with its scale set to the scale at gesture start
// multiplied by factor. Non-positive factors are rejected.
func (t *Tracker) Scale(current geom.Pose, factor float64) (geom.Pose, bool) {
	if !t.states[Scale].active || !(factor > 0) || math.IsInf(factor, 0) {
		return current, false
	}
	current.Scale = r3.Scale(factor, t.states[Scale].start.Scale)
	return current, true
}

// Rotate returns current with its orientation set to the orientation at
// gesture start rotated by delta.
func (t *Tracker) Rotate(current geom.Pose, delta quat.Number) (geom.Pose, bool) {
	if !t.states[Rotate].active || quat.Abs(delta) < geom.Epsilon || quat.IsNaN(delta) {
		return current, false
	}
	current.Rotation = geom.Normalize(quat.Mul(geom.Normalize(delta), t.states[Rotate].start.Rotation))
	return current, true
}
