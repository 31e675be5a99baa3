// Package anchor tracks the named fiducial markers a device has confirmed.
//
// A Registry runs the scan-acquisition state machine:
//
//	Idle --StartScanning--> Scanning --Commit (2nd anchor)--> Idle
//	  ^                                                          |
//	  +-------------------------- Reset -------------------------+
//
// While scanning, detections stream in through Observe. The first marker
// whose name is not yet confirmed becomes the candidate; Commit turns the
// candidate into a confirmed NamedAnchor using its last observed pose.
// Confirmed anchors are never overwritten and persist across scan sessions
// until Reset.
//
// A Registry is not safe for concurrent use; its owner serialises access.
package anchor

import (
	"github.com/banshee-data/spaceshare/internal/geom"
)

// RequiredAnchors is how many confirmed anchors alignment uses. Reaching it
// ends scanning.
const RequiredAnchors = 2

// NamedAnchor is a confirmed marker position in the device's local frame.
type NamedAnchor struct {
	Name     string
	Position geom.Vec
}

// Observation is one detection update for a visible marker.
type Observation struct {
	Name   string
	Pose   geom.Pose
	Extent geom.Vec
}

// ScanSession is the live preview of the marker currently being observed
// before it is committed.
type ScanSession struct {
	ActiveName string
	Pose       geom.Pose
	Extent     geom.Vec
}

// Registry holds the confirmed anchors of one device and the scan state.
type Registry struct {
	confirmed []NamedAnchor
	names     map[string]struct{}
	scanning  bool
	candidate *ScanSession
}

// NewRegistry returns an empty, idle registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// StartScanning enters the Scanning state. It is only valid while idle with
// fewer than RequiredAnchors confirmed; it reports whether the state changed.
func (r *Registry) StartScanning() bool {
	if r.scanning || len(r.confirmed) >= RequiredAnchors {
		return false
	}
	r.scanning = true
	return true
}

// Observe feeds one detection update. It reports whether the candidate
// preview changed. Observations are ignored while idle, and a name that is
// already confirmed can never become the candidate.
func (r *Registry) Observe(obs Observation) bool {
	if !r.scanning || obs.Name == "" {
		return false
	}
	if r.candidate == nil {
		if _, ok := r.names[obs.Name]; ok {
			return false
		}
		r.candidate = &ScanSession{ActiveName: obs.Name}
	}
	if r.candidate.ActiveName != obs.Name {
		return false
	}
	r.candidate.Pose = obs.Pose
	r.candidate.Extent = obs.Extent
	return true
}

// Leave clears the candidate if it is the named marker. It reports whether
// the candidate was cleared.
func (r *Registry) Leave(name string) bool {
	if r.candidate == nil || r.candidate.ActiveName != name {
		return false
	}
	r.candidate = nil
	return true
}

// Commit confirms the current candidate. It returns false when there is
// nothing to commit. Confirming the RequiredAnchors-th anchor ends scanning.
func (r *Registry) Commit() (NamedAnchor, bool) {
	if r.candidate == nil {
		return NamedAnchor{}, false
	}
	a := NamedAnchor{
		Name:     r.candidate.ActiveName,
		Position: r.candidate.Pose.Translation,
	}
	r.confirmed = append(r.confirmed, a)
	r.names[a.Name] = struct{}{}
	r.candidate = nil

	if len(r.confirmed) >= RequiredAnchors {
		r.scanning = false
	}
	return a, true
}

// Reset clears every confirmed anchor and the candidate and returns to Idle.
func (r *Registry) Reset() {
	r.confirmed = nil
	r.names = make(map[string]struct{})
	r.candidate = nil
	r.scanning = false
}

// IsScanning reports whether the registry is in the Scanning state.
func (r *Registry) IsScanning() bool { return r.scanning }

// Count returns the number of confirmed anchors.
func (r *Registry) Count() int { return len(r.confirmed) }

// Ready reports whether enough anchors are confirmed for alignment.
func (r *Registry) Ready() bool { return len(r.confirmed) >= RequiredAnchors }

// Confirmed returns a copy of the confirmed anchors in commit order.
func (r *Registry) Confirmed() []NamedAnchor {
	out := make([]NamedAnchor, len(r.confirmed))
	copy(out, r.confirmed)
	return out
}

// Candidate returns the live scan preview, if a marker is being observed.
func (r *Registry) Candidate() (ScanSession, bool) {
	if r.candidate == nil {
		return ScanSession{}, false
	}
	return *r.candidate, true
}

// Lookup returns the confirmed anchor with the given name.
func (r *Registry) Lookup(name string) (NamedAnchor, bool) {
	for _, a := range r.confirmed {
		if a.Name == name {
			return a, true
		}
	}
	return NamedAnchor{}, false
}

// LastTwo returns the two most recently confirmed anchors, oldest first.
func (r *Registry) LastTwo() ([2]NamedAnchor, bool) {
	n := len(r.confirmed)
	if n < 2 {
		return [2]NamedAnchor{}, false
	}
	return [2]NamedAnchor{r.confirmed[n-2], r.confirmed[n-1]}, true
}
