package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/spaceshare/internal/gesture"
)

// EventKind classifies a state change on a Device.
type EventKind int

const (
	// ScanningChanged fires when the registry enters or leaves Scanning.
	ScanningChanged EventKind = iota
	// CandidateChanged fires on every live preview update; high frequency.
	CandidateChanged
	// AnchorConfirmed fires when a candidate is committed.
	AnchorConfirmed
	// RegistryReset fires when all anchors are cleared.
	RegistryReset
	// PoseChanged fires for every intermediate manipulation update.
	PoseChanged
	// PosePlaced fires when the pose is set outright rather than manipulated.
	PosePlaced
	// GestureEnded fires when a manipulation gesture is released.
	GestureEnded
	// RemoteApplied fires when a peer's payload re-anchored the object.
	RemoteApplied
)

func (k EventKind) String() string {
	switch k {
	case ScanningChanged:
		return "scanning_changed"
	case CandidateChanged:
		return "candidate_changed"
	case AnchorConfirmed:
		return "anchor_confirmed"
	case RegistryReset:
		return "registry_reset"
	case PoseChanged:
		return "pose_changed"
	case PosePlaced:
		return "pose_placed"
	case GestureEnded:
		return "gesture_ended"
	case RemoteApplied:
		return "remote_applied"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event describes one state change. Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind
	Anchor   string
	Gesture  gesture.Kind
	Scanning bool
}

func (e Event) String() string {
	switch e.Kind {
	case ScanningChanged:
		return fmt.Sprintf("%s scanning=%t", e.Kind, e.Scanning)
	case AnchorConfirmed, CandidateChanged:
		return fmt.Sprintf("%s anchor=%s", e.Kind, e.Anchor)
	case GestureEnded:
		return fmt.Sprintf("%s gesture=%s", e.Kind, e.Gesture)
	default:
		return e.Kind.String()
	}
}

// Emitter receives every event synchronously, in order, after the Device
// lock has been released. Emit must not block for long.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(e).
func (f EmitterFunc) Emit(e Event) { f(e) }

// fanout delivers events to lossy channel subscribers, for debugging tails.
type fanout struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
}

func (f *fanout) subscribe() (string, chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, 64)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribers == nil {
		f.subscribers = make(map[string]chan Event)
	}
	f.subscribers[id] = ch
	return id, ch
}

func (f *fanout) unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

func (f *fanout) publish(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- e:
		default:
			// if the channel is full skip so as not to block the writer
		}
	}
}
