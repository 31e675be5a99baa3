package session

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/spaceshare/internal/anchor"
	"github.com/banshee-data/spaceshare/internal/geom"
	"github.com/banshee-data/spaceshare/internal/httputil"
	"github.com/banshee-data/spaceshare/internal/plotting"
)

type poseView struct {
	Rotation    [4]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
	Scale       [3]float64 `json:"scale"`
	YawDegrees  float64    `json:"yaw_degrees"`
}

type anchorView struct {
	Name     string     `json:"name"`
	Position [3]float64 `json:"position"`
}

type stateView struct {
	DeviceID      string       `json:"device_id"`
	Scanning      bool         `json:"scanning"`
	Candidate     string       `json:"candidate,omitempty"`
	Anchors       []anchorView `json:"anchors"`
	RemoteAnchors []anchorView `json:"remote_anchors,omitempty"`
	Pose          poseView     `json:"pose"`
	Frame         poseView     `json:"frame"`
	Manipulating  bool         `json:"manipulating"`
	Aligned       bool         `json:"aligned"`
	AlignedAt     *time.Time   `json:"aligned_at,omitempty"`
}

func vec3(v geom.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func viewPose(p geom.Pose) poseView {
	q := p.Rotation
	return poseView{
		Rotation:    [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real},
		Translation: vec3(p.Translation),
		Scale:       vec3(p.Scale),
		YawDegrees:  geom.YawAngle(q) * 180 / math.Pi,
	}
}

func viewAnchors(in []anchor.NamedAnchor) []anchorView {
	out := make([]anchorView, 0, len(in))
	for _, a := range in {
		out = append(out, anchorView{Name: a.Name, Position: vec3(a.Position)})
	}
	return out
}

func (s Snapshot) view() stateView {
	v := stateView{
		DeviceID:     s.DeviceID,
		Scanning:     s.Scanning,
		Anchors:      viewAnchors(s.Anchors),
		Pose:         viewPose(s.Pose),
		Frame:        viewPose(geom.Pose{Rotation: s.Frame.Rotation, Translation: s.Frame.Translation, Scale: geom.Vec{X: 1, Y: 1, Z: 1}}),
		Manipulating: s.Manipulating,
		Aligned:      s.Aligned,
	}
	if s.Candidate != nil {
		v.Candidate = s.Candidate.ActiveName
	}
	if len(s.RemoteAnchors) > 0 {
		v.RemoteAnchors = viewAnchors(s.RemoteAnchors)
	}
	if s.Aligned {
		at := s.AlignedAt
		v.AlignedAt = &at
	}
	return v
}

// AttachAdminRoutes registers the device debug pages on mux.
func (d *Device) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("session", "shared-space session state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSONOK(w, d.Snapshot().view())
	})

	debug.HandleFunc("alignment.svg", "top-down plot of local and aligned remote anchors", func(w http.ResponseWriter, r *http.Request) {
		snap := d.Snapshot()
		pose := snap.Pose
		p, err := plotting.AlignmentPlot(plotting.Scene{
			Title:  fmt.Sprintf("%s alignment", snap.DeviceID),
			Local:  snap.Anchors,
			Remote: snap.RemoteAnchors,
			Frame:  snap.Frame,
			Object: &pose,
		})
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		if err := plotting.WriteSVG(w, p, plotting.DefaultWidth, plotting.DefaultHeight); err != nil {
			httputil.InternalServerError(w, err.Error())
		}
	})

	// Server-sent events for every session event.
	debug.HandleSilentFunc("session-events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := d.Subscribe()
		defer d.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case ev, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", ev); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
