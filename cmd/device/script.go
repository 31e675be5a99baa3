package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/spaceshare/internal/anchor"
	"github.com/banshee-data/spaceshare/internal/detect"
	"github.com/banshee-data/spaceshare/internal/fsutil"
	"github.com/banshee-data/spaceshare/internal/geom"
	"github.com/banshee-data/spaceshare/internal/gesture"
	"github.com/banshee-data/spaceshare/internal/monitoring"
	"github.com/banshee-data/spaceshare/internal/session"
	"github.com/banshee-data/spaceshare/internal/timeutil"
)

// step is one line of a device script, for example
//
//	{"op":"scan"}
//	{"op":"observe","name":"QR1","position":[0,0,0]}
//	{"op":"frame","markers":[{"name":"QR2","corners":[[..],[..],[..],[..]]}]}
//	{"op":"commit"}
//	{"op":"begin","gesture":"drag"}
//	{"op":"drag","offset":[0,0,0.5]}
//	{"op":"end","gesture":"drag"}
//	{"op":"sleep","duration":"1s"}
type step struct {
	Op         string         `json:"op"`
	Name       string         `json:"name,omitempty"`
	Position   *[3]float64    `json:"position,omitempty"`
	Markers    []scriptMarker `json:"markers,omitempty"`
	Offset     *[3]float64    `json:"offset,omitempty"`
	Factor     float64        `json:"factor,omitempty"`
	YawDegrees float64        `json:"yaw_degrees,omitempty"`
	Gesture    string         `json:"gesture,omitempty"`
	Duration   string         `json:"duration,omitempty"`

	line int
}

// scriptMarker is a detected marker with corners in top-left, top-right,
// bottom-left, bottom-right order.
type scriptMarker struct {
	Name    string        `json:"name"`
	Corners [4][3]float64 `json:"corners"`
}

var gestureKinds = map[string]gesture.Kind{
	"drag":   gesture.Drag,
	"scale":  gesture.Scale,
	"rotate": gesture.Rotate,
}

func vec(a [3]float64) geom.Vec { return geom.Vec{X: a[0], Y: a[1], Z: a[2]} }

// loadScript reads and parses the script at path.
func loadScript(fsys fsutil.FileSystem, path string) ([]step, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseScript(bytes.NewReader(data))
}

// parseScript reads one JSON step per line. Blank lines and lines starting
// with # are skipped.
func parseScript(r io.Reader) ([]step, error) {
	var steps []step
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var s step
		dec := json.NewDecoder(strings.NewReader(line))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		s.line = n
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		steps = append(steps, s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}

func (s step) validate() error {
	switch s.Op {
	case "scan", "commit", "reset":
	case "observe":
		if s.Name == "" || s.Position == nil {
			return fmt.Errorf("observe needs name and position")
		}
	case "leave":
		if s.Name == "" {
			return fmt.Errorf("leave needs name")
		}
	case "frame":
	case "place":
		if s.Position == nil {
			return fmt.Errorf("place needs position")
		}
	case "drag":
		if s.Offset == nil {
			return fmt.Errorf("drag needs offset")
		}
	case "scale":
		if s.Factor <= 0 {
			return fmt.Errorf("scale needs a positive factor")
		}
	case "rotate":
	case "begin", "end":
		if _, ok := gestureKinds[s.Gesture]; !ok {
			return fmt.Errorf("unknown gesture %q", s.Gesture)
		}
	case "sleep":
		if _, err := time.ParseDuration(s.Duration); err != nil {
			return fmt.Errorf("sleep: %w", err)
		}
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}

// runScript applies steps to d in order. Sleeps honour ctx.
func runScript(ctx context.Context, d *session.Device, differ *detect.FrameDiffer, clock timeutil.Clock, steps []step) error {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := apply(ctx, d, differ, clock, s); err != nil {
			return fmt.Errorf("line %d (%s): %w", s.line, s.Op, err)
		}
	}
	return nil
}

func apply(ctx context.Context, d *session.Device, differ *detect.FrameDiffer, clock timeutil.Clock, s step) error {
	switch s.Op {
	case "scan":
		if !d.StartScanning() {
			monitoring.Logf("[Script] scan ignored: already scanning or registry full")
		}
	case "observe":
		d.Observe(anchor.Observation{Name: s.Name, Pose: geom.At(vec(*s.Position))})
	case "leave":
		d.Leave(s.Name)
	case "frame":
		dets := make([]detect.Detection, 0, len(s.Markers))
		for _, m := range s.Markers {
			dets = append(dets, detect.Detection{Name: m.Name, Corners: detect.Corners{
				TopLeft:     vec(m.Corners[0]),
				TopRight:    vec(m.Corners[1]),
				BottomLeft:  vec(m.Corners[2]),
				BottomRight: vec(m.Corners[3]),
			}})
		}
		differ.Frame(dets)
	case "commit":
		if _, ok := d.Commit(); !ok {
			monitoring.Logf("[Script] commit ignored: no candidate")
		}
	case "reset":
		d.Reset()
	case "place":
		p := d.Pose()
		p.Translation = vec(*s.Position)
		return d.SetPose(p)
	case "begin":
		if !d.BeginGesture(gestureKinds[s.Gesture]) {
			monitoring.Logf("[Script] begin ignored: %s already active", s.Gesture)
		}
	case "drag":
		if _, ok := d.Drag(vec(*s.Offset)); !ok {
			monitoring.Logf("[Script] drag ignored: no active drag gesture")
		}
	case "scale":
		if _, ok := d.Scale(s.Factor); !ok {
			monitoring.Logf("[Script] scale ignored: no active scale gesture")
		}
	case "rotate":
		if _, ok := d.Rotate(geom.YawQuat(s.YawDegrees * math.Pi / 180)); !ok {
			monitoring.Logf("[Script] rotate ignored: no active rotate gesture")
		}
	case "end":
		d.EndGesture(gestureKinds[s.Gesture])
	case "sleep":
		dur, _ := time.ParseDuration(s.Duration)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(dur):
		}
	}
	return nil
}
