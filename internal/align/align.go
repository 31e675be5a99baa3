// Package align derives the rigid transform that maps a peer device's
// coordinate frame onto the local one from two shared anchors.
//
// Both devices track with gravity-aligned vertical axes, so only a yaw
// correction plus a translation is needed. Everything here is pure.
package align

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/spaceshare/internal/anchor"
	"github.com/banshee-data/spaceshare/internal/geom"
)

var (
	// ErrInsufficientAnchors means one side holds fewer than two anchors.
	ErrInsufficientAnchors = errors.New("fewer than two anchors")
	// ErrNoMatch means the remote side lacks one of the local anchor names.
	ErrNoMatch = errors.New("remote anchors do not match local anchors")
)

// Result is the outcome of aligning one remote payload.
type Result struct {
	// Names are the two anchor names used, in local commit order.
	Names [2]string
	// Frame maps remote-frame coordinates into the local frame.
	Frame geom.Transform
	// Pose is the remote object pose re-expressed in the local frame.
	Pose geom.Pose
	// Residual is the distance between the second local anchor and the
	// aligned second remote anchor. It is zero when both devices measured
	// the same anchor separation.
	Residual float64
}

// Align returns the transform taking remote coordinates to local ones given
// the same two anchors measured on each side. The rotation is the yaw that
// maps the planar remote A→B direction onto the local one; the translation
// lands the rotated remote A exactly on local A.
func Align(local, remote [2]geom.Vec) (geom.Transform, error) {
	rot, err := geom.YawBetween(r3.Sub(remote[0], remote[1]), r3.Sub(local[0], local[1]))
	if err != nil {
		return geom.Transform{}, fmt.Errorf("failed to derive yaw: %w", err)
	}
	return geom.Transform{
		Rotation:    rot,
		Translation: r3.Sub(local[0], geom.Rotate(rot, remote[0])),
	}, nil
}

// Match pairs the two most recently confirmed local anchors with the remote
// anchors of the same names. Remote order does not matter.
func Match(local, remote []anchor.NamedAnchor) (names [2]string, l, r [2]geom.Vec, err error) {
	if len(local) < 2 || len(remote) < 2 {
		return names, l, r, ErrInsufficientAnchors
	}
	pair := local[len(local)-2:]
	for i, a := range pair {
		found := false
		for _, ra := range remote {
			if ra.Name == a.Name {
				r[i] = ra.Position
				found = true
				break
			}
		}
		if !found {
			return names, l, r, fmt.Errorf("%w: missing %q", ErrNoMatch, a.Name)
		}
		names[i] = a.Name
		l[i] = a.Position
	}
	return names, l, r, nil
}

// Resolve matches anchors, aligns the frames and re-expresses the remote
// object pose locally.
func Resolve(local, remote []anchor.NamedAnchor, remotePose geom.Pose) (Result, error) {
	names, l, r, err := Match(local, remote)
	if err != nil {
		return Result{}, err
	}
	frame, err := Align(l, r)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Names:    names,
		Frame:    frame,
		Pose:     frame.ApplyPose(remotePose),
		Residual: r3.Norm(r3.Sub(frame.Apply(r[1]), l[1])),
	}, nil
}
