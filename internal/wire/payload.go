// Package wire encodes and decodes the alignment payload exchanged through
// the relay.
//
// The JSON shape is
//
//	{
//	  "qrPositions": [{"name": "QR1", "position": [x, y, z]}, ...],
//	  "objectPose": {"rotation": [x, y, z, w], "translation": [x, y, z], "scale": [x, y, z]},
//	  "spherePosition": [x, y, z],
//	  "deviceId": "..."
//	}
//
// "spherePosition" mirrors the object translation for older clients that only
// understand a bare position. On decode, "objectPose" may instead carry a
// column-major 4x4 "transform", and a payload with only "spherePosition" is
// read as an unrotated, unit-scale pose.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/spaceshare/internal/anchor"
	"github.com/banshee-data/spaceshare/internal/geom"
)

// ContentType is the media type of an encoded payload.
const ContentType = "application/json"

// ErrInvalidPayload is returned for payloads that cannot be used for alignment.
var ErrInvalidPayload = errors.New("invalid alignment payload")

// Payload is one snapshot of a device's anchors and shared object pose. It
// carries no sequence number; it is only as fresh as its transmission.
type Payload struct {
	Anchors  []anchor.NamedAnchor
	Pose     geom.Pose
	DeviceID string
}

type jsonAnchor struct {
	Name     string     `json:"name"`
	Position [3]float64 `json:"position"`
}

type jsonPose struct {
	Rotation    *[4]float64  `json:"rotation,omitempty"`
	Translation *[3]float64  `json:"translation,omitempty"`
	Scale       *[3]float64  `json:"scale,omitempty"`
	Transform   *[16]float64 `json:"transform,omitempty"`
}

type jsonPayload struct {
	QRPositions    []jsonAnchor `json:"qrPositions"`
	ObjectPose     *jsonPose    `json:"objectPose,omitempty"`
	SpherePosition *[3]float64  `json:"spherePosition,omitempty"`
	DeviceID       string       `json:"deviceId,omitempty"`
}

func vecArray(v geom.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }
func arrayVec(a [3]float64) geom.Vec { return geom.Vec{X: a[0], Y: a[1], Z: a[2]} }

// Encode validates p and renders it as JSON.
func Encode(p Payload) ([]byte, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	q := geom.Normalize(p.Pose.Rotation)
	rot := [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real}
	tr := vecArray(p.Pose.Translation)
	sc := vecArray(p.Pose.Scale)

	out := jsonPayload{
		QRPositions:    make([]jsonAnchor, 0, len(p.Anchors)),
		ObjectPose:     &jsonPose{Rotation: &rot, Translation: &tr, Scale: &sc},
		SpherePosition: &tr,
		DeviceID:       p.DeviceID,
	}
	for _, a := range p.Anchors {
		out.QRPositions = append(out.QRPositions, jsonAnchor{Name: a.Name, Position: vecArray(a.Position)})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// Decode parses and validates a payload.
func Decode(data []byte) (Payload, error) {
	var in jsonPayload
	if err := json.Unmarshal(data, &in); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	p := Payload{
		Anchors:  make([]anchor.NamedAnchor, 0, len(in.QRPositions)),
		DeviceID: in.DeviceID,
	}
	for _, a := range in.QRPositions {
		p.Anchors = append(p.Anchors, anchor.NamedAnchor{Name: a.Name, Position: arrayVec(a.Position)})
	}

	pose, err := decodePose(in)
	if err != nil {
		return Payload{}, err
	}
	p.Pose = pose

	if err := Validate(p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

func decodePose(in jsonPayload) (geom.Pose, error) {
	jp := in.ObjectPose
	switch {
	case jp == nil && in.SpherePosition != nil:
		return geom.At(arrayVec(*in.SpherePosition)), nil
	case jp == nil:
		return geom.Pose{}, fmt.Errorf("%w: missing objectPose", ErrInvalidPayload)
	case jp.Transform != nil:
		pose, err := geom.PoseFromMatrix(geom.Transpose4(*jp.Transform))
		if err != nil {
			return geom.Pose{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return pose, nil
	}

	pose := geom.IdentityPose()
	if jp.Rotation != nil {
		r := *jp.Rotation
		q := quat.Number{Imag: r[0], Jmag: r[1], Kmag: r[2], Real: r[3]}
		if quat.Abs(q) < geom.Epsilon {
			return geom.Pose{}, fmt.Errorf("%w: zero rotation quaternion", ErrInvalidPayload)
		}
		pose.Rotation = geom.Normalize(q)
	}
	switch {
	case jp.Translation != nil:
		pose.Translation = arrayVec(*jp.Translation)
	case in.SpherePosition != nil:
		pose.Translation = arrayVec(*in.SpherePosition)
	}
	if jp.Scale != nil {
		pose.Scale = arrayVec(*jp.Scale)
	}
	return pose, nil
}

// Validate checks that p can be used for alignment: at least two anchors
// with unique non-empty names, finite positions and a valid pose.
func Validate(p Payload) error {
	if len(p.Anchors) < anchor.RequiredAnchors {
		return fmt.Errorf("%w: %d anchors, need at least %d", ErrInvalidPayload, len(p.Anchors), anchor.RequiredAnchors)
	}
	seen := make(map[string]struct{}, len(p.Anchors))
	for _, a := range p.Anchors {
		if a.Name == "" {
			return fmt.Errorf("%w: anchor with empty name", ErrInvalidPayload)
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("%w: duplicate anchor %q", ErrInvalidPayload, a.Name)
		}
		seen[a.Name] = struct{}{}
		if !geom.IsFinite(a.Position) {
			return fmt.Errorf("%w: anchor %q has a non-finite position", ErrInvalidPayload, a.Name)
		}
	}
	if !p.Pose.IsValid() {
		return fmt.Errorf("%w: object pose is not a valid scaled rigid pose", ErrInvalidPayload)
	}
	return nil
}
