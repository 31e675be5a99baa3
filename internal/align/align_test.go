package align

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spaceshare/internal/anchor"
	"github.com/banshee-data/spaceshare/internal/geom"
)

func TestAlign_QuarterTurnScenario(t *testing.T) {
	local := [2]geom.Vec{{}, {X: 1}}
	remote := [2]geom.Vec{{}, {Z: 1}}

	frame, err := Align(local, remote)
	require.NoError(t, err)

	assert.InDelta(t, math.Pi/2, math.Abs(geom.YawAngle(frame.Rotation)), 1e-9)
	// Remote B direction lands on local B direction.
	assert.True(t, geom.VecApproxEqual(frame.Apply(remote[1]), local[1], 1e-9),
		"remote B maps to %+v, want %+v", frame.Apply(remote[1]), local[1])
	assert.True(t, geom.VecApproxEqual(frame.Apply(remote[0]), local[0], 1e-9))
}

func TestAlign_RemoteAnchorAtOrigin(t *testing.T) {
	frame, err := Align([2]geom.Vec{{X: 2, Z: 3}, {X: 3, Z: 3}}, [2]geom.Vec{{}, {X: 1}})
	require.NoError(t, err)

	assert.True(t, geom.IsFinite(frame.Translation), "translation must stay finite for an origin anchor")
	assert.True(t, geom.VecApproxEqual(frame.Translation, geom.Vec{X: 2, Z: 3}, 1e-9))
}

func TestAlign_MatchesDistanceNormalisedFormula(t *testing.T) {
	local := [2]geom.Vec{{X: 1, Y: 0.2, Z: -1}, {X: 2.5, Y: 0.1, Z: 0.5}}
	remote := [2]geom.Vec{{X: -3, Y: 0.4, Z: 2}, {X: -1, Y: 0.3, Z: 4}}

	frame, err := Align(local, remote)
	require.NoError(t, err)

	rotated := geom.Rotate(frame.Rotation, remote[0])
	n := math.Sqrt(rotated.X*rotated.X + rotated.Y*rotated.Y + rotated.Z*rotated.Z)
	m := math.Sqrt(remote[0].X*remote[0].X + remote[0].Y*remote[0].Y + remote[0].Z*remote[0].Z)
	normalised := geom.Vec{
		X: local[0].X - rotated.X/n*m,
		Y: local[0].Y - rotated.Y/n*m,
		Z: local[0].Z - rotated.Z/n*m,
	}
	assert.True(t, geom.VecApproxEqual(frame.Translation, normalised, 1e-9))
}

func TestAlign_Degenerate(t *testing.T) {
	tests := []struct {
		name          string
		local, remote [2]geom.Vec
	}{
		{"coincident local", [2]geom.Vec{{X: 1}, {X: 1}}, [2]geom.Vec{{}, {X: 1}}},
		{"coincident remote", [2]geom.Vec{{}, {X: 1}}, [2]geom.Vec{{Z: 2}, {Z: 2}}},
		{"vertically stacked", [2]geom.Vec{{}, {Y: 1}}, [2]geom.Vec{{}, {X: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Align(tt.local, tt.remote)
			assert.True(t, errors.Is(err, geom.ErrDegenerate), "err = %v", err)
		})
	}
}

// Remote anchors are R·A+T of the local ones; aligning must undo (R,T) for
// the object pose as well.
func TestResolve_RoundTripLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	randVec := func() geom.Vec {
		return geom.Vec{X: rng.Float64()*10 - 5, Y: rng.Float64()*2 - 1, Z: rng.Float64()*10 - 5}
	}

	for i := 0; i < 200; i++ {
		a, b := randVec(), randVec()
		if math.Hypot(a.X-b.X, a.Z-b.Z) < 0.05 {
			continue
		}
		offset := geom.Transform{Rotation: geom.YawQuat(rng.Float64()*2*math.Pi - math.Pi), Translation: randVec()}

		local := []anchor.NamedAnchor{{Name: "QR1", Position: a}, {Name: "QR2", Position: b}}
		remote := []anchor.NamedAnchor{
			{Name: "QR2", Position: offset.Apply(b)},
			{Name: "QR1", Position: offset.Apply(a)},
		}
		remotePose := geom.Pose{
			Rotation:    geom.YawQuat(rng.Float64()),
			Translation: randVec(),
			Scale:       geom.Vec{X: 1.5, Y: 1.5, Z: 1.5},
		}

		res, err := Resolve(local, remote, remotePose)
		require.NoError(t, err)

		want := offset.Inverse().ApplyPose(remotePose)
		if !res.Pose.ApproxEqual(want, 1e-6) {
			t.Fatalf("case %d: pose = %+v, want %+v", i, res.Pose, want)
		}
		assert.InDelta(t, 0, res.Residual, 1e-6)
		assert.Equal(t, [2]string{"QR1", "QR2"}, res.Names)
	}
}

func TestResolve_ResidualReportsSeparationMismatch(t *testing.T) {
	local := []anchor.NamedAnchor{{Name: "A", Position: geom.Vec{}}, {Name: "B", Position: geom.Vec{X: 1}}}
	remote := []anchor.NamedAnchor{{Name: "A", Position: geom.Vec{}}, {Name: "B", Position: geom.Vec{X: 1.2}}}

	res, err := Resolve(local, remote, geom.IdentityPose())
	require.NoError(t, err)
	assert.InDelta(t, 0.2, res.Residual, 1e-9)
}

func TestMatch(t *testing.T) {
	local := []anchor.NamedAnchor{
		{Name: "OLD", Position: geom.Vec{X: 9}},
		{Name: "A", Position: geom.Vec{X: 1}},
		{Name: "B", Position: geom.Vec{X: 2}},
	}

	t.Run("uses the two most recent local anchors", func(t *testing.T) {
		remote := []anchor.NamedAnchor{
			{Name: "B", Position: geom.Vec{Z: 2}},
			{Name: "X", Position: geom.Vec{Z: 5}},
			{Name: "A", Position: geom.Vec{Z: 1}},
		}
		names, l, r, err := Match(local, remote)
		require.NoError(t, err)
		assert.Equal(t, [2]string{"A", "B"}, names)
		assert.Equal(t, [2]geom.Vec{{X: 1}, {X: 2}}, l)
		assert.Equal(t, [2]geom.Vec{{Z: 1}, {Z: 2}}, r)
	})

	t.Run("missing name", func(t *testing.T) {
		remote := []anchor.NamedAnchor{{Name: "A"}, {Name: "OLD"}}
		_, _, _, err := Match(local, remote)
		assert.ErrorIs(t, err, ErrNoMatch)
	})

	t.Run("too few anchors", func(t *testing.T) {
		_, _, _, err := Match(local[:1], local)
		assert.ErrorIs(t, err, ErrInsufficientAnchors)
		_, _, _, err = Match(local, local[:1])
		assert.ErrorIs(t, err, ErrInsufficientAnchors)
	})
}
