package session

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spaceshare/internal/align"
	"github.com/banshee-data/spaceshare/internal/anchor"
	"github.com/banshee-data/spaceshare/internal/geom"
	"github.com/banshee-data/spaceshare/internal/gesture"
	"github.com/banshee-data/spaceshare/internal/timeutil"
	"github.com/banshee-data/spaceshare/internal/wire"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func observe(name string, p geom.Vec) anchor.Observation {
	return anchor.Observation{Name: name, Pose: geom.At(p), Extent: geom.Vec{X: 0.1, Z: 0.1}}
}

// confirm scans and commits the given anchors in order.
func confirm(t *testing.T, d *Device, anchors ...anchor.NamedAnchor) {
	t.Helper()
	for _, a := range anchors {
		if !d.Snapshot().Scanning {
			require.True(t, d.StartScanning())
		}
		d.Observe(observe(a.Name, a.Position))
		_, ok := d.Commit()
		require.True(t, ok, "commit %s", a.Name)
	}
}

func TestDevice_ScanLifecycleEvents(t *testing.T) {
	d := NewDevice("dev-a")
	rec := &recorder{}
	d.Attach(rec)

	require.True(t, d.StartScanning())
	assert.False(t, d.StartScanning(), "second start while scanning is rejected")

	d.Observe(observe("QR1", geom.Vec{X: 1}))
	a, ok := d.Commit()
	require.True(t, ok)
	assert.Equal(t, "QR1", a.Name)
	assert.True(t, d.Snapshot().Scanning, "still scanning after the first anchor")

	d.Observe(observe("QR2", geom.Vec{X: 2}))
	_, ok = d.Commit()
	require.True(t, ok)

	snap := d.Snapshot()
	assert.False(t, snap.Scanning)
	assert.True(t, snap.Ready())
	assert.Equal(t, []EventKind{
		ScanningChanged,
		CandidateChanged,
		AnchorConfirmed,
		CandidateChanged,
		AnchorConfirmed,
		ScanningChanged,
	}, rec.kinds())
}

func TestDevice_ObserveWhileIdleIsIgnored(t *testing.T) {
	d := NewDevice("dev-a")
	rec := &recorder{}
	d.Attach(rec)

	d.Observe(observe("QR1", geom.Vec{}))
	_, ok := d.Commit()
	assert.False(t, ok)
	assert.Empty(t, rec.kinds())
	assert.Nil(t, d.Snapshot().Candidate)
}

func TestDevice_ResetClearsAlignment(t *testing.T) {
	d := NewDevice("dev-a")
	confirm(t, d,
		anchor.NamedAnchor{Name: "A", Position: geom.Vec{}},
		anchor.NamedAnchor{Name: "B", Position: geom.Vec{X: 1}},
	)
	_, err := d.ApplyRemote(wire.Payload{
		Anchors: []anchor.NamedAnchor{{Name: "A"}, {Name: "B", Position: geom.Vec{Z: 1}}},
		Pose:    geom.IdentityPose(),
	})
	require.NoError(t, err)
	require.True(t, d.Snapshot().Aligned)

	rec := &recorder{}
	d.Attach(rec)
	d.Reset()

	snap := d.Snapshot()
	assert.Zero(t, len(snap.Anchors))
	assert.False(t, snap.Aligned)
	assert.Empty(t, snap.RemoteAnchors)
	assert.Equal(t, []EventKind{RegistryReset}, rec.kinds())

	require.True(t, d.StartScanning())
	rec.reset()
	d.Reset()
	assert.Equal(t, []EventKind{RegistryReset, ScanningChanged}, rec.kinds())
}

func TestDevice_GesturesAreAbsoluteAndEmit(t *testing.T) {
	d := NewDevice("dev-a", WithInitialPose(geom.At(geom.Vec{X: 1})))
	rec := &recorder{}
	d.Attach(rec)

	_, ok := d.Drag(geom.Vec{Z: 0.5})
	require.False(t, ok, "drag without begin must be ignored")

	require.True(t, d.BeginGesture(gesture.Drag))
	_, ok = d.Drag(geom.Vec{Z: 0.5})
	require.True(t, ok)
	p, ok := d.Drag(geom.Vec{Z: 1})
	require.True(t, ok)
	assert.True(t, geom.VecApproxEqual(p.Translation, geom.Vec{X: 1, Z: 1}, 1e-12),
		"drag is relative to the gesture start, got %+v", p.Translation)
	assert.True(t, d.IsManipulating())

	require.True(t, d.EndGesture(gesture.Drag))
	assert.False(t, d.IsManipulating())
	assert.False(t, d.EndGesture(gesture.Drag))

	require.True(t, d.BeginGesture(gesture.Scale))
	p, ok = d.Scale(2)
	require.True(t, ok)
	assert.InDelta(t, 2, p.Scale.X, 1e-12)
	_, ok = d.Scale(-1)
	assert.False(t, ok)
	d.EndGesture(gesture.Scale)

	require.True(t, d.BeginGesture(gesture.Rotate))
	p, ok = d.Rotate(geom.YawQuat(math.Pi / 2))
	require.True(t, ok)
	assert.InDelta(t, math.Pi/2, geom.YawAngle(p.Rotation), 1e-9)
	d.EndGesture(gesture.Rotate)

	assert.Equal(t, []EventKind{
		PoseChanged, PoseChanged, GestureEnded,
		PoseChanged, GestureEnded,
		PoseChanged, GestureEnded,
	}, rec.kinds())
}

func TestDevice_UpdateAfterEndIsIgnored(t *testing.T) {
	d := NewDevice("dev-a")
	confirm(t, d, anchor.NamedAnchor{Name: "A"}, anchor.NamedAnchor{Name: "B", Position: geom.Vec{Z: 1}})
	rec := &recorder{}
	d.Attach(rec)

	require.True(t, d.BeginGesture(gesture.Drag))
	_, ok := d.Drag(geom.Vec{X: 0.5})
	require.True(t, ok)
	require.True(t, d.EndGesture(gesture.Drag))

	p, ok := d.Drag(geom.Vec{X: 0.5})
	assert.False(t, ok)
	assert.True(t, geom.VecApproxEqual(p.Translation, geom.Vec{X: 0.5}, 1e-12),
		"stray update moved the object to %+v", p.Translation)
	assert.False(t, d.IsManipulating())
	assert.Equal(t, []EventKind{PoseChanged, GestureEnded}, rec.kinds())

	_, err := d.ApplyRemote(wire.Payload{
		Anchors: []anchor.NamedAnchor{{Name: "A"}, {Name: "B", Position: geom.Vec{Z: 1}}},
		Pose:    geom.IdentityPose(),
	})
	assert.NoError(t, err)
}

func TestDevice_SetPose(t *testing.T) {
	d := NewDevice("dev-a")
	rec := &recorder{}
	d.Attach(rec)

	require.NoError(t, d.SetPose(geom.At(geom.Vec{Y: 1})))
	assert.Equal(t, geom.Vec{Y: 1}, d.Pose().Translation)
	assert.Equal(t, []EventKind{PosePlaced}, rec.kinds())

	bad := geom.IdentityPose()
	bad.Scale = geom.Vec{}
	assert.Error(t, d.SetPose(bad))
	assert.Len(t, rec.kinds(), 1)
}

func TestDevice_ApplyRemoteQuarterTurn(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	d := NewDevice("dev-b", WithClock(clock))
	confirm(t, d,
		anchor.NamedAnchor{Name: "A", Position: geom.Vec{}},
		anchor.NamedAnchor{Name: "B", Position: geom.Vec{X: 1}},
	)
	rec := &recorder{}
	d.Attach(rec)

	res, err := d.ApplyRemote(wire.Payload{
		Anchors: []anchor.NamedAnchor{
			{Name: "B", Position: geom.Vec{Z: 1}},
			{Name: "A", Position: geom.Vec{}},
		},
		Pose: geom.At(geom.Vec{Z: 1}),
	})
	require.NoError(t, err)
	assert.Equal(t, [2]string{"A", "B"}, res.Names)
	assert.InDelta(t, 0, res.Residual, 1e-9)

	snap := d.Snapshot()
	assert.True(t, snap.Aligned)
	assert.Equal(t, clock.Now(), snap.AlignedAt)
	assert.True(t, geom.VecApproxEqual(snap.Pose.Translation, geom.Vec{X: 1}, 1e-9),
		"object should land on local B, got %+v", snap.Pose.Translation)
	assert.Len(t, snap.RemoteAnchors, 2)
	assert.Equal(t, []EventKind{RemoteApplied}, rec.kinds())
}

func TestDevice_ApplyRemotePreconditions(t *testing.T) {
	remote := wire.Payload{
		Anchors: []anchor.NamedAnchor{{Name: "A"}, {Name: "B", Position: geom.Vec{X: 1}}},
		Pose:    geom.At(geom.Vec{X: 5}),
	}

	t.Run("not ready", func(t *testing.T) {
		d := NewDevice("dev")
		confirm(t, d, anchor.NamedAnchor{Name: "A"})
		before := d.Snapshot()

		_, err := d.ApplyRemote(remote)
		assert.ErrorIs(t, err, ErrNotReady)
		assert.Equal(t, before, d.Snapshot())
	})

	t.Run("manipulating", func(t *testing.T) {
		d := NewDevice("dev")
		confirm(t, d, anchor.NamedAnchor{Name: "A"}, anchor.NamedAnchor{Name: "B", Position: geom.Vec{X: 1}})
		require.True(t, d.BeginGesture(gesture.Drag))

		_, err := d.ApplyRemote(remote)
		assert.ErrorIs(t, err, ErrManipulating)
		assert.Equal(t, geom.Vec{}, d.Pose().Translation)
	})

	t.Run("name mismatch", func(t *testing.T) {
		d := NewDevice("dev")
		confirm(t, d, anchor.NamedAnchor{Name: "A"}, anchor.NamedAnchor{Name: "C", Position: geom.Vec{X: 1}})

		_, err := d.ApplyRemote(remote)
		assert.True(t, errors.Is(err, align.ErrNoMatch), "got %v", err)
		assert.False(t, d.Snapshot().Aligned)
	})

	t.Run("degenerate", func(t *testing.T) {
		d := NewDevice("dev")
		confirm(t, d, anchor.NamedAnchor{Name: "A"}, anchor.NamedAnchor{Name: "B", Position: geom.Vec{Y: 1}})

		_, err := d.ApplyRemote(remote)
		assert.ErrorIs(t, err, geom.ErrDegenerate)
		assert.Equal(t, geom.Vec{}, d.Pose().Translation)
	})
}

func TestDevice_SubscribeTail(t *testing.T) {
	d := NewDevice("dev")
	id, ch := d.Subscribe()

	d.StartScanning()
	select {
	case ev := <-ch:
		assert.Equal(t, ScanningChanged, ev.Kind)
		assert.Equal(t, "scanning_changed scanning=true", ev.String())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	d.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok, "channel closed after unsubscribe")
}

func TestDevice_ConcurrentInputs(t *testing.T) {
	d := NewDevice("dev")
	confirm(t, d, anchor.NamedAnchor{Name: "A"}, anchor.NamedAnchor{Name: "B", Position: geom.Vec{X: 1}})
	remote := wire.Payload{
		Anchors: []anchor.NamedAnchor{{Name: "A"}, {Name: "B", Position: geom.Vec{Z: 1}}},
		Pose:    geom.IdentityPose(),
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.BeginGesture(gesture.Drag)
			for j := 0; j < 50; j++ {
				d.Drag(geom.Vec{X: float64(j)})
			}
			d.EndGesture(gesture.Drag)
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = d.ApplyRemote(remote)
				_ = d.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.True(t, d.Pose().IsValid())
}
