package testutil

import (
	"net/http"
	"testing"

	"github.com/banshee-data/spaceshare/internal/align"
	"github.com/banshee-data/spaceshare/internal/geom"
	"github.com/banshee-data/spaceshare/internal/wire"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

func TestLocalRequest(t *testing.T) {
	t.Parallel()
	req := LocalRequest(http.MethodGet, "/debug/", nil)
	if req.RemoteAddr != "127.0.0.1:12345" {
		t.Errorf("RemoteAddr = %q", req.RemoteAddr)
	}
}

func TestMustEncode_DecodesBack(t *testing.T) {
	t.Parallel()
	_, remote := QuarterTurn()
	b := MustEncode(t, wire.Payload{Anchors: remote, Pose: geom.IdentityPose()})
	p, err := wire.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(p.Anchors) != 2 {
		t.Errorf("anchors = %d, want 2", len(p.Anchors))
	}
}

func TestQuarterTurn_Aligns(t *testing.T) {
	t.Parallel()
	local, remote := QuarterTurn()

	res, err := align.Resolve(local, remote, geom.At(geom.Vec{Z: 0.5}))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	AssertVecNear(t, res.Pose.Translation, geom.Vec{X: 2.5, Z: 3}, 1e-9)
	if res.Residual > 1e-9 {
		t.Errorf("residual = %g, want 0", res.Residual)
	}
}
