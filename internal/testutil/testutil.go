// Package testutil provides shared test helpers and fixtures.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/spaceshare/internal/anchor"
	"github.com/banshee-data/spaceshare/internal/geom"
	"github.com/banshee-data/spaceshare/internal/wire"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertVecNear fails the test if got and want differ by more than tol on
// any axis.
func AssertVecNear(t testing.TB, got, want geom.Vec, tol float64) {
	t.Helper()
	if !geom.VecApproxEqual(got, want, tol) {
		t.Errorf("vector = %+v, want %+v (tol %g)", got, want, tol)
	}
}

// LocalRequest creates a test request that appears to come from loopback,
// which the tsweb debug handlers require.
func LocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// MustEncode encodes p or fails the test.
func MustEncode(t testing.TB, p wire.Payload) []byte {
	t.Helper()
	b, err := wire.Encode(p)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return b
}

// QuarterTurn returns two devices' views of the same two markers, QR1 and
// QR2. The remote frame is the local frame turned a quarter turn about the
// vertical axis and shifted, so the remote QR2 lies along +Z where the local
// one lies along +X.
func QuarterTurn() (local, remote []anchor.NamedAnchor) {
	local = []anchor.NamedAnchor{
		{Name: "QR1", Position: geom.Vec{X: 2, Z: 3}},
		{Name: "QR2", Position: geom.Vec{X: 3, Z: 3}},
	}
	remote = []anchor.NamedAnchor{
		{Name: "QR1", Position: geom.Vec{}},
		{Name: "QR2", Position: geom.Vec{Z: 1}},
	}
	return local, remote
}
