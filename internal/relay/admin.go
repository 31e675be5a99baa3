package relay

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/spaceshare/internal/httputil"
	"github.com/banshee-data/spaceshare/internal/security"
	"github.com/banshee-data/spaceshare/internal/wire"
)

// AttachAdminRoutes registers relay debug pages on mux.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Top-down view of the latest payload in a room.
	// Query params:
	//   - room (optional; default "default")
	debug.HandleFunc("space-chart", "X/Z chart of the latest payload in a room", s.handleSpaceChart)
}

func (s *Server) handleSpaceChart(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		room = "default"
	}
	if err := security.ValidateRoomName(room); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	rec, err := s.store.Get(r.Context(), room)
	if errors.Is(err, ErrNotFound) {
		httputil.NotFound(w, "no payload for space")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	p, err := wire.Decode(rec.Body)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("stored payload is invalid: %v", err))
		return
	}

	maxAbs := 0.0
	track := func(x, z float64) {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(x), math.Abs(z)))
	}

	anchors := make([]opts.ScatterData, 0, len(p.Anchors))
	for _, a := range p.Anchors {
		track(a.Position.X, a.Position.Z)
		anchors = append(anchors, opts.ScatterData{Name: a.Name, Value: []interface{}{a.Position.X, a.Position.Z}})
	}
	t := p.Pose.Translation
	track(t.X, t.Z)
	object := []opts.ScatterData{{Name: "object", Value: []interface{}{t.X, t.Z}}}

	pad := maxAbs * 1.2
	if pad == 0 {
		pad = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Shared space", Width: "720px", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Space %q", room),
			Subtitle: fmt.Sprintf("device=%s stored=%s", rec.DeviceID, rec.StoredAt.Format("15:04:05.000")),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Z (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("anchors", anchors, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	scatter.AddSeries("object", object, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 18}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
