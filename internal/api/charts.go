package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/occupancy.report/internal/httputil"
)

const (
	defaultChartWindow = 15 * time.Minute
	defaultChartBucket = time.Minute
)

// handleOccupancyChart renders an HTML line chart of a zone's
// occupancy over a trailing window, replayed from the event journal.
// Query params:
//
//	zone_id (required)
//	window (optional duration, default 15m)
//	bucket (optional duration, default 1m)
func (s *Server) handleOccupancyChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "event journal not configured")
		return
	}

	zoneID := r.URL.Query().Get("zone_id")
	if zoneID == "" {
		httputil.BadRequest(w, "missing 'zone_id' parameter")
		return
	}

	window := defaultChartWindow
	if ws := r.URL.Query().Get("window"); ws != "" {
		d, err := time.ParseDuration(ws)
		if err != nil || d <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'window' %q", ws))
			return
		}
		window = d
	}

	bucket := defaultChartBucket
	if bs := r.URL.Query().Get("bucket"); bs != "" {
		d, err := time.ParseDuration(bs)
		if err != nil || d <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'bucket' %q", bs))
			return
		}
		bucket = d
	}
	if bucket > window {
		bucket = window
	}

	to := s.clock.Now().UTC()
	from := to.Add(-window)

	points, err := s.db.OccupancySeries(zoneID, from, to, bucket)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("occupancy series: %v", err))
		return
	}

	x := make([]string, 0, len(points))
	y := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		x = append(x, p.Bucket.Format("15:04:05"))
		y = append(y, opts.LineData{Value: p.Occupancy})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Zone Occupancy", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Occupancy: %s", zoneID),
			Subtitle: fmt.Sprintf("window=%s bucket=%s from=%s", window, bucket, from.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).AddSeries("occupancy", y)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
