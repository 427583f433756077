// Package chart renders tag trend charts and their statistics table.
package chart

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/vjranagit/qualitytrend/pkg/stats"
	"github.com/vjranagit/qualitytrend/pkg/types"
)

// ErrNotEnoughData is returned when a series has fewer than two valued samples
var ErrNotEnoughData = errors.New("not enough data to chart")

// Panel is one tag with its samples
type Panel = types.PanelTag

// Format selects the output encoding
type Format int

const (
	PNG Format = iota
	SVG
)

// Options controls chart rendering
type Options struct {
	Width  int
	Height int
	Format Format
}

const namePrefix = "Root.LAB."

var (
	dataColor      = drawing.ColorFromHex("3b82f6")
	specColor      = drawing.ColorFromHex("1d4ed8")
	guaranteeColor = drawing.ColorFromHex("dc2626")
)

// DisplayName strips the historian path prefix from a tag name
func DisplayName(tag string) string {
	return strings.TrimPrefix(tag, namePrefix)
}

// Render draws the trend of a panel and returns its statistics. Null samples split the data
// line; limits are drawn across the whole range, specification limits dashed blue and
// guarantee limits red.
func Render(w io.Writer, p Panel, opts Options) (types.Summary, error) {
	p.Series.Samples = append([]types.Sample(nil), p.Series.Samples...)
	p.Series.Sort()
	summary := stats.Summarize(p.Series.Samples, p.Limits)

	valued := 0
	for _, s := range p.Series.Samples {
		if s.Value != nil {
			valued++
		}
	}
	if valued < 2 {
		return summary, fmt.Errorf("%w: %s has %d values", ErrNotEnoughData, p.Name, valued)
	}

	series := segments(p.Series, DisplayName(p.Name))
	start, end := p.Series.Samples[0].Timestamp, p.Series.Samples[len(p.Series.Samples)-1].Timestamp
	if !end.After(start) {
		start, end = start.Add(-time.Minute), end.Add(time.Minute)
	}

	for _, l := range []struct {
		name  string
		value *float64
		style gochart.Style
	}{
		{"LSL", p.LSL, limitStyle(specColor, true)},
		{"USL", p.USL, limitStyle(specColor, true)},
		{"LGL", p.LGL, limitStyle(guaranteeColor, false)},
		{"UGL", p.UGL, limitStyle(guaranteeColor, false)},
	} {
		if l.value == nil {
			continue
		}
		series = append(series, gochart.TimeSeries{
			Name:    l.name,
			XValues: []time.Time{start, end},
			YValues: []float64{*l.value, *l.value},
			Style:   l.style,
		})
	}

	lo, hi := stats.AxisRange(p.Series.Samples, p.LSL, p.USL, p.LGL, p.UGL)
	// keeps the x range open when every sample shares one timestamp
	series = append(series, gochart.TimeSeries{
		XValues: []time.Time{start, end},
		YValues: []float64{lo, lo},
		Style:   gochart.Style{StrokeColor: drawing.ColorTransparent},
	})

	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 400
	}

	ch := gochart.Chart{
		Title:      DisplayName(p.Name),
		Width:      width,
		Height:     height,
		Background: gochart.Style{Padding: gochart.Box{Top: 24, Left: 16, Right: 16, Bottom: 16}},
		XAxis: gochart.XAxis{
			ValueFormatter: gochart.TimeValueFormatterWithFormat("01-02 15:04"),
		},
		YAxis: gochart.YAxis{
			Range: &gochart.ContinuousRange{Min: lo, Max: hi},
		},
		Series: series,
	}

	provider := gochart.PNG
	if opts.Format == SVG {
		provider = gochart.SVG
	}
	if err := ch.Render(provider, w); err != nil {
		return summary, fmt.Errorf("failed to render chart for %s: %w", p.Name, err)
	}
	return summary, nil
}

func limitStyle(c drawing.Color, dashed bool) gochart.Style {
	st := gochart.Style{StrokeColor: c, StrokeWidth: 1.5}
	if dashed {
		st.StrokeDashArray = []float64{6, 4}
	}
	return st
}

// segments splits a series at its gaps into contiguous time series
func segments(s types.Series, name string) []gochart.Series {
	var out []gochart.Series
	var xs []time.Time
	var ys []float64

	flush := func() {
		if len(xs) == 0 {
			return
		}
		st := gochart.Style{StrokeColor: dataColor, StrokeWidth: 2, DotColor: dataColor, DotWidth: 2}
		out = append(out, gochart.TimeSeries{Name: name, XValues: xs, YValues: ys, Style: st})
		xs, ys = nil, nil
	}

	for _, sample := range s.Samples {
		if sample.Value == nil {
			flush()
			continue
		}
		xs = append(xs, sample.Timestamp)
		ys = append(ys, *sample.Value)
	}
	flush()
	return out
}
