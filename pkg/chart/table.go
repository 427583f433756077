package chart

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vjranagit/qualitytrend/pkg/stats"
)

var columns = []struct {
	title string
	width int
}{
	{"Tag", 28},
	{"Avg", 10},
	{"Max", 10},
	{"Min", 10},
	{"Stdev", 10},
	{"Out of bounds", 15},
	{"Cpk", 10},
	{"Cpl", 10},
	{"Cpu", 10},
}

var ratingColors = map[stats.Rating]lipgloss.Color{
	stats.RatingPoor:      lipgloss.Color("#dc2626"),
	stats.RatingCapable:   lipgloss.Color("#16a34a"),
	stats.RatingExcellent: lipgloss.Color("#2563eb"),
}

// Table writes the statistics table of panels. Capability indices are coloured by rating
// when w is a colour terminal.
func Table(w io.Writer, panels []Panel) error {
	r := lipgloss.NewRenderer(w)
	header := r.NewStyle().Bold(true)

	cells := make([]string, len(columns))
	for i, c := range columns {
		cells[i] = header.Width(c.width).Render(c.title)
	}
	if _, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, " "), " ")); err != nil {
		return err
	}

	for _, p := range panels {
		s := stats.Summarize(p.Series.Samples, p.Limits)
		n := len(stats.Values(p.Series.Samples))

		values := []string{
			DisplayName(p.Name),
			fmt.Sprintf("%.2f", s.Avg),
			fmt.Sprintf("%.2f", s.Max),
			fmt.Sprintf("%.2f", s.Min),
			fmt.Sprintf("%.2f", s.Stdev),
			fmt.Sprintf("%d of %d", s.OutOfBoundsCount, n),
			index(s.Cpk),
			index(s.Cpl),
			index(s.Cpu),
		}
		ratings := []*float64{s.Cpk, s.Cpl, s.Cpu}

		for i, v := range values {
			st := r.NewStyle().Width(columns[i].width)
			if i >= 6 {
				if c, ok := ratingColors[stats.Rate(ratings[i-6])]; ok {
					st = st.Foreground(c)
				}
			}
			cells[i] = st.Render(truncate(v, columns[i].width-1))
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, " "), " ")); err != nil {
			return err
		}
	}
	return nil
}

func index(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.3f", *v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
