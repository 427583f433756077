package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vjranagit/qualitytrend/pkg/chart"
	"github.com/vjranagit/qualitytrend/pkg/client"
	"github.com/vjranagit/qualitytrend/pkg/dashboard"
	"github.com/vjranagit/qualitytrend/pkg/normalize"
	"github.com/vjranagit/qualitytrend/pkg/templates"
)

type chartOptions struct {
	plant    string
	template int64
	from, to string
	moves    []string
	outDir   string
	format   string
	width    int
	height   int
}

func newChartCmd(a *app) *cobra.Command {
	o := &chartOptions{}
	cmd := &cobra.Command{
		Use:   "chart [TAG...]",
		Short: "Render trend charts and the statistics table",
		Long: `Render one trend chart per tag and print the statistics table.

Tags come from the arguments, from a saved template (--template) or, with neither, from every
tag of --plant. --move FROM:TO reorders the selection before rendering and may be repeated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && o.template == 0 && o.plant == "" {
				return errors.New("give tags, --template or --plant")
			}
			return a.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				panels, err := a.panels(ctx, cl, o, args)
				if err != nil {
					return err
				}
				if err := a.render(o, panels); err != nil {
					return err
				}
				return chart.Table(cmd.OutOrStdout(), panels)
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.plant, "plant", "p", "", "plant whose tags to chart")
	f.Int64VarP(&o.template, "template", "t", 0, "chart the tags of a saved template")
	f.StringVar(&o.from, "from", "", "start date YYYY-MM-DD (default 7 days before --to)")
	f.StringVar(&o.to, "to", "", "end date YYYY-MM-DD (default today)")
	f.StringArrayVar(&o.moves, "move", nil, "reorder the selection, FROM:TO zero based")
	f.StringVarP(&o.outDir, "out", "o", ".", "directory for chart files")
	f.StringVar(&o.format, "format", "png", "chart format, png or svg")
	f.IntVar(&o.width, "width", 1024, "chart width in pixels")
	f.IntVar(&o.height, "height", 400, "chart height in pixels")
	return cmd
}

// panels resolves the selection through the dashboard state and fetches its data
func (a *app) panels(ctx context.Context, cl *client.Client, o *chartOptions, args []string) ([]chart.Panel, error) {
	from, to := cl.DateRange(o.from, o.to)

	// A whole plant without a narrower selection maps onto a single panel-data call
	if len(args) == 0 && o.template == 0 && len(o.moves) == 0 {
		tags, err := cl.PanelData(ctx, o.plant, from, to)
		if err != nil {
			return nil, err
		}
		return tags, nil
	}

	tags, err := cl.Tags(ctx)
	if err != nil {
		return nil, err
	}

	state := dashboard.New(time.Now(), client.DefaultRangeDays)
	state.SetCatalog(tags)
	state.SelectPlant(o.plant)
	if err := setRange(state, from, to); err != nil {
		return nil, err
	}

	switch {
	case o.template != 0:
		m := templates.NewManager(cl, a.logger)
		tpl, err := m.Detail(ctx, o.template)
		if err != nil {
			return nil, err
		}
		for _, name := range state.ApplyTemplate(tpl) {
			a.logger.Warn().Str("tag", name).Msg("template tag not in catalog, skipped")
		}
	case len(args) > 0:
		for _, name := range args {
			if err := state.Select(name); err != nil {
				return nil, err
			}
		}
	default:
		for _, t := range state.TagsForPlant(o.plant) {
			if err := state.Select(t.Name); err != nil {
				return nil, err
			}
		}
	}

	for _, mv := range o.moves {
		i, j, err := parseMove(mv)
		if err != nil {
			return nil, err
		}
		if err := state.Move(i, j); err != nil {
			return nil, fmt.Errorf("move %s: %w", mv, err)
		}
	}

	selected := state.Selected()
	if len(selected) == 0 {
		return nil, errors.New("no tags selected")
	}
	res, err := cl.MultiTagValues(ctx, selected, from, to)
	if err != nil {
		return nil, err
	}
	if res.Message != "" {
		a.logger.Warn().Str("message", res.Message).Msg("no data in range")
	}

	catalog := byName(tags)
	panels := make([]chart.Panel, 0, len(selected))
	for _, name := range selected {
		t := catalog[name]
		t.Name = name
		panels = append(panels, chart.Panel{Tag: t, Series: res.Get(name)})
	}
	return panels, nil
}

func (a *app) render(o *chartOptions, panels []chart.Panel) error {
	opts := chart.Options{Width: o.width, Height: o.height, Format: chart.PNG}
	switch strings.ToLower(o.format) {
	case "png":
	case "svg":
		opts.Format = chart.SVG
	default:
		return fmt.Errorf("unknown chart format %q", o.format)
	}

	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		return err
	}
	for _, p := range panels {
		name := filepath.Join(o.outDir, fileName(chart.DisplayName(p.Name))+"."+strings.ToLower(o.format))
		if err := renderFile(name, p, opts); err != nil {
			if errors.Is(err, chart.ErrNotEnoughData) {
				a.logger.Warn().Str("tag", p.Name).Msg("not enough data to chart")
				continue
			}
			return err
		}
		a.logger.Info().Str("tag", p.Name).Str("file", name).Msg("chart written")
	}
	return nil
}

func renderFile(name string, p chart.Panel, opts chart.Options) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	_, err = chart.Render(f, p, opts)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
	}
	return err
}

func setRange(state *dashboard.State, from, to string) error {
	start, err := normalize.ParseDate(from)
	if err != nil {
		return err
	}
	end, err := normalize.ParseDate(to)
	if err != nil {
		return err
	}
	return state.SetRange(start, end)
}

func parseMove(s string) (int, int, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid move %q, expected FROM:TO", s)
	}
	from, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid move %q: %w", s, err)
	}
	to, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid move %q: %w", s, err)
	}
	return from, to, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func fileName(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	if s == "" {
		return "chart"
	}
	return s
}
