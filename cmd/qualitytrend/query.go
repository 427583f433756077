package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vjranagit/qualitytrend/pkg/chart"
	"github.com/vjranagit/qualitytrend/pkg/client"
	"github.com/vjranagit/qualitytrend/pkg/normalize"
	"github.com/vjranagit/qualitytrend/pkg/types"
)

func newPlantsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plants",
		Short: "List the plants known to the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				plants, err := cl.Plants(ctx)
				if err != nil {
					return err
				}
				for _, p := range plants {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			})
		},
	}
}

func newTagsCmd(a *app) *cobra.Command {
	var plant string
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List the tag catalog with limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				tags, err := cl.Tags(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TAG\tPLANT\tLSL\tUSL\tLGL\tUGL\tDESCRIPTION")
				for _, t := range tags {
					if plant != "" && !strings.EqualFold(strings.TrimSpace(t.Plant), plant) {
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", t.Name, t.Plant,
						limit(t.LSL), limit(t.USL), limit(t.LGL), limit(t.UGL), t.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&plant, "plant", "p", "", "only tags of this plant")
	return cmd
}

func newValuesCmd(a *app) *cobra.Command {
	var (
		from, to string
		raw      bool
	)
	cmd := &cobra.Command{
		Use:   "values TAG...",
		Short: "Fetch samples of tags and print their statistics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				var series []types.Series
				if len(args) == 1 {
					s, err := cl.TagValues(ctx, args[0], from, to)
					if err != nil {
						return err
					}
					series = append(series, s)
				} else {
					res, err := cl.MultiTagValues(ctx, args, from, to)
					if err != nil {
						return err
					}
					for _, tag := range args {
						series = append(series, res.Get(tag))
					}
				}

				limits := a.catalogLimits(ctx, cl)
				out := cmd.OutOrStdout()
				panels := make([]chart.Panel, 0, len(series))
				for _, s := range series {
					t := limits[s.Tag]
					t.Name = s.Tag
					panels = append(panels, chart.Panel{Tag: t, Series: s})

					if raw {
						for _, sample := range s.Samples {
							fmt.Fprintf(out, "%s\t%s\t%s\n", s.Tag, normalize.FormatTimestamp(sample.Timestamp), limit(sample.Value))
						}
					}
				}
				return chart.Table(out, panels)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start date YYYY-MM-DD (default 7 days before --to)")
	cmd.Flags().StringVar(&to, "to", "", "end date YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print every sample before the statistics")
	return cmd
}

func newSessionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the user the backend sees and check its database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
				out := cmd.OutOrStdout()
				if err := cl.TestConnection(ctx); err != nil {
					return fmt.Errorf("backend unavailable: %w", err)
				}
				fmt.Fprintln(out, "backend: ok")

				u, err := cl.CheckSession(ctx)
				if err != nil {
					fmt.Fprintln(out, "user: not logged in")
					return nil
				}
				if u.Name != "" {
					fmt.Fprintf(out, "user: %s (%s)\n", u.Username, u.Name)
				} else {
					fmt.Fprintf(out, "user: %s\n", u.Username)
				}
				return nil
			})
		},
	}
}

func (a *app) withClient(ctx context.Context, fn func(context.Context, *client.Client) error) error {
	cl, done, err := a.client(ctx)
	if err != nil {
		return err
	}
	defer done()
	return fn(ctx, cl)
}

// catalogLimits returns the catalog keyed by tag name. A failed fetch only drops the
// capability indices.
func (a *app) catalogLimits(ctx context.Context, cl *client.Client) map[string]types.Tag {
	tags, err := cl.Tags(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to load tag catalog, statistics without limits")
		return nil
	}
	return byName(tags)
}

func byName(tags []types.Tag) map[string]types.Tag {
	out := make(map[string]types.Tag, len(tags))
	for _, t := range tags {
		out[t.Name] = t
	}
	return out
}

func limit(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *v)
}
