package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vjranagit/qualitytrend/pkg/client"
	"github.com/vjranagit/qualitytrend/pkg/normalize"
	"github.com/vjranagit/qualitytrend/pkg/templates"
)

func newTemplateCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:     "template",
		Aliases: []string{"tpl"},
		Short:   "Manage saved tag templates",
	}
	cmd.PersistentFlags().StringVarP(&user, "user", "u", "", "act as this user instead of the session user")

	withManager := func(cmd *cobra.Command, fn func(context.Context, *templates.Manager) error) error {
		return a.withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
			m := templates.NewManager(cl, a.logger)
			if user == "" {
				if _, err := m.Authenticate(ctx, cl); err != nil {
					a.logger.Debug().Err(err).Msg("no session user")
				}
			}
			return fn(ctx, m)
		})
	}

	var (
		name, description string
		tags              []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Save a new template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, m *templates.Manager) error {
				t, err := m.Create(ctx, name, description, tags, user)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created template %d with %d tags\n", t.ID, len(t.Tags))
				return nil
			})
		},
	}
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Replace the name, description and tags of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := templateID(args[0])
			if err != nil {
				return err
			}
			return withManager(cmd, func(ctx context.Context, m *templates.Manager) error {
				if err := m.Update(ctx, id, name, description, tags, user); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated template %d\n", id)
				return nil
			})
		},
	}
	for _, c := range []*cobra.Command{create, update} {
		c.Flags().StringVarP(&name, "name", "n", "", "template name")
		c.Flags().StringVarP(&description, "description", "d", "", "template description")
		c.Flags().StringSliceVar(&tags, "tags", nil, "ordered tag names, comma separated or repeated")
		c.MarkFlagRequired("name")
		c.MarkFlagRequired("tags")
	}

	remove := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a template",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := templateID(args[0])
			if err != nil {
				return err
			}
			return withManager(cmd, func(ctx context.Context, m *templates.Manager) error {
				if err := m.Remove(ctx, id, user); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted template %d\n", id)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List templates, most recently updated first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, m *templates.Manager) error {
				rows, err := m.List(ctx, user)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tTAGS\tUPDATED\tDESCRIPTION")
				for _, r := range rows {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", r.ID, r.Name, r.TagCount,
						normalize.FormatTimestamp(r.UpdatedAt), r.Description)
				}
				return tw.Flush()
			})
		},
	}

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show a template with its ordered tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := templateID(args[0])
			if err != nil {
				return err
			}
			return withManager(cmd, func(ctx context.Context, m *templates.Manager) error {
				t, err := m.Detail(ctx, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d  %s\n", t.ID, t.Name)
				if t.Description != "" {
					fmt.Fprintf(out, "    %s\n", t.Description)
				}
				fmt.Fprintf(out, "    owner %s, updated %s\n", t.Owner, normalize.FormatTimestamp(t.UpdatedAt))
				for i, tag := range t.Tags {
					fmt.Fprintf(out, "%4d. %s\n", i+1, tag)
				}
				return nil
			})
		},
	}

	export := &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write the user's templates as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *templates.Manager) error {
				data, err := m.Export(ctx, user)
				if err != nil {
					return err
				}
				if len(args) == 0 || args[0] == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(args[0], data, 0o644)
			})
		},
	}

	imp := &cobra.Command{
		Use:   "import FILE",
		Short: "Create or replace templates from a YAML export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			return withManager(cmd, func(ctx context.Context, m *templates.Manager) error {
				res, err := m.Import(ctx, data, user)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported templates: %d created, %d updated\n", res.Created, res.Updated)
				return nil
			})
		},
	}

	cmd.AddCommand(create, update, remove, list, show, export, imp)
	return cmd
}

func templateID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid template id %q", s)
	}
	return id, nil
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}
