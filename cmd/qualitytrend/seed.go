package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vjranagit/qualitytrend/pkg/storage"
	"github.com/vjranagit/qualitytrend/pkg/types"
)

// catalog is the YAML tag catalog read by seed
type catalog struct {
	Tags []types.Tag `yaml:"tags"`
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Load a YAML tag catalog into the store",
		Long: `Load a YAML tag catalog into the configured store. Existing tags are replaced.

  tags:
    - tagname: Root.LAB.PH-01
      description: Feed pH
      plant: Plant A
      lsl: 6.5
      usl: 7.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := readCatalog(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := storage.Open(ctx, a.cfg.ToStorageConfig(), a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.PutTags(ctx, tags); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d tags\n", len(tags))
			return nil
		},
	}
}

func readCatalog(name string) ([]types.Tag, error) {
	var r io.Reader = os.Stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var c catalog
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", name, err)
	}

	seen := make(map[string]bool, len(c.Tags))
	for i := range c.Tags {
		t := &c.Tags[i]
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return nil, fmt.Errorf("catalog %s: tag %d has no tagname", name, i+1)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("catalog %s: duplicate tag %s", name, t.Name)
		}
		seen[t.Name] = true
	}
	return c.Tags, nil
}
