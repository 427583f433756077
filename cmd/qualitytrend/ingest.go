package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vjranagit/qualitytrend/pkg/normalize"
	"github.com/vjranagit/qualitytrend/pkg/storage"
	"github.com/vjranagit/qualitytrend/pkg/types"
)

func newIngestCmd(a *app) *cobra.Command {
	var (
		batchSize int
		interval  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Load samples from CSV files (tagname,datetime,value) into the store",
		Long: `Load samples from CSV files into the configured store.

Each row holds a tag name, a timestamp and a value. An empty or non numeric value is stored
as a gap. A first row whose timestamp does not parse is treated as a header.
Use - to read standard input.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := storage.Open(ctx, a.cfg.ToStorageConfig(), a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			bw := storage.NewBatchWriter(store, batchSize, interval)
			total := 0
			for _, name := range args {
				n, err := ingestFile(ctx, name, bw)
				total += n
				if err != nil {
					bw.Close(ctx)
					return err
				}
				a.logger.Info().Str("file", name).Int("samples", n).Msg("file ingested")
			}
			if err := bw.Close(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d samples from %d file(s)\n", total, len(args))
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 5000, "samples buffered before a write")
	cmd.Flags().DurationVar(&interval, "flush-interval", time.Second, "maximum time samples stay buffered")
	return cmd
}

// seriesWriter accepts one series at a time, like storage.BatchWriter
type seriesWriter interface {
	Write(ctx context.Context, series types.Series) error
}

func ingestFile(ctx context.Context, name string, w seriesWriter) (int, error) {
	var r io.Reader = os.Stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r = f
	}

	n := 0
	err := readSamples(r, func(s types.Series) error {
		n += s.Len()
		return w.Write(ctx, s)
	})
	if err != nil {
		return n, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

// readSamples parses tagname,datetime,value rows and hands runs of consecutive rows of the
// same tag to fn
func readSamples(r io.Reader, fn func(types.Series) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var cur types.Series
	emit := func() error {
		if cur.Len() == 0 {
			return nil
		}
		err := fn(cur)
		cur = types.Series{}
		return err
	}

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if len(rec) < 2 {
			return fmt.Errorf("line %d: expected tagname,datetime[,value]", line)
		}

		tag := strings.TrimSpace(rec[0])
		ts, ok := normalize.Timestamp(rec[1])
		if !ok {
			if line == 1 {
				continue
			}
			return fmt.Errorf("line %d: invalid timestamp %q", line, rec[1])
		}
		if tag == "" {
			return fmt.Errorf("line %d: empty tagname", line)
		}

		sample := types.Sample{Timestamp: ts}
		if len(rec) > 2 {
			sample.Value = normalize.Float(rec[2])
		}

		if tag != cur.Tag {
			if err := emit(); err != nil {
				return err
			}
			cur.Tag = tag
		}
		cur.Samples = append(cur.Samples, sample)
	}
	return emit()
}
