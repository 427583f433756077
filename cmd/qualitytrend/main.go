package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vjranagit/qualitytrend/internal/config"
	"github.com/vjranagit/qualitytrend/internal/logging"
	"github.com/vjranagit/qualitytrend/pkg/cache"
	"github.com/vjranagit/qualitytrend/pkg/client"
)

const (
	version = "0.3.0"
)

// app carries what every command needs once the root command has run
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "qualitytrend",
		Short:         "Quality trend dashboard backend and client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./qualitytrend.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCmd(a),
		newIngestCmd(a),
		newSeedCmd(a),
		newPlantsCmd(a),
		newTagsCmd(a),
		newValuesCmd(a),
		newChartCmd(a),
		newSessionCmd(a),
		newTemplateCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// client builds the fetch client with the configured response cache. The returned func closes
// the cache.
func (a *app) client(ctx context.Context) (*client.Client, func(), error) {
	var c cache.Cache
	switch {
	case !a.cfg.Cache.Enabled:
	case a.cfg.Cache.RedisURL != "":
		r, err := cache.NewRedis(ctx, a.cfg.Cache.RedisURL, a.cfg.Cache.Prefix, a.cfg.Cache.TTL, a.logger)
		if err != nil {
			return nil, nil, err
		}
		c = r
	default:
		c = cache.NewMemory(a.cfg.Cache.Capacity, a.cfg.Cache.TTL)
	}

	done := func() {
		if c == nil {
			return
		}
		st := c.Stats()
		a.logger.Debug().
			Uint64("hits", st.Hits).
			Uint64("misses", st.Misses).
			Float64("hit_rate", st.HitRate()).
			Msg("response cache")
		if err := c.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close cache")
		}
	}
	return client.New(a.cfg.ToClientConfig(), c, a.logger), done, nil
}
