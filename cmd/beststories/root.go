package main

import (
	"fmt"

	"github.com/beststories/go-beststories/config"
	"github.com/beststories/go-beststories/scache"
	"github.com/beststories/go-beststories/source"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
)

var log = logging.Logger("beststories")

var (
	version = "dev"
	commit  = "none"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "beststories",
		Short:        "Serve a cached ranking of the best stories",
		Long:         "beststories periodically fetches the best stories from an upstream API, ranks the top N by score, and serves the latest complete ranking over HTTP.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newFetchCmd(&configPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "beststories %s (commit: %s)\n", version, commit)
		},
	})
	return root
}

// loadConfig loads the config and applies its log level.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err = setLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setLogLevel(level string) error {
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		return err
	}
	logging.SetAllLoggers(lvl)
	return nil
}

// newCache builds the upstream source and story cache described by cfg.
func newCache(cfg *config.Config, extra ...scache.Option) (*scache.Cache, error) {
	src, err := source.NewHTTPSource(cfg.Stories.BestStoriesURI, cfg.Stories.BaseItemURI, cfg.SourceOptions()...)
	if err != nil {
		return nil, fmt.Errorf("cannot create story source: %w", err)
	}
	opts := append(cfg.CacheOptions(), scache.WithSource(src))
	return scache.New(append(opts, extra...)...)
}
