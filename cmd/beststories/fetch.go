package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

func newFetchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch and print the top stories once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd.Context(), *configPath, cmd.OutOrStdout())
		},
	}
}

func runFetch(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	cache, err := newCache(cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	if err = cache.Refresh(ctx); err != nil {
		return err
	}
	items, err := cache.GetTopItems()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}
