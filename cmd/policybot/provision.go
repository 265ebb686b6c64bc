package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var provisionCmd = &cobra.Command{
	Use:   "provision-index",
	Short: "Create the Atlas Search index described in the config",
	Long: `Creates the collection and the search index named in atlas.index.
Existing collections and indexes are left untouched. Run this once
before using the atlas vector or keyword backend.`,
	Args: cobra.NoArgs,
	RunE: runProvision,
}

func init() {
	rootCmd.AddCommand(provisionCmd)
}

func runProvision(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Atlas.Index.Validate(); err != nil {
		return err
	}

	store, err := cfg.NewAtlasStore(logger)
	if err != nil {
		return err
	}
	if err := store.Provision(cmd.Context()); err != nil {
		return fmt.Errorf("provision index: %w", err)
	}
	cmd.Printf("Search index %q is ready on %s.%s\n",
		cfg.Atlas.Index.Name, cfg.Atlas.Index.Database, cfg.Atlas.Index.Collection)
	return nil
}
