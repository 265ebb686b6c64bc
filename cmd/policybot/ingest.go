package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load, chunk and index the policy documents",
	Long: `Reads every supported file under documents.path, splits it into
chunks, embeds them and replaces the contents of the configured
vector store and keyword index.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Ingestion.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	cmd.Printf("Ingested %s\n", result)
	return nil
}
