package main

import (
	"github.com/spf13/cobra"

	"github.com/sevigo/policyrag/server"
)

var (
	serveAddress    string
	serveSkipIngest bool
	serveWatch      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the assistant over HTTP",
	Long: `Ingests the documents and serves:

  POST   /v1/answer        {"question": "..."} -> {"answer": "..."}
  DELETE /v1/conversation  forget the conversation
  POST   /v1/ingest        re-ingest the documents
  GET    /healthz          liveness and readiness`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "listen address (overrides server.address)")
	serveCmd.Flags().BoolVar(&serveSkipIngest, "skip-ingest", false, "do not ingest before serving")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "re-ingest when the document directory changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.Config
	if serveAddress != "" {
		cfg.Server.Address = serveAddress
	}

	if !serveSkipIngest {
		if result, err := app.Ingestion.Run(ctx); err != nil {
			app.Logger.ErrorContext(ctx, "Initial ingestion failed", "error", err)
		} else {
			app.Logger.InfoContext(ctx, "Initial ingestion completed", "result", result.String())
		}
	}

	srv, err := server.New(app.Chain, app.Ingestion,
		server.WithReadiness(app.Retriever),
		server.WithLogger(app.Logger),
	)
	if err != nil {
		return err
	}

	if serveWatch || cfg.Server.Watch {
		watcher := server.NewWatcher(cfg.Documents.Path, cfg.Server.Debounce, app.Ingestion, app.Logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				app.Logger.ErrorContext(ctx, "Document watcher stopped", "error", err)
			}
		}()
	}

	return srv.ListenAndServe(ctx, cfg.Server.Address)
}
