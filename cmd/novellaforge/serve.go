package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/henribesnard/novellaforge/internal/maintenance"
	"github.com/henribesnard/novellaforge/internal/pipeline"
	"github.com/henribesnard/novellaforge/internal/queue"
	"github.com/henribesnard/novellaforge/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the NovellaForge server",
	Long: `Start the NovellaForge HTTP server.

The server provides:
  - POST /api/v1/projects/{project_id}/generate  - run the chapter pipeline
  - POST /api/v1/chapters/{document_id}/approve  - approve a draft
  - GET  /api/v1/projects/{project_id}/export    - download approved chapters
  - GET  /api/v1/projects/{project_id}/graph     - continuity graph export
  - GET  /healthz and /readyz

Examples:
  novellaforge serve                 # Start on default port 8080
  novellaforge serve --port 3000     # Start on custom port
  novellaforge serve --host 0.0.0.0  # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		services, err := pipeline.Build(*cfg, logger)
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{
			Host:     serveHost,
			Port:     servePort,
			Services: services,
			Logger:   logger,
		})
		if err != nil {
			return err
		}

		runner := maintenance.NewRunner(
			services.Store, services.Memory, services.RAG, cfg.Maintenance, logger,
		)
		sched := queue.NewScheduler(services.Pool, logger)
		runner.RegisterJobs(sched)
		sched.Start(ctx)
		defer sched.Stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(ctx)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "address to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "port to listen on")
}
