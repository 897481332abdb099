package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/henribesnard/novellaforge/internal/export"
	"github.com/henribesnard/novellaforge/internal/pipeline"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <project-id>",
	Short: "Export approved chapters as a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]
		logger := newLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		services, err := pipeline.Build(*cfg, logger)
		if err != nil {
			return err
		}
		defer services.Close()

		out := exportOut
		if out == "" {
			out = projectID + ".zip"
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		defer f.Close()

		n, err := export.New(services.Store).WriteZip(cmd.Context(), projectID, f)
		if err != nil {
			return err
		}
		fmt.Printf("exported %d chapters to %s\n", n, out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default: <project-id>.zip)")
}
