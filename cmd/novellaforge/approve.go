package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/henribesnard/novellaforge/internal/pipeline"
)

var approveUserID string

var approveCmd = &cobra.Command{
	Use:   "approve <document-id>",
	Short: "Approve a draft chapter",
	Long: `Approve a draft chapter: extract continuity facts, merge them into
the project memory, sync the continuity graph, refresh summaries and
index the chapter for retrieval. Approval is idempotent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		services.Pool.Start(cmd.Context())

		orch := pipeline.NewOrchestrator(services)
		resp, err := orch.ApproveChapter(cmd.Context(), args[0], approveUserID)
		if err != nil {
			return err
		}

		fmt.Printf("chapter %s approved\n", resp.DocumentID)
		if resp.Summary != "" {
			fmt.Printf("  summary: %s\n", resp.Summary)
		}
		if !resp.RAGUpdated {
			fmt.Printf("  warning: retrieval index not updated: %s\n", resp.RAGUpdateError)
		}
		return nil
	},
}

func init() {
	approveCmd.Flags().StringVar(&approveUserID, "user", "", "owner of the project (required)")
	_ = approveCmd.MarkFlagRequired("user")
}
