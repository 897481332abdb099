package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/henribesnard/novellaforge/internal/pipeline"
)

var (
	genUserID      string
	genChapter     int
	genWords       int
	genInstruction string
	genUseRAG      bool
	genPersist     bool
	genJSON        bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <project-id>",
	Short: "Generate one chapter for a project",
	Long: `Run the full chapter pipeline for a project: context collection,
planning, beat-by-beat writing, continuity validation, critic review and
the quality gate revision loop. The generated chapter is printed to
stdout; pass --persist to also store it as a draft.`,
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
		resp, err := orch.GenerateChapter(cmd.Context(), &pipeline.Request{
			ProjectID:       args[0],
			UserID:          genUserID,
			ChapterIndex:    genChapter,
			TargetWordCount: genWords,
			UserInstruction: genInstruction,
			UseRAG:          genUseRAG,
			PersistDraft:    genPersist,
		})
		if err != nil {
			return err
		}

		if genJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}

		fmt.Printf("# %s\n\n%s\n", resp.ChapterTitle, resp.Content)
		fmt.Fprintf(os.Stderr, "\nwords: %d, revisions: %d", resp.WordCount, resp.Revisions)
		if resp.DocumentID != "" {
			fmt.Fprintf(os.Stderr, ", document: %s", resp.DocumentID)
		}
		fmt.Fprintln(os.Stderr)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&genUserID, "user", "", "owner of the project (required)")
	generateCmd.Flags().IntVar(&genChapter, "chapter", 0, "chapter index to generate (0 = next)")
	generateCmd.Flags().IntVar(&genWords, "words", 0, "target word count (0 = config default)")
	generateCmd.Flags().StringVar(&genInstruction, "instruction", "", "extra instruction for this chapter")
	generateCmd.Flags().BoolVar(&genUseRAG, "rag", true, "retrieve passages from approved chapters")
	generateCmd.Flags().BoolVar(&genPersist, "persist", false, "store the result as a draft document")
	generateCmd.Flags().BoolVar(&genJSON, "json", false, "print the full pipeline response as JSON")
	_ = generateCmd.MarkFlagRequired("user")
}
