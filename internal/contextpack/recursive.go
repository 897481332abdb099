package contextpack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/types"
)

// Refresh cadence for the summary pyramid.
const (
	arcRefreshEvery    = 5
	globalRefreshEvery = 10
)

// ChapterLister is the slice of the chapter repository the maintainer
// needs.
type ChapterLister interface {
	ListByProject(ctx context.Context, projectID string) ([]*types.Document, error)
	Update(ctx context.Context, doc *types.Document) error
}

// MemoryMaintainer keeps the three-level summary pyramid current:
// L1 per-chapter summaries, L2 per-arc summaries, L3 global synopsis.
type MemoryMaintainer struct {
	client   llm.Client
	model    string
	chapters ChapterLister
	logger   *slog.Logger

	arcWords    int
	globalWords int
}

// NewMemoryMaintainer creates the pyramid maintainer.
func NewMemoryMaintainer(client llm.Client, model string, chapters ChapterLister, arcWords, globalWords int, logger *slog.Logger) *MemoryMaintainer {
	if arcWords <= 0 {
		arcWords = 500
	}
	if globalWords <= 0 {
		globalWords = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryMaintainer{
		client:      client,
		model:       model,
		chapters:    chapters,
		logger:      logger,
		arcWords:    arcWords,
		globalWords: globalWords,
	}
}

// EnsureChapterSummary generates the L1 summary lazily when absent and
// persists it on the document.
func (m *MemoryMaintainer) EnsureChapterSummary(ctx context.Context, doc *types.Document) (string, error) {
	if strings.TrimSpace(doc.Summary) != "" {
		return doc.Summary, nil
	}
	res, err := m.client.Chat(ctx, &llm.ChatRequest{
		Model: m.model,
		Messages: llm.SystemUser(
			"Summarize the chapter in 2 to 3 sentences. Keep names, outcomes and any cliffhanger. Respond with the summary only.",
			doc.Content,
		),
		Temperature: 0.3,
		MaxTokens:   300,
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize chapter %d: %w", doc.ChapterIndex, err)
	}
	doc.Summary = strings.TrimSpace(res.Content)
	if err := m.chapters.Update(ctx, doc); err != nil {
		return "", err
	}
	return doc.Summary, nil
}

// RefreshAfterApproval updates L2 and L3 when their cadence is due.
// approvedCount is the total number of approved chapters including the
// one just approved. Mutates project.Memory; the caller persists.
func (m *MemoryMaintainer) RefreshAfterApproval(ctx context.Context, project *types.Project, chapterIndex, approvedCount int) error {
	if project.Memory == nil {
		project.Memory = &types.RecursiveMemory{}
	}
	mem := project.Memory
	if mem.ArcSummaries == nil {
		mem.ArcSummaries = make(map[int]string)
	}
	if mem.LastArcRefresh == nil {
		mem.LastArcRefresh = make(map[int]int)
	}

	arc := project.Plan.ArcForChapter(chapterIndex)
	if arc != nil {
		atBoundary := chapterIndex == arc.LastChapter
		due := approvedCount-mem.LastArcRefresh[arc.Index] >= arcRefreshEvery
		if atBoundary || due {
			if err := m.refreshArcSummary(ctx, project, arc); err != nil {
				return err
			}
			mem.LastArcRefresh[arc.Index] = approvedCount
		}
	}

	if approvedCount-mem.LastGlobalRefresh >= globalRefreshEvery {
		if err := m.refreshGlobalSynopsis(ctx, project); err != nil {
			return err
		}
		mem.LastGlobalRefresh = approvedCount
	}
	return nil
}

func (m *MemoryMaintainer) refreshArcSummary(ctx context.Context, project *types.Project, arc *types.PlanArc) error {
	docs, err := m.approvedChapters(ctx, project.ID)
	if err != nil {
		return err
	}

	var parts []string
	for _, doc := range docs {
		if doc.ChapterIndex < arc.FirstChapter || doc.ChapterIndex > arc.LastChapter {
			continue
		}
		sum, err := m.EnsureChapterSummary(ctx, doc)
		if err != nil {
			return err
		}
		parts = append(parts, fmt.Sprintf("Chapter %d: %s", doc.ChapterIndex, sum))
	}
	if len(parts) == 0 {
		return nil
	}

	res, err := m.client.Chat(ctx, &llm.ChatRequest{
		Model: m.model,
		Messages: llm.SystemUser(
			fmt.Sprintf("Condense these chapter summaries into a single arc summary of about %d words. Preserve causality and character turning points. Respond with the summary only.", m.arcWords),
			fmt.Sprintf("Arc: %s\n\n%s", arc.Title, strings.Join(parts, "\n")),
		),
		Temperature: 0.3,
	})
	if err != nil {
		return fmt.Errorf("failed to refresh summary for arc %d: %w", arc.Index, err)
	}
	project.Memory.ArcSummaries[arc.Index] = strings.TrimSpace(res.Content)
	return nil
}

func (m *MemoryMaintainer) refreshGlobalSynopsis(ctx context.Context, project *types.Project) error {
	var parts []string
	for idx, sum := range project.Memory.ArcSummaries {
		parts = append(parts, fmt.Sprintf("Arc %d: %s", idx, sum))
	}
	if len(parts) == 0 {
		docs, err := m.approvedChapters(ctx, project.ID)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if doc.Summary != "" {
				parts = append(parts, fmt.Sprintf("Chapter %d: %s", doc.ChapterIndex, doc.Summary))
			}
		}
	}
	if len(parts) == 0 {
		return nil
	}

	res, err := m.client.Chat(ctx, &llm.ChatRequest{
		Model: m.model,
		Messages: llm.SystemUser(
			fmt.Sprintf("Write a global synopsis of about %d words from these summaries. Cover the full story so far in chronological order. Respond with the synopsis only.", m.globalWords),
			strings.Join(parts, "\n\n"),
		),
		Temperature: 0.3,
	})
	if err != nil {
		return fmt.Errorf("failed to refresh global synopsis: %w", err)
	}
	project.Memory.GlobalSynopsis = strings.TrimSpace(res.Content)
	return nil
}

// WorkingContext concatenates L3, the current arc's L2 and the L1
// summaries of the last recentN approved chapters before chapterIndex.
func (m *MemoryMaintainer) WorkingContext(ctx context.Context, project *types.Project, chapterIndex, recentN int) (string, error) {
	if recentN <= 0 {
		recentN = 5
	}

	var b strings.Builder
	if project.Memory != nil && project.Memory.GlobalSynopsis != "" {
		b.WriteString("Story so far:\n" + project.Memory.GlobalSynopsis + "\n\n")
	}
	if arc := project.Plan.ArcForChapter(chapterIndex); arc != nil && project.Memory != nil {
		if sum := project.Memory.ArcSummaries[arc.Index]; sum != "" {
			b.WriteString("Current arc:\n" + sum + "\n\n")
		}
	}

	docs, err := m.approvedChapters(ctx, project.ID)
	if err != nil {
		return "", err
	}
	var recent []string
	for _, doc := range docs {
		if doc.ChapterIndex >= chapterIndex {
			continue
		}
		sum, err := m.EnsureChapterSummary(ctx, doc)
		if err != nil {
			return "", err
		}
		recent = append(recent, fmt.Sprintf("Chapter %d: %s", doc.ChapterIndex, sum))
	}
	if len(recent) > recentN {
		recent = recent[len(recent)-recentN:]
	}
	if len(recent) > 0 {
		b.WriteString("Recent chapters:\n" + strings.Join(recent, "\n"))
	}
	return strings.TrimSpace(b.String()), nil
}

func (m *MemoryMaintainer) approvedChapters(ctx context.Context, projectID string) ([]*types.Document, error) {
	docs, err := m.chapters.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var approved []*types.Document
	for _, doc := range docs {
		if doc.Status == types.StatusApproved {
			approved = append(approved, doc)
		}
	}
	return approved, nil
}
