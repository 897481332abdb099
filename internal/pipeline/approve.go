package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/henribesnard/novellaforge/internal/store"
	"github.com/henribesnard/novellaforge/internal/types"
	"github.com/henribesnard/novellaforge/internal/validate"
)

// recentSummariesKept bounds the rolling window of chapter summaries on
// the project.
const recentSummariesKept = 10

// ApproveChapter promotes a draft to approved and feeds every memory
// surface: continuity facts, the structured graph, style memory and the
// retrieval index. Approving an already approved chapter is a no-op
// returning the current state.
func (o *Orchestrator) ApproveChapter(ctx context.Context, documentID, userID string) (*ApprovalResponse, error) {
	doc, err := o.svc.Store.Get(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChapterNotFound
		}
		return nil, err
	}
	project, err := o.svc.Store.GetProject(ctx, doc.ProjectID, userID)
	if err != nil {
		return nil, err
	}

	if doc.Status == types.StatusApproved {
		return &ApprovalResponse{
			DocumentID: doc.ID,
			Status:     doc.Status,
			Summary:    doc.Summary,
			RAGUpdated: true,
		}, nil
	}

	facts, err := o.svc.Memory.ExtractFacts(ctx, doc.Content, doc.ChapterIndex)
	if err != nil {
		return nil, wrapPhase("extract_facts", project.ID, doc.ChapterIndex, err)
	}

	var semanticNotes []string
	if o.svc.Config.Coherence.SemanticValidatorEnabled && o.svc.Semantic != nil {
		var established []string
		if project.StoryBible != nil {
			for _, f := range project.StoryBible.EstablishedFacts {
				established = append(established, f.Fact)
			}
		}
		conflicts, cerr := o.svc.Semantic.Check(ctx, factStatements(facts), established)
		if cerr == nil {
			semanticNotes = validate.DescribeConflicts(conflicts)
			for _, note := range semanticNotes {
				o.logger.Warn("semantic conflict on approval", "project_id", project.ID,
					"chapter_index", doc.ChapterIndex, "note", note)
			}
		}
	}

	summary := doc.Summary
	if strings.TrimSpace(summary) == "" {
		summary, err = o.svc.Summary.EnsureChapterSummary(ctx, doc)
		if err != nil {
			return nil, wrapPhase("summarize", project.ID, doc.ChapterIndex, err)
		}
	}

	updated, err := o.svc.Store.UpdateMetadataRetry(ctx, project.ID, userID,
		func(p *types.Project) error {
			o.svc.Memory.MergeIntoProject(ctx, p, facts, doc.ChapterIndex)

			p.RecentChapterSummaries = append(p.RecentChapterSummaries, summary)
			if len(p.RecentChapterSummaries) > recentSummariesKept {
				p.RecentChapterSummaries = p.RecentChapterSummaries[len(p.RecentChapterSummaries)-recentSummariesKept:]
			}

			if entry := p.Plan.ChapterByIndex(doc.ChapterIndex); entry != nil {
				entry.Status = types.StatusApproved
			}
			delete(p.PregeneratedPlans, doc.ChapterIndex)
			return nil
		})
	if err != nil {
		return nil, wrapPhase("persist_project", project.ID, doc.ChapterIndex, err)
	}
	project = updated

	doc.Status = types.StatusApproved
	doc.Summary = summary
	if err := o.svc.Store.Update(ctx, doc); err != nil {
		return nil, wrapPhase("persist_chapter", project.ID, doc.ChapterIndex, err)
	}

	if err := o.svc.Memory.SyncGraph(ctx, project.ID, facts, doc.ChapterIndex); err != nil {
		o.logger.Warn("graph sync failed, continuing", "project_id", project.ID,
			"chapter_index", doc.ChapterIndex, "error", err)
	}

	if err := o.svc.RAG.IndexStyleSample(ctx, project.ID, doc.ID, doc.ChapterIndex, doc.Content); err != nil {
		o.logger.Warn("style memory update failed, continuing", "project_id", project.ID, "error", err)
	}

	// Approved dialogue becomes the voice baseline for later chapters.
	if o.svc.Config.Coherence.VoiceAnalyzerEnabled && o.svc.Voice != nil {
		names := characterNames(project.ContinuityOrEmpty())
		for character, lines := range validate.ExtractDialogues(doc.Content, names) {
			o.svc.Voice.AddHistoricalDialogue(character, lines)
		}
	}

	resp := &ApprovalResponse{
		DocumentID:        doc.ID,
		Status:            doc.Status,
		Summary:           summary,
		RAGUpdated:        true,
		SemanticConflicts: semanticNotes,
	}
	if err := o.svc.RAG.UpdateDocument(ctx, project.ID, doc); err != nil {
		resp.RAGUpdated = false
		resp.RAGUpdateError = err.Error()
		o.logger.Warn("rag update failed, approval stands", "project_id", project.ID,
			"document_id", doc.ID, "error", err)
	}

	approvedCount := countApproved(project.Plan)
	if err := o.svc.Summary.RefreshAfterApproval(ctx, project, doc.ChapterIndex, approvedCount); err != nil {
		o.logger.Warn("summary pyramid refresh failed, continuing", "project_id", project.ID, "error", err)
	} else {
		if _, err := o.svc.Store.UpdateMetadataRetry(ctx, project.ID, userID,
			func(p *types.Project) error {
				p.Memory = project.Memory
				return nil
			}); err != nil {
			o.logger.Warn("failed to persist summary pyramid", "project_id", project.ID, "error", err)
		}
	}
	return resp, nil
}

// factStatements renders extracted facts as plain sentences for the
// semantic conflict check.
func factStatements(facts *types.ContinuityFacts) []string {
	if facts == nil {
		return nil
	}
	var out []string
	for i := range facts.Characters {
		c := &facts.Characters[i]
		if c.Name != "" && c.Status != "" {
			out = append(out, fmt.Sprintf("%s is %s", c.Name, c.Status))
		}
	}
	for i := range facts.Objects {
		obj := &facts.Objects[i]
		if obj.Name != "" && obj.Status != "" {
			out = append(out, fmt.Sprintf("%s is %s", obj.Name, obj.Status))
		}
	}
	return out
}

func countApproved(plan *types.Plan) int {
	if plan == nil {
		return 0
	}
	n := 0
	for i := range plan.Chapters {
		if plan.Chapters[i].Status == types.StatusApproved {
			n++
		}
	}
	return n
}
