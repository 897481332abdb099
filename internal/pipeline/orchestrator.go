package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/henribesnard/novellaforge/internal/contextpack"
	"github.com/henribesnard/novellaforge/internal/critic"
	"github.com/henribesnard/novellaforge/internal/store"
	"github.com/henribesnard/novellaforge/internal/types"
	"github.com/henribesnard/novellaforge/internal/validate"
	"github.com/henribesnard/novellaforge/internal/writer"
)

// Orchestrator drives the chapter state machine:
// collect_context -> retrieve_context -> plan_chapter -> write_chapter ->
// validate_continuity -> critic -> {revise|done}.
type Orchestrator struct {
	svc    *Services
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator over the service container.
func NewOrchestrator(svc *Services) *Orchestrator {
	return &Orchestrator{svc: svc, logger: svc.Logger.With("component", "pipeline")}
}

// GenerateChapter runs the full pipeline for one chapter.
func (o *Orchestrator) GenerateChapter(ctx context.Context, req *Request) (*Response, error) {
	if err := o.svc.Validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	project, err := o.svc.Store.GetProject(ctx, req.ProjectID, req.UserID)
	if err != nil {
		return nil, err
	}
	if !project.Plan.Accepted() {
		return nil, fmt.Errorf("project %s: %w", project.ID, ErrPlanNotAccepted)
	}

	st := &state{
		req:          req,
		project:      project,
		maxRevisions: o.svc.Config.QualityGate.MaxRevisions,
	}

	if err := o.collectContext(ctx, st); err != nil {
		return nil, wrapPhase("collect_context", project.ID, st.chapterIndex, err)
	}
	if err := o.retrieveContext(ctx, st); err != nil {
		return nil, wrapPhase("retrieve_context", project.ID, st.chapterIndex, err)
	}
	if err := o.planChapter(ctx, st); err != nil {
		return nil, wrapPhase("plan_chapter", project.ID, st.chapterIndex, err)
	}

	for {
		if err := o.writeChapter(ctx, st); err != nil {
			return nil, wrapPhase("write_chapter", project.ID, st.chapterIndex, err)
		}
		if err := o.validateContinuity(ctx, st); err != nil {
			return nil, wrapPhase("validate_continuity", project.ID, st.chapterIndex, err)
		}
		if err := o.runCritic(ctx, st); err != nil {
			return nil, wrapPhase("critic", project.ID, st.chapterIndex, err)
		}

		decision := decideGate(gateInputFrom(st,
			o.svc.Config.QualityGate.CoherenceThreshold,
			o.svc.Config.QualityGate.ScoreThreshold))
		o.logger.Info("quality gate", "project_id", project.ID,
			"chapter_index", st.chapterIndex, "decision", decision,
			"revision", st.revisionCount, "score", st.critique.Score)
		if decision == DecisionDone {
			break
		}
	}

	if req.PersistDraft {
		if err := o.persistDraft(ctx, st); err != nil {
			return nil, wrapPhase("persist_draft", project.ID, st.chapterIndex, err)
		}
	}
	if err := o.persistProject(ctx, st); err != nil {
		return nil, wrapPhase("persist_project", project.ID, st.chapterIndex, err)
	}

	return &Response{
		ChapterTitle:         st.title,
		Content:              st.chapterText,
		WordCount:            types.WordCount(st.chapterText),
		DocumentID:           st.chapterID,
		Plan:                 st.currentPlan,
		Critique:             st.critique,
		ContinuityValidation: st.continuityValidation,
		ContinuityAlerts:     st.continuityAlerts,
		RetrievedChunks:      st.retrievedChunks,
		Revisions:            st.revisionCount,
	}, nil
}

// collectContext resolves the target chapter and the applied word range.
func (o *Orchestrator) collectContext(ctx context.Context, st *state) error {
	cfg := o.svc.Config.Chapter

	st.targetWordCount = st.req.TargetWordCount
	switch {
	case st.targetWordCount <= 0:
		st.targetWordCount = (cfg.MinWords + cfg.MaxWords) / 2
	case st.targetWordCount < cfg.MinWords:
		st.targetWordCount = cfg.MinWords
	case st.targetWordCount > cfg.MaxWords:
		st.targetWordCount = cfg.MaxWords
	}
	st.minWordCount = cfg.MinWords
	st.maxWordCount = cfg.MaxWords

	switch {
	case st.req.ChapterID != "":
		doc, err := o.svc.Store.Get(ctx, st.req.ChapterID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrChapterNotFound
			}
			return err
		}
		if doc.ProjectID != st.project.ID {
			return ErrChapterNotFound
		}
		st.chapterID = doc.ID
		st.chapterIndex = doc.ChapterIndex

	case st.req.ChapterIndex > 0:
		st.chapterIndex = st.req.ChapterIndex

	default:
		maxOrder, err := o.svc.Store.MaxOrderIndex(ctx, st.project.ID)
		if err != nil {
			return err
		}
		st.chapterIndex = maxOrder + 2 // order_index is 0-based, chapter_index 1-based
	}

	if entry := st.project.Plan.ChapterByIndex(st.chapterIndex); entry != nil {
		st.title = entry.Title
		st.summary = entry.Summary
		st.emotionalStake = entry.EmotionalStake
	}
	if st.title == "" {
		st.title = fmt.Sprintf("Chapter %d", st.chapterIndex)
	}
	return nil
}

// retrieveContext builds the memory block and runs retrieval.
func (o *Orchestrator) retrieveContext(ctx context.Context, st *state) error {
	working, err := o.svc.Summary.WorkingContext(ctx, st.project, st.chapterIndex, o.svc.Config.Memory.RecentChapters)
	if err != nil {
		o.logger.Warn("working context unavailable", "project_id", st.project.ID, "error", err)
	}

	truncated := contextpack.SmartTruncate(st.project.ContinuityOrEmpty(), nil,
		st.chapterIndex, o.svc.Config.Context.MemoryMaxChars)
	if truncated == "" {
		truncated = o.svc.Memory.ContextBlock(ctx, st.project)
	}
	if working != "" {
		st.memoryContext = working + "\n\n" + truncated
	} else {
		st.memoryContext = truncated
	}
	st.bibleContext = renderBible(st.project.StoryBible, o.svc.Config.Context.StoryBibleMaxChars)

	if st.req.ReindexDocuments {
		docs, err := o.svc.Store.ListByProject(ctx, st.project.ID)
		if err != nil {
			return err
		}
		if _, err := o.svc.RAG.IndexDocuments(ctx, st.project.ID, docs, true); err != nil {
			o.logger.Warn("reindex failed, continuing", "project_id", st.project.ID, "error", err)
		}
	}

	if st.req.UseRAG {
		query := strings.TrimSpace(st.title + " " + st.summary)
		chunks, err := o.svc.RAG.Retrieve(ctx, st.project.ID, query, o.svc.Config.RAG.TopK)
		if err != nil {
			o.logger.Warn("retrieval failed, continuing", "project_id", st.project.ID, "error", err)
		}
		st.retrievedChunks = chunks

		style, err := o.svc.RAG.RetrieveStyle(ctx, st.project.ID, query, 3)
		if err == nil {
			st.styleChunks = style
		}
	}
	return nil
}

// planChapter resolves the chapter plan.
func (o *Orchestrator) planChapter(ctx context.Context, st *state) error {
	prev := st.project.RecentChapterSummaries
	if len(prev) > 5 {
		prev = prev[len(prev)-5:]
	}

	var hints []string
	if o.svc.Config.Coherence.ChekhovEnabled && o.svc.Planner.NeedsLLM(st.project, st.chapterIndex) {
		h, err := o.svc.Validator.SuggestGunResolutions(ctx, st.project, st.chapterIndex)
		if err != nil {
			o.logger.Warn("promise resolution suggestions failed, continuing", "error", err)
		} else {
			hints = h
		}
	}

	plan, err := o.svc.Planner.Plan(ctx, &PlanInput{
		Project:           st.project,
		ChapterIndex:      st.chapterIndex,
		Title:             st.title,
		Summary:           st.summary,
		PreviousSummaries: prev,
		MemoryContext:     st.memoryContext,
		UserInstruction:   st.req.UserInstruction,
		TargetWordCount:   st.targetWordCount,
		ResolutionHints:   hints,
	})
	if err != nil {
		return err
	}
	st.currentPlan = plan
	return nil
}

// writeChapter expands the beats into prose.
func (o *Orchestrator) writeChapter(ctx context.Context, st *state) error {
	base := &writer.BasePrompt{
		Genre:           st.project.Concept.Genre,
		Concept:         st.project.Concept.Premise,
		ChapterTitle:    st.title,
		ChapterIndex:    st.chapterIndex,
		MemoryContext:   st.memoryContext,
		StoryBible:      st.bibleContext,
		StyleExamples:   renderChunks(st.styleChunks, o.svc.Config.Context.StyleMaxChars),
		RetrievedChunks: renderChunks(st.retrievedChunks, o.svc.Config.Context.RAGMaxChars),
		RevisionNotes:   st.critiqueFeedback,
		UserInstruction: st.req.UserInstruction,
	}

	res, err := o.svc.Writer.Write(ctx, &writer.Request{
		Base:          base,
		Beats:         st.currentPlan.SceneBeats,
		BeatTexts:     st.beatTexts,
		RevisionCount: st.revisionCount,
		TargetWords:   st.targetWordCount,
		MaxWords:      st.maxWordCount,
	})
	if err != nil {
		return err
	}
	st.chapterText = res.Content
	st.beatTexts = res.BeatTexts
	if res.FailedBeats > 0 {
		o.logger.Warn("beats failed", "chapter_index", st.chapterIndex,
			"failed_beats", res.FailedBeats, "strategy", res.Strategy)
	}
	return nil
}

// validateContinuity fuses the analyst and graph validator results and
// runs plot-point validation.
func (o *Orchestrator) validateContinuity(ctx context.Context, st *state) error {
	excerpts := st.project.RecentChapterSummaries
	if len(excerpts) > 5 {
		excerpts = excerpts[len(excerpts)-5:]
	}

	result, err := o.svc.Validator.Validate(ctx, &validate.Input{
		Project:        st.project,
		ChapterText:    truncateRunes(st.chapterText, o.svc.Config.Context.ValidationMaxChars),
		ChapterIndex:   st.chapterIndex,
		MemoryContext:  st.memoryContext,
		StoryBible:     st.bibleContext,
		RecentExcerpts: excerpts,
	})
	if err != nil {
		return err
	}

	report, err := o.svc.Validator.ValidatePlotPoints(ctx, st.chapterText,
		st.currentPlan.RequiredPlotPoints, st.currentPlan.ForbiddenActions)
	if err != nil {
		return err
	}
	st.plotPointReport = report

	for _, issue := range validate.BlockingIssues(report) {
		result.SevereIssues = append(result.SevereIssues, issue)
		result.Blocking = true
	}
	st.continuityValidation = result

	st.continuityAlerts = st.continuityAlerts[:0]
	for _, issue := range result.SevereIssues {
		st.continuityAlerts = append(st.continuityAlerts, issue.Detail)
	}

	// Narrative promises are tracked once per generation, on the first
	// draft; revision passes keep the alerts already gathered.
	if st.revisionCount == 0 && o.svc.Config.Coherence.ChekhovEnabled {
		chek, err := o.svc.Validator.TrackChekhovGuns(ctx, st.project, st.chapterText, st.chapterIndex)
		if err != nil {
			o.logger.Warn("promise tracking failed, continuing", "error", err)
		} else {
			for _, alert := range chek.Alerts {
				st.chekhovAlerts = append(st.chekhovAlerts, alert.Detail)
			}
		}
	}
	st.continuityAlerts = append(st.continuityAlerts, st.chekhovAlerts...)

	if o.svc.Config.Coherence.CharacterDriftEnabled {
		drift, err := o.svc.Validator.DetectCharacterDrift(ctx, st.project, st.chapterText)
		if err != nil {
			o.logger.Warn("character drift detection failed, continuing", "error", err)
		} else if drift.DriftScore >= o.svc.Config.Coherence.CharacterDriftThreshold {
			for _, flag := range drift.Flags {
				st.continuityAlerts = append(st.continuityAlerts,
					fmt.Sprintf("character drift: %s: %s", flag.Character, flag.Detail))
			}
		}
	}

	if o.svc.Config.Coherence.VoiceAnalyzerEnabled && o.svc.Voice != nil {
		dialogues := validate.ExtractDialogues(st.chapterText, characterNames(st.project.ContinuityOrEmpty()))
		voice, err := o.svc.Voice.Analyze(ctx, dialogues)
		if err != nil {
			o.logger.Warn("voice analysis failed, continuing", "error", err)
		} else {
			st.continuityAlerts = append(st.continuityAlerts, voice.Describe()...)
		}
	}

	if st.req.POVValidation && o.svc.Config.Coherence.POVValidatorEnabled {
		povType := st.req.POVType
		if povType == "" {
			povType = o.svc.Config.Coherence.POVDefaultType
		}
		pov, err := o.svc.Validator.ValidatePOV(ctx, st.chapterText, st.req.POVCharacter, povType)
		if err != nil {
			o.logger.Warn("POV validation failed, continuing", "error", err)
		} else {
			for _, viol := range pov.Violations {
				st.continuityAlerts = append(st.continuityAlerts,
					fmt.Sprintf("POV %s: %s", viol.Kind, viol.Detail))
			}
		}
	}
	return nil
}

// runCritic scores the draft and prepares revision feedback.
func (o *Orchestrator) runCritic(ctx context.Context, st *state) error {
	critique, err := o.svc.Critic.Review(ctx, &critic.Input{
		ChapterText:     truncateRunes(st.chapterText, o.svc.Config.Context.CriticMaxChars),
		Plan:            st.currentPlan,
		TargetWordCount: st.targetWordCount,
		ChapterIndex:    st.chapterIndex,
	})
	if err != nil {
		return err
	}
	st.critique = critique
	st.critiqueFeedback = critic.Feedback(critique)
	for _, issue := range st.continuityValidation.SevereIssues {
		st.critiqueFeedback = append(st.critiqueFeedback, issue.Detail)
	}
	st.revisionCount++
	return nil
}

// persistDraft creates or updates the draft document.
func (o *Orchestrator) persistDraft(ctx context.Context, st *state) error {
	var doc *types.Document
	if st.chapterID != "" {
		existing, err := o.svc.Store.Get(ctx, st.chapterID)
		if err != nil {
			return err
		}
		doc = existing
	} else {
		doc = &types.Document{
			ProjectID:    st.project.ID,
			Type:         types.DocumentTypeChapter,
			OrderIndex:   st.chapterIndex - 1,
			ChapterIndex: st.chapterIndex,
		}
	}

	doc.Title = st.title
	doc.Content = st.chapterText
	doc.Status = types.StatusDraft
	doc.PlanSnapshot = st.currentPlan
	doc.PlotPointReport = st.plotPointReport
	if st.continuityValidation != nil {
		doc.ValidationHistory = append(doc.ValidationHistory, *st.continuityValidation)
	}

	if st.chapterID == "" {
		if err := o.svc.Store.Create(ctx, doc); err != nil {
			return err
		}
		st.chapterID = doc.ID
		return nil
	}
	return o.svc.Store.Update(ctx, doc)
}

// persistProject saves tracked contradictions and Chekhov state picked up
// during validation under the optimistic lock.
func (o *Orchestrator) persistProject(ctx context.Context, st *state) error {
	tracked := st.project.TrackedContradictions
	guns := st.project.ChekhovGuns
	updated, err := o.svc.Store.UpdateMetadataRetry(ctx, st.project.ID, st.req.UserID,
		func(p *types.Project) error {
			p.TrackedContradictions = mergeTracked(p.TrackedContradictions, tracked)
			p.ChekhovGuns = mergeGuns(p.ChekhovGuns, guns)
			return nil
		})
	if err != nil {
		return err
	}
	st.project = updated
	return nil
}

// mergeTracked keeps existing triage state and adds new auto-detected
// entries by description.
func mergeTracked(existing, incoming []types.TrackedContradiction) []types.TrackedContradiction {
	for _, in := range incoming {
		found := false
		for i := range existing {
			if strings.EqualFold(existing[i].Description, in.Description) {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, in)
		}
	}
	return existing
}

func characterNames(facts *types.ContinuityFacts) []string {
	names := make([]string, 0, len(facts.Characters))
	for i := range facts.Characters {
		names = append(names, facts.Characters[i].Name)
	}
	return names
}

// mergeGuns folds the request's promise state into the stored list by
// element: new promises append, resolutions stick, everything already
// persisted stays.
func mergeGuns(existing, incoming []types.ChekhovGun) []types.ChekhovGun {
	for _, in := range incoming {
		found := false
		for i := range existing {
			if strings.EqualFold(existing[i].Element, in.Element) {
				if in.Resolved && !existing[i].Resolved {
					existing[i].Resolved = true
					existing[i].ResolvedChapter = in.ResolvedChapter
					existing[i].HintsDropped = in.HintsDropped
				}
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, in)
		}
	}
	return existing
}

func renderBible(bible *types.StoryBible, maxChars int) string {
	if bible == nil {
		return ""
	}
	var sb strings.Builder
	if len(bible.WorldRules) > 0 {
		sb.WriteString("World rules:\n- " + strings.Join(bible.WorldRules, "\n- ") + "\n")
	}
	if len(bible.Timeline) > 0 {
		sb.WriteString("Timeline:\n- " + strings.Join(bible.Timeline, "\n- ") + "\n")
	}
	if len(bible.EstablishedFacts) > 0 {
		sb.WriteString("Established facts:\n")
		for _, f := range bible.EstablishedFacts {
			fmt.Fprintf(&sb, "- %s\n", f.Fact)
		}
	}
	return truncateRunes(strings.TrimSpace(sb.String()), maxChars)
}

func renderChunks(chunks []types.RetrievedChunk, maxChars int) string {
	if len(chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&sb, "[chapter %d] %s\n\n", c.ChapterIndex, c.Text)
	}
	return truncateRunes(strings.TrimSpace(sb.String()), maxChars)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
