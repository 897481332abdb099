package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/henribesnard/novellaforge/internal/config"
	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/types"
)

const plannerSystemPrompt = `You plan one chapter of a serial novel. Break
it into 3 to 7 scene beats that flow into each other, pick the dominant
emotion and end on a hook. Respond with strict JSON only:
{
  "chapter_number": 0,
  "scene_beats": [],
  "target_emotion": "",
  "required_plot_points": [],
  "forbidden_actions": [],
  "arc_constraints": [],
  "optional_subplots": [],
  "success_criteria": [],
  "cliffhanger_type": "",
  "estimated_word_count": 0
}`

var plannerSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"scene_beats": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 1
		}
	},
	"required": ["scene_beats"]
}`)

// Planner produces the chapter plan, switching to the reasoning model on
// structurally important chapters.
type Planner struct {
	client         llm.Client
	model          string
	reasoningModel string
	cfg            config.PlanConfig
	logger         *slog.Logger
}

// NewPlanner creates the planner.
func NewPlanner(client llm.Client, model, reasoningModel string, cfg config.PlanConfig, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	if reasoningModel == "" {
		reasoningModel = model
	}
	return &Planner{client: client, model: model, reasoningModel: reasoningModel, cfg: cfg, logger: logger}
}

// PlanInput is one planning request.
type PlanInput struct {
	Project           *types.Project
	ChapterIndex      int
	Title             string
	Summary           string
	PreviousSummaries []string
	MemoryContext     string
	UserInstruction   string
	TargetWordCount   int

	// Suggested payoffs for open narrative promises, offered to the
	// model as optional material.
	ResolutionHints []string
}

// NeedsLLM reports whether Plan would consult the model for this chapter.
func (p *Planner) NeedsLLM(project *types.Project, chapterIndex int) bool {
	if cached, ok := project.PregeneratedPlans[chapterIndex]; ok && cached != nil {
		return false
	}
	entry := project.Plan.ChapterByIndex(chapterIndex)
	return entry == nil || len(entry.SceneBeats) == 0
}

// Plan resolves the chapter plan: pregenerated cache first, then plan
// entry beats, then the LLM. Plan-level constraints are merged into the
// result so they are never dropped.
func (p *Planner) Plan(ctx context.Context, in *PlanInput) (*types.ChapterPlan, error) {
	entry := in.Project.Plan.ChapterByIndex(in.ChapterIndex)

	if cached, ok := in.Project.PregeneratedPlans[in.ChapterIndex]; ok && cached != nil {
		plan := *cached
		mergeConstraints(&plan, entry)
		normalizePlan(&plan, in)
		return &plan, nil
	}

	if entry != nil && len(entry.SceneBeats) > 0 {
		plan := types.ChapterPlan{
			ChapterNumber:      in.ChapterIndex,
			SceneBeats:         entry.SceneBeats,
			EstimatedWordCount: in.TargetWordCount,
		}
		mergeConstraints(&plan, entry)
		normalizePlan(&plan, in)
		return &plan, nil
	}

	plan, err := p.planWithLLM(ctx, in, entry)
	if err != nil {
		return nil, err
	}
	mergeConstraints(plan, entry)
	normalizePlan(plan, in)
	return plan, nil
}

func (p *Planner) planWithLLM(ctx context.Context, in *PlanInput, entry *types.PlanChapter) (*types.ChapterPlan, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Genre: %s\nPremise: %s\n", in.Project.Concept.Genre, in.Project.Concept.Premise)
	if in.Project.Plan != nil && in.Project.Plan.GlobalSummary != "" {
		sb.WriteString("\nGlobal plan:\n" + in.Project.Plan.GlobalSummary + "\n")
	}
	fmt.Fprintf(&sb, "\nPlan chapter %d: %q\n", in.ChapterIndex, in.Title)
	if in.Summary != "" {
		sb.WriteString("Chapter summary from the plan: " + in.Summary + "\n")
	}
	if len(in.PreviousSummaries) > 0 {
		sb.WriteString("\nPrevious chapters:\n- " + strings.Join(in.PreviousSummaries, "\n- ") + "\n")
	}
	if in.MemoryContext != "" {
		sb.WriteString("\nContinuity to respect:\n" + in.MemoryContext + "\n")
	}
	if entry != nil {
		if len(entry.RequiredPlotPoints) > 0 {
			sb.WriteString("\nRequired plot points:\n- " + strings.Join(entry.RequiredPlotPoints, "\n- ") + "\n")
		}
		if len(entry.ForbiddenActions) > 0 {
			sb.WriteString("\nForbidden actions:\n- " + strings.Join(entry.ForbiddenActions, "\n- ") + "\n")
		}
		if len(entry.SuccessCriteria) > 0 {
			sb.WriteString("\nSuccess criteria:\n- " + strings.Join(entry.SuccessCriteria, "\n- ") + "\n")
		}
	}
	if len(in.ResolutionHints) > 0 {
		sb.WriteString("\nOpen promises worth paying off:\n- " + strings.Join(in.ResolutionHints, "\n- ") + "\n")
	}
	if in.UserInstruction != "" {
		sb.WriteString("\nAuthor instruction: " + in.UserInstruction + "\n")
	}
	fmt.Fprintf(&sb, "\nTarget length: about %d words.", in.TargetWordCount)

	req := &llm.ChatRequest{
		Model:       p.pickModel(in.ChapterIndex, in.UserInstruction),
		Messages:    llm.SystemUser(plannerSystemPrompt, sb.String()),
		Temperature: 0.6,
	}

	var plan types.ChapterPlan
	if err := llm.ChatJSON(ctx, p.client, req, plannerSchema, &plan); err != nil {
		return nil, fmt.Errorf("chapter planning failed: %w", err)
	}
	return &plan, nil
}

// pickModel switches to the reasoning variant early in the story, at a
// fixed interval, and whenever the instruction asks for structural work.
func (p *Planner) pickModel(chapterIndex int, instruction string) string {
	if !p.cfg.ReasoningEnabled {
		return p.model
	}
	if chapterIndex <= p.cfg.ReasoningFirstChapters {
		return p.reasoningModel
	}
	if p.cfg.ReasoningInterval > 0 && chapterIndex%p.cfg.ReasoningInterval == 0 {
		return p.reasoningModel
	}
	lower := strings.ToLower(instruction)
	for _, kw := range p.cfg.ReasoningKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return p.reasoningModel
		}
	}
	return p.model
}

// mergeConstraints folds plan-entry constraints into the chapter plan.
func mergeConstraints(plan *types.ChapterPlan, entry *types.PlanChapter) {
	if entry == nil {
		return
	}
	plan.RequiredPlotPoints = unionStrings(plan.RequiredPlotPoints, entry.RequiredPlotPoints)
	plan.ForbiddenActions = unionStrings(plan.ForbiddenActions, entry.ForbiddenActions)
	plan.SuccessCriteria = unionStrings(plan.SuccessCriteria, entry.SuccessCriteria)
}

// normalizePlan repairs structural defects in a plan.
func normalizePlan(plan *types.ChapterPlan, in *PlanInput) {
	plan.ChapterNumber = in.ChapterIndex
	var beats []string
	for _, b := range plan.SceneBeats {
		if strings.TrimSpace(b) != "" {
			beats = append(beats, strings.TrimSpace(b))
		}
	}
	if len(beats) == 0 {
		beats = []string{in.Summary}
		if strings.TrimSpace(in.Summary) == "" {
			beats = []string{fmt.Sprintf("Write chapter %d: %s", in.ChapterIndex, in.Title)}
		}
	}
	if len(beats) > 12 {
		beats = beats[:12]
	}
	plan.SceneBeats = beats
	if plan.EstimatedWordCount <= 0 {
		plan.EstimatedWordCount = in.TargetWordCount
	}
}

func unionStrings(cur, in []string) []string {
	seen := make(map[string]bool, len(cur))
	for _, v := range cur {
		seen[strings.ToLower(strings.TrimSpace(v))] = true
	}
	for _, v := range in {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		cur = append(cur, v)
	}
	return cur
}
