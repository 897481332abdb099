// Package critic scores a draft chapter on pacing, cliffhanger strength
// and coherence, and produces the feedback that drives revision loops.
package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/types"
)

const criticSystemPrompt = `You are a demanding fiction editor reviewing one
chapter of a serial. Judge pacing, the strength of the end-of-chapter hook
and coherence with the supplied plan. Respond with strict JSON only:
{
  "score": 0.0,
  "issues": [],
  "suggestions": [],
  "cliffhanger_ok": false,
  "pacing_ok": false,
  "continuity_risks": []
}
score is 0 (unpublishable) to 10 (exceptional). issues are concrete
problems; suggestions are concrete fixes. Be strict: reserve scores above
8 for chapters needing no changes.`

var criticSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"score":          {"type": "number"},
		"issues":         {"type": "array", "items": {"type": "string"}},
		"suggestions":    {"type": "array", "items": {"type": "string"}},
		"cliffhanger_ok": {"type": "boolean"},
		"pacing_ok":      {"type": "boolean"}
	},
	"required": ["score"]
}`)

// Critic evaluates drafts.
type Critic struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// New creates a critic.
func New(client llm.Client, model string, logger *slog.Logger) *Critic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Critic{client: client, model: model, logger: logger}
}

// Input is one review request.
type Input struct {
	ChapterText     string
	Plan            *types.ChapterPlan
	TargetWordCount int
	ChapterIndex    int
}

// Review scores the draft and returns the critique payload.
func (c *Critic) Review(ctx context.Context, in *Input) (*types.Critique, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Chapter %d, target length %d words, actual %d words.\n",
		in.ChapterIndex, in.TargetWordCount, types.WordCount(in.ChapterText))
	if in.Plan != nil {
		sb.WriteString("\nPlanned beats:\n")
		for i, beat := range in.Plan.SceneBeats {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, beat)
		}
		if in.Plan.TargetEmotion != "" {
			sb.WriteString("Target emotion: " + in.Plan.TargetEmotion + "\n")
		}
		if in.Plan.CliffhangerType != "" {
			sb.WriteString("Planned cliffhanger type: " + in.Plan.CliffhangerType + "\n")
		}
	}
	sb.WriteString("\nChapter text:\n" + in.ChapterText)

	req := &llm.ChatRequest{
		Model:       c.model,
		Messages:    llm.SystemUser(criticSystemPrompt, sb.String()),
		Temperature: 0.3,
	}

	var critique types.Critique
	if err := llm.ChatJSON(ctx, c.client, req, criticSchema, &critique); err != nil {
		return nil, fmt.Errorf("critic review failed: %w", err)
	}
	if critique.Score < 0 {
		critique.Score = 0
	}
	if critique.Score > 10 {
		critique.Score = 10
	}

	c.logger.Debug("critic review", "chapter_index", in.ChapterIndex,
		"score", critique.Score, "issues", len(critique.Issues))
	return &critique, nil
}

// Feedback joins issues and suggestions for the next write iteration.
func Feedback(critique *types.Critique) []string {
	if critique == nil {
		return nil
	}
	out := make([]string, 0, len(critique.Issues)+len(critique.Suggestions))
	out = append(out, critique.Issues...)
	out = append(out, critique.Suggestions...)
	return out
}
