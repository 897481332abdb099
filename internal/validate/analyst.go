// Package validate checks a draft chapter against established continuity:
// an LLM consistency analyst and a graph validator run concurrently and
// their findings are fused, filtered against dismissed contradictions and
// intentional mysteries, and folded into the pipeline's revise decision.
// The optional coherence specialists (drift, voice, POV, Chekhov,
// semantic) live here too.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/henribesnard/novellaforge/internal/llm"
)

const analystSystemPrompt = `You are a continuity analyst for serial fiction.
Compare the chapter against the established facts and report every
inconsistency. Respond with strict JSON only:
{
  "contradictions": [{"detail": "", "severity": "critical|high|medium|low"}],
  "timeline_issues": [{"detail": "", "severity": ""}],
  "character_inconsistencies": [{"detail": "", "severity": ""}],
  "world_rule_violations": [{"detail": "", "severity": ""}],
  "overall_coherence_score": 0.0,
  "summary": "",
  "blocking_issues": [""]
}
Score coherence from 0 (incoherent) to 10 (flawless). Only report real
conflicts with the provided reference material, not stylistic opinions.`

var analystSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"overall_coherence_score": {"type": "number"},
		"summary":                 {"type": "string"}
	},
	"required": ["overall_coherence_score"]
}`)

// analystItem is one finding of the consistency analyst.
type analystItem struct {
	Detail   string `json:"detail"`
	Severity string `json:"severity"`
}

// analystReport is the raw analyst output before fusion.
type analystReport struct {
	Contradictions           []analystItem `json:"contradictions"`
	TimelineIssues           []analystItem `json:"timeline_issues"`
	CharacterInconsistencies []analystItem `json:"character_inconsistencies"`
	WorldRuleViolations      []analystItem `json:"world_rule_violations"`
	OverallCoherenceScore    float64       `json:"overall_coherence_score"`
	Summary                  string        `json:"summary"`
	BlockingIssues           []string      `json:"blocking_issues"`
}

// AnalystInput is the reference material handed to the analyst.
type AnalystInput struct {
	ChapterText    string
	MemoryContext  string
	StoryBible     string
	RecentExcerpts []string
}

// runAnalyst calls the LLM consistency analyst.
func runAnalyst(ctx context.Context, client llm.Client, model string, in *AnalystInput) (*analystReport, error) {
	var sb strings.Builder
	sb.WriteString("Chapter under review:\n" + in.ChapterText + "\n")
	if in.MemoryContext != "" {
		sb.WriteString("\nEstablished continuity:\n" + in.MemoryContext + "\n")
	}
	if in.StoryBible != "" {
		sb.WriteString("\nStory bible:\n" + in.StoryBible + "\n")
	}
	if len(in.RecentExcerpts) > 0 {
		sb.WriteString("\nRecent chapter excerpts:\n")
		for i, ex := range in.RecentExcerpts {
			fmt.Fprintf(&sb, "--- excerpt %d ---\n%s\n", i+1, ex)
		}
	}

	req := &llm.ChatRequest{
		Model:       model,
		Messages:    llm.SystemUser(analystSystemPrompt, sb.String()),
		Temperature: 0.1,
	}

	var report analystReport
	if err := llm.ChatJSON(ctx, client, req, analystSchema, &report); err != nil {
		return nil, fmt.Errorf("consistency analyst failed: %w", err)
	}
	if report.OverallCoherenceScore < 0 {
		report.OverallCoherenceScore = 0
	}
	if report.OverallCoherenceScore > 10 {
		report.OverallCoherenceScore = 10
	}
	return &report, nil
}
