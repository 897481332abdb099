package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/types"
)

const driftSystemPrompt = `You detect character drift in serial fiction.
For each listed character, compare their behavior in the chapter against
their established history and traits. Flag only unjustified changes; a
change the chapter itself explains is not drift. Respond with strict JSON:
{
  "flags": [{"character": "", "detail": "", "severity": 1}]
}
severity is 1 (barely noticeable) to 10 (out of character).`

var driftSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"flags": {"type": "array"}
	}
}`)

// DriftFlag is one unjustified character change.
type DriftFlag struct {
	Character string `json:"character"`
	Detail    string `json:"detail"`
	Severity  int    `json:"severity"`
}

// DriftReport aggregates per-character drift flags.
type DriftReport struct {
	Flags []DriftFlag `json:"flags"`
	// Mean severity over 10; 0 with no flags.
	DriftScore float64 `json:"drift_score"`
}

// DetectCharacterDrift compares the behavior of known characters present
// in the chapter against their status history and story-bible traits.
func (v *Validator) DetectCharacterDrift(ctx context.Context, project *types.Project, chapterText string) (*DriftReport, error) {
	continuity := project.ContinuityOrEmpty()
	lowerText := strings.ToLower(chapterText)

	var profiles []string
	for i := range continuity.Characters {
		c := &continuity.Characters[i]
		if c.Name == "" || !strings.Contains(lowerText, strings.ToLower(c.Name)) {
			continue
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s: status %s", c.Name, c.Status)
		if len(c.Traits) > 0 {
			sb.WriteString("; traits: " + strings.Join(c.Traits, ", "))
		}
		if len(c.StatusHistory) > 0 {
			sb.WriteString("; history:")
			for _, h := range c.StatusHistory {
				fmt.Fprintf(&sb, " %s(ch.%d)", h.Value, h.ChapterIndex)
			}
		}
		profiles = append(profiles, sb.String())
	}
	if len(profiles) == 0 {
		return &DriftReport{}, nil
	}

	user := fmt.Sprintf("Chapter:\n%s\n\nEstablished characters:\n%s",
		chapterText, strings.Join(profiles, "\n"))

	req := &llm.ChatRequest{
		Model:       v.model,
		Messages:    llm.SystemUser(driftSystemPrompt, user),
		Temperature: 0.1,
	}

	var report DriftReport
	if err := llm.ChatJSON(ctx, v.client, req, driftSchema, &report); err != nil {
		return nil, fmt.Errorf("character drift detection failed: %w", err)
	}

	total := 0
	for i := range report.Flags {
		if report.Flags[i].Severity < 1 {
			report.Flags[i].Severity = 1
		}
		if report.Flags[i].Severity > 10 {
			report.Flags[i].Severity = 10
		}
		total += report.Flags[i].Severity
	}
	if len(report.Flags) > 0 {
		report.DriftScore = float64(total) / float64(len(report.Flags)) / 10.0
	}
	return &report, nil
}
