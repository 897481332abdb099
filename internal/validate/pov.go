package validate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/henribesnard/novellaforge/internal/llm"
)

// POV types.
const (
	POVFirstPerson = "first_person"
	POVLimited     = "limited"
	POVOmniscient  = "omniscient"
	POVObjective   = "objective"
)

const povSystemPrompt = `You audit point-of-view discipline in fiction.
Given the POV character and POV type, find passages where the narration
knows something it cannot: forbidden inner thoughts of other characters,
impossible knowledge, accidental omniscience. Respond with strict JSON:
{
  "violations": [{"passage": "", "kind": "forbidden_thoughts|impossible_knowledge|accidental_omniscience", "detail": ""}],
  "valid": true
}`

var povSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"violations": {"type": "array"},
		"valid":      {"type": "boolean"}
	}
}`)

// POVViolation is one narration slip.
type POVViolation struct {
	Passage string `json:"passage"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail"`
}

// POVReport is the audit result.
type POVReport struct {
	Violations []POVViolation `json:"violations"`
	Valid      bool           `json:"valid"`
}

// ValidatePOV audits the chapter's narration. Omniscient POV is valid by
// definition and short-circuits without an LLM call.
func (v *Validator) ValidatePOV(ctx context.Context, chapterText, povCharacter, povType string) (*POVReport, error) {
	if povType == POVOmniscient {
		return &POVReport{Valid: true}, nil
	}

	user := fmt.Sprintf("POV character: %s\nPOV type: %s\n\nChapter:\n%s",
		povCharacter, povType, chapterText)

	req := &llm.ChatRequest{
		Model:       v.model,
		Messages:    llm.SystemUser(povSystemPrompt, user),
		Temperature: 0.1,
	}

	var report POVReport
	if err := llm.ChatJSON(ctx, v.client, req, povSchema, &report); err != nil {
		return nil, fmt.Errorf("POV validation failed: %w", err)
	}
	report.Valid = len(report.Violations) == 0
	return &report, nil
}
