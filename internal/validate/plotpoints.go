package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/types"
)

const plotPointSystemPrompt = `You verify plot-point coverage in a chapter.
Given the chapter text, a list of required plot points and a list of
forbidden actions, respond with strict JSON only:
{
  "covered_points": [],
  "missing_points": [],
  "forbidden_violations": [],
  "coverage_score": 0.0,
  "explanation": ""
}
covered_points and missing_points must partition the required list exactly.
coverage_score is covered/required, between 0 and 1.`

var plotPointSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"covered_points":       {"type": "array", "items": {"type": "string"}},
		"missing_points":       {"type": "array", "items": {"type": "string"}},
		"forbidden_violations": {"type": "array", "items": {"type": "string"}},
		"coverage_score":       {"type": "number"}
	}
}`)

// ValidatePlotPoints checks required and forbidden plot points against the
// chapter text. With neither list set it returns an empty report with a
// zero score that never blocks.
func (v *Validator) ValidatePlotPoints(ctx context.Context, chapterText string, required, forbidden []string) (*types.PlotPointValidation, error) {
	if len(required) == 0 && len(forbidden) == 0 {
		return &types.PlotPointValidation{
			CoveredPoints:       []string{},
			MissingPoints:       []string{},
			ForbiddenViolations: []string{},
			CoverageScore:       0.0,
		}, nil
	}

	var sb strings.Builder
	sb.WriteString("Chapter:\n" + chapterText + "\n")
	if len(required) > 0 {
		sb.WriteString("\nRequired plot points:\n- " + strings.Join(required, "\n- ") + "\n")
	}
	if len(forbidden) > 0 {
		sb.WriteString("\nForbidden actions:\n- " + strings.Join(forbidden, "\n- ") + "\n")
	}

	req := &llm.ChatRequest{
		Model:       v.model,
		Messages:    llm.SystemUser(plotPointSystemPrompt, sb.String()),
		Temperature: 0.1,
	}

	var report types.PlotPointValidation
	if err := llm.ChatJSON(ctx, v.client, req, plotPointSchema, &report); err != nil {
		return nil, fmt.Errorf("plot point validation failed: %w", err)
	}

	report.MissingPoints = intersect(report.MissingPoints, required)
	report.CoveredPoints = subtract(required, report.MissingPoints)
	if report.CoverageScore < 0 {
		report.CoverageScore = 0
	}
	if report.CoverageScore > 1 {
		report.CoverageScore = 1
	}
	return &report, nil
}

// BlockingIssues converts a plot-point report into blocking severe issues.
func BlockingIssues(report *types.PlotPointValidation) []types.ValidationIssue {
	if report == nil {
		return nil
	}
	var issues []types.ValidationIssue
	for _, p := range report.MissingPoints {
		issues = append(issues, types.ValidationIssue{
			Type:     "missing_plot_point",
			Severity: types.SeverityCritical,
			Detail:   fmt.Sprintf("required plot point not covered: %s", p),
		})
	}
	for _, p := range report.ForbiddenViolations {
		issues = append(issues, types.ValidationIssue{
			Type:     "forbidden_action",
			Severity: types.SeverityCritical,
			Detail:   fmt.Sprintf("forbidden action present: %s", p),
		})
	}
	return issues
}

// intersect keeps values of a that also appear in b (case-insensitive).
func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[strings.ToLower(strings.TrimSpace(v))] = true
	}
	out := []string{}
	for _, v := range a {
		if set[strings.ToLower(strings.TrimSpace(v))] {
			out = append(out, v)
		}
	}
	return out
}

// subtract returns values of a not present in b (case-insensitive).
func subtract(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[strings.ToLower(strings.TrimSpace(v))] = true
	}
	out := []string{}
	for _, v := range a {
		if !set[strings.ToLower(strings.TrimSpace(v))] {
			out = append(out, v)
		}
	}
	return out
}
