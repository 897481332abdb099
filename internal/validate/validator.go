package validate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/henribesnard/novellaforge/internal/graph"
	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/types"
)

// Validator fuses the LLM consistency analyst with the graph validator.
type Validator struct {
	client llm.Client
	model  string
	graph  *graph.Store
	logger *slog.Logger
}

// NewValidator creates the continuity validator. gs may be nil.
func NewValidator(client llm.Client, model string, gs *graph.Store, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{client: client, model: model, graph: gs, logger: logger}
}

// Input is everything one validation run needs.
type Input struct {
	Project        *types.Project
	ChapterText    string
	ChapterIndex   int
	MemoryContext  string
	StoryBible     string
	RecentExcerpts []string
}

// Validate runs analyst and graph validator concurrently and fuses their
// findings. Severe issues are appended to the project's tracked
// contradictions (deduplicated by detail); the caller persists the
// project.
func (v *Validator) Validate(ctx context.Context, in *Input) (*types.ContinuityValidation, error) {
	if strings.TrimSpace(in.ChapterText) == "" {
		return &types.ContinuityValidation{
			CoherenceScore: 0,
			SevereIssues: []types.ValidationIssue{{
				Type: "missing_content", Severity: types.SeverityHigh,
				Detail: "chapter text is empty",
			}},
		}, nil
	}

	var report *analystReport
	var findings []graphFinding
	var analystDegraded bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := runAnalyst(gctx, v.client, v.model, &AnalystInput{
			ChapterText:    in.ChapterText,
			MemoryContext:  in.MemoryContext,
			StoryBible:     in.StoryBible,
			RecentExcerpts: in.RecentExcerpts,
		})
		if err != nil {
			// A second malformed reply downgrades to an empty report
			// instead of failing the chapter.
			if errors.Is(err, llm.ErrBadFormat) {
				v.logger.Warn("analyst output unusable, degrading",
					"project_id", in.Project.ID, "error", err)
				report = &analystReport{}
				analystDegraded = true
				return nil
			}
			return err
		}
		report = r
		return nil
	})
	g.Go(func() error {
		f, err := runGraphValidator(gctx, v.graph, in.Project.ID, in.ChapterText,
			in.Project.Continuity, in.ChapterIndex)
		if err != nil {
			v.logger.Warn("graph validation degraded", "project_id", in.Project.ID, "error", err)
			return nil
		}
		findings = f
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := fuse(report, findings)
	if analystDegraded {
		result.MinorIssues = append(result.MinorIssues, types.ValidationIssue{
			Type:     "analyst",
			Severity: types.SeverityLow,
			Detail:   "consistency analyst output could not be parsed; findings unavailable for this pass",
		})
	}
	result = filterDismissed(result, in.Project)
	trackSevereIssues(in.Project, result, in.ChapterIndex)
	return result, nil
}

// fuse folds analyst and graph findings into one validation result.
// Severities critical and high become severe issues; any critical sets
// blocking.
func fuse(report *analystReport, findings []graphFinding) *types.ContinuityValidation {
	out := &types.ContinuityValidation{
		CoherenceScore: report.OverallCoherenceScore,
		Summary:        report.Summary,
	}

	add := func(kind, severity, detail string) {
		detail = strings.TrimSpace(detail)
		if detail == "" {
			return
		}
		issue := types.ValidationIssue{Type: kind, Severity: normalizeSeverity(severity), Detail: detail}
		switch issue.Severity {
		case types.SeverityCritical:
			out.Blocking = true
			out.SevereIssues = append(out.SevereIssues, issue)
		case types.SeverityHigh:
			out.SevereIssues = append(out.SevereIssues, issue)
		default:
			out.MinorIssues = append(out.MinorIssues, issue)
		}
	}

	for _, it := range report.Contradictions {
		add("contradiction", it.Severity, it.Detail)
	}
	for _, it := range report.TimelineIssues {
		add("timeline", it.Severity, it.Detail)
	}
	for _, it := range report.CharacterInconsistencies {
		add("character", it.Severity, it.Detail)
	}
	for _, it := range report.WorldRuleViolations {
		add("world_rule", it.Severity, it.Detail)
	}
	for _, b := range report.BlockingIssues {
		add("blocking", types.SeverityCritical, b)
	}
	for _, f := range findings {
		add(f.Type, f.Severity, f.Detail)
	}
	return out
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case types.SeverityCritical:
		return types.SeverityCritical
	case types.SeverityHigh:
		return types.SeverityHigh
	case types.SeverityLow:
		return types.SeverityLow
	default:
		return types.SeverityMedium
	}
}

// filterDismissed drops issues already triaged as resolved or intentional
// and issues covered by an intentional mystery.
func filterDismissed(result *types.ContinuityValidation, project *types.Project) *types.ContinuityValidation {
	keep := func(issue types.ValidationIssue) bool {
		for i := range project.TrackedContradictions {
			tc := &project.TrackedContradictions[i]
			if tc.Dismissed() && detailsMatch(issue.Detail, tc.Description) {
				return false
			}
		}
		if project.StoryBible != nil {
			for i := range project.StoryBible.IntentionalMysteries {
				if mysteryCovers(&project.StoryBible.IntentionalMysteries[i], issue.Detail) {
					return false
				}
			}
		}
		return true
	}

	var severe []types.ValidationIssue
	for _, issue := range result.SevereIssues {
		if keep(issue) {
			severe = append(severe, issue)
		}
	}
	var minor []types.ValidationIssue
	for _, issue := range result.MinorIssues {
		if keep(issue) {
			minor = append(minor, issue)
		}
	}

	result.SevereIssues = severe
	result.MinorIssues = minor
	result.Blocking = false
	for _, issue := range severe {
		if issue.Severity == types.SeverityCritical {
			result.Blocking = true
			break
		}
	}
	return result
}

// detailsMatch compares issue details loosely: either contains the other,
// case-insensitive.
func detailsMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// mysteryCovers reports whether an intentional mystery explains the issue,
// by description substring or character overlap.
func mysteryCovers(m *types.IntentionalMystery, detail string) bool {
	lower := strings.ToLower(detail)
	if m.Description != "" && strings.Contains(lower, strings.ToLower(m.Description)) {
		return true
	}
	for _, ch := range m.Characters {
		if ch != "" && strings.Contains(lower, strings.ToLower(ch)) {
			return true
		}
	}
	return false
}

// trackSevereIssues appends severe issues to the project's tracked
// contradictions, deduplicated by detail. Existing entries gain the
// chapter in affected_chapters.
func trackSevereIssues(project *types.Project, result *types.ContinuityValidation, chapterIndex int) {
	for _, issue := range result.SevereIssues {
		if strings.TrimSpace(issue.Detail) == "" {
			continue
		}
		if existing := findTracked(project, issue.Detail); existing != nil {
			addChapter(existing, chapterIndex)
			continue
		}
		project.TrackedContradictions = append(project.TrackedContradictions, types.TrackedContradiction{
			ID:                uuid.New().String(),
			Type:              issue.Type,
			Severity:          issue.Severity,
			Description:       issue.Detail,
			DetectedInChapter: chapterIndex,
			DetectedAt:        time.Now().UTC(),
			Status:            types.ContradictionPending,
			AffectedChapters:  []int{chapterIndex},
			AutoDetected:      true,
		})
	}
}

func findTracked(project *types.Project, detail string) *types.TrackedContradiction {
	for i := range project.TrackedContradictions {
		if detailsMatch(project.TrackedContradictions[i].Description, detail) {
			return &project.TrackedContradictions[i]
		}
	}
	return nil
}

func addChapter(tc *types.TrackedContradiction, chapterIndex int) {
	for _, c := range tc.AffectedChapters {
		if c == chapterIndex {
			return
		}
	}
	tc.AffectedChapters = append(tc.AffectedChapters, chapterIndex)
}
