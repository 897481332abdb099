package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/henribesnard/novellaforge/internal/graph"
	"github.com/henribesnard/novellaforge/internal/types"
)

// graphFinding is one validator hit before fusion.
type graphFinding struct {
	Type     string
	Severity string
	Detail   string
}

// runGraphValidator checks every known character mentioned in the chapter
// against the graph's status histories and reports orphaned plot threads.
// A nil or unavailable graph degrades to no findings.
func runGraphValidator(ctx context.Context, gs *graph.Store, projectID, chapterText string,
	continuity *types.ContinuityFacts, currentChapter int) ([]graphFinding, error) {

	if gs == nil || continuity == nil {
		return nil, nil
	}

	lowerText := strings.ToLower(chapterText)
	var findings []graphFinding

	for i := range continuity.Characters {
		name := continuity.Characters[i].Name
		if name == "" || !strings.Contains(lowerText, strings.ToLower(name)) {
			continue
		}
		issues, err := gs.DetectCharacterContradictions(ctx, projectID, name)
		if err != nil {
			if errors.Is(err, graph.ErrUnavailable) {
				return nil, nil
			}
			return nil, err
		}
		for _, c := range issues {
			findings = append(findings, graphFinding{
				Type:     "character_contradiction",
				Severity: types.SeverityCritical,
				Detail:   c.Detail,
			})
		}
	}

	threads, err := gs.FindOrphanedPlotThreads(ctx, projectID, currentChapter)
	if err != nil {
		if errors.Is(err, graph.ErrUnavailable) {
			return findings, nil
		}
		return nil, err
	}
	for _, t := range threads {
		findings = append(findings, graphFinding{
			Type:     "orphaned_plot_thread",
			Severity: types.SeverityMedium,
			Detail: fmt.Sprintf("%s has been unresolved since chapter %d",
				t.Event, t.LastMentionedChapter),
		})
	}
	return findings, nil
}
