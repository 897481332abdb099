package maintenance

import (
	"context"
	"strings"
	"time"

	"github.com/henribesnard/novellaforge/internal/types"
)

// PromoteFacts counts trait and rule occurrences across the continuity
// and inserts any value reaching the promotion threshold into the story
// bible with a frequency-derived confidence. Returns how many facts were
// promoted.
func (r *Runner) PromoteFacts(ctx context.Context, projectID, ownerID string) (int, error) {
	promoted := 0
	_, err := r.store.UpdateMetadataRetry(ctx, projectID, ownerID, func(p *types.Project) error {
		promoted = promoteInto(p, r.cfg.FactPromotionThreshold)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if promoted > 0 {
		r.logger.Info("promoted recurring facts", "project_id", projectID, "count", promoted)
	}
	return promoted, nil
}

func promoteInto(p *types.Project, threshold int) int {
	if threshold <= 0 {
		threshold = 3
	}
	continuity := p.ContinuityOrEmpty()
	bible := p.Bible()

	counts := make(map[string]int)
	sections := make(map[string]string)
	total := 0

	for i := range continuity.Characters {
		for _, trait := range continuity.Characters[i].Traits {
			key := strings.ToLower(strings.TrimSpace(trait))
			if key == "" {
				continue
			}
			counts[key]++
			sections[key] = "trait"
			total++
		}
	}
	for i := range continuity.Locations {
		for _, rule := range continuity.Locations[i].Rules {
			key := strings.ToLower(strings.TrimSpace(rule))
			if key == "" {
				continue
			}
			counts[key]++
			sections[key] = "rule"
			total++
		}
	}
	for i := range continuity.Objects {
		for _, prop := range continuity.Objects[i].MagicalProperties {
			key := strings.ToLower(strings.TrimSpace(prop))
			if key == "" {
				continue
			}
			counts[key]++
			sections[key] = "world_rule"
			total++
		}
	}
	if total == 0 {
		return 0
	}

	existing := make(map[string]bool, len(bible.EstablishedFacts))
	for _, f := range bible.EstablishedFacts {
		existing[strings.ToLower(f.Fact)] = true
	}

	promoted := 0
	now := time.Now().UTC()
	for key, n := range counts {
		if n < threshold || existing[key] {
			continue
		}
		confidence := float64(n) / float64(total)
		if confidence > 1 {
			confidence = 1
		}
		bible.EstablishedFacts = append(bible.EstablishedFacts, types.PromotedFact{
			Fact:       key,
			Section:    sections[key],
			Confidence: confidence,
			PromotedAt: now,
		})
		promoted++
	}
	return promoted
}
