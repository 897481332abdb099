package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/types"
)

// Guns unresolved this many chapters past their introduction trigger an
// alert when urgent.
const (
	gunStaleChapters  = 15
	gunAlertUrgency   = 7
	gunMatchedOverlap = 0.5
)

const chekhovSystemPrompt = `You track narrative promises (Chekhov's guns)
in serial fiction: introduced objects, skills, threats, promises,
foreshadowing and open questions that create reader expectations. From the
chapter, list new promises and any established promises the chapter
resolves. Respond with strict JSON:
{
  "new_guns": [{"element": "", "element_type": "object|skill|threat|promise|foreshadowing|question",
    "expectation": "", "urgency": 5}],
  "resolutions": [{"element": "", "how": ""}]
}
urgency is 1 (background flavor) to 10 (the story hinges on it).`

var chekhovSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"new_guns":    {"type": "array"},
		"resolutions": {"type": "array"}
	}
}`)

type chekhovExtraction struct {
	NewGuns []struct {
		Element     string `json:"element"`
		ElementType string `json:"element_type"`
		Expectation string `json:"expectation"`
		Urgency     int    `json:"urgency"`
	} `json:"new_guns"`
	Resolutions []struct {
		Element string `json:"element"`
		How     string `json:"how"`
	} `json:"resolutions"`
}

// GunAlert flags a stale urgent promise.
type GunAlert struct {
	Gun    types.ChekhovGun `json:"gun"`
	Detail string           `json:"detail"`
}

// ChekhovReport is the tracker's per-chapter outcome.
type ChekhovReport struct {
	NewGuns  []types.ChekhovGun `json:"new_guns"`
	Resolved []string           `json:"resolved"`
	Alerts   []GunAlert         `json:"alerts"`
}

// TrackChekhovGuns extracts new promises from the chapter, matches
// resolutions against the project's open guns by fuzzy word overlap and
// alerts on stale urgent guns. Mutates project.ChekhovGuns; the caller
// persists.
func (v *Validator) TrackChekhovGuns(ctx context.Context, project *types.Project, chapterText string, chapterIndex int) (*ChekhovReport, error) {
	req := &llm.ChatRequest{
		Model:       v.model,
		Messages:    llm.SystemUser(chekhovSystemPrompt, chapterText),
		Temperature: 0.2,
	}

	var extraction chekhovExtraction
	if err := llm.ChatJSON(ctx, v.client, req, chekhovSchema, &extraction); err != nil {
		return nil, fmt.Errorf("chekhov extraction failed: %w", err)
	}

	report := &ChekhovReport{}

	for _, g := range extraction.NewGuns {
		if strings.TrimSpace(g.Element) == "" || gunExists(project.ChekhovGuns, g.Element) {
			continue
		}
		urgency := g.Urgency
		if urgency < 1 {
			urgency = 1
		}
		if urgency > 10 {
			urgency = 10
		}
		gun := types.ChekhovGun{
			Element:           strings.TrimSpace(g.Element),
			ElementType:       normalizeGunType(g.ElementType),
			Expectation:       g.Expectation,
			IntroducedChapter: chapterIndex,
			Urgency:           urgency,
		}
		project.ChekhovGuns = append(project.ChekhovGuns, gun)
		report.NewGuns = append(report.NewGuns, gun)
	}

	for _, res := range extraction.Resolutions {
		for i := range project.ChekhovGuns {
			gun := &project.ChekhovGuns[i]
			if gun.Resolved || wordOverlap(gun.Element, res.Element) < gunMatchedOverlap {
				continue
			}
			gun.Resolved = true
			gun.ResolvedChapter = chapterIndex
			if res.How != "" {
				gun.HintsDropped = append(gun.HintsDropped, res.How)
			}
			report.Resolved = append(report.Resolved, gun.Element)
			break
		}
	}

	for i := range project.ChekhovGuns {
		gun := &project.ChekhovGuns[i]
		if gun.Resolved || gun.Urgency < gunAlertUrgency {
			continue
		}
		if chapterIndex-gun.IntroducedChapter >= gunStaleChapters {
			report.Alerts = append(report.Alerts, GunAlert{
				Gun: *gun,
				Detail: fmt.Sprintf("%q (urgency %d) has been open since chapter %d",
					gun.Element, gun.Urgency, gun.IntroducedChapter),
			})
		}
	}
	return report, nil
}

// SuggestGunResolutions asks the LLM for ways to pay off the open urgent
// promises in an upcoming chapter.
func (v *Validator) SuggestGunResolutions(ctx context.Context, project *types.Project, chapterIndex int) ([]string, error) {
	var open []string
	for i := range project.ChekhovGuns {
		gun := &project.ChekhovGuns[i]
		if !gun.Resolved && gun.Urgency >= gunAlertUrgency {
			open = append(open, fmt.Sprintf("%s (since ch.%d): %s", gun.Element, gun.IntroducedChapter, gun.Expectation))
		}
	}
	if len(open) == 0 {
		return nil, nil
	}

	res, err := v.client.Chat(ctx, &llm.ChatRequest{
		Model: v.model,
		Messages: llm.SystemUser(
			"Suggest one concrete way to resolve each open narrative promise in an upcoming chapter. One suggestion per line, no numbering.",
			fmt.Sprintf("Upcoming chapter: %d\nOpen promises:\n- %s", chapterIndex, strings.Join(open, "\n- ")),
		),
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("gun resolution suggestions failed: %w", err)
	}

	var suggestions []string
	for _, line := range strings.Split(res.Content, "\n") {
		if line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-")); line != "" {
			suggestions = append(suggestions, line)
		}
	}
	return suggestions, nil
}

func gunExists(guns []types.ChekhovGun, element string) bool {
	for i := range guns {
		if wordOverlap(guns[i].Element, element) >= gunMatchedOverlap {
			return true
		}
	}
	return false
}

func normalizeGunType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case types.GunObject, types.GunSkill, types.GunThreat, types.GunPromise,
		types.GunForeshadowing, types.GunQuestion:
		return strings.ToLower(strings.TrimSpace(t))
	default:
		return types.GunObject
	}
}

// wordOverlap is the share of a's words that also appear in b,
// case-insensitive.
func wordOverlap(a, b string) float64 {
	wordsA := strings.Fields(strings.ToLower(a))
	if len(wordsA) == 0 {
		return 0
	}
	setB := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(b)) {
		setB[w] = true
	}
	matched := 0
	for _, w := range wordsA {
		if setB[w] {
			matched++
		}
	}
	return float64(matched) / float64(len(wordsA))
}
