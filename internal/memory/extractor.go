// Package memory extracts continuity facts from chapter text, merges them
// into the project-level fact set under strict invariants, and renders the
// context block that grounds downstream prompts.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/types"
)

// Chapters longer than this are split into head and tail extractions.
const splitThreshold = 10000

const extractionSystemPrompt = `You are a continuity analyst for serial fiction.
Extract every fact a future chapter must respect from the text you are given.
Respond with strict JSON only, no prose, matching exactly this shape:
{
  "characters": [{"name": "", "role": "", "status": "", "current_state": "",
    "motivations": [], "traits": [], "goals": [], "arc_stage": ""}],
  "locations": [{"name": "", "description": "", "rules": [],
    "timeline_markers": [], "atmosphere": ""}],
  "relations": [{"from": "", "to": "", "type": "", "detail": "", "current_state": ""}],
  "events": [{"name": "", "summary": "", "time_reference": "", "impact": "",
    "unresolved_threads": []}],
  "objects": [{"name": "", "status": "", "current_holder": "", "location": "",
    "magical_properties": []}],
  "character_locations": [{"character_name": "", "location": "",
    "travel_from": "", "travel_to": "", "arrival_confirmed": false}]
}
Omit nothing mentioned in the text. Use "" for unknown scalar fields and []
for unknown lists. The "status" of an object must be one of: possessed, lost,
destroyed, hidden, transferred.`

var extractionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"characters":          {"type": "array"},
		"locations":           {"type": "array"},
		"relations":           {"type": "array"},
		"events":              {"type": "array"},
		"objects":             {"type": "array"},
		"character_locations": {"type": "array"}
	}
}`)

// Extractor pulls ContinuityFacts out of chapter text with the LLM.
type Extractor struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// NewExtractor creates a fact extractor.
func NewExtractor(client llm.Client, model string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, model: model, logger: logger}
}

// Extract returns the facts found in content, stamped with chapterIndex.
// Long chapters are split into head and tail halves, extracted
// independently and merged, so neither end of the chapter is truncated
// away by the model's context.
func (e *Extractor) Extract(ctx context.Context, content string, chapterIndex int) (*types.ContinuityFacts, error) {
	if strings.TrimSpace(content) == "" {
		return &types.ContinuityFacts{}, nil
	}

	runes := []rune(content)
	if len(runes) <= splitThreshold {
		return e.extractChunk(ctx, content, chapterIndex)
	}

	half := len(runes) / 2
	head, err := e.extractChunk(ctx, string(runes[:half]), chapterIndex)
	if err != nil {
		return nil, err
	}
	tail, err := e.extractChunk(ctx, string(runes[half:]), chapterIndex)
	if err != nil {
		return nil, err
	}
	Merge(head, tail, chapterIndex)
	return head, nil
}

// rawFacts mirrors the extraction JSON before chapter stamping. Unknown
// keys in the model output are dropped by the decoder.
type rawFacts struct {
	Characters []struct {
		Name         string   `json:"name"`
		Role         string   `json:"role"`
		Status       string   `json:"status"`
		CurrentState string   `json:"current_state"`
		Motivations  []string `json:"motivations"`
		Traits       []string `json:"traits"`
		Goals        []string `json:"goals"`
		ArcStage     string   `json:"arc_stage"`
	} `json:"characters"`
	Locations []struct {
		Name            string   `json:"name"`
		Description     string   `json:"description"`
		Rules           []string `json:"rules"`
		TimelineMarkers []string `json:"timeline_markers"`
		Atmosphere      string   `json:"atmosphere"`
	} `json:"locations"`
	Relations []struct {
		From         string `json:"from"`
		To           string `json:"to"`
		Type         string `json:"type"`
		Detail       string `json:"detail"`
		CurrentState string `json:"current_state"`
	} `json:"relations"`
	Events []struct {
		Name              string   `json:"name"`
		Summary           string   `json:"summary"`
		TimeReference     string   `json:"time_reference"`
		Impact            string   `json:"impact"`
		UnresolvedThreads []string `json:"unresolved_threads"`
	} `json:"events"`
	Objects []struct {
		Name              string   `json:"name"`
		Status            string   `json:"status"`
		CurrentHolder     string   `json:"current_holder"`
		Location          string   `json:"location"`
		MagicalProperties []string `json:"magical_properties"`
	} `json:"objects"`
	CharacterLocations []struct {
		CharacterName    string `json:"character_name"`
		Location         string `json:"location"`
		TravelFrom       string `json:"travel_from"`
		TravelTo         string `json:"travel_to"`
		ArrivalConfirmed bool   `json:"arrival_confirmed"`
	} `json:"character_locations"`
}

func (e *Extractor) extractChunk(ctx context.Context, text string, chapterIndex int) (*types.ContinuityFacts, error) {
	req := &llm.ChatRequest{
		Model:       e.model,
		Messages:    llm.SystemUser(extractionSystemPrompt, text),
		Temperature: 0.1,
	}

	var raw rawFacts
	if err := llm.ChatJSON(ctx, e.client, req, extractionSchema, &raw); err != nil {
		// Unparseable output after the repair round yields no facts
		// rather than failing the approval.
		if errors.Is(err, llm.ErrBadFormat) {
			e.logger.Warn("extraction output unusable, keeping no facts",
				"chapter_index", chapterIndex, "error", err)
			return &types.ContinuityFacts{}, nil
		}
		return nil, fmt.Errorf("fact extraction failed: %w", err)
	}
	return raw.toFacts(chapterIndex), nil
}

func (r *rawFacts) toFacts(chapterIndex int) *types.ContinuityFacts {
	facts := &types.ContinuityFacts{}
	for _, c := range r.Characters {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		facts.Characters = append(facts.Characters, types.CharacterFact{
			Name:            strings.TrimSpace(c.Name),
			Role:            c.Role,
			Status:          c.Status,
			CurrentState:    c.CurrentState,
			Motivations:     c.Motivations,
			Traits:          c.Traits,
			Goals:           c.Goals,
			ArcStage:        c.ArcStage,
			LastSeenChapter: chapterIndex,
		})
	}
	for _, l := range r.Locations {
		if strings.TrimSpace(l.Name) == "" {
			continue
		}
		facts.Locations = append(facts.Locations, types.LocationFact{
			Name:                 strings.TrimSpace(l.Name),
			Description:          l.Description,
			Rules:                l.Rules,
			TimelineMarkers:      l.TimelineMarkers,
			Atmosphere:           l.Atmosphere,
			LastMentionedChapter: chapterIndex,
		})
	}
	for _, rel := range r.Relations {
		if strings.TrimSpace(rel.From) == "" || strings.TrimSpace(rel.To) == "" {
			continue
		}
		facts.Relations = append(facts.Relations, types.RelationFact{
			From:         strings.TrimSpace(rel.From),
			To:           strings.TrimSpace(rel.To),
			Type:         rel.Type,
			Detail:       rel.Detail,
			StartChapter: chapterIndex,
			CurrentState: rel.CurrentState,
		})
	}
	for _, ev := range r.Events {
		if strings.TrimSpace(ev.Name) == "" {
			continue
		}
		facts.Events = append(facts.Events, types.EventFact{
			Name:              strings.TrimSpace(ev.Name),
			Summary:           ev.Summary,
			ChapterIndex:      chapterIndex,
			TimeReference:     ev.TimeReference,
			Impact:            ev.Impact,
			UnresolvedThreads: ev.UnresolvedThreads,
		})
	}
	for _, o := range r.Objects {
		if strings.TrimSpace(o.Name) == "" {
			continue
		}
		facts.Objects = append(facts.Objects, types.ObjectFact{
			Name:              strings.TrimSpace(o.Name),
			Status:            o.Status,
			CurrentHolder:     o.CurrentHolder,
			Location:          o.Location,
			MagicalProperties: o.MagicalProperties,
		})
	}
	for _, cl := range r.CharacterLocations {
		if strings.TrimSpace(cl.CharacterName) == "" {
			continue
		}
		facts.CharacterLocations = append(facts.CharacterLocations, types.CharacterLocation{
			CharacterName:    strings.TrimSpace(cl.CharacterName),
			Location:         cl.Location,
			ChapterIndex:     chapterIndex,
			TravelFrom:       cl.TravelFrom,
			TravelTo:         cl.TravelTo,
			ArrivalConfirmed: cl.ArrivalConfirmed,
		})
	}
	return facts
}
