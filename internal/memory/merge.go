package memory

import (
	"strings"
	"time"

	"github.com/henribesnard/novellaforge/internal/types"
)

// Merge folds src into dst. The merge is idempotent: applying the same
// facts twice leaves dst unchanged. Scalar changes to tracked fields
// append a history entry, "last seen" style counters take the max,
// "start" counters the min, and list fields union with case-insensitive
// dedup preserving insertion order.
func Merge(dst, src *types.ContinuityFacts, chapterIndex int) {
	if dst == nil || src == nil {
		return
	}
	now := time.Now().UTC()

	for i := range src.Characters {
		mergeCharacter(dst, &src.Characters[i], chapterIndex, now)
	}
	for i := range src.Locations {
		mergeLocation(dst, &src.Locations[i], chapterIndex)
	}
	for i := range src.Relations {
		mergeRelation(dst, &src.Relations[i], chapterIndex, now)
	}
	for i := range src.Events {
		mergeEvent(dst, &src.Events[i])
	}
	for i := range src.Objects {
		mergeObject(dst, &src.Objects[i], chapterIndex, now)
	}
	for i := range src.CharacterLocations {
		mergeCharacterLocation(dst, &src.CharacterLocations[i])
	}
	dst.UpdatedAt = now
}

func mergeCharacter(dst *types.ContinuityFacts, in *types.CharacterFact, chapterIndex int, now time.Time) {
	cur := dst.Character(in.Name)
	if cur == nil {
		c := *in
		if c.LastSeenChapter < chapterIndex {
			c.LastSeenChapter = chapterIndex
		}
		if c.Status != "" {
			c.StatusHistory = appendHistory(c.StatusHistory, c.Status, chapterIndex, now)
		}
		dst.Characters = append(dst.Characters, c)
		return
	}

	if in.Status != "" && !strings.EqualFold(in.Status, cur.Status) {
		cur.Status = in.Status
		cur.StatusHistory = appendHistory(cur.StatusHistory, in.Status, chapterIndex, now)
	}
	cur.Role = override(cur.Role, in.Role)
	cur.CurrentState = override(cur.CurrentState, in.CurrentState)
	cur.ArcStage = override(cur.ArcStage, in.ArcStage)
	cur.Motivations = unionFold(cur.Motivations, in.Motivations)
	cur.Traits = unionFold(cur.Traits, in.Traits)
	cur.Goals = unionFold(cur.Goals, in.Goals)
	if in.LastSeenChapter > cur.LastSeenChapter {
		cur.LastSeenChapter = in.LastSeenChapter
	}
	if chapterIndex > cur.LastSeenChapter {
		cur.LastSeenChapter = chapterIndex
	}
}

func mergeLocation(dst *types.ContinuityFacts, in *types.LocationFact, chapterIndex int) {
	for i := range dst.Locations {
		cur := &dst.Locations[i]
		if !strings.EqualFold(cur.Name, in.Name) {
			continue
		}
		cur.Description = override(cur.Description, in.Description)
		cur.Atmosphere = override(cur.Atmosphere, in.Atmosphere)
		cur.Rules = unionFold(cur.Rules, in.Rules)
		cur.TimelineMarkers = unionFold(cur.TimelineMarkers, in.TimelineMarkers)
		if in.LastMentionedChapter > cur.LastMentionedChapter {
			cur.LastMentionedChapter = in.LastMentionedChapter
		}
		if chapterIndex > cur.LastMentionedChapter {
			cur.LastMentionedChapter = chapterIndex
		}
		return
	}
	l := *in
	if l.LastMentionedChapter < chapterIndex {
		l.LastMentionedChapter = chapterIndex
	}
	dst.Locations = append(dst.Locations, l)
}

func mergeRelation(dst *types.ContinuityFacts, in *types.RelationFact, chapterIndex int, now time.Time) {
	for i := range dst.Relations {
		cur := &dst.Relations[i]
		if !strings.EqualFold(cur.From, in.From) ||
			!strings.EqualFold(cur.To, in.To) ||
			!strings.EqualFold(cur.Type, in.Type) {
			continue
		}
		if in.CurrentState != "" && !strings.EqualFold(in.CurrentState, cur.CurrentState) {
			cur.CurrentState = in.CurrentState
			cur.EvolutionHistory = appendHistory(cur.EvolutionHistory, in.CurrentState, chapterIndex, now)
		}
		cur.Detail = override(cur.Detail, in.Detail)
		if in.StartChapter > 0 && in.StartChapter < cur.StartChapter {
			cur.StartChapter = in.StartChapter
		}
		return
	}
	r := *in
	if r.StartChapter == 0 {
		r.StartChapter = chapterIndex
	}
	if r.CurrentState != "" {
		r.EvolutionHistory = appendHistory(r.EvolutionHistory, r.CurrentState, chapterIndex, now)
	}
	dst.Relations = append(dst.Relations, r)
}

func mergeEvent(dst *types.ContinuityFacts, in *types.EventFact) {
	for i := range dst.Events {
		cur := &dst.Events[i]
		if !strings.EqualFold(cur.Name, in.Name) {
			continue
		}
		cur.Summary = override(cur.Summary, in.Summary)
		cur.TimeReference = override(cur.TimeReference, in.TimeReference)
		cur.Impact = override(cur.Impact, in.Impact)
		cur.UnresolvedThreads = unionFold(cur.UnresolvedThreads, in.UnresolvedThreads)
		if in.ChapterIndex > cur.ChapterIndex {
			cur.ChapterIndex = in.ChapterIndex
		}
		return
	}
	dst.Events = append(dst.Events, *in)
}

func mergeObject(dst *types.ContinuityFacts, in *types.ObjectFact, chapterIndex int, now time.Time) {
	for i := range dst.Objects {
		cur := &dst.Objects[i]
		if !strings.EqualFold(cur.Name, in.Name) {
			continue
		}
		if in.Status != "" && !strings.EqualFold(in.Status, cur.Status) {
			cur.Status = in.Status
			cur.StatusHistory = appendHistory(cur.StatusHistory, in.Status, chapterIndex, now)
		}
		cur.CurrentHolder = override(cur.CurrentHolder, in.CurrentHolder)
		cur.Location = override(cur.Location, in.Location)
		cur.MagicalProperties = unionFold(cur.MagicalProperties, in.MagicalProperties)
		return
	}
	o := *in
	if o.Status != "" {
		o.StatusHistory = appendHistory(o.StatusHistory, o.Status, chapterIndex, now)
	}
	dst.Objects = append(dst.Objects, o)
}

func mergeCharacterLocation(dst *types.ContinuityFacts, in *types.CharacterLocation) {
	for i := range dst.CharacterLocations {
		cur := &dst.CharacterLocations[i]
		if strings.EqualFold(cur.CharacterName, in.CharacterName) &&
			strings.EqualFold(cur.Location, in.Location) &&
			cur.ChapterIndex == in.ChapterIndex {
			if in.ArrivalConfirmed {
				cur.ArrivalConfirmed = true
			}
			return
		}
	}
	dst.CharacterLocations = append(dst.CharacterLocations, *in)
}

// appendHistory records value unless it equals the most recent entry,
// which keeps re-merges from duplicating history.
func appendHistory(history []types.StatusEntry, value string, chapterIndex int, now time.Time) []types.StatusEntry {
	if n := len(history); n > 0 && strings.EqualFold(history[n-1].Value, value) {
		return history
	}
	return append(history, types.StatusEntry{
		Value:        value,
		ChapterIndex: chapterIndex,
		Timestamp:    now,
	})
}

// override replaces cur with in when in is non-empty and different.
func override(cur, in string) string {
	if strings.TrimSpace(in) == "" {
		return cur
	}
	return in
}

// unionFold appends items from in that are not already present, comparing
// lower-cased trimmed values and preserving insertion order.
func unionFold(cur, in []string) []string {
	seen := make(map[string]bool, len(cur))
	for _, v := range cur {
		seen[foldKey(v)] = true
	}
	for _, v := range in {
		key := foldKey(v)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		cur = append(cur, v)
	}
	return cur
}

func foldKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
