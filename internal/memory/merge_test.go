package memory

import (
	"testing"

	"github.com/henribesnard/novellaforge/internal/types"
)

func TestMergeIdempotent(t *testing.T) {
	src := &types.ContinuityFacts{
		Characters: []types.CharacterFact{
			{Name: "Mara", Status: "alive", Traits: []string{"stubborn", "loyal"}},
		},
		Locations: []types.LocationFact{
			{Name: "The Hollow", Rules: []string{"no iron"}},
		},
		Relations: []types.RelationFact{
			{From: "Mara", To: "Ilan", Type: "ally", CurrentState: "trusting"},
		},
		Events: []types.EventFact{
			{Name: "The Fire", ChapterIndex: 3, UnresolvedThreads: []string{"who lit it"}},
		},
		Objects: []types.ObjectFact{
			{Name: "Silver Key", Status: types.ObjectPossessed},
		},
	}

	dst := &types.ContinuityFacts{}
	Merge(dst, src, 3)
	Merge(dst, src, 3)

	if len(dst.Characters) != 1 {
		t.Fatalf("expected 1 character, got %d", len(dst.Characters))
	}
	c := dst.Characters[0]
	if len(c.StatusHistory) != 1 {
		t.Errorf("expected 1 status history entry after re-merge, got %d", len(c.StatusHistory))
	}
	if len(c.Traits) != 2 {
		t.Errorf("expected 2 traits after re-merge, got %v", c.Traits)
	}
	if len(dst.Relations) != 1 || len(dst.Relations[0].EvolutionHistory) != 1 {
		t.Errorf("relation evolution history duplicated: %+v", dst.Relations)
	}
	if len(dst.Events) != 1 || len(dst.Events[0].UnresolvedThreads) != 1 {
		t.Errorf("event threads duplicated: %+v", dst.Events)
	}
	if len(dst.Objects) != 1 || len(dst.Objects[0].StatusHistory) != 1 {
		t.Errorf("object status history duplicated: %+v", dst.Objects)
	}
}

func TestMergeCharacterStatusChange(t *testing.T) {
	dst := &types.ContinuityFacts{}
	Merge(dst, &types.ContinuityFacts{
		Characters: []types.CharacterFact{{Name: "Mara", Status: "alive"}},
	}, 1)
	Merge(dst, &types.ContinuityFacts{
		Characters: []types.CharacterFact{{Name: "mara", Status: "wounded"}},
	}, 4)

	if len(dst.Characters) != 1 {
		t.Fatalf("case-insensitive key should match, got %d characters", len(dst.Characters))
	}
	c := dst.Characters[0]
	if c.Status != "wounded" {
		t.Errorf("status = %q, want wounded", c.Status)
	}
	if len(c.StatusHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(c.StatusHistory))
	}
	if c.StatusHistory[1].ChapterIndex != 4 {
		t.Errorf("history chapter = %d, want 4", c.StatusHistory[1].ChapterIndex)
	}
	if c.LastSeenChapter != 4 {
		t.Errorf("last seen = %d, want 4", c.LastSeenChapter)
	}
}

func TestMergeLastSeenNeverDecreases(t *testing.T) {
	dst := &types.ContinuityFacts{}
	Merge(dst, &types.ContinuityFacts{
		Characters: []types.CharacterFact{{Name: "Ilan", LastSeenChapter: 7}},
	}, 7)
	// Re-extraction of an earlier chapter must not move the counter back.
	Merge(dst, &types.ContinuityFacts{
		Characters: []types.CharacterFact{{Name: "Ilan", LastSeenChapter: 2}},
	}, 2)

	if got := dst.Characters[0].LastSeenChapter; got != 7 {
		t.Errorf("last seen = %d, want 7", got)
	}
}

func TestMergeRelationStartChapterTakesMin(t *testing.T) {
	dst := &types.ContinuityFacts{}
	Merge(dst, &types.ContinuityFacts{
		Relations: []types.RelationFact{{From: "Mara", To: "Ilan", Type: "rival", StartChapter: 5}},
	}, 5)
	Merge(dst, &types.ContinuityFacts{
		Relations: []types.RelationFact{{From: "mara", To: "ilan", Type: "Rival", StartChapter: 2}},
	}, 6)

	if len(dst.Relations) != 1 {
		t.Fatalf("expected 1 relation, got %d", len(dst.Relations))
	}
	if got := dst.Relations[0].StartChapter; got != 2 {
		t.Errorf("start chapter = %d, want 2", got)
	}
}

func TestMergeEventChapterIndexTakesMax(t *testing.T) {
	dst := &types.ContinuityFacts{
		Events: []types.EventFact{{Name: "The Fire", ChapterIndex: 3}},
	}
	// A later re-mention advances the index.
	Merge(dst, &types.ContinuityFacts{
		Events: []types.EventFact{{Name: "the fire", ChapterIndex: 7}},
	}, 7)
	if got := dst.Events[0].ChapterIndex; got != 7 {
		t.Errorf("chapter index = %d, want 7", got)
	}

	// Re-extracting an earlier chapter must not move it back.
	Merge(dst, &types.ContinuityFacts{
		Events: []types.EventFact{{Name: "The Fire", ChapterIndex: 2}},
	}, 2)
	if got := dst.Events[0].ChapterIndex; got != 7 {
		t.Errorf("chapter index = %d, want 7 after stale re-merge", got)
	}
}

func TestMergeCharacterLocationArrivalSticky(t *testing.T) {
	dst := &types.ContinuityFacts{}
	Merge(dst, &types.ContinuityFacts{
		CharacterLocations: []types.CharacterLocation{
			{CharacterName: "Mara", Location: "The Hollow", ChapterIndex: 2, ArrivalConfirmed: true},
		},
	}, 2)
	Merge(dst, &types.ContinuityFacts{
		CharacterLocations: []types.CharacterLocation{
			{CharacterName: "Mara", Location: "The Hollow", ChapterIndex: 2, ArrivalConfirmed: false},
		},
	}, 2)

	if len(dst.CharacterLocations) != 1 {
		t.Fatalf("expected dedup to 1 placement, got %d", len(dst.CharacterLocations))
	}
	if !dst.CharacterLocations[0].ArrivalConfirmed {
		t.Error("arrival confirmation must not be reverted")
	}
}

func TestUnionFold(t *testing.T) {
	tests := []struct {
		name string
		cur  []string
		in   []string
		want []string
	}{
		{
			name: "case insensitive dedup",
			cur:  []string{"Brave"},
			in:   []string{"brave", "loyal"},
			want: []string{"Brave", "loyal"},
		},
		{
			name: "trims before comparing",
			cur:  []string{"loyal"},
			in:   []string{" loyal ", ""},
			want: []string{"loyal"},
		},
		{
			name: "preserves insertion order",
			cur:  nil,
			in:   []string{"c", "a", "b", "a"},
			want: []string{"c", "a", "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := unionFold(tt.cur, tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestOverride(t *testing.T) {
	if got := override("old", ""); got != "old" {
		t.Errorf("empty input must keep current, got %q", got)
	}
	if got := override("old", "  "); got != "old" {
		t.Errorf("blank input must keep current, got %q", got)
	}
	if got := override("old", "new"); got != "new" {
		t.Errorf("non-empty input must replace, got %q", got)
	}
}
