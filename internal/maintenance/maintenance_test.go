package maintenance

import (
	"testing"

	"github.com/henribesnard/novellaforge/internal/types"
)

func continuityWithTraits(traits ...string) *types.Project {
	return &types.Project{
		Continuity: &types.ContinuityFacts{
			Characters: []types.CharacterFact{
				{Name: "Mara", Traits: traits},
			},
		},
	}
}

func TestPromoteIntoThreshold(t *testing.T) {
	p := &types.Project{
		Continuity: &types.ContinuityFacts{
			Characters: []types.CharacterFact{
				{Name: "Mara", Traits: []string{"stubborn", "kind"}},
				{Name: "Ilan", Traits: []string{"Stubborn "}},
				{Name: "Tev", Traits: []string{"stubborn"}},
			},
		},
	}

	if got := promoteInto(p, 3); got != 1 {
		t.Fatalf("promoteInto() = %d, want 1", got)
	}
	facts := p.Bible().EstablishedFacts
	if len(facts) != 1 {
		t.Fatalf("established facts = %v", facts)
	}
	if facts[0].Fact != "stubborn" || facts[0].Section != "trait" {
		t.Errorf("promoted fact = %+v", facts[0])
	}
	// 3 of 4 trait occurrences.
	if facts[0].Confidence != 0.75 {
		t.Errorf("confidence = %f, want 0.75", facts[0].Confidence)
	}
	if facts[0].PromotedAt.IsZero() {
		t.Error("promotion timestamp not set")
	}
}

func TestPromoteIntoSkipsExistingFacts(t *testing.T) {
	p := continuityWithTraits("stubborn", "stubborn", "stubborn")
	p.StoryBible = &types.StoryBible{
		EstablishedFacts: []types.PromotedFact{{Fact: "Stubborn"}},
	}

	if got := promoteInto(p, 3); got != 0 {
		t.Errorf("promoteInto() = %d, existing fact promoted again", got)
	}
	if len(p.StoryBible.EstablishedFacts) != 1 {
		t.Errorf("facts duplicated: %v", p.StoryBible.EstablishedFacts)
	}
}

func TestPromoteIntoSections(t *testing.T) {
	p := &types.Project{
		Continuity: &types.ContinuityFacts{
			Locations: []types.LocationFact{
				{Name: "Hollow", Rules: []string{"no iron", "no iron"}},
			},
			Objects: []types.ObjectFact{
				{Name: "Key", MagicalProperties: []string{"opens any lock", "opens any lock"}},
			},
		},
	}

	if got := promoteInto(p, 2); got != 2 {
		t.Fatalf("promoteInto() = %d, want 2", got)
	}
	sections := make(map[string]string)
	for _, f := range p.Bible().EstablishedFacts {
		sections[f.Fact] = f.Section
	}
	if sections["no iron"] != "rule" {
		t.Errorf("location rule section = %q", sections["no iron"])
	}
	if sections["opens any lock"] != "world_rule" {
		t.Errorf("object property section = %q", sections["opens any lock"])
	}
}

func TestPromoteIntoDefaultsThreshold(t *testing.T) {
	p := continuityWithTraits("quiet", "quiet")
	// Zero threshold falls back to 3, so two occurrences are not enough.
	if got := promoteInto(p, 0); got != 0 {
		t.Errorf("promoteInto() = %d, want 0 under default threshold", got)
	}
}

func TestPromoteIntoEmptyContinuity(t *testing.T) {
	p := &types.Project{}
	if got := promoteInto(p, 3); got != 0 {
		t.Errorf("promoteInto() on empty continuity = %d", got)
	}
}

func TestContinuityDiff(t *testing.T) {
	stored := &types.ContinuityFacts{Characters: []types.CharacterFact{
		{Name: "Mara", Status: "alive"},
		{Name: "Ilan", Status: "alive"},
	}}

	tests := []struct {
		name    string
		rebuilt *types.ContinuityFacts
		want    int
	}{
		{
			"identical",
			&types.ContinuityFacts{Characters: []types.CharacterFact{
				{Name: "mara", Status: "Alive"},
				{Name: "Ilan", Status: "alive"},
			}},
			0,
		},
		{
			"added character",
			&types.ContinuityFacts{Characters: []types.CharacterFact{
				{Name: "Mara", Status: "alive"},
				{Name: "Ilan", Status: "alive"},
				{Name: "Tev", Status: "alive"},
			}},
			1,
		},
		{
			"removed character",
			&types.ContinuityFacts{Characters: []types.CharacterFact{
				{Name: "Mara", Status: "alive"},
			}},
			1,
		},
		{
			"status change",
			&types.ContinuityFacts{Characters: []types.CharacterFact{
				{Name: "Mara", Status: "dead"},
				{Name: "Ilan", Status: "alive"},
			}},
			1,
		},
		{
			"add plus status change",
			&types.ContinuityFacts{Characters: []types.CharacterFact{
				{Name: "Mara", Status: "dead"},
				{Name: "Ilan", Status: "alive"},
				{Name: "Tev", Status: "alive"},
			}},
			2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := continuityDiff(stored, tt.rebuilt); got != tt.want {
				t.Errorf("continuityDiff() = %d, want %d", got, tt.want)
			}
		})
	}
}
