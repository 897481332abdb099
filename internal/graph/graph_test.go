package graph

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/henribesnard/novellaforge/internal/types"
)

func testGraph(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	gs := New(Config{DB: db})
	if err := gs.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	return gs
}

func TestCharacterEvolutionHistory(t *testing.T) {
	ctx := context.Background()
	gs := testGraph(t)

	c := &types.CharacterFact{Name: "Mara", Status: "alive", Role: "protagonist"}
	if err := gs.UpsertCharacter(ctx, "proj", c, 1); err != nil {
		t.Fatalf("UpsertCharacter() error = %v", err)
	}
	// Same status again: history must not grow.
	if err := gs.UpsertCharacter(ctx, "proj", c, 3); err != nil {
		t.Fatalf("UpsertCharacter() error = %v", err)
	}
	c.Status = "wounded"
	if err := gs.UpsertCharacter(ctx, "proj", c, 5); err != nil {
		t.Fatalf("UpsertCharacter() error = %v", err)
	}

	evo, err := gs.CharacterEvolution(ctx, "proj", "Mara")
	if err != nil {
		t.Fatalf("CharacterEvolution() error = %v", err)
	}
	if evo == nil {
		t.Fatal("evolution not found")
	}
	if evo.FirstAppearance != 1 || evo.LastSeenChapter != 5 {
		t.Errorf("chapters = %d..%d, want 1..5", evo.FirstAppearance, evo.LastSeenChapter)
	}
	if len(evo.StatusHistory) != 2 {
		t.Fatalf("history = %v, want 2 entries", evo.StatusHistory)
	}
	if evo.StatusHistory[0].Value != "alive" || evo.StatusHistory[1].Value != "wounded" {
		t.Errorf("history values wrong: %v", evo.StatusHistory)
	}
}

func TestCharacterEvolutionUnknown(t *testing.T) {
	gs := testGraph(t)
	evo, err := gs.CharacterEvolution(context.Background(), "proj", "nobody")
	if err != nil {
		t.Fatalf("CharacterEvolution() error = %v", err)
	}
	if evo != nil {
		t.Errorf("unknown character should yield nil, got %+v", evo)
	}
}

func TestDetectCharacterContradictions(t *testing.T) {
	ctx := context.Background()
	gs := testGraph(t)

	c := &types.CharacterFact{Name: "Ilan", Status: "alive"}
	if err := gs.UpsertCharacter(ctx, "proj", c, 1); err != nil {
		t.Fatal(err)
	}
	c.Status = "dead"
	if err := gs.UpsertCharacter(ctx, "proj", c, 4); err != nil {
		t.Fatal(err)
	}
	c.Status = "alive"
	if err := gs.UpsertCharacter(ctx, "proj", c, 7); err != nil {
		t.Fatal(err)
	}

	issues, err := gs.DetectCharacterContradictions(ctx, "proj", "Ilan")
	if err != nil {
		t.Fatalf("DetectCharacterContradictions() error = %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %v, want 1", issues)
	}
	if issues[0].FromChapter != 4 || issues[0].ToChapter != 7 {
		t.Errorf("contradiction chapters = %d..%d, want 4..7", issues[0].FromChapter, issues[0].ToChapter)
	}
}

func TestDetectCharacterContradictionsCache(t *testing.T) {
	ctx := context.Background()
	gs := testGraph(t)
	gs.contraTTL = time.Hour

	c := &types.CharacterFact{Name: "Tev", Status: "dead"}
	if err := gs.UpsertCharacter(ctx, "proj", c, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := gs.DetectCharacterContradictions(ctx, "proj", "Tev"); err != nil {
		t.Fatal(err)
	}

	// New resurrection lands after the query was cached.
	c.Status = "alive"
	if err := gs.UpsertCharacter(ctx, "proj", c, 6); err != nil {
		t.Fatal(err)
	}
	issues, err := gs.DetectCharacterContradictions(ctx, "proj", "Tev")
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 0 {
		t.Errorf("cached result bypassed: %v", issues)
	}

	gs.InvalidateContradictionCache("proj")
	issues, err = gs.DetectCharacterContradictions(ctx, "proj", "Tev")
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 {
		t.Errorf("invalidation did not refresh: %v", issues)
	}
}

func TestRelationshipEvolutionEitherDirection(t *testing.T) {
	ctx := context.Background()
	gs := testGraph(t)

	r := &types.RelationFact{From: "Mara", To: "Ilan", Type: "ally", CurrentState: "trusting"}
	if err := gs.UpsertRelation(ctx, "proj", r, 2); err != nil {
		t.Fatal(err)
	}
	r.CurrentState = "strained"
	if err := gs.UpsertRelation(ctx, "proj", r, 6); err != nil {
		t.Fatal(err)
	}

	// Query with the endpoints swapped.
	history, err := gs.RelationshipEvolution(ctx, "proj", "Ilan", "Mara")
	if err != nil {
		t.Fatalf("RelationshipEvolution() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %v, want 2 entries", history)
	}
	if history[0].Value != "trusting" || history[1].Value != "strained" {
		t.Errorf("history order wrong: %v", history)
	}
}

func TestFindOrphanedPlotThreads(t *testing.T) {
	ctx := context.Background()
	gs := testGraph(t)

	events := []types.EventFact{
		{Name: "The Fire", UnresolvedThreads: []string{"who lit it"}},
		{Name: "The Duel"}, // resolved, must not appear
		{Name: "The Letter", UnresolvedThreads: []string{"sender unknown"}},
	}
	if err := gs.UpsertEvent(ctx, "proj", &events[0], 2); err != nil {
		t.Fatal(err)
	}
	if err := gs.UpsertEvent(ctx, "proj", &events[1], 2); err != nil {
		t.Fatal(err)
	}
	if err := gs.UpsertEvent(ctx, "proj", &events[2], 18); err != nil {
		t.Fatal(err)
	}

	threads, err := gs.FindOrphanedPlotThreads(ctx, "proj", 20)
	if err != nil {
		t.Fatalf("FindOrphanedPlotThreads() error = %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("threads = %v, want only the stale unresolved event", threads)
	}
	if threads[0].Event != "The Fire" || threads[0].LastMentionedChapter != 2 {
		t.Errorf("thread = %+v", threads[0])
	}
	if len(threads[0].UnresolvedThreads) != 1 {
		t.Errorf("open threads = %v", threads[0].UnresolvedThreads)
	}
}

func TestCheckObjectAvailability(t *testing.T) {
	ctx := context.Background()
	gs := testGraph(t)

	o := &types.ObjectFact{Name: "the silver key", Status: types.ObjectPossessed, CurrentHolder: "Mara"}
	if err := gs.UpsertObject(ctx, "proj", o, 1); err != nil {
		t.Fatal(err)
	}
	o.Status = types.ObjectDestroyed
	o.CurrentHolder = ""
	if err := gs.UpsertObject(ctx, "proj", o, 5); err != nil {
		t.Fatal(err)
	}

	// Before the destruction the object is usable.
	avail, err := gs.CheckObjectAvailability(ctx, "proj", "the silver key", 3)
	if err != nil {
		t.Fatal(err)
	}
	if !avail.Available {
		t.Errorf("object unavailable before destruction: %+v", avail)
	}

	// After it, it is not.
	avail, err = gs.CheckObjectAvailability(ctx, "proj", "the silver key", 8)
	if err != nil {
		t.Fatal(err)
	}
	if avail.Available || avail.Issue == "" {
		t.Errorf("destroyed object reported available: %+v", avail)
	}

	// Unknown objects are unconstrained.
	avail, err = gs.CheckObjectAvailability(ctx, "proj", "a new amulet", 8)
	if err != nil {
		t.Fatal(err)
	}
	if !avail.Available {
		t.Errorf("unknown object constrained: %+v", avail)
	}
}

func TestCheckCharacterLocationConsistency(t *testing.T) {
	ctx := context.Background()
	gs := testGraph(t)

	cl := &types.CharacterLocation{CharacterName: "Mara", Location: "the Hollow", ChapterIndex: 3, ArrivalConfirmed: true}
	if err := gs.RecordCharacterLocation(ctx, "proj", cl); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		location string
		chapter  int
		want     bool
	}{
		{"same place", "the hollow", 4, true},
		{"implicit travel window", "the Capital", 5, true},
		{"too far without travel", "the Capital", 9, false},
		{"unknown character", "anywhere", 9, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			who := "Mara"
			if tt.name == "unknown character" {
				who = "Stranger"
			}
			check, err := gs.CheckCharacterLocationConsistency(ctx, "proj", who, tt.location, tt.chapter)
			if err != nil {
				t.Fatalf("CheckCharacterLocationConsistency() error = %v", err)
			}
			if check.Consistent != tt.want {
				t.Errorf("consistent = %v, want %v (%+v)", check.Consistent, tt.want, check)
			}
		})
	}
}

func TestSyncFactsAndExport(t *testing.T) {
	ctx := context.Background()
	gs := testGraph(t)

	facts := &types.ContinuityFacts{
		Characters: []types.CharacterFact{{Name: "Mara", Status: "alive"}},
		Locations:  []types.LocationFact{{Name: "the Hollow"}},
		Objects:    []types.ObjectFact{{Name: "the key", Status: types.ObjectPossessed, CurrentHolder: "Mara"}},
		Relations:  []types.RelationFact{{From: "Mara", To: "Ilan", Type: "ally"}},
	}
	if err := gs.SyncFacts(ctx, "proj", facts, 1); err != nil {
		t.Fatalf("SyncFacts() error = %v", err)
	}

	exported, err := gs.ExportGraph(ctx, "proj")
	if err != nil {
		t.Fatalf("ExportGraph() error = %v", err)
	}
	if len(exported.Nodes) != 3 {
		t.Errorf("nodes = %d, want 3", len(exported.Nodes))
	}
	// RELATION plus the POSSESSES edge derived from the holder.
	if len(exported.Edges) != 2 {
		t.Errorf("edges = %d, want 2", len(exported.Edges))
	}

	// Another project's graph stays empty.
	other, err := gs.ExportGraph(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	if len(other.Nodes) != 0 || len(other.Edges) != 0 {
		t.Errorf("project isolation broken: %+v", other)
	}
}

func TestDegradedModeWithoutDB(t *testing.T) {
	gs := New(Config{})
	if err := gs.UpsertCharacter(context.Background(), "proj", &types.CharacterFact{Name: "x"}, 1); err != ErrUnavailable {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
	if _, err := gs.CharacterEvolution(context.Background(), "proj", "x"); err != ErrUnavailable {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}
