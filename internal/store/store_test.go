package store

import (
	"context"
	"errors"
	"testing"

	"github.com/henribesnard/novellaforge/internal/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	return st
}

func seedProject(t *testing.T, st *Store) *types.Project {
	t.Helper()
	p := &types.Project{
		OwnerID: "user-1",
		Title:   "The Hollow Serial",
		Concept: types.Concept{Premise: "a village with a door to nowhere", Genre: "fantasy"},
	}
	if err := st.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	return p
}

func TestProjectRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	p := seedProject(t, st)

	got, err := st.GetProject(ctx, p.ID, "user-1")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.Title != p.Title || got.Concept.Premise != p.Concept.Premise {
		t.Errorf("round trip lost data: %+v", got)
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
}

func TestGetProjectOwnership(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	p := seedProject(t, st)

	if _, err := st.GetProject(ctx, p.ID, "someone-else"); !errors.Is(err, ErrNotFound) {
		t.Errorf("owner mismatch error = %v, want ErrNotFound", err)
	}
	if _, err := st.GetProject(ctx, "no-such-id", "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing project error = %v, want ErrNotFound", err)
	}
	// Empty owner skips the check.
	if _, err := st.GetProject(ctx, p.ID, ""); err != nil {
		t.Errorf("empty owner should bypass ownership: %v", err)
	}
}

func TestUpdateMetadataOptimisticLock(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	p := seedProject(t, st)

	a, _ := st.GetProject(ctx, p.ID, "user-1")
	b, _ := st.GetProject(ctx, p.ID, "user-1")

	a.Synopsis = "first writer wins"
	if err := st.UpdateMetadata(ctx, a); err != nil {
		t.Fatalf("first update error = %v", err)
	}

	b.Synopsis = "stale writer"
	if err := st.UpdateMetadata(ctx, b); !errors.Is(err, ErrMetadataConflict) {
		t.Errorf("stale update error = %v, want ErrMetadataConflict", err)
	}
}

func TestUpdateMetadataRetryResolvesConflict(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	p := seedProject(t, st)

	// An out-of-band bump between read and write inside the retry loop is
	// hard to stage; instead verify the mutate applies on a fresh read.
	updated, err := st.UpdateMetadataRetry(ctx, p.ID, "user-1", func(proj *types.Project) error {
		proj.Synopsis = "retried"
		proj.ContinuityOrEmpty().Characters = append(proj.ContinuityOrEmpty().Characters,
			types.CharacterFact{Name: "Mara", Status: "alive"})
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateMetadataRetry() error = %v", err)
	}
	if updated.Synopsis != "retried" {
		t.Errorf("synopsis = %q", updated.Synopsis)
	}

	got, _ := st.GetProject(ctx, p.ID, "user-1")
	if got.Continuity == nil || len(got.Continuity.Characters) != 1 {
		t.Errorf("continuity not persisted: %+v", got.Continuity)
	}
}

func TestChapterLifecycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	p := seedProject(t, st)

	if max, _ := st.MaxOrderIndex(ctx, p.ID); max != -1 {
		t.Errorf("empty project max order = %d, want -1", max)
	}

	doc := &types.Document{
		ProjectID:    p.ID,
		Title:        "Chapter 1",
		Content:      "Mara opened the door.",
		ChapterIndex: 1,
		PlanSnapshot: &types.ChapterPlan{ChapterNumber: 1, SceneBeats: []string{"the door"}},
	}
	if err := st.Create(ctx, doc); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if doc.Status != types.StatusDraft {
		t.Errorf("default status = %q, want draft", doc.Status)
	}
	if doc.WordCount != 4 {
		t.Errorf("word count = %d, want 4", doc.WordCount)
	}

	got, err := st.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.PlanSnapshot == nil || got.PlanSnapshot.ChapterNumber != 1 {
		t.Errorf("plan snapshot lost: %+v", got.PlanSnapshot)
	}

	got.Status = types.StatusApproved
	got.Summary = "Mara steps through."
	if err := st.Update(ctx, got); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	approved, err := st.ListApprovedChapters(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListApprovedChapters() error = %v", err)
	}
	if len(approved) != 1 || approved[0].Summary != "Mara steps through." {
		t.Errorf("approved list wrong: %+v", approved)
	}

	byIndex, err := st.ChapterByIndex(ctx, p.ID, 1)
	if err != nil {
		t.Fatalf("ChapterByIndex() error = %v", err)
	}
	if byIndex.ID != doc.ID {
		t.Errorf("ChapterByIndex returned %s, want %s", byIndex.ID, doc.ID)
	}

	if _, err := st.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListProjectRefs(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	a := seedProject(t, st)
	b := &types.Project{OwnerID: "user-2", Title: "Second"}
	if err := st.CreateProject(ctx, b); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	refs, err := st.ListProjectRefs(ctx)
	if err != nil {
		t.Fatalf("ListProjectRefs() error = %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}
	found := map[string]string{}
	for _, r := range refs {
		found[r.ID] = r.OwnerID
	}
	if found[a.ID] != "user-1" || found[b.ID] != "user-2" {
		t.Errorf("refs wrong: %v", found)
	}
}
