package contextpack

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/types"
)

// fakeChapters is an in-memory ChapterLister.
type fakeChapters struct {
	docs    []*types.Document
	updates int
}

func (f *fakeChapters) ListByProject(ctx context.Context, projectID string) ([]*types.Document, error) {
	return f.docs, nil
}

func (f *fakeChapters) Update(ctx context.Context, doc *types.Document) error {
	f.updates++
	return nil
}

func pyramidProject(approved int) (*types.Project, *fakeChapters) {
	project := &types.Project{
		ID: "proj",
		Plan: &types.Plan{
			Status: types.StatusAccepted,
			Arcs: []types.PlanArc{
				{Index: 1, Title: "Arc One", FirstChapter: 1, LastChapter: 10},
			},
		},
	}
	chapters := &fakeChapters{}
	for i := 1; i <= approved; i++ {
		chapters.docs = append(chapters.docs, &types.Document{
			ID:           fmt.Sprintf("doc-%d", i),
			ProjectID:    "proj",
			ChapterIndex: i,
			Status:       types.StatusApproved,
			Content:      fmt.Sprintf("content of chapter %d", i),
			Summary:      fmt.Sprintf("summary %d", i),
		})
	}
	return project, chapters
}

func TestEnsureChapterSummaryLazy(t *testing.T) {
	mock := &llm.MockClient{Default: "Mara crosses the threshold."}
	chapters := &fakeChapters{}
	m := NewMemoryMaintainer(mock, "model", chapters, 0, 0, nil)

	doc := &types.Document{ChapterIndex: 1, Content: "long prose"}
	sum, err := m.EnsureChapterSummary(context.Background(), doc)
	if err != nil {
		t.Fatalf("EnsureChapterSummary() error = %v", err)
	}
	if sum != "Mara crosses the threshold." {
		t.Errorf("summary = %q", sum)
	}
	if chapters.updates != 1 {
		t.Errorf("summary not persisted, updates = %d", chapters.updates)
	}

	// Second call must reuse the stored summary.
	if _, err := m.EnsureChapterSummary(context.Background(), doc); err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("existing summary regenerated, calls = %d", mock.CallCount())
	}
}

func TestRefreshAfterApprovalCadence(t *testing.T) {
	project, chapters := pyramidProject(4)
	mock := &llm.MockClient{Default: "condensed summary"}
	m := NewMemoryMaintainer(mock, "model", chapters, 0, 0, nil)

	// 4 approvals: below both cadences, nothing refreshes.
	if err := m.RefreshAfterApproval(context.Background(), project, 4, 4); err != nil {
		t.Fatalf("RefreshAfterApproval() error = %v", err)
	}
	if len(project.Memory.ArcSummaries) != 0 || project.Memory.GlobalSynopsis != "" {
		t.Errorf("premature refresh: %+v", project.Memory)
	}

	// 5th approval: arc refresh due.
	project2, chapters2 := pyramidProject(5)
	m2 := NewMemoryMaintainer(&llm.MockClient{Default: "arc summary"}, "model", chapters2, 0, 0, nil)
	if err := m2.RefreshAfterApproval(context.Background(), project2, 5, 5); err != nil {
		t.Fatalf("RefreshAfterApproval() error = %v", err)
	}
	if project2.Memory.ArcSummaries[1] != "arc summary" {
		t.Errorf("arc summary not refreshed: %+v", project2.Memory.ArcSummaries)
	}
	if project2.Memory.LastArcRefresh[1] != 5 {
		t.Errorf("arc refresh marker = %d, want 5", project2.Memory.LastArcRefresh[1])
	}
	if project2.Memory.GlobalSynopsis != "" {
		t.Error("global synopsis refreshed before its cadence")
	}

	// 10th approval: both refresh.
	project3, chapters3 := pyramidProject(10)
	m3 := NewMemoryMaintainer(&llm.MockClient{Default: "big summary"}, "model", chapters3, 0, 0, nil)
	if err := m3.RefreshAfterApproval(context.Background(), project3, 10, 10); err != nil {
		t.Fatalf("RefreshAfterApproval() error = %v", err)
	}
	if project3.Memory.GlobalSynopsis == "" {
		t.Error("global synopsis not refreshed at cadence")
	}
	if project3.Memory.LastGlobalRefresh != 10 {
		t.Errorf("global refresh marker = %d, want 10", project3.Memory.LastGlobalRefresh)
	}
}

func TestRefreshAtArcBoundary(t *testing.T) {
	project, chapters := pyramidProject(2)
	project.Plan.Arcs[0].LastChapter = 2
	m := NewMemoryMaintainer(&llm.MockClient{Default: "boundary summary"}, "model", chapters, 0, 0, nil)

	// Only 2 approvals, but chapter 2 closes the arc.
	if err := m.RefreshAfterApproval(context.Background(), project, 2, 2); err != nil {
		t.Fatalf("RefreshAfterApproval() error = %v", err)
	}
	if project.Memory.ArcSummaries[1] != "boundary summary" {
		t.Errorf("arc boundary did not trigger refresh: %+v", project.Memory.ArcSummaries)
	}
}

func TestWorkingContext(t *testing.T) {
	project, chapters := pyramidProject(8)
	project.Memory = &types.RecursiveMemory{
		GlobalSynopsis: "the whole story",
		ArcSummaries:   map[int]string{1: "the first arc"},
	}
	m := NewMemoryMaintainer(&llm.MockClient{}, "model", chapters, 0, 0, nil)

	got, err := m.WorkingContext(context.Background(), project, 9, 5)
	if err != nil {
		t.Fatalf("WorkingContext() error = %v", err)
	}

	if !strings.Contains(got, "Story so far:\nthe whole story") {
		t.Error("global synopsis missing")
	}
	if !strings.Contains(got, "Current arc:\nthe first arc") {
		t.Error("arc summary missing")
	}
	// Chapters 4..8 are the last five before chapter 9.
	if !strings.Contains(got, "Chapter 4: summary 4") || !strings.Contains(got, "Chapter 8: summary 8") {
		t.Errorf("recent window wrong:\n%s", got)
	}
	if strings.Contains(got, "Chapter 3: summary 3") {
		t.Error("recent window too wide")
	}
}
