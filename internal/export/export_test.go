package export

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/henribesnard/novellaforge/internal/store"
	"github.com/henribesnard/novellaforge/internal/types"
)

func TestSafeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"The Hollow Door", "the-hollow-door"},
		{"  Chapitre 1 : L'éveil!  ", "chapitre-1-l-veil"},
		{"---", "chapter"},
		{"", "chapter"},
		{"already-safe", "already-safe"},
	}
	for _, tt := range tests {
		if got := SafeTitle(tt.in); got != tt.want {
			t.Errorf("SafeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileName(t *testing.T) {
	if got := FileName(7, "The Hollow Door"); got != "007-the-hollow-door.md" {
		t.Errorf("FileName() = %q", got)
	}
	if got := FileName(120, ""); got != "120-chapter.md" {
		t.Errorf("FileName() = %q", got)
	}
}

func TestRenderChapter(t *testing.T) {
	doc := &types.Document{
		Title:   "Chapter 1",
		Summary: "Mara steps through.",
		Content: "Mara opened the door.",
	}
	md := RenderChapter(doc)
	if !strings.HasPrefix(md, "# Chapter 1\n\n> Mara steps through.\n\n") {
		t.Errorf("unexpected markdown:\n%s", md)
	}
	if !strings.HasSuffix(md, "\n") {
		t.Error("rendered chapter must end with a newline")
	}
}

func TestWriteZip(t *testing.T) {
	ctx := context.Background()
	st, err := store.New(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()
	if err := st.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}

	p := &types.Project{OwnerID: "user-1", Title: "Serial"}
	if err := st.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	docs := []*types.Document{
		{ProjectID: p.ID, Title: "First", Content: "one", ChapterIndex: 1, OrderIndex: 0, Status: types.StatusApproved},
		{ProjectID: p.ID, Title: "Second", Content: "two", ChapterIndex: 2, OrderIndex: 1, Status: types.StatusApproved},
		{ProjectID: p.ID, Title: "Draft", Content: "wip", ChapterIndex: 3, OrderIndex: 2, Status: types.StatusDraft},
	}
	for _, d := range docs {
		if err := st.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	var buf bytes.Buffer
	n, err := New(st).WriteZip(ctx, p.ID, &buf)
	if err != nil {
		t.Fatalf("WriteZip() error = %v", err)
	}
	if n != 2 {
		t.Errorf("wrote %d chapters, want 2 (drafts excluded)", n)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if len(names) != 2 || names[0] != "001-first.md" || names[1] != "002-second.md" {
		t.Errorf("archive entries = %v", names)
	}
}
