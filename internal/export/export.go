// Package export renders a project's approved chapters as markdown files
// and packages them into a zip archive. archive/zip from the standard
// library is used directly; the format needs no external dependency.
package export

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/henribesnard/novellaforge/internal/store"
	"github.com/henribesnard/novellaforge/internal/types"
)

var unsafeChars = regexp.MustCompile(`[^a-z0-9-]+`)

// SafeTitle converts a chapter title into a filesystem-safe slug.
func SafeTitle(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = unsafeChars.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "chapter"
	}
	return slug
}

// FileName renders the per-chapter markdown file name.
func FileName(chapterIndex int, title string) string {
	return fmt.Sprintf("%03d-%s.md", chapterIndex, SafeTitle(title))
}

// RenderChapter renders one chapter as markdown.
func RenderChapter(doc *types.Document) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", doc.Title)
	if doc.Summary != "" {
		fmt.Fprintf(&sb, "> %s\n\n", doc.Summary)
	}
	sb.WriteString(doc.Content)
	if !strings.HasSuffix(doc.Content, "\n") {
		sb.WriteString("\n")
	}
	return sb.String()
}

// Exporter packages approved chapters.
type Exporter struct {
	store *store.Store
}

// New creates an exporter.
func New(st *store.Store) *Exporter {
	return &Exporter{store: st}
}

// WriteZip streams a zip of every approved chapter, ordered by chapter
// index, to w.
func (e *Exporter) WriteZip(ctx context.Context, projectID string, w io.Writer) (int, error) {
	docs, err := e.store.ListApprovedChapters(ctx, projectID)
	if err != nil {
		return 0, err
	}

	zw := zip.NewWriter(w)
	written := 0
	for _, doc := range docs {
		f, err := zw.Create(FileName(doc.ChapterIndex, doc.Title))
		if err != nil {
			return written, fmt.Errorf("failed to add %s to archive: %w", doc.Title, err)
		}
		if _, err := io.WriteString(f, RenderChapter(doc)); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", doc.Title, err)
		}
		written++
	}
	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return written, nil
}
