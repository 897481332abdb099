package rag

import (
	"strings"
	"testing"
)

func TestChunkText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    int
	}{
		{name: "empty text", text: "", size: 100, overlap: 10, want: 0},
		{name: "fits in one chunk", text: strings.Repeat("a", 50), size: 100, overlap: 10, want: 1},
		{name: "exact size", text: strings.Repeat("a", 100), size: 100, overlap: 10, want: 1},
		{name: "two chunks with overlap", text: strings.Repeat("a", 150), size: 100, overlap: 50, want: 2},
		{name: "defaults applied", text: strings.Repeat("a", 1700), size: 0, overlap: -1, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := ChunkText(tt.text, tt.size, tt.overlap)
			if len(chunks) != tt.want {
				t.Fatalf("got %d chunks, want %d", len(chunks), tt.want)
			}
			for i, c := range chunks {
				if c.Index != i {
					t.Errorf("chunk %d has index %d", i, c.Index)
				}
			}
		})
	}
}

func TestChunkTextOverlapContent(t *testing.T) {
	text := "abcdefghij" // 10 runes
	chunks := ChunkText(text, 6, 2)

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Text != "abcdef" {
		t.Errorf("chunk 0 = %q", chunks[0].Text)
	}
	// Step is size-overlap = 4, so the second window starts at rune 4.
	if chunks[1].Text != "efghij" {
		t.Errorf("chunk 1 = %q", chunks[1].Text)
	}
}

func TestChunkTextInvalidOverlapFallsBack(t *testing.T) {
	// overlap >= size would never advance; the chunker must still terminate.
	chunks := ChunkText(strings.Repeat("a", 300), 100, 100)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	for _, c := range chunks {
		if len(c.Text) > 100 {
			t.Errorf("chunk longer than size: %d", len(c.Text))
		}
	}
}
