// Package rag chunks chapter content, embeds it, and retrieves semantically
// relevant chunks from a sqlite-backed vector store partitioned by project.
// When the embedder or store is unavailable the service degrades to empty
// results with a one-time warning; the pipeline continues without retrieval.
package rag

// Chunk is one window of a chunked document.
type Chunk struct {
	Index int
	Text  string
}

// ChunkText splits text into fixed-size overlapping windows. size and
// overlap are in characters (runes); default 1000/150.
func ChunkText(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 150
		if overlap >= size {
			overlap = size / 4
		}
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	step := size - overlap
	for start, idx := 0, 0; start < len(runes); start, idx = start+step, idx+1 {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{Index: idx, Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
