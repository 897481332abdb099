// Package writer expands a chapter plan's scene beats into prose. Four
// strategies are tried in priority order: partial revision, distributed
// parallel, in-process parallel, sequential.
package writer

import (
	"fmt"
	"strings"
)

// continuationHintChars is the tail of the running text passed to the
// next beat so scene transitions stay continuous.
const continuationHintChars = 1200

// BasePrompt carries everything beat prompts share for one chapter.
type BasePrompt struct {
	Genre           string
	Concept         string
	ChapterTitle    string
	ChapterIndex    int
	MemoryContext   string
	StoryBible      string
	StyleExamples   string
	RetrievedChunks string
	RevisionNotes   []string
	UserInstruction string
}

func (b *BasePrompt) render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are writing chapter %d (%q) of a %s serial.\n", b.ChapterIndex, b.ChapterTitle, b.Genre)
	if b.Concept != "" {
		sb.WriteString("\nPremise:\n" + b.Concept + "\n")
	}
	if b.MemoryContext != "" {
		sb.WriteString("\nContinuity you must respect:\n" + b.MemoryContext + "\n")
	}
	if b.StoryBible != "" {
		sb.WriteString("\nStory bible:\n" + b.StoryBible + "\n")
	}
	if b.StyleExamples != "" {
		sb.WriteString("\nMatch the voice of these excerpts:\n" + b.StyleExamples + "\n")
	}
	if b.RetrievedChunks != "" {
		sb.WriteString("\nRelevant earlier passages:\n" + b.RetrievedChunks + "\n")
	}
	if len(b.RevisionNotes) > 0 {
		sb.WriteString("\nFix these issues from the previous draft:\n- " + strings.Join(b.RevisionNotes, "\n- ") + "\n")
	}
	if b.UserInstruction != "" {
		sb.WriteString("\nAuthor instruction:\n" + b.UserInstruction + "\n")
	}
	return sb.String()
}

// beatPrompt composes the user prompt for one beat.
func beatPrompt(base *BasePrompt, beats []string, beatIndex, currentWords, remainingWords, maxWords int, hint string) string {
	var sb strings.Builder
	sb.WriteString(base.render())

	sb.WriteString("\nChapter outline:\n")
	for i, beat := range beats {
		marker := " "
		if i == beatIndex {
			marker = ">"
		}
		fmt.Fprintf(&sb, "%s %d. %s\n", marker, i+1, beat)
	}

	fmt.Fprintf(&sb, "\nWrite the prose for beat %d only: %s\n", beatIndex+1, beats[beatIndex])
	fmt.Fprintf(&sb, "Words written so far: %d. Aim for about %d more words; never exceed %d words total.\n",
		currentWords, remainingWords, maxWords)
	if hint != "" {
		sb.WriteString("\nThe chapter currently ends with:\n..." + hint + "\n\nContinue seamlessly from there.\n")
	}
	sb.WriteString("\nWrite immersive prose only, no headings or beat labels. Finish on a complete sentence.")
	return sb.String()
}

// continuationHint returns the trailing portion of the running text.
func continuationHint(text string) string {
	runes := []rune(text)
	if len(runes) <= continuationHintChars {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(string(runes[len(runes)-continuationHintChars:]))
}

// priorBeatsSummary renders a bounded recap of already written beats for
// partial revision prompts.
func priorBeatsSummary(beatTexts []string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 3000
	}
	joined := strings.Join(beatTexts, "\n\n")
	runes := []rune(joined)
	if len(runes) <= maxChars {
		return joined
	}
	return "..." + string(runes[len(runes)-maxChars:])
}
