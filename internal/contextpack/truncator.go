// Package contextpack assembles the working context a chapter is written
// against: the priority-truncated memory block and the three-level
// recursive summary pyramid.
package contextpack

import (
	"fmt"
	"strings"

	"github.com/henribesnard/novellaforge/internal/types"
)

// recentEventWindow bounds the "recent events" section of the truncated
// memory block.
const recentEventWindow = 5

// SmartTruncate composes a memory block within maxChars using
// priority-weighted sections. mentioned filters the character section
// when non-empty. Budgets cascade: characters take the whole remaining
// budget, recent events max(500, remaining/3), active relations
// max(500, remaining/4), unresolved threads min(500, remaining). A
// section is emitted only if at least part of it fits; the last line of
// a section may be cut with an ellipsis.
func SmartTruncate(facts *types.ContinuityFacts, mentioned []string, currentChapter, maxChars int) string {
	if facts == nil || maxChars <= 0 {
		return ""
	}

	mentionedSet := make(map[string]bool, len(mentioned))
	for _, m := range mentioned {
		mentionedSet[strings.ToLower(strings.TrimSpace(m))] = true
	}

	var out strings.Builder
	remaining := maxChars

	if sec := characterSection(facts, mentionedSet); sec != "" {
		written := appendSection(&out, sec, remaining)
		remaining -= written
	}

	if sec := recentEventSection(facts, currentChapter); sec != "" && remaining > 0 {
		budget := remaining / 3
		if budget < 500 {
			budget = 500
		}
		if budget > remaining {
			budget = remaining
		}
		written := appendSection(&out, sec, budget)
		remaining -= written
	}

	if sec := activeRelationSection(facts); sec != "" && remaining > 0 {
		budget := remaining / 4
		if budget < 500 {
			budget = 500
		}
		if budget > remaining {
			budget = remaining
		}
		written := appendSection(&out, sec, budget)
		remaining -= written
	}

	if sec := unresolvedThreadSection(facts); sec != "" && remaining > 0 {
		budget := remaining
		if budget > 500 {
			budget = 500
		}
		appendSection(&out, sec, budget)
	}

	block := strings.TrimSpace(out.String())
	if len([]rune(block)) > maxChars {
		block = truncateEllipsis(block, maxChars)
	}
	return block
}

// appendSection writes as much of sec as fits in budget (plus a blank
// separator line) and returns how many characters it consumed.
func appendSection(out *strings.Builder, sec string, budget int) int {
	if budget <= 0 {
		return 0
	}
	runes := []rune(sec)
	if len(runes) > budget {
		sec = truncateEllipsis(sec, budget)
	}
	if out.Len() > 0 {
		out.WriteString("\n\n")
	}
	out.WriteString(sec)
	return len([]rune(sec))
}

func truncateEllipsis(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return strings.TrimSpace(string(runes[:max-3])) + "..."
}

func characterSection(facts *types.ContinuityFacts, mentioned map[string]bool) string {
	var lines []string
	for i := range facts.Characters {
		c := &facts.Characters[i]
		if len(mentioned) > 0 && !mentioned[strings.ToLower(c.Name)] {
			continue
		}
		line := "- " + c.Name
		var attrs []string
		if c.Status != "" {
			attrs = append(attrs, c.Status)
		}
		if c.CurrentState != "" {
			attrs = append(attrs, c.CurrentState)
		}
		if len(attrs) > 0 {
			line += " (" + strings.Join(attrs, "; ") + ")"
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return "Characters:\n" + strings.Join(lines, "\n")
}

func recentEventSection(facts *types.ContinuityFacts, currentChapter int) string {
	var lines []string
	for i := range facts.Events {
		e := &facts.Events[i]
		if e.ChapterIndex < currentChapter-recentEventWindow {
			continue
		}
		line := fmt.Sprintf("- %s (ch.%d)", e.Name, e.ChapterIndex)
		if e.Summary != "" {
			line += ": " + e.Summary
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return "Recent events:\n" + strings.Join(lines, "\n")
}

func activeRelationSection(facts *types.ContinuityFacts) string {
	var lines []string
	for i := range facts.Relations {
		r := &facts.Relations[i]
		line := fmt.Sprintf("- %s -> %s (%s)", r.From, r.To, r.Type)
		if r.CurrentState != "" {
			line += ": " + r.CurrentState
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return "Active relations:\n" + strings.Join(lines, "\n")
}

func unresolvedThreadSection(facts *types.ContinuityFacts) string {
	var lines []string
	for i := range facts.Events {
		e := &facts.Events[i]
		for _, t := range e.UnresolvedThreads {
			lines = append(lines, fmt.Sprintf("- %s (from %s, ch.%d)", t, e.Name, e.ChapterIndex))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "Unresolved threads:\n" + strings.Join(lines, "\n")
}
