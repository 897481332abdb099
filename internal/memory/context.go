package memory

import (
	"fmt"
	"strings"

	"github.com/henribesnard/novellaforge/internal/types"
)

// Context blocks shorter than this get the coherence-notes padding so
// prompts always carry a substantive reference section.
const minContextWords = 200

const coherenceNotes = `Coherence notes:
- Keep every character's status, location and possessions consistent with prior chapters.
- A dead or departed character must not reappear without an explicit in-story explanation.
- Respect established world rules, timelines and the current state of each relationship.
- Objects that were lost or destroyed stay unavailable unless the story recovers them.
- Honor unresolved plot threads; do not silently close or contradict them.
- Keep travel plausible: characters cannot be in two places in the same scene.`

// BuildContextBlock renders the continuity facts as the plain-text block
// injected into generation prompts.
func BuildContextBlock(facts *types.ContinuityFacts) string {
	var b strings.Builder

	if facts != nil && len(facts.Characters) > 0 {
		b.WriteString("Characters:\n")
		for i := range facts.Characters {
			c := &facts.Characters[i]
			b.WriteString("- " + c.Name)
			var attrs []string
			if c.Role != "" {
				attrs = append(attrs, c.Role)
			}
			if c.Status != "" {
				attrs = append(attrs, "status: "+c.Status)
			}
			if c.CurrentState != "" {
				attrs = append(attrs, c.CurrentState)
			}
			if c.LastSeenChapter > 0 {
				attrs = append(attrs, fmt.Sprintf("last seen ch.%d", c.LastSeenChapter))
			}
			if len(attrs) > 0 {
				b.WriteString(" (" + strings.Join(attrs, "; ") + ")")
			}
			if len(c.Goals) > 0 {
				b.WriteString(". Goals: " + strings.Join(c.Goals, ", "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if facts != nil && len(facts.Locations) > 0 {
		b.WriteString("Locations:\n")
		for i := range facts.Locations {
			l := &facts.Locations[i]
			b.WriteString("- " + l.Name)
			if l.Description != "" {
				b.WriteString(": " + l.Description)
			}
			if len(l.Rules) > 0 {
				b.WriteString(" [rules: " + strings.Join(l.Rules, "; ") + "]")
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if facts != nil && len(facts.Relations) > 0 {
		b.WriteString("Relations:\n")
		for i := range facts.Relations {
			r := &facts.Relations[i]
			fmt.Fprintf(&b, "- %s -> %s (%s)", r.From, r.To, r.Type)
			if r.CurrentState != "" {
				b.WriteString(": " + r.CurrentState)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if facts != nil && len(facts.Events) > 0 {
		b.WriteString("Events:\n")
		for i := range facts.Events {
			e := &facts.Events[i]
			fmt.Fprintf(&b, "- %s (ch.%d)", e.Name, e.ChapterIndex)
			if e.Summary != "" {
				b.WriteString(": " + e.Summary)
			}
			if e.Unresolved() {
				b.WriteString(" [open: " + strings.Join(e.UnresolvedThreads, "; ") + "]")
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	block := strings.TrimSpace(b.String())
	if len(strings.Fields(block)) < minContextWords {
		if block == "" {
			return coherenceNotes
		}
		block += "\n\n" + coherenceNotes
	}
	return block
}
