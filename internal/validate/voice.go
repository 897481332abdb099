package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/henribesnard/novellaforge/internal/rag"
)

// quotedLine matches dialogue in double quotes or French guillemets.
var quotedLine = regexp.MustCompile(`"([^"]{2,})"|«([^»]{2,})»`)

// VoiceOutlier flags a dialogue that does not sound like its speaker.
type VoiceOutlier struct {
	Character  string  `json:"character"`
	Dialogue   string  `json:"dialogue"`
	Similarity float64 `json:"similarity"`
}

// VoiceReport is the consistency analysis over a chapter's dialogue.
type VoiceReport struct {
	Outliers []VoiceOutlier `json:"outliers"`
	Analyzed int            `json:"analyzed"`
	Skipped  bool           `json:"skipped"`
}

// VoiceAnalyzer compares new dialogue against each character's historical
// dialogue corpus by embedding similarity.
type VoiceAnalyzer struct {
	embedder     rag.Embedder
	threshold    float64
	minDialogues int

	// historical dialogue per character, lower-cased name keys
	corpus map[string][]string
}

// NewVoiceAnalyzer creates the analyzer. embedder may be nil; analysis
// then reports skipped.
func NewVoiceAnalyzer(embedder rag.Embedder, threshold float64, minDialogues int) *VoiceAnalyzer {
	if threshold <= 0 {
		threshold = 0.55
	}
	if minDialogues <= 0 {
		minDialogues = 5
	}
	return &VoiceAnalyzer{
		embedder:     embedder,
		threshold:    threshold,
		minDialogues: minDialogues,
		corpus:       make(map[string][]string),
	}
}

// AddHistoricalDialogue records approved dialogue lines for a character.
func (a *VoiceAnalyzer) AddHistoricalDialogue(character string, lines []string) {
	key := strings.ToLower(strings.TrimSpace(character))
	if key == "" {
		return
	}
	a.corpus[key] = append(a.corpus[key], lines...)
}

// ExtractDialogues pulls quoted dialogue lines attributed to a character
// by adjacency: the quote is attributed to the nearest preceding name
// mention on the same paragraph.
func ExtractDialogues(chapterText string, characters []string) map[string][]string {
	out := make(map[string][]string)
	for _, para := range strings.Split(chapterText, "\n") {
		speaker := ""
		lowerPara := strings.ToLower(para)
		best := -1
		for _, name := range characters {
			if name == "" {
				continue
			}
			if idx := strings.LastIndex(lowerPara, strings.ToLower(name)); idx > best {
				best = idx
				speaker = name
			}
		}
		if speaker == "" {
			continue
		}
		for _, m := range quotedLine.FindAllStringSubmatch(para, -1) {
			quote := m[1]
			if quote == "" {
				quote = m[2]
			}
			out[speaker] = append(out[speaker], quote)
		}
	}
	return out
}

// Analyze embeds the chapter's dialogues and flags lines whose best
// similarity against the speaker's corpus falls below the threshold.
// Characters with too little history are skipped.
func (a *VoiceAnalyzer) Analyze(ctx context.Context, dialogues map[string][]string) (*VoiceReport, error) {
	if a.embedder == nil {
		return &VoiceReport{Skipped: true}, nil
	}

	report := &VoiceReport{}
	for character, lines := range dialogues {
		history := a.corpus[strings.ToLower(character)]
		if len(history) < a.minDialogues {
			continue
		}

		histVecs, err := a.embedder.EmbedBatch(ctx, history)
		if err != nil {
			return &VoiceReport{Skipped: true}, nil
		}
		lineVecs, err := a.embedder.EmbedBatch(ctx, lines)
		if err != nil {
			return &VoiceReport{Skipped: true}, nil
		}

		for i, vec := range lineVecs {
			best := 0.0
			for _, hv := range histVecs {
				if sim := rag.CosineSimilarity(vec, hv); sim > best {
					best = sim
				}
			}
			report.Analyzed++
			if best < a.threshold {
				report.Outliers = append(report.Outliers, VoiceOutlier{
					Character:  character,
					Dialogue:   lines[i],
					Similarity: best,
				})
			}
		}
	}
	return report, nil
}

// Describe renders outliers as validation feedback lines.
func (r *VoiceReport) Describe() []string {
	var out []string
	for _, o := range r.Outliers {
		out = append(out, fmt.Sprintf("%s sounds off-voice (similarity %.2f): %q",
			o.Character, o.Similarity, o.Dialogue))
	}
	return out
}
