package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/henribesnard/novellaforge/internal/rag"
)

// contradictoryPairs are opposing term pairs; a high-similarity fact pair
// containing opposite terms is flagged as a semantic conflict. French
// variants are included because the engine serves French-language serials.
var contradictoryPairs = [][2]string{
	{"alive", "dead"},
	{"vivant", "mort"},
	{"vivante", "morte"},
	{"friend", "enemy"},
	{"ami", "ennemi"},
	{"amie", "ennemie"},
	{"open", "closed"},
	{"ouvert", "fermé"},
	{"present", "absent"},
	{"présent", "absent"},
}

// SemanticConflict pairs a new fact with an established fact it likely
// contradicts.
type SemanticConflict struct {
	NewFact         string  `json:"new_fact"`
	EstablishedFact string  `json:"established_fact"`
	Similarity      float64 `json:"similarity"`
}

// SemanticValidator flags new factual sentences that are semantically
// close to established facts yet contain opposing terms.
type SemanticValidator struct {
	embedder  rag.Embedder
	threshold float64
}

// NewSemanticValidator creates the validator. A nil embedder degrades to
// a no-op.
func NewSemanticValidator(embedder rag.Embedder, threshold float64) *SemanticValidator {
	if threshold <= 0 {
		threshold = 0.8
	}
	return &SemanticValidator{embedder: embedder, threshold: threshold}
}

// Check compares newFacts against establishedFacts. It returns nil when
// the embedding model is missing.
func (v *SemanticValidator) Check(ctx context.Context, newFacts, establishedFacts []string) ([]SemanticConflict, error) {
	if v.embedder == nil || len(newFacts) == 0 || len(establishedFacts) == 0 {
		return nil, nil
	}

	newVecs, err := v.embedder.EmbedBatch(ctx, newFacts)
	if err != nil {
		return nil, nil
	}
	estVecs, err := v.embedder.EmbedBatch(ctx, establishedFacts)
	if err != nil {
		return nil, nil
	}

	var conflicts []SemanticConflict
	for i, nv := range newVecs {
		for j, ev := range estVecs {
			sim := rag.CosineSimilarity(nv, ev)
			if sim < v.threshold {
				continue
			}
			if hasOpposingTerms(newFacts[i], establishedFacts[j]) {
				conflicts = append(conflicts, SemanticConflict{
					NewFact:         newFacts[i],
					EstablishedFact: establishedFacts[j],
					Similarity:      sim,
				})
			}
		}
	}
	return conflicts, nil
}

// Describe renders conflicts as validation feedback lines.
func DescribeConflicts(conflicts []SemanticConflict) []string {
	var out []string
	for _, c := range conflicts {
		out = append(out, fmt.Sprintf("likely contradiction (similarity %.2f): %q vs established %q",
			c.Similarity, c.NewFact, c.EstablishedFact))
	}
	return out
}

// hasOpposingTerms reports whether one text carries a term whose opposite
// appears in the other.
func hasOpposingTerms(a, b string) bool {
	la, lb := " "+strings.ToLower(a)+" ", " "+strings.ToLower(b)+" "
	containsWord := func(text, word string) bool {
		return strings.Contains(text, " "+word+" ") ||
			strings.Contains(text, " "+word+".") ||
			strings.Contains(text, " "+word+",")
	}
	for _, pair := range contradictoryPairs {
		if (containsWord(la, pair[0]) && containsWord(lb, pair[1])) ||
			(containsWord(la, pair[1]) && containsWord(lb, pair[0])) {
			return true
		}
	}
	return false
}
