package pipeline

// Gate decisions.
const (
	DecisionDone   = "done"
	DecisionRevise = "revise"
)

// gateInput is everything the quality gate looks at.
type gateInput struct {
	CriticScore        float64
	Blocking           bool
	CoherenceScore     float64
	MissingPoints      []string
	ForbiddenViolation []string
	RevisionCount      int
	MaxRevisions       int
	CoherenceThreshold float64
	ScoreThreshold     float64
}

// decideGate applies the gate rules in order; the first match wins.
// The revision cap is checked first so the loop always terminates.
func decideGate(in gateInput) string {
	if in.RevisionCount >= in.MaxRevisions {
		return DecisionDone
	}
	if in.Blocking {
		return DecisionRevise
	}
	if in.CoherenceScore < in.CoherenceThreshold {
		return DecisionRevise
	}
	if len(in.MissingPoints) > 0 || len(in.ForbiddenViolation) > 0 {
		return DecisionRevise
	}
	if in.CriticScore >= in.ScoreThreshold {
		return DecisionDone
	}
	return DecisionRevise
}

func gateInputFrom(st *state, coherenceThreshold, scoreThreshold float64) gateInput {
	in := gateInput{
		RevisionCount:      st.revisionCount,
		MaxRevisions:       st.maxRevisions,
		CoherenceThreshold: coherenceThreshold,
		ScoreThreshold:     scoreThreshold,
	}
	if st.critique != nil {
		in.CriticScore = st.critique.Score
	}
	if st.continuityValidation != nil {
		in.Blocking = st.continuityValidation.Blocking
		in.CoherenceScore = st.continuityValidation.CoherenceScore
	}
	if st.plotPointReport != nil {
		in.MissingPoints = st.plotPointReport.MissingPoints
		in.ForbiddenViolation = st.plotPointReport.ForbiddenViolations
	}
	return in
}
