// Package types holds the schema-validated records shared across the
// generation pipeline: projects, plans, chapters, continuity facts and the
// payloads exchanged with the LLM. Serialization happens only at the
// persistence boundary; everything in between works with these structs.
package types

import (
	"strings"
	"time"
)

// DocumentType discriminates stored documents.
type DocumentType string

const (
	DocumentTypeChapter DocumentType = "chapter"
)

// Chapter status lifecycle: draft -> approved.
const (
	StatusDraft    = "draft"
	StatusApproved = "approved"
	StatusAccepted = "accepted"
)

// Document is a stored chapter. Ordered by OrderIndex (0-based) and tagged
// with a 1-based ChapterIndex.
type Document struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"project_id"`
	Type         DocumentType `json:"type"`
	Title        string       `json:"title"`
	Content      string       `json:"content"`
	Summary      string       `json:"summary,omitempty"`
	Status       string       `json:"status"`
	OrderIndex   int          `json:"order_index"`
	ChapterIndex int          `json:"chapter_index"`

	// Snapshot of the plan the chapter was written against. Immutable once
	// the draft is persisted.
	PlanSnapshot *ChapterPlan `json:"plan_snapshot,omitempty"`

	// Validation history accumulated across pipeline iterations.
	ValidationHistory []ContinuityValidation `json:"validation_history,omitempty"`
	PlotPointReport   *PlotPointValidation   `json:"plot_point_report,omitempty"`

	WordCount int       `json:"word_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Concept is the premise the project was created from.
type Concept struct {
	Premise     string   `json:"premise" validate:"required"`
	Genre       string   `json:"genre"`
	Tone        string   `json:"tone,omitempty"`
	Tropes      []string `json:"tropes,omitempty"`
	EmotionalDC string   `json:"emotional_orientation,omitempty"`
}

// PlanChapter is one entry of the accepted plan.
type PlanChapter struct {
	Index          int    `json:"index"` // 1-based chapter index
	Title          string `json:"title"`
	Summary        string `json:"summary"`
	EmotionalStake string `json:"emotional_stake,omitempty"`
	ArcIndex       int    `json:"arc_index"`
	Status         string `json:"status"` // "", "approved"

	// Optional pre-planned beats; when present the planner skips the LLM.
	SceneBeats []string `json:"scene_beats,omitempty"`

	RequiredPlotPoints []string `json:"required_plot_points,omitempty"`
	ForbiddenActions   []string `json:"forbidden_actions,omitempty"`
	SuccessCriteria    []string `json:"success_criteria,omitempty"`
}

// PlanArc groups chapters of the accepted plan.
type PlanArc struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	// 1-based chapter index range, inclusive.
	FirstChapter int `json:"first_chapter"`
	LastChapter  int `json:"last_chapter"`
}

// Plan is the accepted global plan. No chapter may be generated unless
// Status == "accepted".
type Plan struct {
	Status        string        `json:"status"`
	GlobalSummary string        `json:"global_summary"`
	Arcs          []PlanArc     `json:"arcs"`
	Chapters      []PlanChapter `json:"chapters"`
}

// Accepted reports whether chapter generation is allowed.
func (p *Plan) Accepted() bool {
	return p != nil && p.Status == StatusAccepted
}

// ChapterByIndex returns the plan entry with the given 1-based index.
func (p *Plan) ChapterByIndex(idx int) *PlanChapter {
	if p == nil {
		return nil
	}
	for i := range p.Chapters {
		if p.Chapters[i].Index == idx {
			return &p.Chapters[i]
		}
	}
	return nil
}

// ArcForChapter returns the arc containing the given 1-based chapter index.
func (p *Plan) ArcForChapter(idx int) *PlanArc {
	if p == nil {
		return nil
	}
	for i := range p.Arcs {
		a := &p.Arcs[i]
		if idx >= a.FirstChapter && idx <= a.LastChapter {
			return a
		}
	}
	return nil
}

// ChapterPlan is the planner output for a single chapter.
type ChapterPlan struct {
	ChapterNumber      int      `json:"chapter_number" validate:"min=1"`
	SceneBeats         []string `json:"scene_beats" validate:"min=1,max=12"`
	TargetEmotion      string   `json:"target_emotion,omitempty"`
	RequiredPlotPoints []string `json:"required_plot_points,omitempty"`
	ForbiddenActions   []string `json:"forbidden_actions,omitempty"`
	ArcConstraints     []string `json:"arc_constraints,omitempty"`
	OptionalSubplots   []string `json:"optional_subplots,omitempty"`
	SuccessCriteria    []string `json:"success_criteria,omitempty"`
	CliffhangerType    string   `json:"cliffhanger_type,omitempty"`
	EstimatedWordCount int      `json:"estimated_word_count,omitempty"`
}

// StatusEntry records one value of a tracked scalar over time.
type StatusEntry struct {
	Value        string    `json:"value"`
	ChapterIndex int       `json:"chapter_index"`
	Timestamp    time.Time `json:"timestamp"`
}

// CharacterFact is one character of the continuity facts.
type CharacterFact struct {
	Name            string        `json:"name"` // unique key
	Role            string        `json:"role,omitempty"`
	Status          string        `json:"status,omitempty"`
	CurrentState    string        `json:"current_state,omitempty"`
	Motivations     []string      `json:"motivations,omitempty"`
	Traits          []string      `json:"traits,omitempty"`
	Goals           []string      `json:"goals,omitempty"`
	ArcStage        string        `json:"arc_stage,omitempty"`
	LastSeenChapter int           `json:"last_seen_chapter"`
	StatusHistory   []StatusEntry `json:"status_history,omitempty"`
}

// LocationFact is one location of the continuity facts.
type LocationFact struct {
	Name                 string   `json:"name"` // unique key
	Description          string   `json:"description,omitempty"`
	Rules                []string `json:"rules,omitempty"`
	TimelineMarkers      []string `json:"timeline_markers,omitempty"`
	Atmosphere           string   `json:"atmosphere,omitempty"`
	LastMentionedChapter int      `json:"last_mentioned_chapter"`
}

// RelationFact links two characters. Keyed by (From, To, Type).
type RelationFact struct {
	From             string        `json:"from"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Detail           string        `json:"detail,omitempty"`
	StartChapter     int           `json:"start_chapter"`
	CurrentState     string        `json:"current_state,omitempty"`
	EvolutionHistory []StatusEntry `json:"evolution_history,omitempty"`
}

// EventFact is a narrative event. Keyed by Name.
type EventFact struct {
	Name              string   `json:"name"`
	Summary           string   `json:"summary,omitempty"`
	ChapterIndex      int      `json:"chapter_index"`
	TimeReference     string   `json:"time_reference,omitempty"`
	Impact            string   `json:"impact,omitempty"`
	UnresolvedThreads []string `json:"unresolved_threads,omitempty"`
}

// Unresolved reports whether the event still has open threads.
func (e *EventFact) Unresolved() bool {
	return len(e.UnresolvedThreads) > 0
}

// Object status values.
const (
	ObjectPossessed   = "possessed"
	ObjectLost        = "lost"
	ObjectDestroyed   = "destroyed"
	ObjectHidden      = "hidden"
	ObjectTransferred = "transferred"
)

// ObjectFact tracks a significant object.
type ObjectFact struct {
	Name              string        `json:"name"`
	Status            string        `json:"status,omitempty"`
	CurrentHolder     string        `json:"current_holder,omitempty"`
	Location          string        `json:"location,omitempty"`
	StatusHistory     []StatusEntry `json:"status_history,omitempty"`
	MagicalProperties []string      `json:"magical_properties,omitempty"`
}

// CharacterLocation places a character somewhere at a point in the story.
type CharacterLocation struct {
	CharacterName    string `json:"character_name"`
	Location         string `json:"location"`
	ChapterIndex     int    `json:"chapter_index"`
	TravelFrom       string `json:"travel_from,omitempty"`
	TravelTo         string `json:"travel_to,omitempty"`
	ArrivalConfirmed bool   `json:"arrival_confirmed"`
}

// ContinuityFacts is the canonical fact set extracted from approved chapters
// and merged into the project-level continuity.
type ContinuityFacts struct {
	Characters         []CharacterFact     `json:"characters,omitempty"`
	Locations          []LocationFact      `json:"locations,omitempty"`
	Relations          []RelationFact      `json:"relations,omitempty"`
	Events             []EventFact         `json:"events,omitempty"`
	Objects            []ObjectFact        `json:"objects,omitempty"`
	CharacterLocations []CharacterLocation `json:"character_locations,omitempty"`
	UpdatedAt          time.Time           `json:"updated_at,omitempty"`
}

// Character returns the character with the given name (case-insensitive).
func (c *ContinuityFacts) Character(name string) *CharacterFact {
	if c == nil {
		return nil
	}
	for i := range c.Characters {
		if strings.EqualFold(c.Characters[i].Name, name) {
			return &c.Characters[i]
		}
	}
	return nil
}

// ChekhovGun element types.
const (
	GunObject        = "object"
	GunSkill         = "skill"
	GunThreat        = "threat"
	GunPromise       = "promise"
	GunForeshadowing = "foreshadowing"
	GunQuestion      = "question"
)

// ChekhovGun is a narrative promise that must eventually be resolved.
type ChekhovGun struct {
	Element           string   `json:"element"`
	ElementType       string   `json:"element_type"`
	Expectation       string   `json:"expectation,omitempty"`
	IntroducedChapter int      `json:"introduced_chapter"`
	Urgency           int      `json:"urgency" validate:"min=1,max=10"`
	Resolved          bool     `json:"resolved"`
	ResolvedChapter   int      `json:"resolved_chapter,omitempty"`
	HintsDropped      []string `json:"hints_dropped,omitempty"`
}

// Contradiction severities and statuses.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"

	ContradictionPending     = "pending"
	ContradictionResolved    = "resolved"
	ContradictionIntentional = "intentional"
)

// TrackedContradiction is a detected inconsistency and its triage state.
// Once resolved or intentional, the same description must be filtered from
// future validation outputs.
type TrackedContradiction struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	Severity          string    `json:"severity"`
	Description       string    `json:"description"`
	DetectedInChapter int       `json:"detected_in_chapter"`
	DetectedAt        time.Time `json:"detected_at"`
	Status            string    `json:"status"`
	Resolution        string    `json:"resolution,omitempty"`
	AffectedChapters  []int     `json:"affected_chapters,omitempty"`
	AutoDetected      bool      `json:"auto_detected"`
}

// Dismissed reports whether the contradiction should be filtered from
// validation outputs.
func (t *TrackedContradiction) Dismissed() bool {
	return t.Status == ContradictionResolved || t.Status == ContradictionIntentional
}

// IntentionalMystery is a pre-declared exception to contradiction detection.
type IntentionalMystery struct {
	Description string   `json:"description"`
	Characters  []string `json:"characters,omitempty"`
	RevealedAt  int      `json:"revealed_at,omitempty"` // 0 = not yet revealed
}

// StoryBible holds long-lived canonical rules and facts of the world.
type StoryBible struct {
	WorldRules           []string             `json:"world_rules,omitempty"`
	Timeline             []string             `json:"timeline,omitempty"`
	Glossary             map[string]string    `json:"glossary,omitempty"`
	EstablishedFacts     []PromotedFact       `json:"established_facts,omitempty"`
	IntentionalMysteries []IntentionalMystery `json:"intentional_mysteries,omitempty"`
}

// PromotedFact is a recurring fact promoted into the story bible by the
// maintenance job, with the confidence derived from its frequency.
type PromotedFact struct {
	Fact       string    `json:"fact"`
	Section    string    `json:"section"` // "trait", "rule", "world_rule"
	Confidence float64   `json:"confidence"`
	PromotedAt time.Time `json:"promoted_at"`
}

// RecursiveMemory is the three-level summary pyramid.
type RecursiveMemory struct {
	GlobalSynopsis    string         `json:"global_synopsis,omitempty"`     // L3
	ArcSummaries      map[int]string `json:"arc_summaries,omitempty"`       // L2 by arc index
	LastGlobalRefresh int            `json:"last_global_refresh,omitempty"` // approvals at last L3 rebuild
	LastArcRefresh    map[int]int    `json:"last_arc_refresh,omitempty"`
}

// Project is the root aggregate. It exclusively owns everything below;
// chapters reference it by id only.
type Project struct {
	ID      string  `json:"id"`
	OwnerID string  `json:"owner_id"`
	Title   string  `json:"title"`
	Concept Concept `json:"concept"`
	Plan    *Plan   `json:"plan,omitempty"`

	Synopsis   string      `json:"synopsis,omitempty"`
	StoryBible *StoryBible `json:"story_bible,omitempty"`

	Continuity             *ContinuityFacts       `json:"continuity,omitempty"`
	Memory                 *RecursiveMemory       `json:"memory,omitempty"`
	TrackedContradictions  []TrackedContradiction `json:"tracked_contradictions,omitempty"`
	ChekhovGuns            []ChekhovGun           `json:"chekhov_guns,omitempty"`
	RecentChapterSummaries []string               `json:"recent_chapter_summaries,omitempty"`

	// Pregenerated plans cache keyed by chapter index.
	PregeneratedPlans map[int]*ChapterPlan `json:"pregenerated_plans,omitempty"`

	// Version for optimistic metadata locking.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bible returns the story bible, never nil.
func (p *Project) Bible() *StoryBible {
	if p.StoryBible == nil {
		p.StoryBible = &StoryBible{}
	}
	return p.StoryBible
}

// ContinuityOrEmpty returns the merged continuity, never nil.
func (p *Project) ContinuityOrEmpty() *ContinuityFacts {
	if p.Continuity == nil {
		p.Continuity = &ContinuityFacts{}
	}
	return p.Continuity
}

// ValidationIssue is a single fused validation finding.
type ValidationIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// ContinuityValidation is the fused result of the consistency analyst and
// the graph validator.
type ContinuityValidation struct {
	CoherenceScore float64           `json:"coherence_score"`
	SevereIssues   []ValidationIssue `json:"severe_issues,omitempty"`
	MinorIssues    []ValidationIssue `json:"minor_issues,omitempty"`
	Blocking       bool              `json:"blocking"`
	Summary        string            `json:"summary,omitempty"`
}

// PlotPointValidation reports coverage of required/forbidden plot points.
type PlotPointValidation struct {
	CoveredPoints       []string `json:"covered_points"`
	MissingPoints       []string `json:"missing_points"`
	ForbiddenViolations []string `json:"forbidden_violations"`
	CoverageScore       float64  `json:"coverage_score"`
	Explanation         string   `json:"explanation,omitempty"`
}

// Critique is the critic's scoring of a draft.
type Critique struct {
	Score           float64  `json:"score"`
	Issues          []string `json:"issues,omitempty"`
	Suggestions     []string `json:"suggestions,omitempty"`
	CliffhangerOK   bool     `json:"cliffhanger_ok"`
	PacingOK        bool     `json:"pacing_ok"`
	ContinuityRisks []string `json:"continuity_risks,omitempty"`
}

// RetrievedChunk is one RAG hit handed to the writer prompts.
type RetrievedChunk struct {
	DocumentID   string  `json:"document_id"`
	ChapterIndex int     `json:"chapter_index"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
