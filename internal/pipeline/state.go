package pipeline

import (
	"github.com/henribesnard/novellaforge/internal/types"
)

// Request is one generateChapter call.
type Request struct {
	ProjectID string `json:"project_id" validate:"required"`
	UserID    string `json:"user_id" validate:"required"`

	// Either an existing draft to revise or a plan position to generate.
	ChapterID    string `json:"chapter_id,omitempty"`
	ChapterIndex int    `json:"chapter_index,omitempty"`

	TargetWordCount int    `json:"target_word_count,omitempty"`
	UserInstruction string `json:"user_instruction,omitempty"`

	UseRAG           bool   `json:"use_rag"`
	ReindexDocuments bool   `json:"reindex_documents"`
	PersistDraft     bool   `json:"persist_draft"`
	POVValidation    bool   `json:"pov_validation"`
	POVCharacter     string `json:"pov_character,omitempty"`
	POVType          string `json:"pov_type,omitempty"`
}

// Response is the generateChapter result.
type Response struct {
	ChapterTitle         string                      `json:"chapter_title"`
	Content              string                      `json:"content"`
	WordCount            int                         `json:"word_count"`
	DocumentID           string                      `json:"document_id,omitempty"`
	Plan                 *types.ChapterPlan          `json:"plan"`
	Critique             *types.Critique             `json:"critique"`
	ContinuityValidation *types.ContinuityValidation `json:"continuity_validation"`
	ContinuityAlerts     []string                    `json:"continuity_alerts,omitempty"`
	RetrievedChunks      []types.RetrievedChunk      `json:"retrieved_chunks,omitempty"`
	Revisions            int                         `json:"revisions"`
}

// ApprovalResponse is the approveChapter result.
type ApprovalResponse struct {
	DocumentID        string   `json:"document_id"`
	Status            string   `json:"status"`
	Summary           string   `json:"summary"`
	RAGUpdated        bool     `json:"rag_updated"`
	RAGUpdateError    string   `json:"rag_update_error,omitempty"`
	SemanticConflicts []string `json:"semantic_conflicts,omitempty"`
}

// state is the mutable pipeline state threaded through the nodes.
type state struct {
	req     *Request
	project *types.Project

	chapterID    string
	chapterIndex int

	title          string
	summary        string
	emotionalStake string

	targetWordCount int
	minWordCount    int
	maxWordCount    int

	currentPlan *types.ChapterPlan

	chapterText string
	beatTexts   []string

	retrievedChunks []types.RetrievedChunk
	styleChunks     []types.RetrievedChunk
	memoryContext   string
	bibleContext    string

	continuityValidation *types.ContinuityValidation
	plotPointReport      *types.PlotPointValidation
	critique             *types.Critique
	critiqueFeedback     []string
	continuityAlerts     []string
	chekhovAlerts        []string

	revisionCount int
	maxRevisions  int
}
