// Package pipeline runs the chapter generation state machine and the
// approval flow, tying every other service together.
package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors of the public contract.
var (
	ErrPlanNotAccepted = errors.New("plan is not accepted")
	ErrChapterNotFound = errors.New("chapter not found in project")
)

// phaseError annotates a failure with where in the pipeline it happened.
type phaseError struct {
	Phase        string
	ProjectID    string
	ChapterIndex int
	Err          error
}

func (e *phaseError) Error() string {
	return fmt.Sprintf("phase %s (project %s, chapter %d): %v",
		e.Phase, e.ProjectID, e.ChapterIndex, e.Err)
}

func (e *phaseError) Unwrap() error { return e.Err }

func wrapPhase(phase, projectID string, chapterIndex int, err error) error {
	if err == nil {
		return nil
	}
	return &phaseError{Phase: phase, ProjectID: projectID, ChapterIndex: chapterIndex, Err: err}
}
