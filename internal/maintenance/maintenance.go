// Package maintenance holds the periodic background jobs: memory
// reconciliation, RAG rebuilds, draft cleanup and fact promotion. Jobs
// are dispatched to the maintenance_low queue lane and never preempt
// generation work.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/henribesnard/novellaforge/internal/config"
	"github.com/henribesnard/novellaforge/internal/memory"
	"github.com/henribesnard/novellaforge/internal/rag"
	"github.com/henribesnard/novellaforge/internal/store"
	"github.com/henribesnard/novellaforge/internal/types"
)

// Runner executes the maintenance jobs for one or more projects.
type Runner struct {
	store  *store.Store
	memSvc *memory.Service
	ragSvc *rag.Service
	cfg    config.MaintenanceConfig
	logger *slog.Logger
}

// NewRunner creates the maintenance runner.
func NewRunner(st *store.Store, memSvc *memory.Service, ragSvc *rag.Service, cfg config.MaintenanceConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: st, memSvc: memSvc, ragSvc: ragSvc, cfg: cfg, logger: logger.With("component", "maintenance")}
}

// ReconcileMemory re-extracts facts from every approved chapter and
// replaces the stored continuity only when the drift exceeds the
// configured threshold. Small diffs are left alone; extraction noise
// should not churn canon.
func (r *Runner) ReconcileMemory(ctx context.Context, projectID, ownerID string) error {
	project, err := r.store.GetProject(ctx, projectID, ownerID)
	if err != nil {
		return err
	}
	docs, err := r.store.ListApprovedChapters(ctx, projectID)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	rebuilt := &types.ContinuityFacts{}
	for _, doc := range docs {
		facts, err := r.memSvc.ExtractFacts(ctx, doc.Content, doc.ChapterIndex)
		if err != nil {
			return fmt.Errorf("reconciliation extract for chapter %d: %w", doc.ChapterIndex, err)
		}
		memory.Merge(rebuilt, facts, doc.ChapterIndex)
	}

	diff := continuityDiff(project.ContinuityOrEmpty(), rebuilt)
	if diff <= r.cfg.ReconcileDiffThreshold {
		r.logger.Debug("reconciliation diff under threshold, keeping stored continuity",
			"project_id", projectID, "diff", diff)
		return nil
	}

	r.logger.Info("reconciliation replacing continuity",
		"project_id", projectID, "diff", diff)
	_, err = r.store.UpdateMetadataRetry(ctx, projectID, ownerID, func(p *types.Project) error {
		p.Continuity = rebuilt
		return nil
	})
	if err != nil {
		return err
	}
	r.memSvc.InvalidateContext(ctx, projectID)
	return nil
}

// RebuildRAG wipes and re-indexes every document of the project.
func (r *Runner) RebuildRAG(ctx context.Context, projectID string) (int, error) {
	docs, err := r.store.ListByProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return r.ragSvc.IndexDocuments(ctx, projectID, docs, true)
}

// CleanupDrafts deletes draft documents older than the configured age.
func (r *Runner) CleanupDrafts(ctx context.Context, projectID string) (int, error) {
	n, err := r.store.DeleteDraftsOlderThan(ctx, projectID, r.cfg.DraftMaxAgeDays)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("deleted stale drafts", "project_id", projectID, "count", n)
	}
	return n, nil
}

// continuityDiff counts added and removed characters plus status changes
// between the stored and rebuilt fact sets.
func continuityDiff(stored, rebuilt *types.ContinuityFacts) int {
	diff := 0

	storedNames := characterSet(stored)
	rebuiltNames := characterSet(rebuilt)
	for name := range rebuiltNames {
		if !storedNames[name] {
			diff++
		}
	}
	for name := range storedNames {
		if !rebuiltNames[name] {
			diff++
		}
	}

	for i := range rebuilt.Characters {
		rc := &rebuilt.Characters[i]
		if sc := stored.Character(rc.Name); sc != nil && !strings.EqualFold(sc.Status, rc.Status) {
			diff++
		}
	}
	return diff
}

func characterSet(facts *types.ContinuityFacts) map[string]bool {
	set := make(map[string]bool, len(facts.Characters))
	for i := range facts.Characters {
		set[strings.ToLower(strings.TrimSpace(facts.Characters[i].Name))] = true
	}
	return set
}
