package maintenance

import (
	"context"

	"github.com/henribesnard/novellaforge/internal/queue"
	"github.com/henribesnard/novellaforge/internal/store"
)

// RegisterJobs wires the runner's periodic jobs onto the scheduler. Each
// job sweeps every project; per-project failures are logged and the sweep
// continues.
func (r *Runner) RegisterJobs(sched *queue.Scheduler) {
	sched.Register(queue.PeriodicJob{
		Name:     "memory_reconcile",
		Interval: r.cfg.ReconcileEvery,
		Lane:     queue.LaneMaintenanceLow,
		Run: r.sweep("memory_reconcile", func(ctx context.Context, ref store.ProjectRef) error {
			return r.ReconcileMemory(ctx, ref.ID, ref.OwnerID)
		}),
	})
	sched.Register(queue.PeriodicJob{
		Name:     "fact_promotion",
		Interval: r.cfg.FactPromotionEvery,
		Lane:     queue.LaneMaintenanceLow,
		Run: r.sweep("fact_promotion", func(ctx context.Context, ref store.ProjectRef) error {
			_, err := r.PromoteFacts(ctx, ref.ID, ref.OwnerID)
			return err
		}),
	})
	sched.Register(queue.PeriodicJob{
		Name:     "rag_rebuild",
		Interval: r.cfg.RAGRebuildEvery,
		Lane:     queue.LaneMaintenanceLow,
		Run: r.sweep("rag_rebuild", func(ctx context.Context, ref store.ProjectRef) error {
			_, err := r.RebuildRAG(ctx, ref.ID)
			return err
		}),
	})
	sched.Register(queue.PeriodicJob{
		Name:     "draft_cleanup",
		Interval: r.cfg.DraftCleanupEvery,
		Lane:     queue.LaneMaintenanceLow,
		Run: r.sweep("draft_cleanup", func(ctx context.Context, ref store.ProjectRef) error {
			_, err := r.CleanupDrafts(ctx, ref.ID)
			return err
		}),
	})
}

func (r *Runner) sweep(name string, job func(context.Context, store.ProjectRef) error) queue.TaskFunc {
	return func(ctx context.Context) (any, error) {
		refs, err := r.store.ListProjectRefs(ctx)
		if err != nil {
			return nil, err
		}
		failed := 0
		for _, ref := range refs {
			if err := job(ctx, ref); err != nil {
				failed++
				r.logger.Warn("maintenance job failed for project",
					"job", name, "project_id", ref.ID, "error", err)
			}
		}
		return map[string]int{"projects": len(refs), "failed": failed}, nil
	}
}
