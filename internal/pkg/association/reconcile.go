package association

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/pythonitalia/pycon-association/app/models"
	"gorm.io/gorm"
)

const defaultReconcileWorkers = 4

// RunResult summarizes one reconciliation pass. A zero/zero result means the
// pass ran and found nothing to change.
type RunResult struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Evaluated  int       `json:"evaluated"`
	Activated  int       `json:"activated"`
	Canceled   int       `json:"canceled"`
	Unchanged  int       `json:"unchanged"`
	Failed     int       `json:"failed"`
}

// Changes is the number of status writes made by the run.
func (r RunResult) Changes() int {
	return r.Activated + r.Canceled
}

func (r RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunRecorder persists run summaries for operators.
type RunRecorder interface {
	RecordReconcileRun(ctx context.Context, result RunResult) error
}

// ReconciliationJob re-derives the status of every ACTIVE or CANCELED
// membership from its payments and the current time.
type ReconciliationJob struct {
	registry  *Registry
	activator *Activator
	workers   int
	recorder  RunRecorder
}

// NewReconciliationJob creates the job. workers <= 0 uses the default pool size.
func NewReconciliationJob(db *gorm.DB, activator *Activator, workers int) *ReconciliationJob {
	if workers <= 0 {
		workers = defaultReconcileWorkers
	}
	return &ReconciliationJob{
		registry:  NewRegistry(db),
		activator: activator,
		workers:   workers,
	}
}

// WithRecorder sets where run summaries are written.
func (j *ReconciliationJob) WithRecorder(r RunRecorder) *ReconciliationJob {
	j.recorder = r
	return j
}

// Run performs one pass. Memberships are evaluated in parallel; a failure on
// one membership is counted and logged without stopping the pass. The error
// is non-nil only when the pass could not start or ctx was canceled.
func (j *ReconciliationJob) Run(ctx context.Context) (RunResult, error) {
	result := RunResult{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	ids, err := j.registry.ListIDs(ctx, models.MembershipStatusActive, models.MembershipStatusCanceled)
	if err != nil {
		return result, err
	}
	log.Infof("[Reconcile] Run %s evaluating %d memberships with %d workers", result.RunID, len(ids), j.workers)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, j.workers)
	)

dispatch:
	for _, id := range ids {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			defer func() { <-sem }()

			change, err := j.activator.Evaluate(ctx, id, TriggerReconciliation)

			mu.Lock()
			defer mu.Unlock()
			result.Evaluated++
			switch {
			case err != nil:
				result.Failed++
				log.Errorf("[Reconcile] Membership %d: %v", id, err)
			case change.Activated():
				result.Activated++
			case change.Canceled():
				result.Canceled++
			default:
				result.Unchanged++
			}
		}(id)
	}
	wg.Wait()
	result.FinishedAt = time.Now().UTC()

	log.Infow("[Reconcile] Run finished",
		"run_id", result.RunID,
		"evaluated", result.Evaluated,
		"activated", result.Activated,
		"canceled", result.Canceled,
		"unchanged", result.Unchanged,
		"failed", result.Failed,
		"duration", result.Duration().String(),
	)

	if j.recorder != nil {
		if err := j.recorder.RecordReconcileRun(ctx, result); err != nil {
			log.Warnf("[Reconcile] Could not record run %s: %v", result.RunID, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}
