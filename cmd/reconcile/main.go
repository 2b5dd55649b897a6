package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2/log"

	"github.com/pythonitalia/pycon-association/internal/pkg/association"
	"github.com/pythonitalia/pycon-association/internal/pkg/cache"
	"github.com/pythonitalia/pycon-association/internal/pkg/database"
	"github.com/pythonitalia/pycon-association/internal/pkg/env"
	"github.com/pythonitalia/pycon-association/internal/pkg/jobqueue"
	"github.com/pythonitalia/pycon-association/internal/pkg/metrics/counter"
)

// reconcile runs one reconciliation pass and exits. It takes the same Redis
// lock as the server's scheduler, so it is safe to run from cron alongside it.
func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := database.GetDB()
	job := association.NewReconciliationJob(db, association.NewActivator(db, nil), env.GetEnvInt("RECONCILE_WORKERS", 4))

	manager := jobqueue.NewManager(job, nil, 0)
	if err := cache.Ping(ctx); err == nil {
		rdb := cache.GetClient()
		job.WithRecorder(counter.NewRecorder(rdb))
		manager = jobqueue.NewManager(job, rdb, env.GetEnvDuration("RECONCILE_INTERVAL", jobqueue.DefaultReconcileInterval))
	} else {
		log.Warnf("[Reconcile] Redis unavailable, running without lock: %v", err)
	}

	runOnce(ctx, manager)
}

type onceRunner interface {
	RunOnce(ctx context.Context) (association.RunResult, bool, error)
}

// runOnce runs one pass and logs its counts. Failed memberships are reported
// in the log only; the next pass retries them.
func runOnce(ctx context.Context, r onceRunner) association.RunResult {
	res, ran, err := r.RunOnce(ctx)
	if err != nil {
		log.Errorf("[Reconcile] Run %s failed: %v", res.RunID, err)
		return res
	}
	if !ran {
		log.Info("[Reconcile] Another run holds the lock, nothing to do")
		return res
	}
	log.Infof("[Reconcile] Run %s done: evaluated=%d activated=%d canceled=%d unchanged=%d failed=%d",
		res.RunID, res.Evaluated, res.Activated, res.Canceled, res.Unchanged, res.Failed)
	return res
}
