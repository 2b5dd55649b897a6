package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/pythonitalia/pycon-association/internal/pkg/association"
)

const (
	DefaultReconcileInterval = time.Hour
	reconcileLockKey         = "association:reconcile:lock"
)

// Runner is one reconciliation pass.
type Runner interface {
	Run(ctx context.Context) (association.RunResult, error)
}

// Manager runs the reconciliation job in the background on a fixed interval.
type Manager struct {
	runner   Runner
	lock     *Lock
	interval time.Duration

	ticker  *time.Ticker
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	runMu   sync.Mutex
}

// NewManager creates a manager. With a nil Redis client runs are not
// coordinated across replicas.
func NewManager(runner Runner, rdb *redis.Client, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	m := &Manager{
		runner:   runner,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	if rdb != nil {
		// The lock outlives a pass that overruns the interval by at most one interval.
		m.lock = NewLock(rdb, reconcileLockKey, 2*interval)
	}
	return m
}

// Start starts the background reconciliation worker
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	log.Infof("[JobQueue Manager] Starting reconciliation worker (interval: %s)", m.interval)

	m.ticker = time.NewTicker(m.interval)
	m.wg.Add(1)
	go m.reconcileWorker(ctx, m.ticker, m.stopCh)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the worker and waits for a pass in progress to end.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping reconciliation worker...")

	if m.ticker != nil {
		m.ticker.Stop()
	}
	close(m.stopCh)
	m.cancel()
	m.running = false

	m.wg.Wait()

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) reconcileWorker(ctx context.Context, ticker *time.Ticker, stopCh chan struct{}) {
	defer m.wg.Done()

	// First pass right away so a restart does not delay convergence.
	m.runLogged(ctx)
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Reconciliation worker stopping")
			return
		case <-ticker.C:
			m.runLogged(ctx)
		}
	}
}

func (m *Manager) runLogged(ctx context.Context) {
	if _, ran, err := m.RunOnce(ctx); err != nil {
		log.Errorf("[JobQueue Manager] Reconciliation error: %v", err)
	} else if !ran {
		log.Debug("[JobQueue Manager] Reconciliation already running elsewhere, skipping")
	}
}

// RunOnce runs a single pass unless another pass holds the lock. The bool
// reports whether a pass ran.
func (m *Manager) RunOnce(ctx context.Context) (association.RunResult, bool, error) {
	if !m.runMu.TryLock() {
		return association.RunResult{}, false, nil
	}
	defer m.runMu.Unlock()

	if m.lock != nil {
		ok, release, err := m.lock.TryAcquire(ctx)
		if err != nil {
			return association.RunResult{}, false, err
		}
		if !ok {
			return association.RunResult{}, false, nil
		}
		defer release()
	}

	res, err := m.runner.Run(ctx)
	return res, true, err
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
