package association

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pythonitalia/pycon-association/app/models"
)

type recordedRuns struct {
	mu   sync.Mutex
	runs []RunResult
}

func (r *recordedRuns) RecordReconcileRun(_ context.Context, result RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, result)
	return nil
}

func TestReconcile_ExpiredActiveIsCanceled(t *testing.T) {
	s := newServices(t, testNow)
	m := seedMembership(t, s, "expired@example.org", models.MembershipStatusActive,
		[2]time.Time{testNow.AddDate(-1, -1, 0), testNow.AddDate(0, -1, 0)})

	res, err := NewReconciliationJob(s.db, s.activator, 2).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Evaluated)
	assert.Equal(t, 1, res.Canceled)
	stored, err := s.registry.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipStatusCanceled, stored.Status)
}

func TestReconcile_CoveredCanceledIsActivated(t *testing.T) {
	s := newServices(t, testNow)
	m := seedMembership(t, s, "back@example.org", models.MembershipStatusCanceled,
		[2]time.Time{testNow.AddDate(0, -1, 0), testNow.AddDate(0, 11, 0)})

	res, err := NewReconciliationJob(s.db, s.activator, 2).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Activated)
	stored, err := s.registry.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipStatusActive, stored.Status)
}

func TestReconcile_PendingIsNeverTouched(t *testing.T) {
	s := newServices(t, testNow)
	covered := seedMembership(t, s, "p1@example.org", models.MembershipStatusPending,
		[2]time.Time{testNow.AddDate(0, -1, 0), testNow.AddDate(0, 11, 0)})
	bare := seedMembership(t, s, "p2@example.org", models.MembershipStatusPending)

	job := NewReconciliationJob(s.db, s.activator, 4)
	for i := 0; i < 3; i++ {
		res, err := job.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, res.Evaluated)
	}

	for _, id := range []uint{covered.ID, bare.ID} {
		stored, err := s.registry.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.MembershipStatusPending, stored.Status)
	}
}

func TestReconcile_Converges(t *testing.T) {
	s := newServices(t, testNow)
	seedMembership(t, s, "a@example.org", models.MembershipStatusActive,
		[2]time.Time{testNow.AddDate(-2, 0, 0), testNow.AddDate(-1, 0, 0)})
	seedMembership(t, s, "b@example.org", models.MembershipStatusActive,
		[2]time.Time{testNow.AddDate(0, -6, 0), testNow.AddDate(0, 6, 0)})
	seedMembership(t, s, "c@example.org", models.MembershipStatusCanceled,
		[2]time.Time{testNow.AddDate(0, 0, -1), testNow.AddDate(1, 0, 0)})
	seedMembership(t, s, "d@example.org", models.MembershipStatusCanceled)

	recorder := &recordedRuns{}
	job := NewReconciliationJob(s.db, s.activator, 3).WithRecorder(recorder)

	first, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, first.Evaluated)
	assert.Equal(t, 1, first.Activated)
	assert.Equal(t, 1, first.Canceled)
	assert.Equal(t, 2, first.Unchanged)
	assert.Zero(t, first.Failed)

	second, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, second.Evaluated)
	assert.Zero(t, second.Changes())

	require.Len(t, recorder.runs, 2)
	assert.NotEqual(t, recorder.runs[0].RunID, recorder.runs[1].RunID)
	assert.Zero(t, recorder.runs[1].Changes())
}

func TestReconcile_EmptyRunIsRecorded(t *testing.T) {
	s := newServices(t, testNow)
	recorder := &recordedRuns{}

	res, err := NewReconciliationJob(s.db, s.activator, 0).WithRecorder(recorder).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.Evaluated)
	assert.NotEmpty(t, res.RunID)
	require.Len(t, recorder.runs, 1)
	assert.False(t, recorder.runs[0].FinishedAt.Before(recorder.runs[0].StartedAt))
}

func TestReconcile_CanceledContext(t *testing.T) {
	s := newServices(t, testNow)
	seedMembership(t, s, "a@example.org", models.MembershipStatusActive)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReconciliationJob(s.db, s.activator, 1).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
