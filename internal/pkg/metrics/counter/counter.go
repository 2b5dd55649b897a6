package counter

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/pythonitalia/pycon-association/internal/pkg/association"
)

const (
	lastRunKey = "association:reconcile:last_run"
	totalsKey  = "association:reconcile:totals"
)

// Recorder keeps reconciliation run summaries in Redis: the last run as JSON
// and cumulative counters in a hash.
type Recorder struct {
	rdb *redis.Client
}

func NewRecorder(rdb *redis.Client) *Recorder {
	return &Recorder{rdb: rdb}
}

// RecordReconcileRun implements association.RunRecorder.
func (r *Recorder) RecordReconcileRun(ctx context.Context, result association.RunResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, lastRunKey, raw, 0)
		p.HIncrBy(ctx, totalsKey, "runs", 1)
		p.HIncrBy(ctx, totalsKey, "evaluated", int64(result.Evaluated))
		p.HIncrBy(ctx, totalsKey, "activated", int64(result.Activated))
		p.HIncrBy(ctx, totalsKey, "canceled", int64(result.Canceled))
		p.HIncrBy(ctx, totalsKey, "failed", int64(result.Failed))
		return nil
	})
	return err
}

// LastReconcileRun returns the most recent run, or nil when none was recorded.
func (r *Recorder) LastReconcileRun(ctx context.Context) (*association.RunResult, error) {
	raw, err := r.rdb.Get(ctx, lastRunKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out association.RunResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Totals returns the cumulative counters across all recorded runs.
func (r *Recorder) Totals(ctx context.Context) (map[string]int64, error) {
	data, err := r.rdb.HGetAll(ctx, totalsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}
