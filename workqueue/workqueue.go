// Package workqueue is a priority job queue over kv.Store's sorted sets,
// replacing the teacher's SQL-table-backed scheduler (queue/scheduler)
// with one that fits the gateway's Redis-only storage: a single
// fixed-size worker pool drains process_message, send_email_otp delivery,
// and other background work the webhook ingress path can't afford to do
// inline. Every worker polls all priority lanes in order, high first; no
// lane has workers of its own.
package workqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/convobridge/gateway/gatewayerr"
	"github.com/convobridge/gateway/kv"
	"github.com/convobridge/gateway/metrics"
)

// Priority selects which of the three lanes a job is enqueued on. Workers
// always drain High before Default before Low, so a flooded Low lane
// never starves higher-priority work.
type Priority string

const (
	High    Priority = "high"
	Default Priority = "default"
	Low     Priority = "low"
)

var priorityOrder = []Priority{High, Default, Low}

// Job is one unit of queued work.
type Job struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// Handler processes one job type. Returning an error causes the job to
// be retried (re-enqueued with Attempts incremented) up to the queue's
// configured max retries, then dropped.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

func queueKey(p Priority) string { return "workqueue:" + string(p) }

// popScript atomically takes the lowest-score (oldest) member off the
// first non-empty priority lane, in priority order. Returning "" rather
// than Lua nil/false on an empty queue avoids go-redis's go-redis.Nil
// ambiguity between "no value" and "this queue is drained".
const popScript = `
for i, key in ipairs(KEYS) do
	local items = redis.call('ZRANGE', key, 0, 0)
	if #items > 0 then
		redis.call('ZREM', key, items[1])
		return items[1]
	end
end
return ''
`

// Queue is the shared handle producers and workers enqueue/dequeue
// through.
type Queue struct {
	store kv.Store
}

// New builds a Queue over store.
func New(store kv.Store) *Queue {
	return &Queue{store: store}
}

// Enqueue schedules a new job of jobType on priority p with payload
// marshaled to JSON.
func (q *Queue) Enqueue(ctx context.Context, p Priority, jobType string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeSystemError, err)
	}
	job := Job{ID: jobID(), Type: jobType, Payload: encoded}
	return q.push(ctx, p, job)
}

// EnqueueWithID behaves like Enqueue but lets the caller supply the job
// ID up front, so it can be reported back to a waiting HTTP caller (the
// webhook ingress response's task_id) before the job has even reached a
// worker.
func (q *Queue) EnqueueWithID(ctx context.Context, id string, p Priority, jobType string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeSystemError, err)
	}
	job := Job{ID: id, Type: jobType, Payload: encoded}
	return q.push(ctx, p, job)
}

// NewJobID generates an opaque job identifier using the same scheme
// Enqueue uses internally, for producers that need the ID before or
// instead of calling Enqueue directly.
func NewJobID() string { return jobID() }

func (q *Queue) push(ctx context.Context, p Priority, job Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeSystemError, err)
	}
	score := float64(time.Now().UnixNano())
	if err := q.store.ZAdd(ctx, queueKey(p), score, string(encoded)); err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}
	return nil
}

// ErrEmpty is returned by Dequeue when every lane is drained.
var ErrEmpty = gatewayerr.New(gatewayerr.CodeDataNotFound)

// Dequeue pops the next job across all priority lanes, high first.
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	keys := make([]string, len(priorityOrder))
	for i, p := range priorityOrder {
		keys[i] = queueKey(p)
	}

	result, err := q.store.Eval(ctx, popScript, keys)
	if err != nil {
		return Job{}, gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}
	raw, ok := result.(string)
	if !ok || raw == "" {
		return Job{}, ErrEmpty
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, gatewayerr.Wrap(gatewayerr.CodeSystemError, err)
	}
	return job, nil
}

// Depths reports the pending job count per lane, used by /health and
// introspection endpoints, refreshing the gateway_workqueue_depth gauge
// per lane along the way.
func (q *Queue) Depths(ctx context.Context) (map[Priority]int64, error) {
	depths := make(map[Priority]int64, len(priorityOrder))
	for _, p := range priorityOrder {
		n, err := q.store.ZCard(ctx, queueKey(p))
		if err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.CodeKVError, err)
		}
		depths[p] = n
		metrics.QueueDepth.WithLabelValues(string(p)).Set(float64(n))
	}
	return depths, nil
}

var jobSeq atomic.Uint64

// jobID generates an opaque, sortable-enough job identifier. Collisions
// are harmless: IDs are for logging and tracing, not uniqueness
// constraints (the sorted set already deduplicates on full job content).
func jobID() string {
	return fmt.Sprintf("job-%d-%d", time.Now().UnixNano(), jobSeq.Add(1))
}
