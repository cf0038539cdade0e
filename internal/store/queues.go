package store

import (
	"context"
	"sync"

	"dapaggregator/internal/dap"
	"dapaggregator/pkg/logging"
)

// CollectionJobState is the lifecycle of one Leader collection job
// (spec.md §4.7).
type CollectionJobState int

const (
	CollectionPending CollectionJobState = iota
	CollectionDone
)

// CollectionJob is one entry in the Leader Collection Job Queue.
type CollectionJob struct {
	ID       dap.CollectionJobId
	TaskID   dap.TaskId
	Selector dap.BatchSelector
	AggParam []byte
	State    CollectionJobState
	Result   *dap.HpkeCiphertext // set once State == CollectionDone
}

// LeaderCollectionJobQueue is the durable actor backing put_collection /
// poll_collection (spec.md §4.7, leader_col_job_queue/{queue_num}).
type LeaderCollectionJobQueue interface {
	// Enqueue assigns a new CollectionJobId and stores job as Pending.
	Enqueue(ctx context.Context, job CollectionJob) (dap.CollectionJobId, error)

	// Get looks up a job by id.
	Get(ctx context.Context, taskID dap.TaskId, id dap.CollectionJobId) (CollectionJob, bool, error)

	// Pending lists every job still awaiting the background finisher.
	Pending(ctx context.Context) ([]CollectionJob, error)

	// Finish records the result and transitions a job to Done.
	Finish(ctx context.Context, taskID dap.TaskId, id dap.CollectionJobId, result dap.HpkeCiphertext) error
}

// BatchCount tracks how many reports a fixed-size batch has accumulated
// (spec.md §4.5, "Fixed-size query specifics").
type BatchCount struct {
	BatchID     dap.BatchId
	ReportCount uint64
}

// LeaderBatchQueue assigns reports to fixed-size batches and tracks which
// batches have reached max_batch_size (spec.md §4.5,
// leader_batch_queue/{task_name}). Time-interval tasks don't use it.
type LeaderBatchQueue interface {
	// Assign adds one report to whichever batch is currently accepting
	// reports for the task, opening a new batch if none is open or the
	// open one is full, and returns which batch it landed in.
	Assign(ctx context.Context, taskID dap.TaskId, minBatchSize, maxBatchSize uint64) (dap.BatchId, error)

	// CurrentBatch returns a batch eligible to be served as current_batch:
	// one whose count has reached maxBatchSize. ok is false if none is.
	CurrentBatch(ctx context.Context, taskID dap.TaskId, maxBatchSize uint64) (dap.BatchId, bool, error)

	// Remove deletes a batch's queue entry once its collection finalizes.
	Remove(ctx context.Context, taskID dap.TaskId, batchID dap.BatchId) error
}

// MemLeaderCollectionJobQueue is an in-process LeaderCollectionJobQueue.
type MemLeaderCollectionJobQueue struct {
	mu      sync.Mutex
	jobs    map[dap.CollectionJobId]CollectionJob
	nextSeq uint64
}

// NewMemLeaderCollectionJobQueue builds an empty queue.
func NewMemLeaderCollectionJobQueue() *MemLeaderCollectionJobQueue {
	return &MemLeaderCollectionJobQueue{jobs: make(map[dap.CollectionJobId]CollectionJob)}
}

func (q *MemLeaderCollectionJobQueue) Enqueue(_ context.Context, job CollectionJob) (dap.CollectionJobId, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.ID == (dap.CollectionJobId{}) {
		q.nextSeq++
		job.ID = sequentialCollectionJobID(q.nextSeq)
	}
	job.State = CollectionPending
	q.jobs[job.ID] = job
	logging.Info("LeaderCollectionJobQueue", "enqueued collection job %s for task %s", job.ID, job.TaskID)
	return job.ID, nil
}

func (q *MemLeaderCollectionJobQueue) Get(_ context.Context, _ dap.TaskId, id dap.CollectionJobId) (CollectionJob, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	return j, ok, nil
}

func (q *MemLeaderCollectionJobQueue) Pending(_ context.Context) ([]CollectionJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []CollectionJob
	for _, j := range q.jobs {
		if j.State == CollectionPending {
			out = append(out, j)
		}
	}
	return out, nil
}

func (q *MemLeaderCollectionJobQueue) Finish(_ context.Context, _ dap.TaskId, id dap.CollectionJobId, result dap.HpkeCiphertext) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return dap.NewFatal("finish of unknown collection job " + id.Hex())
	}
	j.State = CollectionDone
	j.Result = &result
	q.jobs[id] = j
	logging.Info("LeaderCollectionJobQueue", "finished collection job %s", id)
	return nil
}

func sequentialCollectionJobID(seq uint64) dap.CollectionJobId {
	var id dap.CollectionJobId
	for i := 0; i < 8; i++ {
		id[len(id)-1-i] = byte(seq >> (8 * i))
	}
	return id
}

type taskBatches struct {
	counts []BatchCount
}

// MemLeaderBatchQueue is an in-process LeaderBatchQueue.
type MemLeaderBatchQueue struct {
	mu    sync.Mutex
	tasks map[dap.TaskId]*taskBatches
	seq   uint64
}

// NewMemLeaderBatchQueue builds an empty in-memory batch queue.
func NewMemLeaderBatchQueue() *MemLeaderBatchQueue {
	return &MemLeaderBatchQueue{tasks: make(map[dap.TaskId]*taskBatches)}
}

func (q *MemLeaderBatchQueue) Assign(_ context.Context, taskID dap.TaskId, _, maxBatchSize uint64) (dap.BatchId, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tb, ok := q.tasks[taskID]
	if !ok {
		tb = &taskBatches{}
		q.tasks[taskID] = tb
	}

	if n := len(tb.counts); n > 0 && tb.counts[n-1].ReportCount < maxBatchSize {
		tb.counts[n-1].ReportCount++
		return tb.counts[n-1].BatchID, nil
	}

	q.seq++
	id := sequentialBatchID(taskID, q.seq)
	tb.counts = append(tb.counts, BatchCount{BatchID: id, ReportCount: 1})
	return id, nil
}

func (q *MemLeaderBatchQueue) CurrentBatch(_ context.Context, taskID dap.TaskId, maxBatchSize uint64) (dap.BatchId, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tb, ok := q.tasks[taskID]
	if !ok {
		return dap.BatchId{}, false, nil
	}
	for _, c := range tb.counts {
		if c.ReportCount == maxBatchSize {
			return c.BatchID, true, nil
		}
	}
	return dap.BatchId{}, false, nil
}

func (q *MemLeaderBatchQueue) Remove(_ context.Context, taskID dap.TaskId, batchID dap.BatchId) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tb, ok := q.tasks[taskID]
	if !ok {
		return nil
	}
	for i, c := range tb.counts {
		if c.BatchID == batchID {
			tb.counts = append(tb.counts[:i], tb.counts[i+1:]...)
			break
		}
	}
	return nil
}

func sequentialBatchID(taskID dap.TaskId, seq uint64) dap.BatchId {
	var id dap.BatchId
	copy(id[:8], taskID[:8])
	for i := 0; i < 8; i++ {
		id[len(id)-1-i] = byte(seq >> (8 * i))
	}
	return id
}
