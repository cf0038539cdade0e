// Package store defines the durable-actor interfaces the aggregator core is
// built against — Report Store, Aggregate Store, Helper State Store, and the
// Leader's job/batch queues — plus in-memory reference implementations.
// Each actor is named by a stable schema (spec.md §6) so a production
// deployment can back them with whatever strictly-serialized per-key
// storage substrate it has (the core never depends on which).
package store

import (
	"fmt"

	"dapaggregator/internal/dap"
)

// AggStoreName renders the durable-actor name for one bucket's Aggregate
// Store record: agg_store/{version}/{task_id_hex}/{bucket_encoding}.
func AggStoreName(version dap.Version, taskID dap.TaskId, bucketKey string) string {
	return fmt.Sprintf("agg_store/%s/%s/%s", version, taskID.Hex(), bucketKey)
}

// ReportsPendingName renders the name of the pending-report shard covering
// a given time bucket: reports_pending/{version}/{task_id_hex}/{time_bucket}.
func ReportsPendingName(version dap.Version, taskID dap.TaskId, timeBucket uint64) string {
	return fmt.Sprintf("reports_pending/%s/%s/%d", version, taskID.Hex(), timeBucket)
}

// ReportsProcessedName renders the name of the processed-report-id shard
// covering a given time bucket: reports_processed/{version}/{task_id_hex}/{time_bucket}.
func ReportsProcessedName(version dap.Version, taskID dap.TaskId, timeBucket uint64) string {
	return fmt.Sprintf("reports_processed/%s/%s/%d", version, taskID.Hex(), timeBucket)
}

// HelperStateName renders the name of the continuation-state record for one
// aggregation job on the Helper side: helper_state/{version}/{task_id_hex}/{agg_job_id_hex}.
func HelperStateName(version dap.Version, taskID dap.TaskId, aggJobID dap.AggregationJobId) string {
	return fmt.Sprintf("helper_state/%s/%s/%s", version, taskID.Hex(), aggJobID.Hex())
}

// LeaderCollectionJobQueueName renders the name of a shard of the Leader's
// collection-job queue: leader_col_job_queue/{queue_num}.
func LeaderCollectionJobQueueName(queueNum uint32) string {
	return fmt.Sprintf("leader_col_job_queue/%d", queueNum)
}

// LeaderAggJobQueueName renders the name of a shard of the Leader's
// aggregation-job queue: leader_agg_job_queue/{queue_num}.
func LeaderAggJobQueueName(queueNum uint32) string {
	return fmt.Sprintf("leader_agg_job_queue/%d", queueNum)
}

// LeaderBatchQueueName renders the name of the Leader's fixed-size
// batch-assignment queue for one task: leader_batch_queue/{task_name}.
func LeaderBatchQueueName(taskID dap.TaskId) string {
	return fmt.Sprintf("leader_batch_queue/%s", taskID.Hex())
}
