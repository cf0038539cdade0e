// Package logging is a subsystem-tagged wrapper around log/slog used by
// every package in this repository, e.g.:
//
//	logging.Init(logging.LevelInfo, os.Stdout)
//	logging.Info("TaskRegistry", "materialized taskprov task %s", logging.TruncateID(taskID))
//	logging.Error("Auth", err, "bearer token check failed for task %s", taskID)
package logging
