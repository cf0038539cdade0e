// Package config loads the aggregator's GlobalConfig and TaskprovConfig
// (spec.md §6) from a YAML file on disk. Its Watcher reloads that file on
// change and hands each new FileConfig to a callback; the aggregator
// process does not start a Watcher, so configuration changes take effect
// only on restart.
package config

import (
	"dapaggregator/internal/auth"
	"dapaggregator/internal/dap"
	"dapaggregator/internal/task"
)

// FileConfig is the on-disk YAML shape. Secret fields can be given inline
// or as a path to a file holding the secret (the *_file variants), keeping
// credentials out of the checked-in config file itself.
type FileConfig struct {
	Server   ServerSection   `yaml:"server"`
	Global   GlobalSection   `yaml:"global"`
	Taskprov TaskprovSection `yaml:"taskprov"`
}

// ServerSection configures the one running process: which DAP role(s) it
// plays and where it listens and persists task configs. Out of scope for
// the core itself (spec.md §1); this is the "enclosing service" layer.
type ServerSection struct {
	Role          string `yaml:"role"` // "leader", "helper", or "both"
	ListenAddr    string `yaml:"listen_addr"`
	TaskStoreDir  string `yaml:"task_store_dir"`
	CollectPollSeconds int `yaml:"collect_poll_seconds"`
}

// GlobalSection maps onto task.GlobalConfig plus the process-wide settings
// spec.md §6 lists that the registry itself doesn't need (supported_hpke_kems,
// report_storage_epoch_duration).
type GlobalSection struct {
	AllowTaskprov             bool     `yaml:"allow_taskprov"`
	TaskprovVersion           string   `yaml:"taskprov_version"`
	SupportedHpkeKems         []string `yaml:"supported_hpke_kems"`
	ReportStorageEpochSeconds uint64   `yaml:"report_storage_epoch_duration"`
}

// TaskprovSection maps onto task.TaskprovConfig. VdafVerifyKeyInit and
// LeaderToken may be given inline or via their *_file counterpart; when
// neither form of vdaf_verify_key_init is set, taskprov is unconfigured.
type TaskprovSection struct {
	VdafVerifyKeyInit     string `yaml:"vdaf_verify_key_init"`
	VdafVerifyKeyInitFile string `yaml:"vdaf_verify_key_init_file"`
	CollectorHpke         string `yaml:"hpke_collector_config"`
	LeaderToken           string `yaml:"leader_auth_token"`
	LeaderTokenFile       string `yaml:"leader_auth_token_file"`
}

// GlobalConfig converts the loaded file into the task.GlobalConfig the
// registry consumes.
func (f FileConfig) GlobalConfig() task.GlobalConfig {
	return task.GlobalConfig{
		AllowTaskprov:   f.Global.AllowTaskprov,
		TaskprovVersion: dap.ParseVersion(f.Global.TaskprovVersion),
	}
}

// TaskprovConfig converts the loaded file into the task.TaskprovConfig the
// registry consumes. ok is false if taskprov is unconfigured.
func (f FileConfig) TaskprovConfig() (cfg task.TaskprovConfig, ok bool) {
	if f.Taskprov.VdafVerifyKeyInit == "" {
		return task.TaskprovConfig{}, false
	}
	var leaderToken auth.BearerToken
	if f.Taskprov.LeaderToken != "" {
		leaderToken = auth.NewBearerToken(f.Taskprov.LeaderToken)
	}
	return task.TaskprovConfig{
		VdafVerifyKeyInit: []byte(f.Taskprov.VdafVerifyKeyInit),
		CollectorHpke:     []byte(f.Taskprov.CollectorHpke),
		LeaderToken:       leaderToken,
	}, true
}
