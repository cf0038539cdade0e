package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"dapaggregator/pkg/logging"
)

// Load reads and parses the config file at path. A missing file is not an
// error: it returns the zero FileConfig (taskprov disabled, no extra
// global settings), matching an aggregator that hasn't been configured for
// taskprov at all.
func Load(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "no config file at %s, using defaults", path)
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := resolveSecretFiles(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("resolving secret files for %s: %w", path, err)
	}

	logging.Info("ConfigLoader", "loaded configuration from %s", path)
	return cfg, nil
}

// resolveSecretFiles reads any *_file-suffixed secret fields that have no
// inline value set, the recommended way to keep taskprov's shared secrets
// out of the config file itself.
func resolveSecretFiles(cfg *FileConfig) error {
	t := &cfg.Taskprov

	if t.VdafVerifyKeyInitFile != "" && t.VdafVerifyKeyInit == "" {
		secret, err := readSecretFile(t.VdafVerifyKeyInitFile)
		if err != nil {
			return fmt.Errorf("reading vdaf_verify_key_init from %s: %w", t.VdafVerifyKeyInitFile, err)
		}
		t.VdafVerifyKeyInit = secret
		logging.Info("ConfigLoader", "loaded vdaf_verify_key_init from file")
	}

	if t.LeaderTokenFile != "" && t.LeaderToken == "" {
		secret, err := readSecretFile(t.LeaderTokenFile)
		if err != nil {
			return fmt.Errorf("reading leader_auth_token from %s: %w", t.LeaderTokenFile, err)
		}
		t.LeaderToken = secret
		logging.Info("ConfigLoader", "loaded leader_auth_token from file")
	}

	return nil
}

// readSecretFile reads a secret from a file, trimming trailing whitespace
// common in mounted secrets.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
