package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dapaggregator/internal/config"
)

func TestParseRole(t *testing.T) {
	cases := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"", RoleBoth, false},
		{"both", RoleBoth, false},
		{"leader", RoleLeader, false},
		{"helper", RoleHelper, false},
		{"bogus", 0, true},
	}
	for _, tc := range cases {
		got, err := parseRole(tc.in)
		if tc.wantErr {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

func TestInitializeServicesRequiresLoadedConfig(t *testing.T) {
	cfg := &Config{ConfigPath: "unused"}
	_, err := InitializeServices(cfg)
	require.Error(t, err)
}

func TestInitializeServicesBoth(t *testing.T) {
	cfg := &Config{
		Loaded: &config.FileConfig{
			Server: config.ServerSection{Role: "both", ListenAddr: ":0"},
		},
	}
	services, err := InitializeServices(cfg)
	require.NoError(t, err)
	require.Equal(t, RoleBoth, services.Role)
	require.NotNil(t, services.HTTP)
	require.NotNil(t, services.CollectMgr)
	require.Equal(t, 10, services.PollInterval)
}

func TestInitializeServicesHelperOnly(t *testing.T) {
	cfg := &Config{
		Loaded: &config.FileConfig{
			Server: config.ServerSection{Role: "helper"},
		},
	}
	services, err := InitializeServices(cfg)
	require.NoError(t, err)
	require.Equal(t, RoleHelper, services.Role)
	require.Nil(t, services.CollectMgr)
}

func TestInitializeServicesLeaderOnly(t *testing.T) {
	cfg := &Config{
		Loaded: &config.FileConfig{
			Server: config.ServerSection{Role: "leader"},
		},
	}
	services, err := InitializeServices(cfg)
	require.NoError(t, err)
	require.Equal(t, RoleLeader, services.Role)
	require.NotNil(t, services.CollectMgr)
}
