package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trailcrew/TrailCrewBack/pkg/trailclient"
	"github.com/trailcrew/TrailCrewBack/pkg/trailclient/cache"
)

func TestConfigRoundTripThroughHome(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Empty(t, cfg.Auth.Token)

	require.NoError(t, setConfigValue(cfg, "auth.token", "jwt-value"))
	require.NoError(t, setConfigValue(cfg, "auth.user_id", "42"))
	require.NoError(t, setConfigValue(cfg, "default.base_url", "http://trail.local"))
	require.NoError(t, saveConfig(cfg))

	loaded, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "jwt-value", loaded.Auth.Token)
	require.Equal(t, int64(42), loaded.Auth.UserID)
	require.Equal(t, "http://trail.local", loaded.Default.BaseURL)
}

func TestSetConfigValueRejectsUnknownKeys(t *testing.T) {
	cfg := &Config{}
	require.Error(t, setConfigValue(cfg, "token", "x"))
	require.Error(t, setConfigValue(cfg, "auth.password", "x"))
	require.Error(t, setConfigValue(cfg, "server.port", "x"))
	require.Error(t, setConfigValue(cfg, "auth.user_id", "abc"))
}

func TestParseRoom(t *testing.T) {
	room, err := parseRoom("12")
	require.NoError(t, err)
	require.Equal(t, trailclient.ConversationRoom(12), room)

	room, err = parseRoom("group:7")
	require.NoError(t, err)
	require.Equal(t, trailclient.GroupRoom(7), room)

	_, err = parseRoom("-1")
	require.Error(t, err)
	_, err = parseRoom("trail:3")
	require.Error(t, err)
}

func TestPollInterval(t *testing.T) {
	require.Equal(t, cache.DefaultPollInterval, pollInterval(&Config{}))
	require.Equal(t, cache.DefaultPollInterval, pollInterval(&Config{Default: ConfigDefault{PollInterval: "soon"}}))
	require.Equal(t, 5*time.Second, pollInterval(&Config{Default: ConfigDefault{PollInterval: "5s"}}))
}
