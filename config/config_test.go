package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, ioutil.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := ReadConfiguration("", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.SessionConfig.GracePeriod)
	assert.Equal(t, 5*time.Minute, cfg.SessionConfig.RoomIdleTimeout)
	assert.Equal(t, "none", cfg.SessionConfig.Succession)
	assert.Equal(t, defaultSendBuffer, cfg.SessionConfig.SendBuffer)
	assert.Equal(t, "", cfg.NotificationConfig.Type)
	assert.Equal(t, defaultRedisKeyPrefix, cfg.NotificationConfig.Redis.KeyPrefix)
}

func TestReadDirectoryOfFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.toml", `
addr = "0.0.0.0:9000"
allow_guests = true

[[oidc]]
name = "google"
provider_url = "https://accounts.google.com"
client_id = "abc"
`)
	writeFile(t, dir, "b.toml", `
[session]
grace_period = "45s"
succession = "oldest"

[notification]
type = "redis"
filter = 'Name == "vote_update"'

[notification.redis]
uri = "redis://localhost:6379/0"
ttl = "24h"
`)
	writeFile(t, dir, "ignored.txt", `addr = "nope"`)

	cfg, err := ReadConfiguration(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.True(t, cfg.AllowGuests)
	require.Len(t, cfg.OIDCConfigs, 1)
	assert.Equal(t, "google", cfg.OIDCConfigs[0].Name)
	assert.Equal(t, 45*time.Second, cfg.SessionConfig.GracePeriod)
	assert.Equal(t, "oldest", cfg.SessionConfig.Succession)
	assert.Equal(t, "redis", cfg.NotificationConfig.Type)
	assert.Equal(t, 24*time.Hour, cfg.NotificationConfig.Redis.TTL)
	assert.Equal(t, `Name == "vote_update"`, cfg.NotificationConfig.Filter)
}

func TestFlagsAndEnvironment(t *testing.T) {
	require.NoError(t, os.Setenv("LSMEET_SESSION_SEND_BUFFER", "16"))
	defer os.Unsetenv("LSMEET_SESSION_SEND_BUFFER")

	flagSet := GetFlagSet()
	require.NoError(t, flagSet.Parse([]string{"--grace-period", "10s", "--log-level", "debug"}))
	cfg, err := ReadConfiguration("", flagSet)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.SessionConfig.GracePeriod)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 16, cfg.SessionConfig.SendBuffer)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StatsCron: defaultStatsCron,
			SessionConfig: SessionConfig{
				GracePeriod:     time.Second,
				RoomIdleTimeout: time.Second,
				Succession:      "none",
				SendBuffer:      1,
			},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"grace period":  func(c *Config) { c.SessionConfig.GracePeriod = 0 },
		"idle timeout":  func(c *Config) { c.SessionConfig.RoomIdleTimeout = -time.Second },
		"send buffer":   func(c *Config) { c.SessionConfig.SendBuffer = 0 },
		"succession":    func(c *Config) { c.SessionConfig.Succession = "random" },
		"stats cron":    func(c *Config) { c.StatsCron = "every now and then" },
		"oidc":          func(c *Config) { c.OIDCConfigs = []OIDCConfig{{Name: "x"}} },
		"unknown type":  func(c *Config) { c.NotificationConfig.Type = "kafka" },
		"missing dsn":   func(c *Config) { c.NotificationConfig.Type = "sqlite" },
		"missing redis": func(c *Config) { c.NotificationConfig.Type = "redis" },
		"prune cron": func(c *Config) {
			c.NotificationConfig = NotificationConfig{Type: "buntdb", DSN: "x.db", Retention: time.Hour, PruneCron: "nope"}
		},
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, name)
	}
}

func TestMissingConfigPath(t *testing.T) {
	_, err := ReadConfiguration(filepath.Join(t.TempDir(), "missing.toml"), nil)
	assert.Error(t, err)
}
