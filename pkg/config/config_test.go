package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gatewayframe "github.com/sessamekesh/shardwire/pkg/message/gateway_frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "from-env")
	path := writeConfig(t, "bot.yaml", `
gateway:
  token: "${TEST_BOT_TOKEN}"
  intents: ["guilds", "guild_messages"]
  shard_count: 4
  compress: false
  identify_interval: "5500ms"
  backoff_base: "2s"
  backoff_max: "1m"
  shutdown_grace: "3s"
presence:
  status: "idle"
  activity_name: "the shards"
  activity_type: 3
commands:
  prefix: ">>"
  echo: true
logging:
  level: "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Gateway.Token)
	assert.Equal(t, gatewayframe.Intent_Guilds|gatewayframe.Intent_GuildMessages, cfg.Gateway.Intents)
	assert.Equal(t, 4, cfg.Gateway.ShardCount)
	assert.False(t, cfg.Gateway.Compress)
	assert.Equal(t, 5500*time.Millisecond, cfg.Gateway.IdentifyInterval)
	assert.Equal(t, 2*time.Second, cfg.Gateway.BackoffBase)
	assert.Equal(t, time.Minute, cfg.Gateway.BackoffMax)
	assert.Equal(t, 3*time.Second, cfg.Gateway.ShutdownGrace)
	assert.Equal(t, ">>", cfg.Commands.Prefix)
	assert.True(t, cfg.Commands.Echo)
	assert.True(t, cfg.Commands.PingPong, "defaults survive partial files")
	assert.Equal(t, gatewayframe.DefaultURL, cfg.Gateway.URL)
	assert.Equal(t, 50, cfg.Gateway.LargeThreshold)

	presence := cfg.PresenceUpdate()
	require.NotNil(t, presence)
	assert.Equal(t, "idle", presence.Status)
	require.Len(t, presence.Activities, 1)
	assert.Equal(t, gatewayframe.ActivityType_Watching, presence.Activities[0].Type)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "bot.toml", `
[gateway]
token = "toml-token"
shard_count = 2
identify_interval = "6s"

[commands]
prefix = "?"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "toml-token", cfg.Gateway.Token)
	assert.Equal(t, 2, cfg.Gateway.ShardCount)
	assert.Equal(t, 6*time.Second, cfg.Gateway.IdentifyInterval)
	assert.Equal(t, "?", cfg.Commands.Prefix)
	assert.Equal(t, gatewayframe.Intents_Messages, cfg.Gateway.Intents)
	assert.True(t, cfg.Gateway.Compress)
}

func TestTokenFallsBackToEnvironment(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-token")
	path := writeConfig(t, "bot.yaml", "gateway:\n  shard_count: 1\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Gateway.Token)

	cfg, err = FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Gateway.Token)
	assert.Equal(t, 10, cfg.Gateway.MaxReconnectAttempts)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")

	cases := map[string]string{
		"missing token":    "gateway:\n  shard_count: 1\n",
		"bad duration":     "gateway:\n  token: x\n  backoff_base: soon\n",
		"unknown intent":   "gateway:\n  token: x\n  intents: [telepathy]\n",
		"zero shards":      "gateway:\n  token: x\n  shard_count: 0\n",
		"inverted backoff": "gateway:\n  token: x\n  backoff_base: 10s\n  backoff_max: 1s\n",
		"bad status":       "gateway:\n  token: x\npresence:\n  status: busy\n",
		"bad level":        "gateway:\n  token: x\nlogging:\n  level: loud\n",
		"not yaml":         "gateway: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "bot.yaml", content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SHARDWIRE_A", "alpha")
	assert.Equal(t, "alpha-", expandEnvVars("${SHARDWIRE_A}-${SHARDWIRE_UNSET_VAR}"))
	assert.Equal(t, "no vars", expandEnvVars("no vars"))
}

func TestPresenceUpdateEmpty(t *testing.T) {
	cfg := Default()
	cfg.Presence = PresenceConfig{}
	assert.Nil(t, cfg.PresenceUpdate())
}
