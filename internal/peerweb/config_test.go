package peerweb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerweb/internal/site"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "peerweb-site", cfg.Server.Namespace)
	assert.Equal(t, "memory", cfg.Channel.Mode)
	assert.Equal(t, "/_peerweb/channel", cfg.Channel.Path)
	assert.Equal(t, 5*time.Second, cfg.RPC.TimeoutDuration())
	assert.Equal(t, 10*time.Second, cfg.RPC.MediaTimeoutDuration())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownDuration())
	assert.Equal(t, int64(100<<10), cfg.Media.threshold)
	assert.Equal(t, int64(512<<20), cfg.Media.max)
	assert.Equal(t, int64(64<<20), cfg.Host.MaxInlineBytes())
	assert.Zero(t, cfg.Logging.statsEvery)

	sc := cfg.Durable.StoreConfig()
	assert.Equal(t, site.StoreLevelDB, sc.Type)
	assert.Equal(t, int64(1<<30), sc.MaxBytes)
	assert.Equal(t, 168*time.Hour, sc.MaxAge)

	p := cfg.Provider.Provider()
	assert.Equal(t, "./sites", p.Root)
	assert.Equal(t, 5*time.Second, p.FileTimeout)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peerweb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 7000
  namespace: /sites/
  origin: http://localhost:3000/
rpc:
  timeout: 2s
media:
  threshold: 1mb
durable:
  type: redis
  redis:
    addr: localhost:6379
    prefix: "pw:"
logging:
  level: debug
  statsEvery: 30s
`)
	t.Setenv("PEERWEB_SERVER_PORT", "9090")
	t.Setenv("PEERWEB_RPC_MEDIA_TIMEOUT", "3s")
	t.Setenv("PEERWEB_LOGGING_FORMAT", "json")
	t.Setenv("PEERWEB_HOST_MAX_INLINE", "1kb")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sites", cfg.Server.Namespace)
	assert.Equal(t, "http://localhost:3000", cfg.Server.Origin)
	assert.Equal(t, 2*time.Second, cfg.RPC.TimeoutDuration())
	assert.Equal(t, 3*time.Second, cfg.RPC.MediaTimeoutDuration())
	assert.Equal(t, int64(1<<20), cfg.Media.threshold)
	assert.Equal(t, int64(1024), cfg.Host.MaxInlineBytes())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 30*time.Second, cfg.Logging.statsEvery)

	sc := cfg.Durable.StoreConfig()
	assert.Equal(t, site.StoreRedis, sc.Type)
	assert.Equal(t, "localhost:6379", sc.RedisAddr)
	assert.Equal(t, "pw:", sc.RedisPrefix)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("PEERWEB_CHANNEL_MODE", "websocket")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "websocket", cfg.Channel.Mode)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)

	cases := map[string]string{
		"namespace":  "server:\n  namespace: a/b\n",
		"channel":    "channel:\n  mode: carrier-pigeon\n",
		"path":       "channel:\n  path: nope\n",
		"durable":    "durable:\n  type: etcd\n",
		"site":       "host:\n  site: xyz\n",
		"duration":   "rpc:\n  timeout: soon\n",
		"size":       "media:\n  max: lots\n",
		"statsEvery": "logging:\n  statsEvery: often\n",
	}
	for name, body := range cases {
		_, err := LoadConfig(writeConfig(t, body))
		assert.Error(t, err, name)
	}

	t.Setenv("PEERWEB_SERVER_PORT", "eighty")
	_, err = LoadConfig("")
	assert.Error(t, err)
}
