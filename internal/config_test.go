package internal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-matchmaking/internal"
)

// TestLoadConfig 測試配置檔載入與預設值
func TestLoadConfig(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 5s
  write_timeout: 10s
postgres:
  host: db.internal
  port: 5433
  user: app
  password: secret
  dbname: matchmaking
redis:
  addr: cache.internal:6379
nats:
  url: nats://broker:4222
log:
  level: debug
  format: json
`)

		config, err := internal.LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, 9090, config.Server.Port)
		assert.Equal(t, 5*time.Second, config.Server.ReadTimeout)
		assert.Equal(t, 10*time.Second, config.Server.WriteTimeout)
		assert.Equal(t, "db.internal", config.Postgres.Host)
		assert.Equal(t, 5433, config.Postgres.Port)
		assert.Equal(t, "cache.internal:6379", config.Redis.Addr)
		assert.Equal(t, "nats://broker:4222", config.NATS.URL)
		assert.Equal(t, "debug", config.Log.Level)
		assert.Equal(t, "json", config.Log.Format)
	})

	t.Run("defaults fill missing fields", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 3000
`)

		config, err := internal.LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, 3000, config.Server.Port)
		assert.Equal(t, "localhost", config.Postgres.Host)
		assert.Equal(t, 5432, config.Postgres.Port)
		assert.Equal(t, "localhost:6379", config.Redis.Addr)
		assert.Empty(t, config.NATS.URL) // 預設不啟用事件發佈
		assert.Equal(t, "info", config.Log.Level)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := internal.LoadConfig("/nonexistent/config.yaml")
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfig(t, "server: [not a map")
		_, err := internal.LoadConfig(path)
		assert.Error(t, err)
	})
}

// TestConfig_PostgresDSN 測試連線字串生成與環境變數覆蓋
func TestConfig_PostgresDSN(t *testing.T) {
	path := writeConfig(t, `
postgres:
  host: db.example
  port: 5432
  user: app
  password: pw
  dbname: rooms
`)

	config, err := internal.LoadConfig(path)
	require.NoError(t, err)

	t.Run("from config fields", func(t *testing.T) {
		assert.Equal(t,
			"postgres://app:pw@db.example:5432/rooms?sslmode=disable",
			config.PostgresDSN())
	})

	t.Run("DATABASE_URL wins", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://override:pw@other:5432/db")
		assert.Equal(t, "postgres://override:pw@other:5432/db", config.PostgresDSN())
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
