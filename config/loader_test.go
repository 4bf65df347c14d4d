// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 100*time.Millisecond, cfg.Stream.FlushInterval)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  cors_allowed_origins:
    - https://chat.example.com

auth:
  jwt_secret: "yaml-secret"

llm:
  provider: anthropic
  model: claude-sonnet-4-5
  temperature: 0.5

stream:
  flush_interval: 250ms
  encoding: raw
  sink_failure_fatal: true
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "yaml-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.LLM.Model)
	assert.Equal(t, 0.5, cfg.LLM.Temperature)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.FlushInterval)
	assert.Equal(t, "raw", cfg.Stream.Encoding)
	assert.True(t, cfg.Stream.SinkFailureFatal)

	// 未出现在 YAML 中的字段保持默认值
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.True(t, cfg.Stream.SentenceFlush)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("CHAT_SERVER_HTTP_PORT", "7070")
	t.Setenv("CHAT_AUTH_JWT_SECRET", "env-secret")
	t.Setenv("CHAT_STREAM_FLUSH_INTERVAL", "50ms")
	t.Setenv("CHAT_STREAM_SENTENCE_FLUSH", "false")
	t.Setenv("CHAT_LLM_TEMPERATURE", "1.2")
	t.Setenv("CHAT_LLM_BREAKER_RESET_TIMEOUT", "5s")
	t.Setenv("CHAT_LOG_OUTPUT_PATHS", "stdout, /tmp/chat.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 50*time.Millisecond, cfg.Stream.FlushInterval)
	assert.False(t, cfg.Stream.SentenceFlush)
	assert.Equal(t, 1.2, cfg.LLM.Temperature)
	assert.Equal(t, 5*time.Second, cfg.LLM.Breaker.ResetTimeout)
	assert.Equal(t, []string{"stdout", "/tmp/chat.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8888\n"), 0o644))
	t.Setenv("CHAT_SERVER_HTTP_PORT", "9999")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
}

func TestLoader_CustomPrefix(t *testing.T) {
	t.Setenv("MYAPP_REDIS_ENABLED", "true")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("CHAT_SERVER_HTTP_PORT", "not-a-number")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error {
		return c.Validate()
	}).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Auth.JWTSecret = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid defaults", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.HTTPPort = 0 }, wantErr: "HTTP port"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: "database driver"},
		{name: "mongo without uri", mutate: func(c *Config) { c.Database.Driver = "mongo" }, wantErr: "database.uri"},
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "local" }, wantErr: "llm provider"},
		{name: "temperature range", mutate: func(c *Config) { c.LLM.Temperature = 3 }, wantErr: "temperature"},
		{name: "breaker threshold", mutate: func(c *Config) { c.LLM.Breaker.Threshold = 0 }, wantErr: "breaker.threshold"},
		{name: "disabled breaker ignores threshold", mutate: func(c *Config) {
			c.LLM.Breaker.Enabled = false
			c.LLM.Breaker.Threshold = 0
		}},
		{name: "bad encoding", mutate: func(c *Config) { c.Stream.Encoding = "xml" }, wantErr: "stream encoding"},
		{name: "zero flush interval", mutate: func(c *Config) { c.Stream.FlushInterval = 0 }, wantErr: "flush_interval"},
		{name: "zero retries", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantErr: "max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "postgres",
			cfg:  DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "chat", SSLMode: "disable"},
			want: "host=db port=5432 user=u password=p dbname=chat sslmode=disable",
		},
		{
			name: "mysql",
			cfg:  DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "chat"},
			want: "u:p@tcp(db:3306)/chat?parseTime=true",
		},
		{name: "sqlite", cfg: DatabaseConfig{Driver: "sqlite", Name: "chat.db"}, want: "chat.db"},
		{name: "mongo", cfg: DatabaseConfig{Driver: "mongo", URI: "mongodb://localhost:27017"}, want: "mongodb://localhost:27017"},
		{name: "unknown", cfg: DatabaseConfig{Driver: "oracle"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}
