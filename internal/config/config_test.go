package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/nodegate/internal/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.CacheFloor)
	assert.Equal(t, "http://127.0.0.1:8188", cfg.BackendURL())
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workflows_dir: /srv/workflows
execution_timeout: 90s
backend:
  host: gpu-box
  port: 9000
listener:
  initial_backoff: 1s
store:
  driver: redis
  redis:
    addr: redis:6379
    db: 2
`), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/workflows", cfg.WorkflowsDir)
	assert.Equal(t, 90*time.Second, cfg.ExecutionTimeout)
	assert.Equal(t, "http://gpu-box:9000", cfg.BackendURL())
	assert.Equal(t, time.Second, cfg.Listener.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.Listener.MaxBackoff, "unset keys keep defaults")
	assert.Equal(t, config.DriverRedis, cfg.Store.Driver)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, "nodegate:", cfg.Store.Redis.Prefix)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_floor: [1"), 0644))
	_, err = config.Load(path)
	assert.Error(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	cfg := config.Default()
	err := config.ApplyEnv(&cfg, env(map[string]string{
		"COMFYUI_HOST":               "10.0.0.5",
		"COMFYUI_PORT":               "8190",
		"NODEGATE_STORE":             "memory",
		"NODEGATE_EXECUTION_TIMEOUT": "2m",
		"NODEGATE_METRICS":           "true",
		"NODEGATE_LOG_FORMAT":        "",
	}))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8190", cfg.BackendURL())
	assert.Equal(t, config.DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 2*time.Minute, cfg.ExecutionTimeout)
	assert.True(t, cfg.Metrics)
	assert.Equal(t, "text", cfg.Log.Format, "empty values are ignored")
}

func TestApplyEnv_ReportsEveryBadValue(t *testing.T) {
	cfg := config.Default()
	err := config.ApplyEnv(&cfg, env(map[string]string{
		"COMFYUI_PORT":               "high",
		"NODEGATE_EXECUTION_TIMEOUT": "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COMFYUI_PORT")
	assert.Contains(t, err.Error(), "NODEGATE_EXECUTION_TIMEOUT")
}

func TestApplyFlags_OnlyChanged(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--backend", "https://comfy.example.com", "--timeout", "45s"}))

	cfg := config.Default()
	cfg.WorkflowsDir = "from-env"
	require.NoError(t, config.ApplyFlags(&cfg, fs))

	assert.Equal(t, "from-env", cfg.WorkflowsDir, "unchanged flags keep earlier values")
	assert.Equal(t, 45*time.Second, cfg.ExecutionTimeout)
	assert.Equal(t, "https", cfg.Backend.Scheme)
	assert.Equal(t, 443, cfg.Backend.Port)
	assert.Equal(t, "https://comfy.example.com:443", cfg.BackendURL())
}

func TestSetBackendURL(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.SetBackendURL("http://host:1234"))
	assert.Equal(t, "host", cfg.Backend.Host)
	assert.Equal(t, 1234, cfg.Backend.Port)

	assert.Error(t, cfg.SetBackendURL("ftp://host"))
	assert.Error(t, cfg.SetBackendURL("http://host:port"))
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*config.Config){
		"unknown driver":   func(c *config.Config) { c.Store.Driver = "s3" },
		"no redis addr":    func(c *config.Config) { c.Store.Driver = "redis"; c.Store.Redis.Addr = "" },
		"empty dir":        func(c *config.Config) { c.WorkflowsDir = " " },
		"bad scheme":       func(c *config.Config) { c.Backend.Scheme = "ws" },
		"no host":          func(c *config.Config) { c.Backend.Host = "" },
		"negative floor":   func(c *config.Config) { c.CacheFloor = -1 },
		"inverted backoff": func(c *config.Config) { c.Listener.MaxBackoff = time.Millisecond },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
