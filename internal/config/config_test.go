package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
namespace: mirrors
storage_class: nfs
node: node-1
image_pull_secrets: regcred
timeout: 5s
manager:
  name: manager
  port: 12345
front:
  name: caddy
  image: caddy:2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "mirrors", cfg.Namespace)
	require.Equal(t, "nfs", cfg.StorageClass)
	require.Equal(t, "node-1", cfg.Node)
	require.Equal(t, 5*time.Second, cfg.Timeout)
	require.Equal(t, "http://manager:12345", cfg.Manager.API())
	require.Equal(t, Default.Manager.Image, cfg.Manager.Image)
	require.True(t, cfg.Front.Enabled())
	require.Equal(t, "regcred", cfg.Front.ImagePullSecrets)
	require.Equal(t, Default.LogRoot, cfg.LogRoot)
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("namespace: mirrors\n"), 0644))

	t.Setenv("MIRRORCTL_LOG_ROOT", "/tmp/logs")
	t.Setenv("MIRRORCTL_MANAGER_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/logs", cfg.LogRoot)
	require.Equal(t, 9999, cfg.Manager.Port)
	require.False(t, cfg.Front.Enabled())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
