package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	req := require.New(t)

	cfg, err := LoadConfig(t.TempDir())
	req.NoError(err)
	req.Equal(8080, cfg.Port)
	req.Equal(4096, cfg.BlockSize)
	req.Equal(8, cfg.QueueDepth)
	req.Equal(16, cfg.MaxSessions)
	req.Equal(int64(0), cfg.MaxUploadBytes)
	req.Equal(15*time.Second, cfg.ShutdownTimeout)
	req.Equal(10*time.Second, cfg.ReadHeaderTimeout)
	req.Equal(time.Duration(0), cfg.ReadTimeout)
	req.Equal(time.Duration(0), cfg.WriteTimeout)
	req.Same(cfg, Config)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()

	yaml := `node_id: edge-1
port: 9090
download_file: /srv/big.bin
block_size: 8192
read_timeout: 5s
`
	req.NoError(os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("CHUNKSTREAM_QUEUE_DEPTH", "3")
	t.Setenv("CHUNKSTREAM_PORT", "9191")

	cfg, err := LoadConfig(dir)
	req.NoError(err)
	req.Equal("edge-1", cfg.NodeID)
	req.Equal(9191, cfg.Port)
	req.Equal("/srv/big.bin", cfg.DownloadFile)
	req.Equal(8192, cfg.BlockSize)
	req.Equal(3, cfg.QueueDepth)
	req.Equal(5*time.Second, cfg.ReadTimeout)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	req.NoError(os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("block_size: 0\n"), 0644))

	_, err := LoadConfig(dir)
	req.Error(err)
	req.Contains(err.Error(), "block_size")
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	req.NoError(os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("port: [unterminated\n"), 0644))

	_, err := LoadConfig(dir)
	req.Error(err)
}
