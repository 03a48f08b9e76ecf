package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/ChunkStream/config"
	"github.com/jaywantadh/ChunkStream/internal/transfer"
)

func testConfig(t *testing.T, data []byte) *config.AppConfig {
	t.Helper()
	root := t.TempDir()
	downloadFile := filepath.Join(root, "large-file.bin")
	require.NoError(t, os.WriteFile(downloadFile, data, 0644))

	return &config.AppConfig{
		NodeID:       "test-node",
		Port:         8080,
		DownloadFile: downloadFile,
		UploadDir:    filepath.Join(root, "uploads"),
		StoragePath:  filepath.Join(root, "files"),
		BlockSize:    1024,
		QueueDepth:   2,
		MaxSessions:  4,
	}
}

func TestNodeServesEndToEnd(t *testing.T) {
	req := require.New(t)
	data := bytes.Repeat([]byte("0123456789"), 1000)

	n, err := newNode(testConfig(t, data))
	req.NoError(err)
	defer n.Close()

	srv := httptest.NewServer(n.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + transfer.PathHealth)
	req.NoError(err)
	var health transfer.HealthResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	req.Equal("ok", health.Status)
	req.Equal("test-node", health.NodeID)

	dst := filepath.Join(t.TempDir(), "copy.bin")
	res, err := transfer.NewClient(srv.URL, nil).Download(context.Background(), dst, "")
	req.NoError(err)
	req.Equal(int64(len(data)), res.Bytes)

	resp, err = http.Get(srv.URL + "/metrics")
	req.NoError(err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	req.NoError(err)
	req.Contains(string(body), "chunkstream_active_sessions")
}

func TestNodeFailsFastWithoutDownloadFile(t *testing.T) {
	req := require.New(t)
	cfg := testConfig(t, nil)
	cfg.DownloadFile = filepath.Join(t.TempDir(), "missing.bin")

	_, err := newNode(cfg)
	req.Error(err)
	req.Contains(err.Error(), "download_file")
}

func TestCommandsRequireArguments(t *testing.T) {
	req := require.New(t)
	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Writer = io.Discard
	app.ErrWriter = io.Discard

	err := app.Run([]string{"chunkstream", "upload"})
	req.Error(err)
	req.Contains(err.Error(), "FILE")
}
