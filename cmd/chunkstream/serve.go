package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/ChunkStream/config"
	"github.com/jaywantadh/ChunkStream/internal/block"
	"github.com/jaywantadh/ChunkStream/internal/metadata"
	"github.com/jaywantadh/ChunkStream/internal/metrics"
	"github.com/jaywantadh/ChunkStream/internal/storage"
	"github.com/jaywantadh/ChunkStream/internal/streaming"
	"github.com/jaywantadh/ChunkStream/internal/transfer"
	"github.com/jaywantadh/ChunkStream/pkg/httpserver"
	"github.com/jaywantadh/ChunkStream/pkg/logging"
)

// node is a fully wired server: every dependency the HTTP handlers need.
type node struct {
	ledger   *metadata.MetadataStore
	registry *transfer.Registry
	handler  http.Handler
}

func newNode(cfg *config.AppConfig) (*node, error) {
	pool := block.NewPool(cfg.BlockSize)

	src, err := streaming.NewSource(cfg.DownloadFile, pool)
	if err != nil {
		return nil, errors.Wrap(err, "download_file is not usable")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create upload_dir")
	}
	store, err := storage.NewLocalStorage(cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	ledger, err := metadata.OpenMetadataStore(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	registry := transfer.NewRegistry(cfg.MaxSessions, ledger, m)
	srv := transfer.NewServer(transfer.Config{
		NodeID:         cfg.NodeID,
		UploadDir:      cfg.UploadDir,
		QueueDepth:     cfg.QueueDepth,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, pool, src, store, registry, ledger)

	mux := http.NewServeMux()
	srv.Register(mux)
	mux.Handle("GET /metrics", m.Handler())

	return &node{ledger: ledger, registry: registry, handler: mux}, nil
}

func (n *node) Close() error {
	return n.ledger.Close()
}

func serveAction(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	logging.InitLogger(cfg.Debug)
	log := logging.Component("serve")

	n, err := newNode(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.WithError(err).Warn("failed to close ledger")
		}
	}()

	server := httpserver.New(httpserver.Options{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}, n.handler)

	log.WithFields(logrus.Fields{
		"node_id":       cfg.NodeID,
		"download_file": cfg.DownloadFile,
		"upload_dir":    cfg.UploadDir,
		"storage_path":  cfg.StoragePath,
		"block_size":    cfg.BlockSize,
	}).Info("node starting")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown failed")
	}
	return <-errCh
}
