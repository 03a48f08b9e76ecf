// Command manualtest pushes a file through a running server's files service
// and checks that the copy fetched back is byte for byte identical.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/jaywantadh/ChunkStream/internal/transfer"
	"github.com/jaywantadh/ChunkStream/pkg/env"
)

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func main() {
	env.LoadEnv()
	server := env.GetEnv("CHUNKSTREAM_SERVER", "http://localhost:8080")

	inputPath := filepath.Join("samples", "sample.bin")
	if len(os.Args) > 1 {
		inputPath = os.Args[1]
	}

	if err := run(server, inputPath); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(server, inputPath string) error {
	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("sample file not found: %w", err)
	}

	origDigest, err := digestFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed hashing original: %w", err)
	}
	fmt.Printf("original:  %s\n  digest %s\n", inputPath, origDigest)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	client := transfer.NewClient(server, nil)

	name := fmt.Sprintf("manualtest-%d%s", time.Now().Unix(), filepath.Ext(inputPath))
	stored, err := client.PutFile(ctx, inputPath, name)
	if err != nil {
		return fmt.Errorf("store failed: %w", err)
	}
	fmt.Printf("stored:    %s (%s)\n  digest %s\n", stored.Name, transfer.FormatBytes(stored.Size), stored.Digest)

	outDir, err := os.MkdirTemp("", "manualtest-")
	if err != nil {
		return fmt.Errorf("failed creating output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	fetched, err := client.FetchFile(ctx, name, filepath.Join(outDir, name))
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	fmt.Printf("fetched:   %s\n  digest %s\n", fetched.Path, fetched.Digest)

	if origDigest != stored.Digest || origDigest != fetched.Digest {
		return fmt.Errorf("MISMATCH: fetched file differs from original")
	}
	fmt.Println("SUCCESS: fetched file matches original")
	return nil
}
