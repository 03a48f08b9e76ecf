package main

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/ChunkStream/internal/transfer"
)

func client(c *cli.Context) *transfer.Client {
	return transfer.NewClient(c.String("server"), nil)
}

func requireArg(c *cli.Context, name string) (string, error) {
	if c.NArg() < 1 {
		return "", cli.Exit(fmt.Sprintf("missing %s argument", name), 2)
	}
	return c.Args().First(), nil
}

func uploadAction(c *cli.Context) error {
	path, err := requireArg(c, "FILE")
	if err != nil {
		return err
	}

	res, err := client(c).Upload(c.Context, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "uploaded %s (%s)\ntransfer: %s\ndigest:   %s\n",
		path, transfer.FormatBytes(res.Bytes), res.TransferID, res.Digest)
	return nil
}

func downloadAction(c *cli.Context) error {
	res, err := client(c).Download(c.Context, c.String("out"), c.String("filter"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "saved %s (%s, %d blocks)\ndigest: %s\n",
		res.Path, transfer.FormatBytes(res.Bytes), res.Blocks, res.Digest)
	return nil
}

func filesAction(c *cli.Context) error {
	files, err := client(c).ListFiles(c.Context)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(c.App.Writer, "no files stored")
		return nil
	}
	for _, f := range files {
		fmt.Fprintf(c.App.Writer, "%-40s %10s  %s\n", f.Name, transfer.FormatBytes(f.Size), f.ModTime.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func putAction(c *cli.Context) error {
	path, err := requireArg(c, "FILE")
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	if c.NArg() > 1 {
		name = c.Args().Get(1)
	}

	stored, err := client(c).PutFile(c.Context, path, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "stored %s (%s)\ndigest: %s\n", stored.Name, transfer.FormatBytes(stored.Size), stored.Digest)
	return nil
}

func fetchAction(c *cli.Context) error {
	name, err := requireArg(c, "NAME")
	if err != nil {
		return err
	}
	out := c.String("out")
	if out == "" {
		out = name
	}

	res, err := client(c).FetchFile(c.Context, name, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "saved %s (%s)\ndigest: %s\n", res.Path, transfer.FormatBytes(res.Bytes), res.Digest)
	return nil
}

func statusAction(c *cli.Context) error {
	id, err := requireArg(c, "ID")
	if err != nil {
		return err
	}

	lookup, err := client(c).TransferStatus(c.Context, id)
	if err != nil {
		return err
	}

	w := c.App.Writer
	switch {
	case lookup.Active != nil:
		a := lookup.Active
		fmt.Fprintf(w, "Transfer %s (%s)\n", a.TransferID, a.Kind)
		fmt.Fprintf(w, "  Status: %s\n", a.Status)
		if a.TotalBytes > 0 {
			fmt.Fprintf(w, "  Progress: %s/%s (%.1f%%)\n", transfer.FormatBytes(a.BytesMoved), transfer.FormatBytes(a.TotalBytes), a.ProgressPercent)
		} else {
			fmt.Fprintf(w, "  Bytes: %s\n", transfer.FormatBytes(a.BytesMoved))
		}
		if a.Speed > 0 {
			fmt.Fprintf(w, "  Speed: %s/s\n", transfer.FormatBytes(a.Speed))
		}
		if a.ETA != "" {
			fmt.Fprintf(w, "  ETA: %s\n", a.ETA)
		}
	case lookup.Finished != nil:
		f := lookup.Finished
		fmt.Fprintf(w, "Transfer %s (%s)\n", f.ID, f.Kind)
		fmt.Fprintf(w, "  Status: %s\n", f.Status)
		fmt.Fprintf(w, "  Bytes: %s in %d blocks\n", transfer.FormatBytes(f.Bytes), f.Blocks)
		fmt.Fprintf(w, "  Duration: %s\n", transfer.FormatDuration(f.FinishedAt.Sub(f.StartedAt)))
		if f.Digest != "" {
			fmt.Fprintf(w, "  Digest: %s\n", f.Digest)
		}
		if f.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", f.Error)
		}
	default:
		return errors.Errorf("transfer %s has no status", id)
	}
	return nil
}
