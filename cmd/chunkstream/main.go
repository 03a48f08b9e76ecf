package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/ChunkStream/pkg/env"
	"github.com/jaywantadh/ChunkStream/pkg/logging"
)

const defaultServer = "http://localhost:8080"

func main() {
	env.LoadEnv()
	logging.InitLogger(env.GetEnv("CHUNKSTREAM_DEBUG", "") == "true")

	if err := newApp().Run(os.Args); err != nil {
		logging.Log.Fatal(err)
	}
}

func newApp() *cli.App {
	serverFlag := &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "base URL of the ChunkStream server",
		Value:   defaultServer,
		EnvVars: []string{"CHUNKSTREAM_SERVER"},
	}

	return &cli.App{
		Name:  "chunkstream",
		Usage: "Stream large files over HTTP in fixed-size blocks",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the ChunkStream server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "directory holding config.yaml",
						Value:   "./config",
					},
				},
				Action: serveAction,
			},
			{
				Name:      "upload",
				Usage:     "Upload a file to POST /upload",
				ArgsUsage: "FILE",
				Flags:     []cli.Flag{serverFlag},
				Action:    uploadAction,
			},
			{
				Name:  "download",
				Usage: "Download the served file from GET /download",
				Flags: []cli.Flag{
					serverFlag,
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "destination file", Required: true},
					&cli.StringFlag{Name: "filter", Usage: "block filter to apply on the server (upperx)"},
				},
				Action: downloadAction,
			},
			{
				Name:   "files",
				Usage:  "List stored files",
				Flags:  []cli.Flag{serverFlag},
				Action: filesAction,
			},
			{
				Name:      "put",
				Usage:     "Store a file in the files service",
				ArgsUsage: "FILE [NAME]",
				Flags:     []cli.Flag{serverFlag},
				Action:    putAction,
			},
			{
				Name:      "fetch",
				Usage:     "Fetch a stored file",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					serverFlag,
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "destination file (defaults to NAME)"},
				},
				Action: fetchAction,
			},
			{
				Name:      "status",
				Usage:     "Show the status of a transfer",
				ArgsUsage: "ID",
				Flags:     []cli.Flag{serverFlag},
				Action:    statusAction,
			},
		},
	}
}
