package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var VERSION = "0.1.0"

func main() {
	log.Default().SetFlags(log.Ltime | log.Lmicroseconds)

	app := cli.NewApp()
	app.Name = "capturectl"
	app.Version = VERSION
	app.Usage = "Control an API capture server and document its captures"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Aliases: []string{"a"},
			Usage:   "Capture server base URL",
			Value:   "http://127.0.0.1:8190",
			EnvVars: []string{"CAPTURECTL_ADDR"},
		},
	}
	app.Commands = []*cli.Command{
		startCmd(),
		stopCmd(),
		statusCmd(),
		exportCmd(),
		recordCmd(),
		exportsCmd(),
		watchCmd(),
		docsCmd(),
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}
