package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/dgnsrekt/apicapture/internal/apidocs"
)

func docsCmd() *cli.Command {
	return &cli.Command{
		Name:  "docs",
		Usage: "Generate Markdown API documentation from a capture file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "in",
				Aliases: []string{"i"},
				Usage:   "Capture file (json or jsonl)",
				Value:   "api_requests.json",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Markdown output file",
				Value:   "api_documentation.md",
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "Document heading",
			},
		},
		Action: func(c *cli.Context) error {
			in, out := c.String("in"), c.String("out")
			if err := apidocs.GenerateFile(in, out, apidocs.Options{Title: c.String("title")}); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Fprintf(c.App.Writer, "documentation written to %s\n", out)
			return nil
		},
	}
}
