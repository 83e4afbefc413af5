package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

// apiClient talks to the capture server's controller API.
type apiClient struct {
	base string
	http *http.Client
}

func newClient(c *cli.Context) *apiClient {
	return &apiClient{
		base: strings.TrimRight(c.String("addr"), "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// apiError is the problem+json body huma returns on failure.
type apiError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *apiError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Title)
}

func (a *apiClient) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		_ = json.Unmarshal(body, apiErr)
		return nil, apiErr
	}
	return body, nil
}

// printJSON re-indents a JSON response for the terminal.
func printJSON(w io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func simpleCmd(name, usage, method, path string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			body, err := newClient(c).do(c.Context, method, path)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return printJSON(os.Stdout, body)
		},
	}
}

func startCmd() *cli.Command {
	return simpleCmd("start", "Start capturing on the browser's active tab", http.MethodPost, "/api/v1/capture/start")
}

func stopCmd() *cli.Command {
	return simpleCmd("stop", "Stop capturing and save once pending responses finish", http.MethodPost, "/api/v1/capture/stop")
}

func statusCmd() *cli.Command {
	return simpleCmd("status", "Show the capture session status", http.MethodGet, "/api/v1/capture/status")
}

func exportCmd() *cli.Command {
	return simpleCmd("export", "Retry saving records kept after a failed export", http.MethodPost, "/api/v1/capture/export")
}

func recordCmd() *cli.Command {
	return &cli.Command{
		Name:      "record",
		Usage:     "Show one captured record of the current session",
		ArgsUsage: "<request-id>",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return cli.Exit("record: request id is required", 2)
			}
			body, err := newClient(c).do(c.Context, http.MethodGet, "/api/v1/capture/records/"+url.PathEscape(id))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return printJSON(os.Stdout, body)
		},
	}
}

func exportsCmd() *cli.Command {
	return &cli.Command{
		Name:  "exports",
		Usage: "Browse saved capture files",
		Subcommands: []*cli.Command{
			simpleCmd("list", "List saved capture files", http.MethodGet, "/api/v1/exports"),
			{
				Name:      "get",
				Usage:     "Download a saved capture file",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Write to this file instead of stdout",
					},
				},
				Action: func(c *cli.Context) error {
					name := c.Args().First()
					if name == "" {
						return cli.Exit("export name is required", 1)
					}
					body, err := newClient(c).do(c.Context, http.MethodGet, "/api/v1/exports/"+url.PathEscape(name))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					if out := c.String("out"); out != "" {
						return os.WriteFile(out, body, 0o644)
					}
					_, err = os.Stdout.Write(body)
					return err
				},
			},
			{
				Name:      "rm",
				Usage:     "Delete a saved capture file",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					name := c.Args().First()
					if name == "" {
						return cli.Exit("export name is required", 1)
					}
					body, err := newClient(c).do(c.Context, http.MethodDelete, "/api/v1/exports/"+url.PathEscape(name))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return printJSON(os.Stdout, body)
				},
			},
		},
	}
}
