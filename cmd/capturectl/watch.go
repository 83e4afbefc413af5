package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/urfave/cli/v2"
)

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream capture status events until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "ws",
				Usage: "Use the WebSocket stream instead of server-sent events",
			},
			&cli.StringFlag{
				Name:  "types",
				Usage: "Comma-separated event types to show (e.g. state,export_succeeded)",
			},
		},
		Action: func(c *cli.Context) error {
			base := strings.TrimRight(c.String("addr"), "/")
			query := ""
			if t := c.String("types"); t != "" {
				query = "?types=" + t
			}
			var err error
			if c.Bool("ws") {
				err = watchWS(c.Context, base+"/api/v1/capture/ws"+query, c.App.Writer)
			} else {
				err = watchSSE(c.Context, base+"/api/v1/capture/events"+query, c.App.Writer)
			}
			if err != nil && c.Context.Err() == nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}

// watchSSE prints "type data" for each server-sent event.
func watchSSE(ctx context.Context, endpoint string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream: HTTP %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var typ string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			typ = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			fmt.Fprintf(w, "%s %s\n", typ, strings.TrimPrefix(line, "data: "))
		}
	}
	return scanner.Err()
}

// watchWS prints each WebSocket text frame on its own line.
func watchWS(ctx context.Context, endpoint string, w io.Writer) error {
	endpoint = "ws" + strings.TrimPrefix(endpoint, "http")
	conn, _, _, err := ws.Dial(ctx, endpoint)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n", data)
	}
}
