package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dgnsrekt/apicapture/internal/types"
)

// Notifier posts export summaries to an ntfy topic.
type Notifier struct {
	endpoint string
	client   *http.Client
}

// New returns a Notifier for the given ntfy topic URL. A nil client uses
// http.DefaultClient.
func New(endpoint string, client *http.Client) *Notifier {
	return &Notifier{endpoint: endpoint, client: client}
}

// ExportDelivered announces a completed export.
func (n *Notifier) ExportDelivered(ctx context.Context, res types.ExportResult) error {
	return Send(ctx, n.client, n.endpoint, exportMessage(res))
}

// ExportFailed announces that a session's records could not be saved.
func (n *Notifier) ExportFailed(ctx context.Context, sessionID string, records int, reason string) error {
	msg := fmt.Sprintf("API capture %s failed to save %d requests: %s", sessionID, records, reason)
	return Send(ctx, n.client, n.endpoint, msg)
}

func exportMessage(res types.ExportResult) string {
	return fmt.Sprintf("API capture %s saved %d requests (%d bytes) to %s",
		res.SessionID, res.Records, res.Bytes, res.Location)
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "apicapture")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
