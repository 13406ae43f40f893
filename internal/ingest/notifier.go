package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/astra-intelligence/astra-ingest/internal/core"
)

// WebhookNotifier posts an ingestion event to the downstream document
// classifier. It is strictly best-effort: the pipeline logs and swallows any
// failure, so classification stays an optional enrichment.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

var _ core.Notifier = (*WebhookNotifier)(nil)

func NewWebhookNotifier(url string, log *zap.Logger) *WebhookNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (n *WebhookNotifier) DocumentIngested(ctx context.Context, teamID, documentID, fileName, triggerSource string) error {
	if n.url == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"team_id":        teamID,
		"document_id":    documentID,
		"file_name":      fileName,
		"trigger_source": triggerSource,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// No response contract is enforced downstream; a non-2xx is still
	// worth surfacing to the caller's log line.
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}
