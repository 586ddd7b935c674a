// Package announcer formats and delivers one notification per actionable
// decision (§4.11): DEPLOYED, ROTATED, EMERGENCY_EXIT.
package announcer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"treasuryagent/pkg/types"
)

// XClient posts a formatted announcement and returns a remote id.
type XClient interface {
	PostTweet(ctx context.Context, text string) (string, error)
}

// NoopXClient logs the body and returns no remote id, used when no
// announcer webhook is configured (in dry-run and live mode alike).
type NoopXClient struct{}

func (NoopXClient) PostTweet(ctx context.Context, text string) (string, error) {
	log.Printf("announcer (noop): %s", text)
	return "", nil
}

// HTTPXClient posts the announcement body as JSON to a configurable
// webhook, standing in for the out-of-scope social-poster service.
type HTTPXClient struct {
	WebhookURL string
	HTTPClient *http.Client
}

func NewHTTPXClient(webhookURL string) *HTTPXClient {
	return &HTTPXClient{WebhookURL: webhookURL, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

func (c *HTTPXClient) PostTweet(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("announcer webhook returned status %d", resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.ID, nil
}

// Announcer formats a Decision plus its ExecutionResult into one of three
// message types and delivers it via the configured XClient.
type Announcer struct {
	Client            XClient
	ExplorerTxBaseURL string
}

func New(client XClient, explorerTxBaseURL string) *Announcer {
	return &Announcer{Client: client, ExplorerTxBaseURL: explorerTxBaseURL}
}

// Announce formats and posts one notification for an actionable decision.
// HOLD decisions are never announced; callers should not call Announce for
// them.
func (a *Announcer) Announce(ctx context.Context, decision types.Decision, result *types.ExecutionResult) (types.TweetRecord, error) {
	body := a.format(decision, result)
	id, err := a.Client.PostTweet(ctx, body)
	rec := types.TweetRecord{Timestamp: decision.Timestamp, Body: body}
	if id != "" {
		rec.RemoteID = &id
	}
	return rec, err
}

func (a *Announcer) format(decision types.Decision, result *types.ExecutionResult) string {
	explorerURL := ""
	if result != nil && result.TxHash != nil {
		explorerURL = a.ExplorerTxBaseURL + result.TxHash.Hex()
	}

	switch {
	case decision.Emergency:
		return fmt.Sprintf("EMERGENCY EXIT: left %s at %.2f%% APY. %s",
			safePoolID(decision.FromPoolID), bpsToPercent(decision.OldNetApyBps), explorerURL)
	case decision.Action == types.ActionEnter:
		return fmt.Sprintf("DEPLOYED: entered %s at %.2f%% APY. %s",
			safePoolID(decision.ChosenPoolID), bpsToPercent(decision.NewNetApyBps), explorerURL)
	case decision.Action == types.ActionRotate:
		return fmt.Sprintf("ROTATED: %s (%.2f%% APY) -> %s (%.2f%% APY). %s",
			safePoolID(decision.FromPoolID), bpsToPercent(decision.OldNetApyBps),
			safePoolID(decision.ChosenPoolID), bpsToPercent(decision.NewNetApyBps), explorerURL)
	default:
		return fmt.Sprintf("EXIT TO PARK: left %s. %s", safePoolID(decision.FromPoolID), explorerURL)
	}
}

func bpsToPercent(bps int) float64 {
	return float64(bps) / 100
}

func safePoolID(id *string) string {
	if id == nil {
		return "unknown pool"
	}
	return *id
}
