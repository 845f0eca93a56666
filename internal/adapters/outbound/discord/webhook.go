package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/charleschow/betting-service/internal/core/admission"
	"github.com/charleschow/betting-service/internal/telemetry"
)

const (
	ColorGreen  = 0x2ECC71
	ColorRed    = 0xE74C3C
	ColorYellow = 0xF1C40F

	overloadAlertInterval = time.Minute
	sendTimeout           = 10 * time.Second
)

// Notifier posts operational alerts to a Discord webhook. A Notifier with
// an empty URL is a no-op.
type Notifier struct {
	webhookURL string
	httpClient *http.Client

	overloadAlert rate.Sometimes
}

func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL:    webhookURL,
		httpClient:    &http.Client{Timeout: sendTimeout},
		overloadAlert: rate.Sometimes{Interval: overloadAlertInterval},
	}
}

func (n *Notifier) Enabled() bool { return n != nil && n.webhookURL != "" }

type Embed struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

func (n *Notifier) SendText(ctx context.Context, msg string) error {
	return n.send(ctx, webhookPayload{Content: msg})
}

func (n *Notifier) SendEmbed(ctx context.Context, embed Embed) error {
	if embed.Timestamp == "" {
		embed.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return n.send(ctx, webhookPayload{Embeds: []Embed{embed}})
}

func (n *Notifier) send(ctx context.Context, payload webhookPayload) error {
	if !n.Enabled() {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		telemetry.Warnf("discord: rate limited")
		return fmt.Errorf("discord rate limited")
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook: status=%d", resp.StatusCode)
	}

	return nil
}

// OnRejected is an admission.Config.OnRejected hook. It runs on the
// rejecting request's goroutine, so at most one alert per minute is sent,
// and always from a goroutine of its own.
func (n *Notifier) OnRejected(err error) {
	if !n.Enabled() || !errors.Is(err, admission.ErrOverloaded) {
		return
	}
	n.overloadAlert.Do(func() {
		rejected := telemetry.Metrics.Rejections.Value()
		workers := telemetry.Metrics.ActiveWorkers.Value()
		queued := telemetry.Metrics.QueuedWork.Value()
		go n.async(func(ctx context.Context) error {
			return n.OverloadAlert(ctx, rejected, workers, queued)
		})
	})
}

// Lifecycle posts a start/stop notice without blocking the caller.
func (n *Notifier) Lifecycle(title, detail string, color int) {
	if !n.Enabled() {
		return
	}
	go n.async(func(ctx context.Context) error {
		return n.SendEmbed(ctx, Embed{Title: title, Description: detail, Color: color})
	})
}

func (n *Notifier) async(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		telemetry.Warnf("discord: %v", err)
	}
}

func (n *Notifier) OverloadAlert(ctx context.Context, rejectedTotal, activeWorkers, queued int64) error {
	return n.SendEmbed(ctx, Embed{
		Title:       "Betting API overloaded",
		Description: "Requests are being rejected with 503.",
		Color:       ColorRed,
		Fields: []Field{
			{Name: "Rejected (total)", Value: fmt.Sprintf("%d", rejectedTotal), Inline: true},
			{Name: "Busy workers", Value: fmt.Sprintf("%d", activeWorkers), Inline: true},
			{Name: "Queued", Value: fmt.Sprintf("%d", queued), Inline: true},
		},
	})
}
