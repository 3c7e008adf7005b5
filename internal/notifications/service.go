package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"deeplinker/internal/config"
)

const userAgent = "deeplinker/0.1.0"

// Service defines the notification surface exposed to ingest and the pipeline.
type Service interface {
	NotifyLinkReady(ctx context.Context, token, title, link string) error
	NotifyDerivationFailed(ctx context.Context, token, stage string, cause error) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	return &ntfyService{
		endpoint:         topic,
		client:           &http.Client{Timeout: cfg.NotifyTimeout()},
		linkReady:        cfg.Notifications.LinkReady,
		derivationFailed: cfg.Notifications.DerivationFailed,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
	click    string
}

type ntfyService struct {
	endpoint         string
	client           *http.Client
	linkReady        bool
	derivationFailed bool
}

func (n *ntfyService) NotifyLinkReady(ctx context.Context, token, title, link string) error {
	if !n.linkReady {
		return nil
	}
	label := strings.TrimSpace(title)
	if label == "" {
		label = token
	}
	message := fmt.Sprintf("🔗 Link ready: %s", label)
	if link = strings.TrimSpace(link); link != "" {
		message = fmt.Sprintf("%s\n%s", message, link)
	}
	return n.send(ctx, payload{
		title:   "Deeplinker - Link Ready",
		message: message,
		tags:    []string{"deeplinker", "link", "ready"},
		click:   link,
	})
}

func (n *ntfyService) NotifyDerivationFailed(ctx context.Context, token, stage string, cause error) error {
	if !n.derivationFailed {
		return nil
	}
	reason := "unknown"
	if cause != nil {
		reason = strings.TrimSpace(cause.Error())
	}
	return n.send(ctx, payload{
		title:    "Deeplinker - Derivation Failed",
		message:  fmt.Sprintf("⚠️ %s failed for %s: %s", strings.TrimSpace(stage), token, reason),
		tags:     []string{"deeplinker", "pipeline", strings.TrimSpace(stage), "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "Deeplinker - Error",
		message:  builder.String(),
		tags:     []string{"deeplinker", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Deeplinker - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"deeplinker", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}
	if data.click != "" {
		req.Header.Set("Click", data.click)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyLinkReady(context.Context, string, string, string) error        { return nil }
func (noopService) NotifyDerivationFailed(context.Context, string, string, error) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error                    { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
