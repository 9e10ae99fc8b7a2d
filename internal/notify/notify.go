// Package notify dispatches pipeline failure notifications to a Slack
// incoming webhook.
package notify

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Notifier reports a failed pipeline step. Implementations must be safe to
// call with a long multi-line detail string.
type Notifier interface {
	NotifyError(ctx context.Context, step, detail string) error
}

// SlackNotifier posts failure messages to a Slack incoming webhook: a
// header block naming the step plus the error detail in a code block.
type SlackNotifier struct {
	webhookURL string
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlack builds a webhook notifier for the given URL.
func NewSlack(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		post:       slack.PostWebhookContext,
	}
}

// NotifyError posts the failure message.
func (n *SlackNotifier) NotifyError(ctx context.Context, step, detail string) error {
	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, "Predize Error - "+step, false, false),
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "```"+detail+"```", false, false),
			nil, nil,
		),
	}
	msg := &slack.WebhookMessage{
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
	if err := n.post(ctx, n.webhookURL, msg); err != nil {
		return eris.Wrapf(err, "notify: post webhook for step %s", step)
	}
	return nil
}

// Noop discards notifications. Used when no webhook URL is configured.
type Noop struct{}

// NotifyError logs the failure locally and drops it.
func (Noop) NotifyError(_ context.Context, step, detail string) error {
	zap.L().Warn("notify: webhook not configured, dropping notification",
		zap.String("step", step),
		zap.String("detail", detail),
	)
	return nil
}

// FromURL picks the Slack notifier when a URL is configured and the no-op
// otherwise.
func FromURL(webhookURL string) Notifier {
	if webhookURL == "" {
		return Noop{}
	}
	return NewSlack(webhookURL)
}
