// Package notify delivers message summaries to a Slack incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/model"
)

const (
	requestTimeout = 10 * time.Second

	// maxLoggedBody caps how much of an error response is kept.
	maxLoggedBody = 512

	// The breaker opens after more than breakerThreshold consecutive
	// failures and stays open for breakerCooldown.
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// NotifyError describes a failed webhook delivery.
type NotifyError struct {
	ID         string
	StatusCode int
	Body       string
	Err        error
}

func (e *NotifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notifying for message %s: %v", e.ID, e.Err)
	}
	return fmt.Sprintf("notifying for message %s: webhook returned %d: %s", e.ID, e.StatusCode, e.Body)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// Notifier posts summaries to a webhook.
type Notifier struct {
	webhookURL string
	channel    string
	username   string
	query      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        *zap.SugaredLogger
}

// New returns a Notifier for the webhook in cfg. query is the mailbox
// filter shown in each notification.
func New(cfg model.SlackConfig, query string, log *zap.SugaredLogger) *Notifier {
	n := &Notifier{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		username:   cfg.Username,
		query:      query,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log,
	}
	n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "slack-webhook",
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > breakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return n
}

// Notify delivers msg and reports whether the webhook answered 200.
// Failures are logged; there is no retry within the call.
func (n *Notifier) Notify(ctx context.Context, msg *model.MessageSummary) bool {
	if err := n.Send(ctx, msg); err != nil {
		var notifyErr *NotifyError
		if errors.As(err, &notifyErr) && notifyErr.StatusCode != 0 {
			n.log.Errorw("Slack webhook rejected message",
				"message_id", msg.ID, "status", notifyErr.StatusCode, "body", notifyErr.Body)
		} else {
			n.log.Errorw("Error posting to Slack", "message_id", msg.ID, "error", err)
		}
		return false
	}
	n.log.Infow("Posted message to Slack", "message_id", msg.ID)
	return true
}

// Send is Notify with the failure returned as a *NotifyError.
func (n *Notifier) Send(ctx context.Context, msg *model.MessageSummary) error {
	body, err := json.Marshal(BuildPayload(msg, n.channel, n.username, n.query))
	if err != nil {
		return &NotifyError{ID: msg.ID, Err: fmt.Errorf("marshaling payload: %w", err)}
	}

	_, err = n.breaker.Execute(func() (interface{}, error) {
		return nil, n.post(ctx, msg.ID, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &NotifyError{ID: msg.ID, Err: err}
	}
	return err
}

func (n *Notifier) post(ctx context.Context, id string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return &NotifyError{ID: id, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &NotifyError{ID: id, Err: fmt.Errorf("executing webhook request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
		return &NotifyError{ID: id, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// BreakerState reports the circuit breaker state, for diagnostics.
func (n *Notifier) BreakerState() gobreaker.State {
	return n.breaker.State()
}
