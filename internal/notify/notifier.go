// Package notify delivers terminal pipeline events to an external webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/clipdock/clipdock/internal/events"
	"github.com/clipdock/clipdock/internal/observability"
	"github.com/clipdock/clipdock/pkg/httpclient"
)

// Payload is the wire envelope for one delivered event. The event's own
// JSON form never carries the tenant, so the envelope does.
type Payload struct {
	Tenant string       `json:"tenant"`
	Event  events.Event `json:"event"`
	SentAt time.Time    `json:"sentAt"`
}

// Notifier forwards terminal pipeline events to a webhook URL. Delivery
// is best-effort: failures are logged and counted, never surfaced to
// the pipeline.
type Notifier struct {
	bus    *events.Bus
	url    string
	client *httpclient.Client
	logger *slog.Logger

	sub    *events.Subscription
	cancel context.CancelFunc
	done   chan struct{}

	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewNotifier creates a notifier posting to webhookURL. An empty URL
// yields a disabled notifier whose Start is a no-op.
func NewNotifier(bus *events.Bus, webhookURL string) *Notifier {
	return &Notifier{
		bus:    bus,
		url:    webhookURL,
		client: httpclient.New(httpclient.DefaultConfig()),
		logger: observability.WithComponent(slog.Default(), "notify"),
	}
}

// WithLogger sets the logger for the notifier.
func (n *Notifier) WithLogger(logger *slog.Logger) *Notifier {
	if logger != nil {
		n.logger = observability.WithComponent(logger, "notify")
	}
	return n
}

// WithClient replaces the HTTP client, carrying its retry and breaker
// policy into deliveries.
func (n *Notifier) WithClient(client *httpclient.Client) *Notifier {
	if client != nil {
		n.client = client
	}
	return n
}

// Breaker exposes the delivery circuit breaker for health reporting.
func (n *Notifier) Breaker() *httpclient.CircuitBreaker {
	return n.client.Breaker()
}

// Start attaches a firehose subscription and begins forwarding terminal
// events. Disabled notifiers and repeated calls are no-ops. Start and
// Stop are lifecycle calls, not safe for concurrent use.
func (n *Notifier) Start() {
	if n.url == "" || n.sub != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.sub = n.bus.SubscribeAll()
	n.done = make(chan struct{})
	go n.run(ctx)
	n.logger.Info("webhook notifier started", "url", n.url)
}

// Stop detaches the subscription, abandons any in-flight delivery and
// waits for the forwarding loop to exit.
func (n *Notifier) Stop() {
	if n.sub == nil {
		return
	}
	n.cancel()
	n.bus.Unsubscribe(n.sub)
	<-n.done
	n.sub = nil
	n.logger.Info("webhook notifier stopped",
		"delivered", n.delivered.Load(),
		"failed", n.failed.Load())
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.done)
	for event := range n.sub.Events {
		switch event.Type {
		case events.TypeProcessingComplete, events.TypeProcessingFailed:
			n.deliver(ctx, event)
		}
	}
}

// deliver posts one event. The client retries transient failures and
// opens its breaker on repeated ones; both outcomes land here as a
// single error.
func (n *Notifier) deliver(ctx context.Context, event events.Event) {
	body, err := json.Marshal(Payload{
		Tenant: event.TenantID,
		Event:  event,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		n.failed.Add(1)
		n.logger.Error("encoding webhook payload failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.failed.Add(1)
		n.logger.Error("building webhook request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.failed.Add(1)
		n.logger.Warn("webhook delivery failed",
			"event_type", event.Type,
			"video_id", event.VideoID,
			"error", err)
		return
	}
	// The response body is discarded; only the status matters.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.failed.Add(1)
		n.logger.Warn("webhook rejected event",
			"event_type", event.Type,
			"video_id", event.VideoID,
			"status", resp.StatusCode)
		return
	}

	n.delivered.Add(1)
	n.logger.Debug("webhook delivered",
		"event_type", event.Type,
		"video_id", event.VideoID,
		"status", resp.StatusCode)
}
