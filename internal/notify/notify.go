// Package notify turns newly recorded hits into outbound notifications.
// The scheduler publishes a hit.created event only when the store reports
// the insert actually created a row, so consumers see each hit at most once.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/shift6/quotewatch/internal/queue/streams"
	"github.com/shift6/quotewatch/models"
)

const (
	// StreamHitCreated is the redis stream carrying hit events.
	StreamHitCreated = "quotewatch.hits"
	// EventHitCreated is the envelope event type for a new hit.
	EventHitCreated = "hit.created"
	// PayloadVersion versions the hit event payload.
	PayloadVersion = "v1"

	// DispatchGroup is the consumer group the dispatcher reads with.
	DispatchGroup = "notifiers"
)

// EventPublisher is the stream-publishing capability the notifier needs.
type EventPublisher interface {
	PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

// Notifier publishes hit.created events. Publishing is best effort: a dead
// broker is logged and the cycle continues.
type Notifier struct {
	pub    EventPublisher
	logger *log.Logger
}

func NewNotifier(pub EventPublisher, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Notifier{pub: pub, logger: logger}
}

// HitCreated announces a newly inserted hit.
func (n *Notifier) HitCreated(ctx context.Context, hit models.Hit) {
	if n == nil || n.pub == nil {
		return
	}
	if _, err := n.pub.PublishRaw(ctx, StreamHitCreated, EventHitCreated, PayloadVersion, hit, streams.WithMaxLenApprox(10000)); err != nil {
		n.logger.Printf("[NOTIFY] publish hit %s: %v", hit.ID, err)
	}
}

// Sender delivers one hit notification to the configured recipients.
type Sender interface {
	Send(ctx context.Context, recipients []string, hit models.Hit) error
}

// WebhookSender posts the hit as JSON to a single webhook endpoint.
// Recipients are carried in the payload for the receiving side to route.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (w *WebhookSender) Send(ctx context.Context, recipients []string, hit models.Hit) error {
	payload := map[string]interface{}{
		"recipients": recipients,
		"hit":        hit,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EventConsumer is the stream-reading capability the dispatcher needs.
type EventConsumer interface {
	Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
}

// Dispatcher consumes hit.created events and forwards them through the
// Sender. Delivery failures are logged and the message acked anyway; a
// notification is attempted at most once.
type Dispatcher struct {
	consumer   EventConsumer
	sender     Sender
	recipients []string
	logger     *log.Logger
}

func NewDispatcher(consumer EventConsumer, sender Sender, recipients []string, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{consumer: consumer, sender: sender, recipients: recipients, logger: logger}
}

// Start loops until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msgs, err := d.consumer.Read(ctx, StreamHitCreated, streams.WithBlock(5*time.Second), streams.WithCount(16))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Printf("[NOTIFY] read stream: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			d.dispatch(ctx, msg)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg streams.Message) {
	defer func() {
		if err := d.consumer.Ack(ctx, StreamHitCreated, msg.ID); err != nil {
			d.logger.Printf("[NOTIFY] ack %s: %v", msg.ID, err)
		}
	}()

	if msg.Envelope.EventType != EventHitCreated {
		return
	}
	var hit models.Hit
	if err := json.Unmarshal(msg.Envelope.Data, &hit); err != nil {
		d.logger.Printf("[NOTIFY] decode hit event %s: %v", msg.Envelope.EventID, err)
		return
	}
	if d.sender == nil {
		return
	}
	if err := d.sender.Send(ctx, d.recipients, hit); err != nil {
		d.logger.Printf("[NOTIFY] deliver hit %s: %v", hit.ID, err)
		return
	}
	d.logger.Printf("[NOTIFY] delivered hit %s (%s)", hit.ID, hit.Domain)
}
