// Package webhook delivers signed event payloads to subscribed
// endpoints. Delivery runs post-commit off the event bus, so a slow or
// failing endpoint can never roll back the mutation that triggered it.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/memvault/memvault/internal/event"
	"github.com/memvault/memvault/internal/model"
)

// DefaultTimeout bounds each delivery attempt.
const DefaultTimeout = 5 * time.Second

// requiredFields lists the keys a payload must carry per event. An
// incomplete payload is skipped rather than delivered half-empty.
var requiredFields = map[string][]string{
	model.EventEntryCreated:   {"entry_id"},
	model.EventEntryUpdated:   {"entry_id"},
	model.EventEntryDeleted:   {"entry_id"},
	model.EventConsentCreated: {"consent_id", "agent_identifier"},
	model.EventConsentRevoked: {"consent_id", "agent_identifier"},
}

// SubscriptionStore is the store surface the dispatcher needs.
type SubscriptionStore interface {
	ActiveSubscriptionsForEvent(ctx context.Context, event string) ([]model.WebhookSubscription, error)
	MarkSubscriptionSuccess(ctx context.Context, id int64) error
	MarkSubscriptionFailure(ctx context.Context, id int64, message string) (*model.WebhookSubscription, error)
}

// Dispatcher pushes signed webhook payloads to subscribed endpoints.
type Dispatcher struct {
	subs   SubscriptionStore
	client *http.Client
	log    *logrus.Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher. timeout <= 0 uses DefaultTimeout.
func NewDispatcher(subs SubscriptionStore, timeout time.Duration, log *logrus.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		subs:   subs,
		client: &http.Client{Timeout: timeout},
		log:    log,
		now:    time.Now,
	}
}

// HandleEvent implements event.Handler.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev event.Event) {
	d.Dispatch(ctx, ev.Name(), ev.Data())
}

// Dispatch delivers one event to every active subscription registered
// for it. Failures are isolated per subscription: each is recorded on
// its own row and never interrupts the others.
func (d *Dispatcher) Dispatch(ctx context.Context, eventName string, data map[string]interface{}) {
	subscriptions, err := d.subs.ActiveSubscriptionsForEvent(ctx, eventName)
	if err != nil {
		d.log.WithError(err).WithField("event", eventName).Error("load webhook subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}
	if !hasRequiredFields(eventName, data) {
		d.log.WithField("event", eventName).Debug("skipping webhook dispatch, incomplete payload")
		return
	}

	payload := make(map[string]interface{}, len(data)+2)
	payload["event"] = eventName
	payload["ts"] = d.now().UTC().Format(time.RFC3339Nano)
	for k, v := range data {
		payload[k] = v
	}

	for _, sub := range subscriptions {
		if err := d.deliver(ctx, sub, payload); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"event":           eventName,
				"subscription_id": sub.ID,
			}).Warn("webhook delivery failed")
			if _, markErr := d.subs.MarkSubscriptionFailure(ctx, sub.ID, err.Error()); markErr != nil {
				d.log.WithError(markErr).WithField("subscription_id", sub.ID).Error("record webhook failure")
			}
			continue
		}
		if err := d.subs.MarkSubscriptionSuccess(ctx, sub.ID); err != nil {
			d.log.WithError(err).WithField("subscription_id", sub.ID).Error("record webhook success")
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sub model.WebhookSubscription, payload map[string]interface{}) error {
	signed, err := SignPayload(sub.Secret, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(signed)
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", sub.TargetURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// SignPayload returns a copy of payload carrying a "signature" field:
// the HMAC-SHA256 hex digest of the payload's compact sorted-key JSON
// encoding, keyed by the subscription secret.
func SignPayload(secret string, payload map[string]interface{}) (map[string]interface{}, error) {
	serialized, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serialize webhook payload: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(serialized)

	signed := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		signed[k] = v
	}
	signed["signature"] = hex.EncodeToString(mac.Sum(nil))
	return signed, nil
}

func hasRequiredFields(eventName string, data map[string]interface{}) bool {
	for _, key := range requiredFields[eventName] {
		if v, ok := data[key]; !ok || v == nil {
			return false
		}
	}
	return true
}
