package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/camellia-shop/api/internal/services"
)

const (
	// AudienceBuyer marks messages destined for the buyer-facing channel.
	AudienceBuyer = "buyer"
	// AudienceAdmins marks messages destined for the back-office channel.
	AudienceAdmins = "admins"
)

// PubSubDispatcher publishes order notifications to a Pub/Sub topic. Delivery
// workers downstream render the actual emails; the order flow only enqueues.
type PubSubDispatcher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubDispatcher constructs a Pub/Sub backed notification dispatcher.
func NewPubSubDispatcher(topic *pubsub.Topic) (*PubSubDispatcher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification dispatcher: topic is required")
	}
	return &PubSubDispatcher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// NotifyBuyer enqueues the order confirmation for the buyer.
func (d *PubSubDispatcher) NotifyBuyer(ctx context.Context, snapshot services.OrderSnapshot) error {
	return d.publish(ctx, snapshot, AudienceBuyer, nil)
}

// NotifyAdmins enqueues the new-order alert for the back office.
func (d *PubSubDispatcher) NotifyAdmins(ctx context.Context, snapshot services.OrderSnapshot, adminEmails []string) error {
	return d.publish(ctx, snapshot, AudienceAdmins, adminEmails)
}

func (d *PubSubDispatcher) publish(ctx context.Context, snapshot services.OrderSnapshot, audience string, recipients []string) error {
	if d == nil || d.topic == nil {
		return errors.New("pubsub notification dispatcher: not initialised")
	}

	data, err := d.marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal order snapshot: %w", err)
	}

	attrs := map[string]string{
		"audience": audience,
	}
	setAttr(attrs, "orderId", snapshot.OrderID)
	setAttr(attrs, "couponCode", snapshot.CouponCode)
	setAttr(attrs, "paymentMethod", snapshot.PaymentMethod)
	if audience == AudienceBuyer {
		setAttr(attrs, "recipient", snapshot.Email)
	}
	if len(recipients) > 0 {
		attrs["recipients"] = strings.Join(recipients, ",")
	}

	result := d.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

var _ services.NotificationDispatcher = (*PubSubDispatcher)(nil)
