package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/camellia-shop/api/internal/services"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "order-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return srv, topic
}

func testSnapshot() services.OrderSnapshot {
	return services.OrderSnapshot{
		OrderID:        "ord-1",
		OrderNumber:    42,
		UserID:         "user-1",
		Email:          "buyer@example.com",
		TotalAmount:    "4410.45",
		DiscountAmount: "490.05",
		CouponCode:     "SUMMER10",
		PaymentMethod:  "ONLINE",
		Items: []services.OrderSnapshotItem{
			{Name: "Silk Camisole", ColorName: "Ivory", Size: "M", Quantity: 2, UnitPrice: "2450.25"},
		},
		PlacedAt: time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestPubSubDispatcherNotifyBuyer(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t)

	dispatcher, err := NewPubSubDispatcher(topic)
	if err != nil {
		t.Fatalf("NewPubSubDispatcher: %v", err)
	}

	if err := dispatcher.NotifyBuyer(ctx, testSnapshot()); err != nil {
		t.Fatalf("NotifyBuyer: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderSnapshot
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != "ord-1" || payload.OrderNumber != 42 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.TotalAmount != "4410.45" {
		t.Fatalf("expected total 4410.45, got %s", payload.TotalAmount)
	}

	attrs := messages[0].Attributes
	if attrs["audience"] != AudienceBuyer {
		t.Fatalf("expected buyer audience, got %q", attrs["audience"])
	}
	if attrs["recipient"] != "buyer@example.com" {
		t.Fatalf("expected buyer recipient attribute, got %q", attrs["recipient"])
	}
	if attrs["couponCode"] != "SUMMER10" {
		t.Fatalf("expected coupon attribute, got %q", attrs["couponCode"])
	}
	if _, ok := attrs["recipients"]; ok {
		t.Fatalf("buyer message should not carry admin recipients")
	}
}

func TestPubSubDispatcherNotifyAdmins(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t)

	dispatcher, err := NewPubSubDispatcher(topic)
	if err != nil {
		t.Fatalf("NewPubSubDispatcher: %v", err)
	}

	admins := []string{"ops@example.com", "owner@example.com"}
	if err := dispatcher.NotifyAdmins(ctx, testSnapshot(), admins); err != nil {
		t.Fatalf("NotifyAdmins: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	attrs := messages[0].Attributes
	if attrs["audience"] != AudienceAdmins {
		t.Fatalf("expected admins audience, got %q", attrs["audience"])
	}
	if attrs["recipients"] != "ops@example.com,owner@example.com" {
		t.Fatalf("unexpected recipients %q", attrs["recipients"])
	}
	if _, ok := attrs["recipient"]; ok {
		t.Fatalf("admin message should not carry the buyer recipient")
	}
}

func TestPubSubDispatcherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubDispatcher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
