//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/camellia-shop/api/internal/domain"
	pconfig "github.com/camellia-shop/api/internal/platform/config"
	pfirestore "github.com/camellia-shop/api/internal/platform/firestore"
	"github.com/camellia-shop/api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "orders-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	orderRepo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}
	couponRepo, err := NewCouponRepository(provider)
	if err != nil {
		t.Fatalf("new coupon repository: %v", err)
	}
	usageRepo, err := NewCouponUsageRepository(provider)
	if err != nil {
		t.Fatalf("new coupon usage repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)

	t.Run("AssignsSequentialOrderNumbers", func(t *testing.T) {
		first, err := orderRepo.CreateOrder(ctx, repositories.CreateOrderRequest{
			Order: testOrder("ord_seq_1", "u_seq"),
			Now:   now,
		})
		if err != nil {
			t.Fatalf("create first order: %v", err)
		}
		second, err := orderRepo.CreateOrder(ctx, repositories.CreateOrderRequest{
			Order: testOrder("ord_seq_2", "u_seq"),
			Now:   now.Add(time.Second),
		})
		if err != nil {
			t.Fatalf("create second order: %v", err)
		}
		if second.OrderNumber != first.OrderNumber+1 {
			t.Fatalf("expected consecutive order numbers, got %d then %d", first.OrderNumber, second.OrderNumber)
		}

		stored, err := orderRepo.FindByID(ctx, "ord_seq_1")
		if err != nil {
			t.Fatalf("find order: %v", err)
		}
		if stored.TotalAmount.String() != "120.5" {
			t.Fatalf("unexpected stored total %s", stored.TotalAmount.String())
		}
		if len(stored.Items) != 1 || stored.Items[0].Quantity != 2 {
			t.Fatalf("unexpected stored items %+v", stored.Items)
		}
	})

	t.Run("CouponWriteIsAtomic", func(t *testing.T) {
		coupon := testCoupon("cpn_atomic", "ATOMIC10", now)
		if err := couponRepo.Insert(ctx, coupon); err != nil {
			t.Fatalf("insert coupon: %v", err)
		}

		order := testOrder("ord_atomic_1", "u_atomic")
		order.CouponID = coupon.ID
		order.CouponCode = coupon.Code
		order.DiscountAmount = decimal.RequireFromString("12.05")

		if _, err := orderRepo.CreateOrder(ctx, repositories.CreateOrderRequest{
			Order: order,
			Coupon: &repositories.CouponApplication{
				Coupon:   coupon,
				Discount: order.DiscountAmount,
			},
			Now: now,
		}); err != nil {
			t.Fatalf("create order with coupon: %v", err)
		}

		stored, err := couponRepo.FindByID(ctx, coupon.ID)
		if err != nil {
			t.Fatalf("find coupon: %v", err)
		}
		if stored.UsageCount != 1 {
			t.Fatalf("expected usage count 1, got %d", stored.UsageCount)
		}
		used, err := usageRepo.CountByUser(ctx, coupon.ID, "u_atomic")
		if err != nil {
			t.Fatalf("count usage: %v", err)
		}
		if used != 1 {
			t.Fatalf("expected one usage row, got %d", used)
		}
	})

	t.Run("GlobalLimitHoldsUnderConcurrency", func(t *testing.T) {
		const workers = 8
		const limit = 5

		coupon := testCoupon("cpn_race", "RACE5", now)
		coupon.UsageLimit = intPtr(limit)
		if err := couponRepo.Insert(ctx, coupon); err != nil {
			t.Fatalf("insert coupon: %v", err)
		}

		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				order := testOrder(fmt.Sprintf("ord_race_%d", i), fmt.Sprintf("u_race_%d", i))
				order.CouponID = coupon.ID
				order.CouponCode = coupon.Code
				_, errs[i] = orderRepo.CreateOrder(ctx, repositories.CreateOrderRequest{
					Order: order,
					Coupon: &repositories.CouponApplication{
						Coupon:   coupon,
						Discount: decimal.RequireFromString("5"),
					},
					Now: now,
				})
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for i, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			if !errors.Is(err, repositories.ErrCouponUsageExhausted) {
				t.Fatalf("worker %d: expected usage exhausted, got %v", i, err)
			}
		}
		if succeeded != limit {
			t.Fatalf("expected exactly %d orders, got %d", limit, succeeded)
		}

		stored, err := couponRepo.FindByID(ctx, coupon.ID)
		if err != nil {
			t.Fatalf("find coupon: %v", err)
		}
		if stored.UsageCount != limit {
			t.Fatalf("expected usage count %d, got %d", limit, stored.UsageCount)
		}

		numbers := make(map[int64]string)
		for i, err := range errs {
			if err != nil {
				continue
			}
			order, err := orderRepo.FindByID(ctx, fmt.Sprintf("ord_race_%d", i))
			if err != nil {
				t.Fatalf("find race order %d: %v", i, err)
			}
			if other, dup := numbers[order.OrderNumber]; dup {
				t.Fatalf("order number %d assigned to both %s and %s", order.OrderNumber, other, order.ID)
			}
			numbers[order.OrderNumber] = order.ID
		}
	})

	t.Run("PerUserLimitBlocksRepeatUse", func(t *testing.T) {
		coupon := testCoupon("cpn_peruser", "ONEPER", now)
		coupon.PerUserLimit = intPtr(1)
		if err := couponRepo.Insert(ctx, coupon); err != nil {
			t.Fatalf("insert coupon: %v", err)
		}

		for attempt, orderID := range []string{"ord_peruser_1", "ord_peruser_2"} {
			order := testOrder(orderID, "u_repeat")
			order.CouponID = coupon.ID
			order.CouponCode = coupon.Code
			_, err := orderRepo.CreateOrder(ctx, repositories.CreateOrderRequest{
				Order: order,
				Coupon: &repositories.CouponApplication{
					Coupon:   coupon,
					Discount: decimal.RequireFromString("5"),
				},
				Now: now.Add(time.Duration(attempt) * time.Second),
			})
			switch attempt {
			case 0:
				if err != nil {
					t.Fatalf("first use should succeed: %v", err)
				}
			case 1:
				if !errors.Is(err, repositories.ErrCouponUserLimitExhausted) {
					t.Fatalf("expected per-user limit error, got %v", err)
				}
			}
		}

		if _, err := orderRepo.FindByID(ctx, "ord_peruser_2"); !repositories.IsNotFound(err) {
			t.Fatalf("rejected order must not be persisted, got %v", err)
		}
	})

	t.Run("InactiveCouponAbortsOrder", func(t *testing.T) {
		coupon := testCoupon("cpn_dead", "DEAD10", now)
		coupon.Active = false
		if err := couponRepo.Insert(ctx, coupon); err != nil {
			t.Fatalf("insert coupon: %v", err)
		}

		order := testOrder("ord_dead_1", "u_dead")
		order.CouponID = coupon.ID
		_, err := orderRepo.CreateOrder(ctx, repositories.CreateOrderRequest{
			Order: order,
			Coupon: &repositories.CouponApplication{
				Coupon:   coupon,
				Discount: decimal.RequireFromString("5"),
			},
			Now: now,
		})
		if !errors.Is(err, repositories.ErrCouponInactive) {
			t.Fatalf("expected inactive coupon error, got %v", err)
		}
	})

	t.Run("ListByUserPaginates", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			order := testOrder(fmt.Sprintf("ord_list_%d", i), "u_list")
			if _, err := orderRepo.CreateOrder(ctx, repositories.CreateOrderRequest{
				Order: order,
				Now:   now.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				t.Fatalf("create order %d: %v", i, err)
			}
		}

		page, err := orderRepo.ListByUser(ctx, "u_list", repositories.OrderListFilter{
			Pager: domain.Pagination{PageSize: 2},
		})
		if err != nil {
			t.Fatalf("list first page: %v", err)
		}
		if len(page.Items) != 2 {
			t.Fatalf("expected 2 items, got %d", len(page.Items))
		}
		if page.Items[0].ID != "ord_list_2" {
			t.Fatalf("expected newest order first, got %s", page.Items[0].ID)
		}
		if page.NextPageToken == "" {
			t.Fatalf("expected a next page token")
		}

		rest, err := orderRepo.ListByUser(ctx, "u_list", repositories.OrderListFilter{
			Pager: domain.Pagination{PageSize: 2, PageToken: page.NextPageToken},
		})
		if err != nil {
			t.Fatalf("list second page: %v", err)
		}
		if len(rest.Items) != 1 || rest.Items[0].ID != "ord_list_0" {
			t.Fatalf("unexpected second page %+v", rest.Items)
		}
		if rest.NextPageToken != "" {
			t.Fatalf("expected empty token on final page, got %q", rest.NextPageToken)
		}
	})

	t.Run("UpdatePaymentStatus", func(t *testing.T) {
		if _, err := orderRepo.CreateOrder(ctx, repositories.CreateOrderRequest{
			Order: testOrder("ord_pay_1", "u_pay"),
			Now:   now,
		}); err != nil {
			t.Fatalf("create order: %v", err)
		}
		if err := orderRepo.UpdatePaymentStatus(ctx, "ord_pay_1", domain.PaymentStatusPaid, now.Add(time.Minute)); err != nil {
			t.Fatalf("update payment status: %v", err)
		}
		stored, err := orderRepo.FindByID(ctx, "ord_pay_1")
		if err != nil {
			t.Fatalf("find order: %v", err)
		}
		if stored.PaymentStatus != domain.PaymentStatusPaid {
			t.Fatalf("expected PAID, got %s", stored.PaymentStatus)
		}
	})
}

func testOrder(id, userID string) domain.Order {
	return domain.Order{
		ID:     id,
		UserID: userID,
		Items: []domain.OrderItem{
			{
				ProductID: "prod_001",
				VariantID: "var_001",
				Name:      "Silk Camisole",
				ColorName: "Ivory",
				Size:      "M",
				Quantity:  2,
				UnitPrice: decimal.RequireFromString("60.25"),
			},
		},
		TotalAmount:    decimal.RequireFromString("120.50"),
		DiscountAmount: decimal.Zero,
		PaymentMethod:  domain.PaymentMethodCOD,
		PaymentStatus:  domain.PaymentStatusPending,
		Fulfillment:    domain.FulfillmentStatusPlaced,
		Shipping: domain.Address{
			Recipient:  "A. Buyer",
			Line1:      "1 High Street",
			City:       "Springfield",
			PostalCode: "12345",
			Country:    "GB",
		},
		Email: "buyer@example.com",
	}
}

func testCoupon(id, code string, now time.Time) domain.Coupon {
	return domain.Coupon{
		ID:            id,
		Code:          code,
		DiscountType:  domain.DiscountTypeFixedAmount,
		DiscountValue: decimal.RequireFromString("5"),
		ValidFrom:     now.Add(-time.Hour),
		ValidUntil:    now.Add(24 * time.Hour),
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func intPtr(v int) *int { return &v }

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
