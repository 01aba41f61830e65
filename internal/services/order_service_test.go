package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/camellia-shop/api/internal/domain"
	"github.com/camellia-shop/api/internal/payments"
	"github.com/camellia-shop/api/internal/repositories"
)

type stubCartPricer struct {
	priceFunc func(ctx context.Context, lines []domain.CartLine) (PricedCart, error)
}

func (s *stubCartPricer) Price(ctx context.Context, lines []domain.CartLine) (PricedCart, error) {
	if s.priceFunc == nil {
		return PricedCart{}, errors.New("price not stubbed")
	}
	return s.priceFunc(ctx, lines)
}

type stubOrderRepository struct {
	createFunc func(ctx context.Context, req repositories.CreateOrderRequest) (domain.Order, error)
	findFunc   func(ctx context.Context, orderID string) (domain.Order, error)
	listFunc   func(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	updateFunc func(ctx context.Context, orderID string, status domain.PaymentStatus, now time.Time) error
}

func (s *stubOrderRepository) CreateOrder(ctx context.Context, req repositories.CreateOrderRequest) (domain.Order, error) {
	if s.createFunc == nil {
		return domain.Order{}, errors.New("create not stubbed")
	}
	return s.createFunc(ctx, req)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFunc == nil {
		return domain.Order{}, notFoundError()
	}
	return s.findFunc(ctx, orderID)
}

func (s *stubOrderRepository) ListByUser(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("list not stubbed")
	}
	return s.listFunc(ctx, userID, filter)
}

func (s *stubOrderRepository) UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus, now time.Time) error {
	if s.updateFunc == nil {
		return errors.New("update not stubbed")
	}
	return s.updateFunc(ctx, orderID, status, now)
}

type stubPaymentsProvider struct {
	createFunc func(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

func (s *stubPaymentsProvider) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if s.createFunc == nil {
		return payments.CheckoutSession{}, errors.New("create session not stubbed")
	}
	return s.createFunc(ctx, req)
}

type stubNotifier struct {
	buyerFunc  func(ctx context.Context, snapshot OrderSnapshot) error
	adminsFunc func(ctx context.Context, snapshot OrderSnapshot, adminEmails []string) error
}

func (s *stubNotifier) NotifyBuyer(ctx context.Context, snapshot OrderSnapshot) error {
	if s.buyerFunc == nil {
		return nil
	}
	return s.buyerFunc(ctx, snapshot)
}

func (s *stubNotifier) NotifyAdmins(ctx context.Context, snapshot OrderSnapshot, adminEmails []string) error {
	if s.adminsFunc == nil {
		return nil
	}
	return s.adminsFunc(ctx, snapshot, adminEmails)
}

var orderNow = time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC)

func testPricedCart(t *testing.T) PricedCart {
	t.Helper()
	resolved := testResolvedVariant(t, "2450.25", 5)
	variant := resolved.Variant
	color := resolved.Color
	line := PricedLine{
		Kind:      PricedLineVariant,
		Quantity:  2,
		UnitPrice: variant.Price,
		Product:   resolved.Product,
		Variant:   &variant,
		Color:     &color,
	}
	return PricedCart{
		Lines: []PricedLine{line},
		Total: domain.RoundMoney(line.Subtotal()),
	}
}

func testPlaceOrderCommand(method domain.PaymentMethod) PlaceOrderCommand {
	return PlaceOrderCommand{
		UserID: "user-1",
		Email:  "buyer@example.com",
		Lines: []domain.CartLine{
			{ProductID: "prod-1", VariantID: "var-1", Quantity: 2},
		},
		Shipping: domain.Address{
			Recipient:  "A. Buyer",
			Line1:      "1 High Street",
			City:       "Springfield",
			PostalCode: "12345",
			Country:    "GB",
		},
		Phone:         "+44 7700 900000",
		PaymentMethod: method,
	}
}

type orderServiceFixture struct {
	pricer   *stubCartPricer
	engine   *stubCouponEngine
	orders   *stubOrderRepository
	payments *stubPaymentsProvider
	notifier *stubNotifier
}

func newTestOrderService(t *testing.T, f orderServiceFixture) OrderService {
	t.Helper()
	deps := OrderServiceDeps{
		Pricer: f.pricer,
		Engine: f.engine,
		Orders: f.orders,
		Checkout: CheckoutURLs{
			SuccessURL: "https://shop.example/checkout/success",
			CancelURL:  "https://shop.example/checkout/cancel",
			Currency:   "usd",
		},
		AdminEmails: []string{"ops@example.com"},
		Clock:       func() time.Time { return orderNow },
		NewID:       func() string { return "ord-1" },
	}
	if f.payments != nil {
		deps.Payments = f.payments
	}
	if f.notifier != nil {
		deps.Notifier = f.notifier
	}
	service, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}
	return service
}

func TestOrderServicePlaceOrderCOD(t *testing.T) {
	cart := testPricedCart(t)
	pricer := &stubCartPricer{
		priceFunc: func(_ context.Context, lines []domain.CartLine) (PricedCart, error) {
			if len(lines) != 1 {
				t.Fatalf("expected 1 line, got %d", len(lines))
			}
			return cart, nil
		},
	}
	engine := &stubCouponEngine{
		evaluateFunc: func(context.Context, EvaluateCouponCommand) (CouponEvaluation, error) {
			t.Fatal("engine must not run without a coupon code")
			return CouponEvaluation{}, nil
		},
	}
	var created repositories.CreateOrderRequest
	orders := &stubOrderRepository{
		createFunc: func(_ context.Context, req repositories.CreateOrderRequest) (domain.Order, error) {
			created = req
			order := req.Order
			order.OrderNumber = 42
			order.CreatedAt = req.Now
			order.UpdatedAt = req.Now
			return order, nil
		},
	}
	payProvider := &stubPaymentsProvider{
		createFunc: func(context.Context, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
			t.Fatal("payment session must not be created for COD")
			return payments.CheckoutSession{}, nil
		},
	}
	buyerNotified := false
	adminsNotified := false
	notifier := &stubNotifier{
		buyerFunc: func(_ context.Context, snapshot OrderSnapshot) error {
			buyerNotified = true
			if snapshot.OrderID != "ord-1" || snapshot.OrderNumber != 42 {
				t.Fatalf("unexpected snapshot %#v", snapshot)
			}
			if snapshot.TotalAmount != "4900.5" {
				t.Fatalf("expected snapshot total 4900.5, got %s", snapshot.TotalAmount)
			}
			return nil
		},
		adminsFunc: func(_ context.Context, _ OrderSnapshot, adminEmails []string) error {
			adminsNotified = true
			if len(adminEmails) != 1 || adminEmails[0] != "ops@example.com" {
				t.Fatalf("unexpected admin recipients %v", adminEmails)
			}
			return nil
		},
	}

	service := newTestOrderService(t, orderServiceFixture{
		pricer: pricer, engine: engine, orders: orders, payments: payProvider, notifier: notifier,
	})

	result, err := service.PlaceOrder(context.Background(), testPlaceOrderCommand(domain.PaymentMethodCOD))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PaymentURL != "" {
		t.Fatalf("expected no payment URL for COD, got %s", result.PaymentURL)
	}
	if result.Order.OrderNumber != 42 {
		t.Fatalf("expected order number 42, got %d", result.Order.OrderNumber)
	}
	if created.Coupon != nil {
		t.Fatalf("expected no coupon application, got %#v", created.Coupon)
	}
	if created.Order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", created.Order.PaymentStatus)
	}
	if created.Order.Fulfillment != domain.FulfillmentStatusPlaced {
		t.Fatalf("expected placed fulfillment, got %s", created.Order.Fulfillment)
	}
	if got := created.Order.TotalAmount.String(); got != "4900.5" {
		t.Fatalf("expected total 4900.5, got %s", got)
	}
	if len(created.Order.Items) != 1 {
		t.Fatalf("expected 1 order item, got %d", len(created.Order.Items))
	}
	item := created.Order.Items[0]
	if item.VariantID != "var-1" || item.ColorName != "Ivory" || item.Size != "M" {
		t.Fatalf("unexpected denormalised item %#v", item)
	}
	if item.ImageURL != "https://img.example/prod-1-ivory.jpg" {
		t.Fatalf("expected colour image on item, got %s", item.ImageURL)
	}
	if !buyerNotified || !adminsNotified {
		t.Fatalf("expected both notifications, got buyer=%v admins=%v", buyerNotified, adminsNotified)
	}
}

func TestOrderServicePlaceOrderOnlineWithCoupon(t *testing.T) {
	cart := testPricedCart(t)
	pricer := &stubCartPricer{
		priceFunc: func(context.Context, []domain.CartLine) (PricedCart, error) { return cart, nil },
	}
	engine := &stubCouponEngine{
		evaluateFunc: func(_ context.Context, cmd EvaluateCouponCommand) (CouponEvaluation, error) {
			if cmd.Code != "SUMMER10" || cmd.UserID != "user-1" {
				t.Fatalf("unexpected evaluate command %#v", cmd)
			}
			if len(cmd.Lines) != 1 || cmd.Lines[0].ProductID != "prod-1" || cmd.Lines[0].Category != "tops" {
				t.Fatalf("expected resolved cart lines, got %#v", cmd.Lines)
			}
			return CouponEvaluation{
				Coupon:        domain.Coupon{ID: "cpn-1", Code: "SUMMER10"},
				Discount:      money(t, "490.05"),
				OriginalTotal: cart.Total,
				FinalTotal:    money(t, "4410.45"),
			}, nil
		},
	}
	var created repositories.CreateOrderRequest
	orders := &stubOrderRepository{
		createFunc: func(_ context.Context, req repositories.CreateOrderRequest) (domain.Order, error) {
			created = req
			order := req.Order
			order.OrderNumber = 43
			order.CreatedAt = req.Now
			return order, nil
		},
	}
	var sessionReq payments.CheckoutSessionRequest
	payProvider := &stubPaymentsProvider{
		createFunc: func(_ context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
			sessionReq = req
			return payments.CheckoutSession{
				ID:          "sess_1",
				Provider:    "stripe",
				RedirectURL: "https://pay.example/sess_1",
			}, nil
		},
	}

	service := newTestOrderService(t, orderServiceFixture{
		pricer: pricer, engine: engine, orders: orders, payments: payProvider,
	})

	cmd := testPlaceOrderCommand(domain.PaymentMethodOnline)
	cmd.CouponCode = "SUMMER10"
	result, err := service.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PaymentURL != "https://pay.example/sess_1" {
		t.Fatalf("expected payment URL, got %s", result.PaymentURL)
	}

	if created.Coupon == nil || created.Coupon.Coupon.ID != "cpn-1" {
		t.Fatalf("expected coupon application, got %#v", created.Coupon)
	}
	if got := created.Coupon.Discount.String(); got != "490.05" {
		t.Fatalf("expected discount 490.05, got %s", got)
	}
	if got := created.Order.TotalAmount.String(); got != "4410.45" {
		t.Fatalf("expected discounted total 4410.45, got %s", got)
	}
	if created.Order.CouponCode != "SUMMER10" {
		t.Fatalf("expected coupon code on order, got %s", created.Order.CouponCode)
	}

	if sessionReq.OrderID != "ord-1" {
		t.Fatalf("expected session for ord-1, got %s", sessionReq.OrderID)
	}
	if sessionReq.IdempotencyKey != "checkout-ord-1" {
		t.Fatalf("unexpected idempotency key %s", sessionReq.IdempotencyKey)
	}
	if sessionReq.Currency != "usd" {
		t.Fatalf("expected currency usd, got %s", sessionReq.Currency)
	}
	// Discounted orders collapse to a single aggregate line at the final total.
	if len(sessionReq.Items) != 1 {
		t.Fatalf("expected 1 aggregate item, got %d", len(sessionReq.Items))
	}
	if sessionReq.Items[0].Amount != 441045 {
		t.Fatalf("expected 441045 minor units, got %d", sessionReq.Items[0].Amount)
	}
	if sessionReq.Items[0].Quantity != 1 {
		t.Fatalf("expected aggregate quantity 1, got %d", sessionReq.Items[0].Quantity)
	}
}

func TestOrderServicePlaceOrderOnlineWithoutDiscountSendsLineItems(t *testing.T) {
	cart := testPricedCart(t)
	pricer := &stubCartPricer{
		priceFunc: func(context.Context, []domain.CartLine) (PricedCart, error) { return cart, nil },
	}
	orders := &stubOrderRepository{
		createFunc: func(_ context.Context, req repositories.CreateOrderRequest) (domain.Order, error) {
			order := req.Order
			order.OrderNumber = 44
			return order, nil
		},
	}
	var sessionReq payments.CheckoutSessionRequest
	payProvider := &stubPaymentsProvider{
		createFunc: func(_ context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
			sessionReq = req
			return payments.CheckoutSession{RedirectURL: "https://pay.example/sess_2"}, nil
		},
	}

	service := newTestOrderService(t, orderServiceFixture{
		pricer: pricer, engine: &stubCouponEngine{}, orders: orders, payments: payProvider,
	})

	if _, err := service.PlaceOrder(context.Background(), testPlaceOrderCommand(domain.PaymentMethodOnline)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessionReq.Items) != 1 {
		t.Fatalf("expected 1 line item, got %d", len(sessionReq.Items))
	}
	item := sessionReq.Items[0]
	if item.SKU != "var-1" || item.Quantity != 2 {
		t.Fatalf("unexpected line item %#v", item)
	}
	if item.Amount != 245025 {
		t.Fatalf("expected unit amount 245025 minor units, got %d", item.Amount)
	}
}

func TestOrderServicePaymentFailureStillReturnsOrder(t *testing.T) {
	cart := testPricedCart(t)
	pricer := &stubCartPricer{
		priceFunc: func(context.Context, []domain.CartLine) (PricedCart, error) { return cart, nil },
	}
	orders := &stubOrderRepository{
		createFunc: func(_ context.Context, req repositories.CreateOrderRequest) (domain.Order, error) {
			order := req.Order
			order.OrderNumber = 45
			return order, nil
		},
	}
	payProvider := &stubPaymentsProvider{
		createFunc: func(context.Context, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
			return payments.CheckoutSession{}, errors.New("gateway down")
		},
	}

	service := newTestOrderService(t, orderServiceFixture{
		pricer: pricer, engine: &stubCouponEngine{}, orders: orders, payments: payProvider,
	})

	result, err := service.PlaceOrder(context.Background(), testPlaceOrderCommand(domain.PaymentMethodOnline))
	if err != nil {
		t.Fatalf("expected order despite payment failure, got %v", err)
	}
	if result.Order.OrderNumber != 45 {
		t.Fatalf("expected durable order, got %#v", result.Order)
	}
	if result.PaymentURL != "" {
		t.Fatalf("expected empty payment URL, got %s", result.PaymentURL)
	}
}

func TestOrderServiceNotificationFailureTolerated(t *testing.T) {
	cart := testPricedCart(t)
	pricer := &stubCartPricer{
		priceFunc: func(context.Context, []domain.CartLine) (PricedCart, error) { return cart, nil },
	}
	orders := &stubOrderRepository{
		createFunc: func(_ context.Context, req repositories.CreateOrderRequest) (domain.Order, error) {
			return req.Order, nil
		},
	}
	notifier := &stubNotifier{
		buyerFunc: func(context.Context, OrderSnapshot) error { return errors.New("smtp down") },
		adminsFunc: func(context.Context, OrderSnapshot, []string) error {
			return errors.New("topic missing")
		},
	}

	service := newTestOrderService(t, orderServiceFixture{
		pricer: pricer, engine: &stubCouponEngine{}, orders: orders, notifier: notifier,
	})

	if _, err := service.PlaceOrder(context.Background(), testPlaceOrderCommand(domain.PaymentMethodCOD)); err != nil {
		t.Fatalf("expected success despite notification failures, got %v", err)
	}
}

func TestOrderServiceMapsTransactionSentinels(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		reason CouponRejectionReason
	}{
		{name: "global limit", err: repositories.ErrCouponUsageExhausted, reason: CouponRejectionUsageLimitReached},
		{name: "per-user limit", err: repositories.ErrCouponUserLimitExhausted, reason: CouponRejectionUserLimitReached},
		{name: "deactivated mid-flight", err: repositories.ErrCouponInactive, reason: CouponRejectionInactive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cart := testPricedCart(t)
			pricer := &stubCartPricer{
				priceFunc: func(context.Context, []domain.CartLine) (PricedCart, error) { return cart, nil },
			}
			engine := &stubCouponEngine{
				evaluateFunc: func(context.Context, EvaluateCouponCommand) (CouponEvaluation, error) {
					return CouponEvaluation{
						Coupon:     domain.Coupon{ID: "cpn-1", Code: "SUMMER10"},
						Discount:   money(t, "10.00"),
						FinalTotal: cart.Total.Sub(money(t, "10.00")),
					}, nil
				},
			}
			orders := &stubOrderRepository{
				createFunc: func(context.Context, repositories.CreateOrderRequest) (domain.Order, error) {
					return domain.Order{}, tc.err
				},
			}
			service := newTestOrderService(t, orderServiceFixture{
				pricer: pricer, engine: engine, orders: orders,
			})

			cmd := testPlaceOrderCommand(domain.PaymentMethodCOD)
			cmd.CouponCode = "SUMMER10"
			_, err := service.PlaceOrder(context.Background(), cmd)
			expectRejection(t, err, tc.reason)
		})
	}
}

func TestOrderServicePlaceOrderValidation(t *testing.T) {
	service := newTestOrderService(t, orderServiceFixture{
		pricer: &stubCartPricer{}, engine: &stubCouponEngine{}, orders: &stubOrderRepository{},
	})

	cases := []struct {
		name   string
		mutate func(cmd *PlaceOrderCommand)
	}{
		{name: "missing user", mutate: func(cmd *PlaceOrderCommand) { cmd.UserID = "" }},
		{name: "empty cart", mutate: func(cmd *PlaceOrderCommand) { cmd.Lines = nil }},
		{name: "unknown payment method", mutate: func(cmd *PlaceOrderCommand) { cmd.PaymentMethod = "CHEQUE" }},
		{name: "missing recipient", mutate: func(cmd *PlaceOrderCommand) { cmd.Shipping.Recipient = "" }},
		{name: "missing address line", mutate: func(cmd *PlaceOrderCommand) { cmd.Shipping.Line1 = " " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := testPlaceOrderCommand(domain.PaymentMethodCOD)
			tc.mutate(&cmd)
			if _, err := service.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestOrderServiceGetOrderScopedToOwner(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "someone-else"}, nil
		},
	}
	service := newTestOrderService(t, orderServiceFixture{
		pricer: &stubCartPricer{}, engine: &stubCouponEngine{}, orders: orders,
	})

	if _, err := service.GetOrder(context.Background(), "user-1", "ord-9"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign order, got %v", err)
	}
}

func TestOrderServiceListOrders(t *testing.T) {
	orders := &stubOrderRepository{
		listFunc: func(_ context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			if userID != "user-1" || filter.Pager.PageSize != 10 {
				t.Fatalf("unexpected list call %s %#v", userID, filter)
			}
			return domain.CursorPage[domain.Order]{
				Items:         []domain.Order{{ID: "ord-2"}, {ID: "ord-1"}},
				NextPageToken: "tok",
			}, nil
		},
	}
	service := newTestOrderService(t, orderServiceFixture{
		pricer: &stubCartPricer{}, engine: &stubCouponEngine{}, orders: orders,
	})

	page, err := service.ListOrders(context.Background(), "user-1", domain.Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 2 || page.NextPageToken != "tok" {
		t.Fatalf("unexpected page %#v", page)
	}
}
