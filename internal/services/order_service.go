package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/camellia-shop/api/internal/domain"
	"github.com/camellia-shop/api/internal/payments"
	"github.com/camellia-shop/api/internal/repositories"
)

// CheckoutURLs carries the redirect targets and currency used when creating
// hosted payment sessions.
type CheckoutURLs struct {
	SuccessURL string
	CancelURL  string
	Currency   string
}

// OrderServiceDeps bundles dependencies for the order service.
type OrderServiceDeps struct {
	Pricer      CartPricer
	Engine      CouponEngine
	Orders      repositories.OrderRepository
	Payments    payments.Provider
	Notifier    NotificationDispatcher
	AdminEmails []string
	Checkout    CheckoutURLs
	Clock       func() time.Time
	NewID       func() string
	Logger      Logger
}

type orderService struct {
	pricer      CartPricer
	engine      CouponEngine
	orders      repositories.OrderRepository
	payments    payments.Provider
	notifier    NotificationDispatcher
	adminEmails []string
	checkout    CheckoutURLs
	clock       func() time.Time
	newID       func() string
	logger      Logger
}

// NewOrderService wires the order placement pipeline. Payments and Notifier
// are optional; without them ONLINE orders are persisted but return no
// payment URL, and notifications are skipped.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Pricer == nil {
		return nil, ErrPricerMissing
	}
	if deps.Engine == nil {
		return nil, ErrCouponEngineMissing
	}
	if deps.Orders == nil {
		return nil, ErrOrderRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		pricer:      deps.Pricer,
		engine:      deps.Engine,
		orders:      deps.Orders,
		payments:    deps.Payments,
		notifier:    deps.Notifier,
		adminEmails: deps.AdminEmails,
		checkout:    deps.Checkout,
		clock:       func() time.Time { return clock().UTC() },
		newID:       newID,
		logger:      logger,
	}, nil
}

// PlaceOrder runs pricing, coupon evaluation, the transactional persist, and
// the post-persist side effects. Once the order is durable, notification and
// payment-session failures no longer fail the call.
func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	if s == nil || s.orders == nil {
		return PlaceOrderResult{}, ErrOrderRepositoryMissing
	}
	if err := validatePlaceOrderCommand(cmd); err != nil {
		return PlaceOrderResult{}, err
	}

	cart, err := s.pricer.Price(ctx, cmd.Lines)
	if err != nil {
		if repositories.IsUnavailable(err) {
			return PlaceOrderResult{}, ErrStorageUnavailable
		}
		return PlaceOrderResult{}, err
	}

	var couponApp *repositories.CouponApplication
	discount := decimal.Zero
	total := cart.Total
	var couponID, couponCode string

	if strings.TrimSpace(cmd.CouponCode) != "" {
		eval, err := s.engine.Evaluate(ctx, EvaluateCouponCommand{
			Code:      cmd.CouponCode,
			UserID:    cmd.UserID,
			CartTotal: cart.Total,
			Lines:     couponLinesFromCart(cart),
		})
		if err != nil {
			return PlaceOrderResult{}, err
		}
		discount = eval.Discount
		total = eval.FinalTotal
		couponID = eval.Coupon.ID
		couponCode = eval.Coupon.Code
		couponApp = &repositories.CouponApplication{
			Coupon:   eval.Coupon,
			Discount: eval.Discount,
		}
	}

	now := s.clock()
	order := domain.Order{
		ID:             s.newID(),
		UserID:         cmd.UserID,
		Items:          orderItemsFromCart(cart),
		TotalAmount:    total,
		DiscountAmount: discount,
		CouponID:       couponID,
		CouponCode:     couponCode,
		PaymentMethod:  cmd.PaymentMethod,
		PaymentStatus:  domain.PaymentStatusPending,
		Fulfillment:    domain.FulfillmentStatusPlaced,
		Shipping:       cmd.Shipping,
		Email:          strings.TrimSpace(cmd.Email),
		Phone:          strings.TrimSpace(cmd.Phone),
	}

	created, err := s.orders.CreateOrder(ctx, repositories.CreateOrderRequest{
		Order:  order,
		Coupon: couponApp,
		Now:    now,
	})
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrCouponUsageExhausted):
			return PlaceOrderResult{}, &CouponRejection{Reason: CouponRejectionUsageLimitReached, Message: "coupon usage limit reached"}
		case errors.Is(err, repositories.ErrCouponUserLimitExhausted):
			return PlaceOrderResult{}, &CouponRejection{Reason: CouponRejectionUserLimitReached, Message: "per-user usage limit reached"}
		case errors.Is(err, repositories.ErrCouponInactive):
			return PlaceOrderResult{}, &CouponRejection{Reason: CouponRejectionInactive, Message: "coupon is not active"}
		case repositories.IsUnavailable(err):
			return PlaceOrderResult{}, ErrStorageUnavailable
		}
		return PlaceOrderResult{}, err
	}

	s.logger(ctx, "order.placed", map[string]any{
		"order_id":     created.ID,
		"order_number": created.OrderNumber,
		"user_id":      created.UserID,
		"total":        created.TotalAmount.String(),
		"coupon_code":  created.CouponCode,
	})

	s.dispatchNotifications(ctx, created)

	result := PlaceOrderResult{Order: created}
	if cmd.PaymentMethod == domain.PaymentMethodOnline {
		result.PaymentURL = s.createPaymentSession(ctx, created)
	}
	return result, nil
}

func (s *orderService) dispatchNotifications(ctx context.Context, order domain.Order) {
	if s.notifier == nil {
		return
	}
	if err := ctx.Err(); err != nil {
		return
	}
	snapshot := snapshotFromOrder(order)

	if err := s.notifier.NotifyBuyer(ctx, snapshot); err != nil {
		s.logger(ctx, "order.notify_buyer_failed", map[string]any{
			"order_id": order.ID,
			"error":    err.Error(),
		})
	}
	if len(s.adminEmails) > 0 {
		if err := s.notifier.NotifyAdmins(ctx, snapshot, s.adminEmails); err != nil {
			s.logger(ctx, "order.notify_admins_failed", map[string]any{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}
}

// createPaymentSession requests a hosted checkout session for the order. The
// order is already durable; failures here are logged and the buyer keeps the
// order id with no payment URL.
func (s *orderService) createPaymentSession(ctx context.Context, order domain.Order) string {
	if s.payments == nil {
		return ""
	}
	if err := ctx.Err(); err != nil {
		return ""
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		OrderID:        order.ID,
		Currency:       s.checkout.Currency,
		CustomerEmail:  order.Email,
		SuccessURL:     s.checkout.SuccessURL,
		CancelURL:      s.checkout.CancelURL,
		IdempotencyKey: "checkout-" + order.ID,
		Items:          checkoutItemsFromOrder(order),
	})
	if err != nil {
		s.logger(ctx, "order.payment_session_failed", map[string]any{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return ""
	}
	return session.RedirectURL
}

// checkoutItemsFromOrder converts order lines to integer minor units. When a
// discount applied, the session carries one aggregate item at the final
// total, since the gateway has no per-line discount concept in this flow.
func checkoutItemsFromOrder(order domain.Order) []payments.CheckoutLineItem {
	if order.DiscountAmount.IsPositive() {
		name := fmt.Sprintf("Order #%d", order.OrderNumber)
		if order.CouponCode != "" {
			name = fmt.Sprintf("%s (coupon %s)", name, order.CouponCode)
		}
		return []payments.CheckoutLineItem{{
			Name:     name,
			Quantity: 1,
			Amount:   domain.MinorUnits(order.TotalAmount),
		}}
	}

	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:        item.Name,
			Description: strings.TrimSpace(strings.Join([]string{item.ColorName, item.Size}, " ")),
			SKU:         item.VariantID,
			Quantity:    int64(item.Quantity),
			Amount:      domain.MinorUnits(item.UnitPrice),
		})
	}
	return items
}

// ListOrders returns the caller's orders newest first.
func (s *orderService) ListOrders(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[domain.Order]{}, ErrOrderRepositoryMissing
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, ErrInvalidInput
	}
	page, err := s.orders.ListByUser(ctx, userID, repositories.OrderListFilter{Pager: pager})
	if err != nil {
		if repositories.IsUnavailable(err) {
			return domain.CursorPage[domain.Order]{}, ErrStorageUnavailable
		}
		return domain.CursorPage[domain.Order]{}, err
	}
	return page, nil
}

// GetOrder fetches one order, scoped to its owner. Foreign orders read as
// not found so existence is not leaked.
func (s *orderService) GetOrder(ctx context.Context, userID string, orderID string) (domain.Order, error) {
	if s == nil || s.orders == nil {
		return domain.Order{}, ErrOrderRepositoryMissing
	}
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" || orderID == "" {
		return domain.Order{}, ErrInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		if repositories.IsUnavailable(err) {
			return domain.Order{}, ErrStorageUnavailable
		}
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, ErrOrderNotFound
	}
	return order, nil
}

func validatePlaceOrderCommand(cmd PlaceOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return ErrInvalidInput
	}
	if len(cmd.Lines) == 0 {
		return ErrInvalidInput
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodOnline, domain.PaymentMethodCOD:
	default:
		return ErrInvalidInput
	}
	if strings.TrimSpace(cmd.Shipping.Recipient) == "" || strings.TrimSpace(cmd.Shipping.Line1) == "" {
		return ErrInvalidInput
	}
	return nil
}

func couponLinesFromCart(cart PricedCart) []CouponCartLine {
	lines := make([]CouponCartLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		lines = append(lines, CouponCartLine{
			ProductID: line.Product.ID,
			Category:  line.Product.Category,
		})
	}
	return lines
}

func orderItemsFromCart(cart PricedCart) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		item := domain.OrderItem{
			ProductID: line.Product.ID,
			Name:      line.Product.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			ImageURL:  line.Product.ImageURL,
		}
		if line.Kind == PricedLineVariant && line.Variant != nil {
			item.VariantID = line.Variant.ID
			item.Size = line.Variant.Size.Display()
			if line.Color != nil {
				item.ColorName = line.Color.Name
				if line.Color.ImageURL != "" {
					item.ImageURL = line.Color.ImageURL
				}
			}
		}
		items = append(items, item)
	}
	return items
}

func snapshotFromOrder(order domain.Order) OrderSnapshot {
	items := make([]OrderSnapshotItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderSnapshotItem{
			Name:      item.Name,
			ColorName: item.ColorName,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
			ImageURL:  item.ImageURL,
		})
	}
	return OrderSnapshot{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Email:          order.Email,
		TotalAmount:    order.TotalAmount.String(),
		DiscountAmount: order.DiscountAmount.String(),
		CouponCode:     order.CouponCode,
		PaymentMethod:  string(order.PaymentMethod),
		Items:          items,
		PlacedAt:       order.CreatedAt,
	}
}
