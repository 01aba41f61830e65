package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/camellia-shop/api/internal/domain"
	pfirestore "github.com/camellia-shop/api/internal/platform/firestore"
	"github.com/camellia-shop/api/internal/repositories"
)

const (
	ordersCollection   = "orders"
	countersCollection = "counters"
	orderNumberCounter = "orderNumbers"
)

type orderDocument struct {
	OrderNumber    int64               `firestore:"orderNumber"`
	UserID         string              `firestore:"userId"`
	Items          []orderItemDocument `firestore:"items"`
	TotalAmount    string              `firestore:"totalAmount"`
	DiscountAmount string              `firestore:"discountAmount"`
	CouponID       string              `firestore:"couponId,omitempty"`
	CouponCode     string              `firestore:"couponCode,omitempty"`
	PaymentMethod  string              `firestore:"paymentMethod"`
	PaymentStatus  string              `firestore:"paymentStatus"`
	Fulfillment    string              `firestore:"fulfillmentStatus"`
	Shipping       addressDocument     `firestore:"shippingAddress"`
	Email          string              `firestore:"email,omitempty"`
	Phone          string              `firestore:"phone,omitempty"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	VariantID string `firestore:"variantId,omitempty"`
	Name      string `firestore:"name"`
	ColorName string `firestore:"colorName,omitempty"`
	Size      string `firestore:"size,omitempty"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice string `firestore:"unitPrice"`
	ImageURL  string `firestore:"imageUrl,omitempty"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type orderCounterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// OrderRepository persists orders together with their coupon bookkeeping.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	usage    *pfirestore.Collection[couponUsageDocument]
	coupons  *pfirestore.Collection[couponDocument]
	counters *pfirestore.Collection[orderCounterDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		usage:    pfirestore.NewCollection[couponUsageDocument](provider, couponUsageCollection),
		coupons:  pfirestore.NewCollection[couponDocument](provider, couponsCollection),
		counters: pfirestore.NewCollection[orderCounterDocument](provider, countersCollection),
	}, nil
}

// CreateOrder writes the order, its items, the coupon usage row, and the
// usage-counter increment as one Firestore transaction. The coupon's limits
// are re-checked inside the transaction so racing checkouts cannot push
// usageCount past usageLimit; exhaustion aborts the whole write.
func (r *OrderRepository) CreateOrder(ctx context.Context, req repositories.CreateOrderRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if strings.TrimSpace(order.UserID) == "" {
		return domain.Order{}, errors.New("order repository: user id is required")
	}
	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	orderRef, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	counterRef, err := r.counters.Doc(ctx, orderNumberCounter)
	if err != nil {
		return domain.Order{}, err
	}

	var couponRef *firestore.DocumentRef
	var usageRef *firestore.DocumentRef
	var usageQuery firestore.Query
	if req.Coupon != nil {
		couponRef, err = r.coupons.Doc(ctx, req.Coupon.Coupon.ID)
		if err != nil {
			return domain.Order{}, err
		}
		usageCol, err := r.usage.Ref(ctx)
		if err != nil {
			return domain.Order{}, err
		}
		usageRef = usageCol.NewDoc()
		usageQuery = usageCol.
			Where("couponId", "==", req.Coupon.Coupon.ID).
			Where("userId", "==", order.UserID)
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// All reads precede writes; Firestore enforces this ordering.
		var couponDoc couponDocument
		if req.Coupon != nil {
			snap, err := tx.Get(couponRef)
			if err != nil {
				return err
			}
			couponDoc, err = r.coupons.Decode(snap)
			if err != nil {
				return err
			}
			if !couponDoc.Active {
				return repositories.ErrCouponInactive
			}
			if couponDoc.UsageLimit != nil && couponDoc.UsageCount >= *couponDoc.UsageLimit {
				return repositories.ErrCouponUsageExhausted
			}
			if couponDoc.PerUserLimit != nil {
				used, err := countDocuments(tx, usageQuery)
				if err != nil {
					return err
				}
				if used >= *couponDoc.PerUserLimit {
					return repositories.ErrCouponUserLimitExhausted
				}
			}
		}

		orderNumber, counterDoc, err := nextOrderNumber(tx, counterRef, now)
		if err != nil {
			return err
		}

		order.OrderNumber = orderNumber
		order.CreatedAt = now
		order.UpdatedAt = now

		if err := tx.Create(orderRef, encodeOrderDocument(order)); err != nil {
			return err
		}
		if err := tx.Set(counterRef, counterDoc); err != nil {
			return err
		}

		if req.Coupon != nil {
			if err := tx.Create(usageRef, couponUsageDocument{
				CouponID:  req.Coupon.Coupon.ID,
				UserID:    order.UserID,
				OrderID:   order.ID,
				Discount:  encodeAmount(req.Coupon.Discount),
				CreatedAt: now,
			}); err != nil {
				return err
			}
			if err := tx.Update(couponRef, []firestore.Update{
				{Path: "usageCount", Value: couponDoc.UsageCount + 1},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrCouponInactive),
			errors.Is(err, repositories.ErrCouponUsageExhausted),
			errors.Is(err, repositories.ErrCouponUserLimitExhausted):
			return domain.Order{}, err
		}
		return domain.Order{}, pfirestore.WrapError("orders.create", err)
	}
	return order, nil
}

func nextOrderNumber(tx *firestore.Transaction, ref *firestore.DocumentRef, now time.Time) (int64, orderCounterDocument, error) {
	snap, err := tx.Get(ref)
	switch status.Code(err) {
	case codes.NotFound:
		doc := orderCounterDocument{CurrentValue: 1, UpdatedAt: now}
		return doc.CurrentValue, doc, nil
	case codes.OK:
	default:
		return 0, orderCounterDocument{}, err
	}

	var doc orderCounterDocument
	if err := snap.DataTo(&doc); err != nil {
		return 0, orderCounterDocument{}, fmt.Errorf("decode order counter: %w", err)
	}
	doc.CurrentValue++
	doc.UpdatedAt = now
	return doc.CurrentValue, doc, nil
}

func countDocuments(tx *firestore.Transaction, query firestore.Query) (int, error) {
	iter := tx.Documents(query)
	defer iter.Stop()

	count := 0
	for {
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		count++
	}
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(orderID, doc.Data)
}

// ListByUser returns the user's orders newest first with cursor pagination.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}

	limit := filter.Pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeListToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := decodeOrderDocument(doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		items = append(items, order)
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

// UpdatePaymentStatus transitions the payment state for an order.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, orderID string, paymentStatus domain.PaymentStatus, now time.Time) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	ref, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return err
	}
	updates := []firestore.Update{
		{Path: "paymentStatus", Value: string(paymentStatus)},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("orders.update_payment_status", err)
	}
	return nil
}

func encodeOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			ColorName: item.ColorName,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: encodeAmount(item.UnitPrice),
			ImageURL:  item.ImageURL,
		})
	}
	return orderDocument{
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Items:          items,
		TotalAmount:    encodeAmount(order.TotalAmount),
		DiscountAmount: encodeAmount(order.DiscountAmount),
		CouponID:       order.CouponID,
		CouponCode:     order.CouponCode,
		PaymentMethod:  string(order.PaymentMethod),
		PaymentStatus:  string(order.PaymentStatus),
		Fulfillment:    string(order.Fulfillment),
		Shipping:       encodeAddressDocument(order.Shipping),
		Email:          order.Email,
		Phone:          order.Phone,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
}

func decodeOrderDocument(id string, doc orderDocument) (domain.Order, error) {
	total, err := decodeAmount("order.totalAmount", doc.TotalAmount)
	if err != nil {
		return domain.Order{}, err
	}
	discount, err := decodeAmount("order.discountAmount", doc.DiscountAmount)
	if err != nil {
		return domain.Order{}, err
	}

	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		unitPrice, err := decodeAmount("order.item.unitPrice", item.UnitPrice)
		if err != nil {
			return domain.Order{}, err
		}
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			ColorName: item.ColorName,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: unitPrice,
			ImageURL:  item.ImageURL,
		})
	}

	return domain.Order{
		ID:             id,
		OrderNumber:    doc.OrderNumber,
		UserID:         doc.UserID,
		Items:          items,
		TotalAmount:    total,
		DiscountAmount: discount,
		CouponID:       doc.CouponID,
		CouponCode:     doc.CouponCode,
		PaymentMethod:  domain.PaymentMethod(doc.PaymentMethod),
		PaymentStatus:  domain.PaymentStatus(doc.PaymentStatus),
		Fulfillment:    domain.FulfillmentStatus(doc.Fulfillment),
		Shipping:       decodeAddressDocument(doc.Shipping),
		Email:          doc.Email,
		Phone:          doc.Phone,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}, nil
}

func encodeAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

func decodeAddressDocument(doc addressDocument) domain.Address {
	return domain.Address{
		Recipient:  doc.Recipient,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
	}
}
