package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product is a catalog entry. Products without variants carry a flat Price;
// variant-backed products price and stock per variant.
type Product struct {
	ID        string
	Name      string
	Category  string
	Active    bool
	Price     *decimal.Decimal
	ImageURL  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Color groups the variants of a product that share a colourway.
type Color struct {
	ID        string
	ProductID string
	Name      string
	ImageURL  string
}

// SizeKind distinguishes single-label sizing from band/cup sizing.
type SizeKind string

const (
	// SizeKindLabel is a single size descriptor such as "M" or "80".
	SizeKindLabel SizeKind = "label"
	// SizeKindBandCup is the two-part band + cup descriptor used by the
	// undergarment category.
	SizeKindBandCup SizeKind = "band_cup"
)

// VariantSize is the size descriptor of a variant, either a single label or a
// band/cup pair.
type VariantSize struct {
	Kind  SizeKind
	Label string
	Band  string
	Cup   string
}

// Display renders the descriptor the way order snapshots and notifications
// present it.
func (s VariantSize) Display() string {
	if s.Kind == SizeKindBandCup {
		return s.Band + s.Cup
	}
	return s.Label
}

// Variant is a purchasable configuration of a product: colour plus size, with
// its own price and stock count. Stock is never negative; price is positive.
type Variant struct {
	ID        string
	ColorID   string
	Size      VariantSize
	Price     decimal.Decimal
	Stock     int
	UpdatedAt time.Time
}

// ResolvedVariant bundles a variant with its colour and owning product, the
// unit the pricing layer works with.
type ResolvedVariant struct {
	Variant Variant
	Color   Color
	Product Product
}

// CartLine is a client-submitted order line. Price and Name echo what the
// client displayed and are advisory only; totals are always recomputed from
// the catalog.
type CartLine struct {
	ProductID string
	VariantID string
	Quantity  int
	Price     decimal.Decimal
	Name      string
}

// PaymentMethod enumerates the supported payment flows.
type PaymentMethod string

const (
	// PaymentMethodOnline routes the buyer through a hosted checkout session.
	PaymentMethodOnline PaymentMethod = "ONLINE"
	// PaymentMethodCOD finalises the order with payment collected on delivery.
	PaymentMethodCOD PaymentMethod = "COD"
)

// PaymentStatus tracks settlement state for an order.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// FulfillmentStatus tracks the order lifecycle after placement. Stock is
// decremented when an order transitions to CONFIRMED, not at placement.
type FulfillmentStatus string

const (
	FulfillmentStatusPlaced    FulfillmentStatus = "PLACED"
	FulfillmentStatusConfirmed FulfillmentStatus = "CONFIRMED"
	FulfillmentStatusShipped   FulfillmentStatus = "SHIPPED"
	FulfillmentStatusDelivered FulfillmentStatus = "DELIVERED"
	FulfillmentStatusCancelled FulfillmentStatus = "CANCELLED"
)

// Address is the shipping destination captured with an order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// OrderItem is a line of a placed order. Unit price and variant descriptors
// are copied at placement so the line renders correctly even if the catalog
// changes later.
type OrderItem struct {
	ProductID string
	VariantID string
	Name      string
	ColorName string
	Size      string
	Quantity  int
	UnitPrice decimal.Decimal
	ImageURL  string
}

// Order is a placed order with its items. Created once, then mutated only by
// fulfillment transitions.
type Order struct {
	ID             string
	OrderNumber    int64
	UserID         string
	Items          []OrderItem
	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	CouponID       string
	CouponCode     string
	PaymentMethod  PaymentMethod
	PaymentStatus  PaymentStatus
	Fulfillment    FulfillmentStatus
	Shipping       Address
	Email          string
	Phone          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DiscountType enumerates how a coupon's value is applied.
type DiscountType string

const (
	// DiscountTypePercentage takes value percent off the cart total.
	DiscountTypePercentage DiscountType = "PERCENTAGE"
	// DiscountTypeFixedAmount takes a flat amount off the cart total.
	DiscountTypeFixedAmount DiscountType = "FIXED_AMOUNT"
)

// Coupon is a named discount rule. Codes are stored upper-cased and looked up
// case-insensitively. UsageCount is maintained by the order write path and is
// never mutated outside of it except by admin correction.
type Coupon struct {
	ID            string
	Code          string
	Description   string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	MinPurchase   *decimal.Decimal
	MaxDiscount   *decimal.Decimal
	UsageLimit    *int
	PerUserLimit  *int
	ValidFrom     time.Time
	ValidUntil    time.Time
	Active        bool
	Categories    []string
	ProductIDs    []string
	UsageCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CouponUsage ties one successful order to the coupon it applied. The
// existence of a row is the sole source of truth for per-user limit checks.
type CouponUsage struct {
	ID        string
	CouponID  string
	UserID    string
	OrderID   string
	Discount  decimal.Decimal
	CreatedAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusError indicates a critical dependency is unavailable.
	HealthStatusError = "error"
)
