package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/camellia-shop/api/internal/domain"
)

var (
	// ErrCatalogRepositoryMissing signals a service was constructed without its catalog dependency.
	ErrCatalogRepositoryMissing = errors.New("services: catalog repository is required")
	// ErrCouponRepositoryMissing signals a service was constructed without its coupon dependency.
	ErrCouponRepositoryMissing = errors.New("services: coupon repository is required")
	// ErrUsageRepositoryMissing signals a service was constructed without its usage dependency.
	ErrUsageRepositoryMissing = errors.New("services: coupon usage repository is required")
	// ErrOrderRepositoryMissing signals a service was constructed without its order dependency.
	ErrOrderRepositoryMissing = errors.New("services: order repository is required")
	// ErrPricerMissing signals the order service was constructed without a cart pricer.
	ErrPricerMissing = errors.New("services: cart pricer is required")
	// ErrCouponEngineMissing signals the order service was constructed without a coupon engine.
	ErrCouponEngineMissing = errors.New("services: coupon engine is required")

	// ErrInvalidInput reports a malformed command.
	ErrInvalidInput = errors.New("services: invalid input")
	// ErrCouponNotFound reports an unknown coupon ID on the admin surface.
	ErrCouponNotFound = errors.New("services: coupon not found")
	// ErrCouponCodeTaken reports a create with a code that already exists.
	ErrCouponCodeTaken = errors.New("services: coupon code already exists")
	// ErrOrderNotFound reports an unknown or foreign order.
	ErrOrderNotFound = errors.New("services: order not found")
	// ErrStorageUnavailable reports a transient persistence failure.
	ErrStorageUnavailable = errors.New("services: storage unavailable")
)

// Logger is the logging callback injected into services so they stay free of
// any concrete logging dependency.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CartPricer resolves authoritative prices and stock for a submitted cart.
type CartPricer interface {
	Price(ctx context.Context, lines []domain.CartLine) (PricedCart, error)
}

// CouponEngine evaluates a coupon against a cart. It is stateless: the same
// inputs yield the same result whether called for preview or at order time.
type CouponEngine interface {
	Evaluate(ctx context.Context, cmd EvaluateCouponCommand) (CouponEvaluation, error)
}

// CouponService exposes the preview surface and admin CRUD for coupons.
type CouponService interface {
	Validate(ctx context.Context, cmd EvaluateCouponCommand) (CouponEvaluation, error)
	CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (domain.Coupon, error)
	UpdateCoupon(ctx context.Context, couponID string, cmd UpsertCouponCommand) (domain.Coupon, error)
	GetCoupon(ctx context.Context, couponID string) (domain.Coupon, error)
	ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)
	DeleteCoupon(ctx context.Context, couponID string) (CouponDeleteResult, error)
	ListCouponUsage(ctx context.Context, couponID string, pager domain.Pagination) (domain.CursorPage[domain.CouponUsage], error)
}

// OrderService turns validated carts into durable orders.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error)
	ListOrders(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	GetOrder(ctx context.Context, userID string, orderID string) (domain.Order, error)
}

// NotificationDispatcher sends buyer and admin order notifications. Both
// calls take a flattened snapshot so the dispatcher never re-queries the
// catalog; failures are logged by the caller and never fail the order.
type NotificationDispatcher interface {
	NotifyBuyer(ctx context.Context, snapshot OrderSnapshot) error
	NotifyAdmins(ctx context.Context, snapshot OrderSnapshot, adminEmails []string) error
}

// LineRejectionReason is the stable machine-readable code for a cart line failure.
type LineRejectionReason string

const (
	LineRejectionInvalidQuantity   LineRejectionReason = "INVALID_QUANTITY"
	LineRejectionProductNotFound   LineRejectionReason = "PRODUCT_NOT_FOUND"
	LineRejectionVariantNotFound   LineRejectionReason = "VARIANT_NOT_FOUND"
	LineRejectionInactiveProduct   LineRejectionReason = "INACTIVE_PRODUCT"
	LineRejectionInsufficientStock LineRejectionReason = "INSUFFICIENT_STOCK"
)

// LineRejection reports the first cart line that failed validation. Any line
// rejection aborts the whole cart; partial orders are never created.
type LineRejection struct {
	Line      int
	ProductID string
	VariantID string
	Reason    LineRejectionReason
}

func (e *LineRejection) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("cart line %d rejected: %s", e.Line, e.Reason)
}

// PricedLineKind tags which pricing path produced a line.
type PricedLineKind string

const (
	// PricedLineBaseProduct is a line priced from the product's flat price.
	PricedLineBaseProduct PricedLineKind = "base_product"
	// PricedLineVariant is a line priced from a specific variant.
	PricedLineVariant PricedLineKind = "variant"
)

// PricedLine is a cart line with its authoritative price resolved. Variant
// and Color are set only for PricedLineVariant.
type PricedLine struct {
	Kind      PricedLineKind
	Quantity  int
	UnitPrice decimal.Decimal
	Product   domain.Product
	Variant   *domain.Variant
	Color     *domain.Color
}

// Subtotal returns unit price times quantity.
func (l PricedLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// PricedCart is the validated cart with its recomputed total.
type PricedCart struct {
	Lines []PricedLine
	Total decimal.Decimal
}

// CouponRejectionReason enumerates the nine ordered coupon failure codes.
type CouponRejectionReason string

const (
	CouponRejectionNotFound          CouponRejectionReason = "NOT_FOUND"
	CouponRejectionInactive          CouponRejectionReason = "INACTIVE"
	CouponRejectionNotYetValid       CouponRejectionReason = "NOT_YET_VALID"
	CouponRejectionExpired           CouponRejectionReason = "EXPIRED"
	CouponRejectionUsageLimitReached CouponRejectionReason = "USAGE_LIMIT_REACHED"
	CouponRejectionUserLimitReached  CouponRejectionReason = "USER_LIMIT_REACHED"
	CouponRejectionMinPurchaseNotMet CouponRejectionReason = "MIN_PURCHASE_NOT_MET"
	CouponRejectionInvalidCategory   CouponRejectionReason = "INVALID_CATEGORY"
	CouponRejectionInvalidProduct    CouponRejectionReason = "INVALID_PRODUCT"
)

// CouponRejection is the typed failure returned by the coupon engine.
// Required and Current are set for MIN_PURCHASE_NOT_MET so the client can
// show the shortfall.
type CouponRejection struct {
	Reason   CouponRejectionReason
	Message  string
	Required *decimal.Decimal
	Current  *decimal.Decimal
}

func (e *CouponRejection) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("coupon rejected: %s: %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("coupon rejected: %s", e.Reason)
}

// CouponCartLine carries the category/product membership the engine scopes
// allow-lists against.
type CouponCartLine struct {
	ProductID string
	Category  string
}

// EvaluateCouponCommand is the engine input, identical for preview and
// order-time evaluation.
type EvaluateCouponCommand struct {
	Code      string
	UserID    string
	CartTotal decimal.Decimal
	Lines     []CouponCartLine
}

// CouponEvaluation is a successful engine result.
type CouponEvaluation struct {
	Coupon        domain.Coupon
	Discount      decimal.Decimal
	OriginalTotal decimal.Decimal
	FinalTotal    decimal.Decimal
}

// UpsertCouponCommand carries the admin-editable coupon fields.
type UpsertCouponCommand struct {
	Code          string
	Description   string
	DiscountType  domain.DiscountType
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
}

// CouponListFilter narrows admin coupon listings.
type CouponListFilter struct {
	ActiveOnly bool
	Pager      domain.Pagination
}

// CouponDeleteResult reports whether the coupon was deleted outright or
// soft-deactivated because usage history exists.
type CouponDeleteResult struct {
	Deleted     bool
	Deactivated bool
}

// PlaceOrderCommand is the order-placement input assembled by the handler.
type PlaceOrderCommand struct {
	UserID        string
	Email         string
	Lines         []domain.CartLine
	Shipping      domain.Address
	Phone         string
	PaymentMethod domain.PaymentMethod
	CouponCode    string
}

// PlaceOrderResult returns the durable order plus, for online payment, the
// hosted checkout redirect. PaymentURL is empty for COD and when session
// creation failed after the order persisted.
type PlaceOrderResult struct {
	Order      domain.Order
	PaymentURL string
}

// OrderSnapshotItem is one fully resolved line of a notification snapshot.
type OrderSnapshotItem struct {
	Name      string `json:"name"`
	ColorName string `json:"colorName,omitempty"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// OrderSnapshot is the flattened order view handed to the notification
// dispatcher. Amounts are decimal strings.
type OrderSnapshot struct {
	OrderID        string              `json:"orderId"`
	OrderNumber    int64               `json:"orderNumber"`
	UserID         string              `json:"userId"`
	Email          string              `json:"email,omitempty"`
	TotalAmount    string              `json:"totalAmount"`
	DiscountAmount string              `json:"discountAmount"`
	CouponCode     string              `json:"couponCode,omitempty"`
	PaymentMethod  string              `json:"paymentMethod"`
	Items          []OrderSnapshotItem `json:"items"`
	PlacedAt       time.Time           `json:"placedAt"`
}
