package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/camellia-shop/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Coupons() CouponRepository
	CouponUsage() CouponUsageRepository
	Orders() OrderRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository reads products and variants for pricing and stock checks.
// Catalog writes belong to a separate admin surface and are out of scope here.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
	ResolveVariant(ctx context.Context, productID string, variantID string) (domain.ResolvedVariant, error)
}

// CouponRepository maintains coupon definitions.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	Deactivate(ctx context.Context, couponID string, now time.Time) error
	Delete(ctx context.Context, couponID string) error
	FindByID(ctx context.Context, couponID string) (domain.Coupon, error)
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)
}

// CouponListFilter narrows coupon listings.
type CouponListFilter struct {
	ActiveOnly bool
	Pager      domain.Pagination
}

// CouponUsageRepository reads per-user usage rows to enforce limits. Usage rows
// are written only through OrderRepository.CreateOrder so that the row and the
// counter increment share one transaction.
type CouponUsageRepository interface {
	CountByUser(ctx context.Context, couponID string, userID string) (int, error)
	HasAny(ctx context.Context, couponID string) (bool, error)
	ListByCoupon(ctx context.Context, couponID string, pager domain.Pagination) (domain.CursorPage[domain.CouponUsage], error)
	// RemoveUsage supports manual admin correction; it decrements nothing by
	// itself and never runs during order placement.
	RemoveUsage(ctx context.Context, usageID string) error
}

// CouponApplication carries the coupon bookkeeping performed atomically with
// the order write.
type CouponApplication struct {
	Coupon   domain.Coupon
	Discount decimal.Decimal
}

// CreateOrderRequest bundles everything OrderRepository persists in one transaction.
type CreateOrderRequest struct {
	Order  domain.Order
	Coupon *CouponApplication
	Now    time.Time
}

// OrderListFilter narrows per-user order listings.
type OrderListFilter struct {
	Pager domain.Pagination
}

// OrderRepository persists orders. CreateOrder writes the order, its items,
// the coupon usage row, and the conditional usage-counter increment as a
// single transaction; limit exhaustion inside the transaction surfaces as
// ErrCouponUsageExhausted or ErrCouponUserLimitExhausted and leaves no state.
type OrderRepository interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus, now time.Time) error
}

// HealthRepository verifies storage connectivity for readiness probes.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
