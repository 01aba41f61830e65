package services

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/camellia-shop/api/internal/domain"
	"github.com/camellia-shop/api/internal/repositories"
)

// CouponServiceDeps bundles dependencies for the coupon service.
type CouponServiceDeps struct {
	Engine  CouponEngine
	Coupons repositories.CouponRepository
	Usage   repositories.CouponUsageRepository
	Clock   func() time.Time
	NewID   func() string
	Logger  Logger
}

type couponService struct {
	engine  CouponEngine
	coupons repositories.CouponRepository
	usage   repositories.CouponUsageRepository
	clock   func() time.Time
	newID   func() string
	logger  Logger
}

// NewCouponService wires the coupon preview and admin surfaces.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Engine == nil {
		return nil, ErrCouponEngineMissing
	}
	if deps.Coupons == nil {
		return nil, ErrCouponRepositoryMissing
	}
	if deps.Usage == nil {
		return nil, ErrUsageRepositoryMissing
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
	return &couponService{
		engine:  deps.Engine,
		coupons: deps.Coupons,
		usage:   deps.Usage,
		clock:   func() time.Time { return clock().UTC() },
		newID:   newID,
		logger:  logger,
	}, nil
}

// Validate previews a coupon against a cart with no side effects. The result
// is identical to what order placement will compute for the same inputs.
func (s *couponService) Validate(ctx context.Context, cmd EvaluateCouponCommand) (CouponEvaluation, error) {
	if s == nil || s.engine == nil {
		return CouponEvaluation{}, ErrCouponEngineMissing
	}
	return s.engine.Evaluate(ctx, cmd)
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (domain.Coupon, error) {
	if s == nil || s.coupons == nil {
		return domain.Coupon{}, ErrCouponRepositoryMissing
	}
	if err := validateCouponCommand(cmd); err != nil {
		return domain.Coupon{}, err
	}

	now := s.clock()
	coupon := couponFromCommand(cmd)
	coupon.ID = s.newID()
	coupon.UsageCount = 0
	coupon.CreatedAt = now
	coupon.UpdatedAt = now

	if err := s.coupons.Insert(ctx, coupon); err != nil {
		if repositories.IsConflict(err) {
			return domain.Coupon{}, ErrCouponCodeTaken
		}
		if repositories.IsUnavailable(err) {
			return domain.Coupon{}, ErrStorageUnavailable
		}
		return domain.Coupon{}, err
	}

	s.logger(ctx, "coupon.created", map[string]any{"coupon_id": coupon.ID, "code": coupon.Code})
	return coupon, nil
}

func (s *couponService) UpdateCoupon(ctx context.Context, couponID string, cmd UpsertCouponCommand) (domain.Coupon, error) {
	if s == nil || s.coupons == nil {
		return domain.Coupon{}, ErrCouponRepositoryMissing
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.Coupon{}, ErrInvalidInput
	}
	if err := validateCouponCommand(cmd); err != nil {
		return domain.Coupon{}, err
	}

	existing, err := s.coupons.FindByID(ctx, couponID)
	if err != nil {
		return domain.Coupon{}, translateCouponLookupError(err)
	}

	coupon := couponFromCommand(cmd)
	coupon.ID = existing.ID
	coupon.UsageCount = existing.UsageCount
	coupon.CreatedAt = existing.CreatedAt
	coupon.UpdatedAt = s.clock()

	if err := s.coupons.Update(ctx, coupon); err != nil {
		if repositories.IsNotFound(err) {
			return domain.Coupon{}, ErrCouponNotFound
		}
		if repositories.IsUnavailable(err) {
			return domain.Coupon{}, ErrStorageUnavailable
		}
		return domain.Coupon{}, err
	}

	s.logger(ctx, "coupon.updated", map[string]any{"coupon_id": coupon.ID, "code": coupon.Code})
	return coupon, nil
}

func (s *couponService) GetCoupon(ctx context.Context, couponID string) (domain.Coupon, error) {
	if s == nil || s.coupons == nil {
		return domain.Coupon{}, ErrCouponRepositoryMissing
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.Coupon{}, ErrInvalidInput
	}
	coupon, err := s.coupons.FindByID(ctx, couponID)
	if err != nil {
		return domain.Coupon{}, translateCouponLookupError(err)
	}
	return coupon, nil
}

func (s *couponService) ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	if s == nil || s.coupons == nil {
		return domain.CursorPage[domain.Coupon]{}, ErrCouponRepositoryMissing
	}
	page, err := s.coupons.List(ctx, repositories.CouponListFilter{
		ActiveOnly: filter.ActiveOnly,
		Pager:      filter.Pager,
	})
	if err != nil {
		if repositories.IsUnavailable(err) {
			return domain.CursorPage[domain.Coupon]{}, ErrStorageUnavailable
		}
		return domain.CursorPage[domain.Coupon]{}, err
	}
	return page, nil
}

// DeleteCoupon removes a coupon, or soft-deactivates it when usage rows
// exist so usage history is never orphaned.
func (s *couponService) DeleteCoupon(ctx context.Context, couponID string) (CouponDeleteResult, error) {
	if s == nil || s.coupons == nil {
		return CouponDeleteResult{}, ErrCouponRepositoryMissing
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return CouponDeleteResult{}, ErrInvalidInput
	}

	if _, err := s.coupons.FindByID(ctx, couponID); err != nil {
		return CouponDeleteResult{}, translateCouponLookupError(err)
	}

	used, err := s.usage.HasAny(ctx, couponID)
	if err != nil {
		if repositories.IsUnavailable(err) {
			return CouponDeleteResult{}, ErrStorageUnavailable
		}
		return CouponDeleteResult{}, err
	}

	if used {
		if err := s.coupons.Deactivate(ctx, couponID, s.clock()); err != nil {
			return CouponDeleteResult{}, translateCouponLookupError(err)
		}
		s.logger(ctx, "coupon.deactivated", map[string]any{"coupon_id": couponID})
		return CouponDeleteResult{Deactivated: true}, nil
	}

	if err := s.coupons.Delete(ctx, couponID); err != nil {
		return CouponDeleteResult{}, translateCouponLookupError(err)
	}
	s.logger(ctx, "coupon.deleted", map[string]any{"coupon_id": couponID})
	return CouponDeleteResult{Deleted: true}, nil
}

func (s *couponService) ListCouponUsage(ctx context.Context, couponID string, pager domain.Pagination) (domain.CursorPage[domain.CouponUsage], error) {
	if s == nil || s.usage == nil {
		return domain.CursorPage[domain.CouponUsage]{}, ErrUsageRepositoryMissing
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.CursorPage[domain.CouponUsage]{}, ErrInvalidInput
	}
	page, err := s.usage.ListByCoupon(ctx, couponID, pager)
	if err != nil {
		if repositories.IsUnavailable(err) {
			return domain.CursorPage[domain.CouponUsage]{}, ErrStorageUnavailable
		}
		return domain.CursorPage[domain.CouponUsage]{}, err
	}
	return page, nil
}

func validateCouponCommand(cmd UpsertCouponCommand) error {
	if domain.NormalizeCouponCode(cmd.Code) == "" {
		return ErrInvalidInput
	}
	switch cmd.DiscountType {
	case domain.DiscountTypePercentage, domain.DiscountTypeFixedAmount:
	default:
		return ErrInvalidInput
	}
	if !cmd.DiscountValue.IsPositive() {
		return ErrInvalidInput
	}
	if cmd.DiscountType == domain.DiscountTypePercentage && cmd.DiscountValue.GreaterThan(oneHundred) {
		return ErrInvalidInput
	}
	if cmd.MinPurchase != nil && cmd.MinPurchase.IsNegative() {
		return ErrInvalidInput
	}
	if cmd.MaxDiscount != nil && !cmd.MaxDiscount.IsPositive() {
		return ErrInvalidInput
	}
	if cmd.UsageLimit != nil && *cmd.UsageLimit <= 0 {
		return ErrInvalidInput
	}
	if cmd.PerUserLimit != nil && *cmd.PerUserLimit <= 0 {
		return ErrInvalidInput
	}
	if cmd.ValidUntil.Before(cmd.ValidFrom) {
		return ErrInvalidInput
	}
	return nil
}

func couponFromCommand(cmd UpsertCouponCommand) domain.Coupon {
	return domain.Coupon{
		Code:          domain.NormalizeCouponCode(cmd.Code),
		Description:   strings.TrimSpace(cmd.Description),
		DiscountType:  cmd.DiscountType,
		DiscountValue: cmd.DiscountValue,
		MinPurchase:   cmd.MinPurchase,
		MaxDiscount:   cmd.MaxDiscount,
		UsageLimit:    cmd.UsageLimit,
		PerUserLimit:  cmd.PerUserLimit,
		ValidFrom:     cmd.ValidFrom.UTC(),
		ValidUntil:    cmd.ValidUntil.UTC(),
		Active:        cmd.Active,
		Categories:    cmd.Categories,
		ProductIDs:    cmd.ProductIDs,
	}
}

func translateCouponLookupError(err error) error {
	if repositories.IsNotFound(err) {
		return ErrCouponNotFound
	}
	if repositories.IsUnavailable(err) {
		return ErrStorageUnavailable
	}
	return err
}
