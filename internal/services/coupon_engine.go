package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/camellia-shop/api/internal/domain"
	"github.com/camellia-shop/api/internal/repositories"
)

var oneHundred = decimal.NewFromInt(100)

// CouponEngineDeps bundles dependencies for the coupon engine.
type CouponEngineDeps struct {
	Coupons repositories.CouponRepository
	Usage   repositories.CouponUsageRepository
	Clock   func() time.Time
}

type couponEngine struct {
	coupons repositories.CouponRepository
	usage   repositories.CouponUsageRepository
	clock   func() time.Time
}

// NewCouponEngine wires the stateless coupon rule evaluator.
func NewCouponEngine(deps CouponEngineDeps) (CouponEngine, error) {
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
	return &couponEngine{
		coupons: deps.Coupons,
		usage:   deps.Usage,
		clock:   func() time.Time { return clock().UTC() },
	}, nil
}

// Evaluate runs the nine rejection rules in order; the first failure wins.
// On success the discount is computed with deterministic 2-dp rounding.
func (e *couponEngine) Evaluate(ctx context.Context, cmd EvaluateCouponCommand) (CouponEvaluation, error) {
	if e == nil || e.coupons == nil || e.usage == nil {
		return CouponEvaluation{}, ErrCouponRepositoryMissing
	}

	code := domain.NormalizeCouponCode(cmd.Code)
	if code == "" {
		return CouponEvaluation{}, &CouponRejection{Reason: CouponRejectionNotFound, Message: "coupon code is required"}
	}

	coupon, err := e.coupons.FindByCode(ctx, code)
	if err != nil {
		if repositories.IsNotFound(err) {
			return CouponEvaluation{}, &CouponRejection{Reason: CouponRejectionNotFound, Message: fmt.Sprintf("coupon %s not found", code)}
		}
		if repositories.IsUnavailable(err) {
			return CouponEvaluation{}, ErrStorageUnavailable
		}
		return CouponEvaluation{}, err
	}

	now := e.clock()

	if !coupon.Active {
		return CouponEvaluation{}, &CouponRejection{Reason: CouponRejectionInactive, Message: "coupon is not active"}
	}
	if now.Before(coupon.ValidFrom) {
		return CouponEvaluation{}, &CouponRejection{Reason: CouponRejectionNotYetValid, Message: "coupon is not yet valid"}
	}
	if now.After(coupon.ValidUntil) {
		return CouponEvaluation{}, &CouponRejection{Reason: CouponRejectionExpired, Message: "coupon has expired"}
	}
	if coupon.UsageLimit != nil && coupon.UsageCount >= *coupon.UsageLimit {
		return CouponEvaluation{}, &CouponRejection{Reason: CouponRejectionUsageLimitReached, Message: "coupon usage limit reached"}
	}
	if coupon.PerUserLimit != nil {
		used, err := e.usage.CountByUser(ctx, coupon.ID, cmd.UserID)
		if err != nil {
			if repositories.IsUnavailable(err) {
				return CouponEvaluation{}, ErrStorageUnavailable
			}
			return CouponEvaluation{}, err
		}
		if used >= *coupon.PerUserLimit {
			return CouponEvaluation{}, &CouponRejection{Reason: CouponRejectionUserLimitReached, Message: "per-user usage limit reached"}
		}
	}
	if coupon.MinPurchase != nil && cmd.CartTotal.LessThan(*coupon.MinPurchase) {
		required := *coupon.MinPurchase
		current := cmd.CartTotal
		return CouponEvaluation{}, &CouponRejection{
			Reason:   CouponRejectionMinPurchaseNotMet,
			Message:  fmt.Sprintf("minimum purchase of %s not met", required),
			Required: &required,
			Current:  &current,
		}
	}
	if len(coupon.Categories) > 0 && !anyCategoryMatches(cmd.Lines, coupon.Categories) {
		return CouponEvaluation{}, &CouponRejection{Reason: CouponRejectionInvalidCategory, Message: "coupon does not apply to any cart category"}
	}
	if len(coupon.ProductIDs) > 0 && !anyProductMatches(cmd.Lines, coupon.ProductIDs) {
		return CouponEvaluation{}, &CouponRejection{Reason: CouponRejectionInvalidProduct, Message: "coupon does not apply to any cart product"}
	}

	discount, err := computeDiscount(coupon, cmd.CartTotal)
	if err != nil {
		return CouponEvaluation{}, err
	}
	finalTotal := cmd.CartTotal.Sub(discount)
	if finalTotal.IsNegative() {
		finalTotal = decimal.Zero
	}

	return CouponEvaluation{
		Coupon:        coupon,
		Discount:      discount,
		OriginalTotal: cmd.CartTotal,
		FinalTotal:    finalTotal,
	}, nil
}

func computeDiscount(coupon domain.Coupon, cartTotal decimal.Decimal) (decimal.Decimal, error) {
	var discount decimal.Decimal
	switch coupon.DiscountType {
	case domain.DiscountTypePercentage:
		discount = cartTotal.Mul(coupon.DiscountValue).Div(oneHundred)
		if coupon.MaxDiscount != nil && discount.GreaterThan(*coupon.MaxDiscount) {
			discount = *coupon.MaxDiscount
		}
	case domain.DiscountTypeFixedAmount:
		discount = coupon.DiscountValue
		if discount.GreaterThan(cartTotal) {
			discount = cartTotal
		}
	default:
		// A stored document with an unrecognised type must never grant its
		// raw value as a discount.
		return decimal.Zero, fmt.Errorf("coupon %s: unsupported discount type %q", coupon.Code, coupon.DiscountType)
	}
	return domain.RoundMoney(discount), nil
}

func anyCategoryMatches(lines []CouponCartLine, categories []string) bool {
	allowed := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		allowed[c] = struct{}{}
	}
	for _, line := range lines {
		if _, ok := allowed[line.Category]; ok {
			return true
		}
	}
	return false
}

func anyProductMatches(lines []CouponCartLine, productIDs []string) bool {
	allowed := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		allowed[id] = struct{}{}
	}
	for _, line := range lines {
		if _, ok := allowed[line.ProductID]; ok {
			return true
		}
	}
	return false
}
