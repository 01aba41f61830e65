package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/camellia-shop/api/internal/domain"
	pfirestore "github.com/camellia-shop/api/internal/platform/firestore"
)

const couponUsageCollection = "couponUsage"

type couponUsageDocument struct {
	CouponID  string    `firestore:"couponId"`
	UserID    string    `firestore:"userId"`
	OrderID   string    `firestore:"orderId"`
	Discount  string    `firestore:"discount"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// CouponUsageRepository reads usage rows for limit enforcement. Rows are
// written by OrderRepository.CreateOrder inside the order transaction.
type CouponUsageRepository struct {
	usage *pfirestore.Collection[couponUsageDocument]
}

// NewCouponUsageRepository constructs a Firestore-backed usage reader.
func NewCouponUsageRepository(provider *pfirestore.Provider) (*CouponUsageRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon usage repository: firestore provider is required")
	}
	return &CouponUsageRepository{
		usage: pfirestore.NewCollection[couponUsageDocument](provider, couponUsageCollection),
	}, nil
}

// CountByUser returns how many usage rows exist for the coupon/user pair.
func (r *CouponUsageRepository) CountByUser(ctx context.Context, couponID string, userID string) (int, error) {
	if r == nil || r.usage == nil {
		return 0, errors.New("coupon usage repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	userID = strings.TrimSpace(userID)
	if couponID == "" || userID == "" {
		return 0, errors.New("coupon usage repository: coupon id and user id are required")
	}

	docs, err := r.usage.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("couponId", "==", couponID).Where("userId", "==", userID)
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// HasAny reports whether the coupon has ever been used.
func (r *CouponUsageRepository) HasAny(ctx context.Context, couponID string) (bool, error) {
	if r == nil || r.usage == nil {
		return false, errors.New("coupon usage repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return false, errors.New("coupon usage repository: coupon id is required")
	}

	docs, err := r.usage.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("couponId", "==", couponID).Limit(1)
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// ListByCoupon returns usage rows for a coupon, newest first.
func (r *CouponUsageRepository) ListByCoupon(ctx context.Context, couponID string, pager domain.Pagination) (domain.CursorPage[domain.CouponUsage], error) {
	if r == nil || r.usage == nil {
		return domain.CursorPage[domain.CouponUsage]{}, errors.New("coupon usage repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.CursorPage[domain.CouponUsage]{}, errors.New("coupon usage repository: coupon id is required")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.CouponUsage]{}, fmt.Errorf("coupon usage repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.usage.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("couponId", "==", couponID).
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
		return domain.CursorPage[domain.CouponUsage]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeListToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.CouponUsage, 0, len(docs))
	for _, doc := range docs {
		usage, err := decodeCouponUsageDocument(doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[domain.CouponUsage]{}, err
		}
		items = append(items, usage)
	}
	return domain.CursorPage[domain.CouponUsage]{Items: items, NextPageToken: nextToken}, nil
}

// RemoveUsage deletes a usage row for manual admin correction.
func (r *CouponUsageRepository) RemoveUsage(ctx context.Context, usageID string) error {
	if r == nil || r.usage == nil {
		return errors.New("coupon usage repository not initialised")
	}
	usageID = strings.TrimSpace(usageID)
	if usageID == "" {
		return errors.New("coupon usage repository: usage id is required")
	}
	return r.usage.Delete(ctx, usageID)
}

func decodeCouponUsageDocument(id string, doc couponUsageDocument) (domain.CouponUsage, error) {
	discount, err := decodeAmount("usage.discount", doc.Discount)
	if err != nil {
		return domain.CouponUsage{}, err
	}
	return domain.CouponUsage{
		ID:        id,
		CouponID:  doc.CouponID,
		UserID:    doc.UserID,
		OrderID:   doc.OrderID,
		Discount:  discount,
		CreatedAt: doc.CreatedAt,
	}, nil
}
