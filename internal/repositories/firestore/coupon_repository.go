package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/camellia-shop/api/internal/domain"
	pfirestore "github.com/camellia-shop/api/internal/platform/firestore"
	"github.com/camellia-shop/api/internal/repositories"
)

const couponsCollection = "coupons"

type couponDocument struct {
	Code          string    `firestore:"code"`
	Description   string    `firestore:"description,omitempty"`
	DiscountType  string    `firestore:"discountType"`
	DiscountValue string    `firestore:"discountValue"`
	MinPurchase   *string   `firestore:"minPurchase,omitempty"`
	MaxDiscount   *string   `firestore:"maxDiscount,omitempty"`
	UsageLimit    *int      `firestore:"usageLimit,omitempty"`
	PerUserLimit  *int      `firestore:"perUserLimit,omitempty"`
	ValidFrom     time.Time `firestore:"validFrom"`
	ValidUntil    time.Time `firestore:"validUntil"`
	Active        bool      `firestore:"active"`
	Categories    []string  `firestore:"categories,omitempty"`
	ProductIDs    []string  `firestore:"productIds,omitempty"`
	UsageCount    int       `firestore:"usageCount"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

// CouponRepository persists coupon definitions.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.Collection[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository: firestore provider is required")
	}
	return &CouponRepository{
		provider: provider,
		coupons:  pfirestore.NewCollection[couponDocument](provider, couponsCollection),
	}, nil
}

// Insert stores a new coupon. The code-uniqueness check and the create run in
// one transaction so racing admin creates with the same code cannot both land.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.provider == nil || r.coupons == nil {
		return errors.New("coupon repository not initialised")
	}
	couponID := strings.TrimSpace(coupon.ID)
	if couponID == "" {
		return errors.New("coupon repository: coupon id is required")
	}
	code := domain.NormalizeCouponCode(coupon.Code)

	ref, err := r.coupons.Doc(ctx, couponID)
	if err != nil {
		return err
	}
	col, err := r.coupons.Ref(ctx)
	if err != nil {
		return err
	}
	codeQuery := col.Where("code", "==", code).Limit(1)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		iter := tx.Documents(codeQuery)
		defer iter.Stop()
		snap, err := iter.Next()
		if err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		if err == nil && snap.Ref.ID != couponID {
			return pfirestore.ConflictError("coupons.insert", fmt.Errorf("code %s already exists", code))
		}
		return tx.Create(ref, encodeCouponDocument(coupon))
	})
	if err != nil {
		if repositories.IsConflict(err) {
			return err
		}
		return pfirestore.WrapError("coupons.insert", err)
	}
	return nil
}

// Update replaces the stored coupon with the provided snapshot. UsageCount is
// deliberately not part of the update; only the order write path mutates it.
func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.coupons == nil {
		return errors.New("coupon repository not initialised")
	}
	couponID := strings.TrimSpace(coupon.ID)
	if couponID == "" {
		return errors.New("coupon repository: coupon id is required")
	}
	ref, err := r.coupons.Doc(ctx, couponID)
	if err != nil {
		return err
	}

	doc := encodeCouponDocument(coupon)
	updates := []firestore.Update{
		{Path: "code", Value: doc.Code},
		{Path: "description", Value: doc.Description},
		{Path: "discountType", Value: doc.DiscountType},
		{Path: "discountValue", Value: doc.DiscountValue},
		{Path: "minPurchase", Value: doc.MinPurchase},
		{Path: "maxDiscount", Value: doc.MaxDiscount},
		{Path: "usageLimit", Value: doc.UsageLimit},
		{Path: "perUserLimit", Value: doc.PerUserLimit},
		{Path: "validFrom", Value: doc.ValidFrom},
		{Path: "validUntil", Value: doc.ValidUntil},
		{Path: "active", Value: doc.Active},
		{Path: "categories", Value: doc.Categories},
		{Path: "productIds", Value: doc.ProductIDs},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("coupons.update", err)
	}
	return nil
}

// Deactivate flips the active flag without touching the rest of the document.
func (r *CouponRepository) Deactivate(ctx context.Context, couponID string, now time.Time) error {
	if r == nil || r.coupons == nil {
		return errors.New("coupon repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return errors.New("coupon repository: coupon id is required")
	}
	ref, err := r.coupons.Doc(ctx, couponID)
	if err != nil {
		return err
	}
	updates := []firestore.Update{
		{Path: "active", Value: false},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("coupons.deactivate", err)
	}
	return nil
}

// Delete removes the coupon document entirely.
func (r *CouponRepository) Delete(ctx context.Context, couponID string) error {
	if r == nil || r.coupons == nil {
		return errors.New("coupon repository not initialised")
	}
	return r.coupons.Delete(ctx, strings.TrimSpace(couponID))
}

// FindByID fetches a single coupon.
func (r *CouponRepository) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon id is required")
	}
	doc, err := r.coupons.Get(ctx, couponID)
	if err != nil {
		return domain.Coupon{}, err
	}
	return decodeCouponDocument(couponID, doc.Data)
}

// FindByCode looks up a coupon by its upper-normalised code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return domain.Coupon{}, pfirestore.NotFoundError("coupons.find_by_code", errors.New("empty code"))
	}

	docs, err := r.coupons.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, pfirestore.NotFoundError("coupons.find_by_code", fmt.Errorf("code %s not found", code))
	}
	return decodeCouponDocument(docs[0].ID, docs[0].Data)
}

// List returns coupons ordered by most recent creation.
func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	if r == nil || r.coupons == nil {
		return domain.CursorPage[domain.Coupon]{}, errors.New("coupon repository not initialised")
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
			return domain.CursorPage[domain.Coupon]{}, fmt.Errorf("coupon repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.coupons.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeListToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Coupon, 0, len(docs))
	for _, doc := range docs {
		coupon, err := decodeCouponDocument(doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, err
		}
		items = append(items, coupon)
	}
	return domain.CursorPage[domain.Coupon]{Items: items, NextPageToken: nextToken}, nil
}

func encodeCouponDocument(coupon domain.Coupon) couponDocument {
	return couponDocument{
		Code:          domain.NormalizeCouponCode(coupon.Code),
		Description:   coupon.Description,
		DiscountType:  string(coupon.DiscountType),
		DiscountValue: encodeAmount(coupon.DiscountValue),
		MinPurchase:   encodeAmountPtr(coupon.MinPurchase),
		MaxDiscount:   encodeAmountPtr(coupon.MaxDiscount),
		UsageLimit:    coupon.UsageLimit,
		PerUserLimit:  coupon.PerUserLimit,
		ValidFrom:     coupon.ValidFrom.UTC(),
		ValidUntil:    coupon.ValidUntil.UTC(),
		Active:        coupon.Active,
		Categories:    coupon.Categories,
		ProductIDs:    coupon.ProductIDs,
		UsageCount:    coupon.UsageCount,
		CreatedAt:     coupon.CreatedAt.UTC(),
		UpdatedAt:     coupon.UpdatedAt.UTC(),
	}
}

func decodeCouponDocument(id string, doc couponDocument) (domain.Coupon, error) {
	value, err := decodeAmount("coupon.discountValue", doc.DiscountValue)
	if err != nil {
		return domain.Coupon{}, err
	}
	minPurchase, err := decodeAmountPtr("coupon.minPurchase", doc.MinPurchase)
	if err != nil {
		return domain.Coupon{}, err
	}
	maxDiscount, err := decodeAmountPtr("coupon.maxDiscount", doc.MaxDiscount)
	if err != nil {
		return domain.Coupon{}, err
	}
	return domain.Coupon{
		ID:            id,
		Code:          doc.Code,
		Description:   doc.Description,
		DiscountType:  domain.DiscountType(doc.DiscountType),
		DiscountValue: value,
		MinPurchase:   minPurchase,
		MaxDiscount:   maxDiscount,
		UsageLimit:    doc.UsageLimit,
		PerUserLimit:  doc.PerUserLimit,
		ValidFrom:     doc.ValidFrom,
		ValidUntil:    doc.ValidUntil,
		Active:        doc.Active,
		Categories:    doc.Categories,
		ProductIDs:    doc.ProductIDs,
		UsageCount:    doc.UsageCount,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}, nil
}
