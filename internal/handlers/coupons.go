package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/camellia-shop/api/internal/domain"
	"github.com/camellia-shop/api/internal/platform/auth"
	"github.com/camellia-shop/api/internal/platform/httpx"
	"github.com/camellia-shop/api/internal/services"
)

const (
	defaultCouponPageSize = 20
	maxCouponPageSize     = 100
)

type validateCouponRequest struct {
	Code      string             `json:"code"`
	CartTotal decimal.Decimal    `json:"cartTotal"`
	Items     []validateCartItem `json:"items"`
	CartItems []validateCartItem `json:"cartItems"`
}

// validateCartItem accepts both the full checkout line shape and the slimmer
// preview shape. Quantity defaults to 1 so scope rules can be previewed from
// a bare {productId, category} list.
type validateCartItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
	Category  string `json:"category"`
}

type validateCouponResponse struct {
	Valid    bool                  `json:"valid"`
	Coupon   couponPayload         `json:"coupon"`
	Discount couponDiscountPayload `json:"discount"`
}

type couponDiscountPayload struct {
	Amount        string `json:"amount"`
	OriginalTotal string `json:"originalTotal"`
	FinalTotal    string `json:"finalTotal"`
}

type upsertCouponRequest struct {
	Code          string           `json:"code"`
	Description   string           `json:"description"`
	DiscountType  string           `json:"discountType"`
	DiscountValue decimal.Decimal  `json:"discountValue"`
	MinPurchase   *decimal.Decimal `json:"minPurchase"`
	MaxDiscount   *decimal.Decimal `json:"maxDiscount"`
	UsageLimit    *int             `json:"usageLimit"`
	PerUserLimit  *int             `json:"perUserLimit"`
	ValidFrom     string           `json:"validFrom"`
	ValidUntil    string           `json:"validUntil"`
	Active        bool             `json:"active"`
	Categories    []string         `json:"categories"`
	ProductIDs    []string         `json:"productIds"`
}

type couponPayload struct {
	ID            string   `json:"id"`
	Code          string   `json:"code"`
	Description   string   `json:"description,omitempty"`
	DiscountType  string   `json:"discountType"`
	DiscountValue string   `json:"discountValue"`
	MinPurchase   *string  `json:"minPurchase,omitempty"`
	MaxDiscount   *string  `json:"maxDiscount,omitempty"`
	UsageLimit    *int     `json:"usageLimit,omitempty"`
	PerUserLimit  *int     `json:"perUserLimit,omitempty"`
	ValidFrom     string   `json:"validFrom"`
	ValidUntil    string   `json:"validUntil"`
	Active        bool     `json:"active"`
	Categories    []string `json:"categories,omitempty"`
	ProductIDs    []string `json:"productIds,omitempty"`
	UsageCount    int      `json:"usageCount"`
	CreatedAt     string   `json:"createdAt,omitempty"`
	UpdatedAt     string   `json:"updatedAt,omitempty"`
}

type couponListResponse struct {
	Items         []couponPayload `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

type couponDeleteResponse struct {
	Deleted     bool `json:"deleted"`
	Deactivated bool `json:"deactivated"`
}

type couponUsagePayload struct {
	ID        string `json:"id"`
	CouponID  string `json:"couponId"`
	UserID    string `json:"userId"`
	OrderID   string `json:"orderId"`
	Discount  string `json:"discount"`
	CreatedAt string `json:"createdAt"`
}

type couponUsageListResponse struct {
	Items         []couponUsagePayload `json:"items"`
	NextPageToken string               `json:"nextPageToken,omitempty"`
}

// CouponHandlers exposes the coupon preview endpoint for buyers and the CRUD
// surface for admins.
type CouponHandlers struct {
	coupons services.CouponService
	pricer  services.CartPricer
}

// NewCouponHandlers constructs a new CouponHandlers instance.
func NewCouponHandlers(coupons services.CouponService, pricer services.CartPricer) *CouponHandlers {
	return &CouponHandlers{coupons: coupons, pricer: pricer}
}

// Routes registers the buyer-facing /coupons endpoints.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/validate", h.validateCoupon)
}

// AdminRoutes registers the /admin/coupons endpoints.
func (h *CouponHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createCoupon)
	r.Get("/", h.listCoupons)
	r.Get("/{couponID}", h.getCoupon)
	r.Put("/{couponID}", h.updateCoupon)
	r.Delete("/{couponID}", h.deleteCoupon)
	r.Get("/{couponID}/usage", h.listCouponUsage)
}

// validateCoupon previews a coupon against the submitted cart. When cart
// lines are submitted (as items or cartItems) the preview reprices them from
// the catalog first, so the discount shown matches what order placement will
// compute; client categories are re-resolved rather than trusted. A request
// carrying only cartTotal previews value and limit rules against that total.
func (h *CouponHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil || h.pricer == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req validateCouponRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	items := req.Items
	if len(items) == 0 {
		items = req.CartItems
	}

	var (
		total       decimal.Decimal
		couponLines []services.CouponCartLine
	)
	switch {
	case len(items) > 0:
		lines := make([]domain.CartLine, 0, len(items))
		for _, item := range items {
			quantity := item.Quantity
			if quantity == 0 {
				quantity = 1
			}
			lines = append(lines, domain.CartLine{
				ProductID: strings.TrimSpace(item.ProductID),
				VariantID: strings.TrimSpace(item.VariantID),
				Quantity:  quantity,
			})
		}
		cart, err := h.pricer.Price(ctx, lines)
		if err != nil {
			writePlaceOrderError(ctx, w, err)
			return
		}
		total = cart.Total
		couponLines = make([]services.CouponCartLine, 0, len(cart.Lines))
		for _, line := range cart.Lines {
			couponLines = append(couponLines, services.CouponCartLine{
				ProductID: line.Product.ID,
				Category:  line.Product.Category,
			})
		}
	case req.CartTotal.IsPositive():
		// A bare total cannot be verified against the catalog, but placement
		// reprices everything anyway; an inflated client total only widens
		// this preview, never the authoritative discount.
		total = req.CartTotal
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cartItems or a positive cartTotal is required", http.StatusBadRequest))
		return
	}

	eval, err := h.coupons.Validate(ctx, services.EvaluateCouponCommand{
		Code:      req.Code,
		UserID:    identity.UID,
		CartTotal: total,
		Lines:     couponLines,
	})
	if err != nil {
		writeCouponValidationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, validateCouponResponse{
		Valid:  true,
		Coupon: buildCouponPayload(eval.Coupon),
		Discount: couponDiscountPayload{
			Amount:        eval.Discount.String(),
			OriginalTotal: eval.OriginalTotal.String(),
			FinalTotal:    eval.FinalTotal.String(),
		},
	})
}

func (h *CouponHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req upsertCouponRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	cmd, err := upsertCommandFromRequest(req)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.CreateCoupon(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildCouponPayload(coupon))
}

func (h *CouponHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	couponID := strings.TrimSpace(chi.URLParam(r, "couponID"))
	if couponID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon id is required", http.StatusBadRequest))
		return
	}

	var req upsertCouponRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	cmd, err := upsertCommandFromRequest(req)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.UpdateCoupon(ctx, couponID, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCouponPayload(coupon))
}

func (h *CouponHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	couponID := strings.TrimSpace(chi.URLParam(r, "couponID"))
	if couponID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon id is required", http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.GetCoupon(ctx, couponID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCouponPayload(coupon))
}

func (h *CouponHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultCouponPageSize, maxCouponPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.CouponListFilter{Pager: pager}
	if raw := strings.TrimSpace(r.URL.Query().Get("active")); raw != "" {
		filter.ActiveOnly = strings.EqualFold(raw, "true")
	}

	page, err := h.coupons.ListCoupons(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]couponPayload, 0, len(page.Items))
	for _, coupon := range page.Items {
		items = append(items, buildCouponPayload(coupon))
	}
	writeJSONResponse(w, http.StatusOK, couponListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *CouponHandlers) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	couponID := strings.TrimSpace(chi.URLParam(r, "couponID"))
	if couponID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon id is required", http.StatusBadRequest))
		return
	}

	result, err := h.coupons.DeleteCoupon(ctx, couponID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponDeleteResponse{
		Deleted:     result.Deleted,
		Deactivated: result.Deactivated,
	})
}

func (h *CouponHandlers) listCouponUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	couponID := strings.TrimSpace(chi.URLParam(r, "couponID"))
	if couponID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon id is required", http.StatusBadRequest))
		return
	}

	pager, err := parsePagination(r, defaultCouponPageSize, maxCouponPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.coupons.ListCouponUsage(ctx, couponID, pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]couponUsagePayload, 0, len(page.Items))
	for _, usage := range page.Items {
		items = append(items, couponUsagePayload{
			ID:        usage.ID,
			CouponID:  usage.CouponID,
			UserID:    usage.UserID,
			OrderID:   usage.OrderID,
			Discount:  usage.Discount.String(),
			CreatedAt: formatTime(usage.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, couponUsageListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

// writeCouponValidationError renders an engine rejection with a status that
// reflects the class of failure: unknown codes are 404, limit exhaustion is
// 409, everything else is a plain client error.
func writeCouponValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	var rejection *services.CouponRejection
	if !errors.As(err, &rejection) {
		writeServiceError(ctx, w, err)
		return
	}

	status := http.StatusBadRequest
	switch rejection.Reason {
	case services.CouponRejectionNotFound:
		status = http.StatusNotFound
	case services.CouponRejectionUsageLimitReached, services.CouponRejectionUserLimitReached:
		status = http.StatusConflict
	}

	details := couponRejectionDetails(rejection)
	details["valid"] = false
	httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", rejection.Error(), status).WithDetails(details))
}

func upsertCommandFromRequest(req upsertCouponRequest) (services.UpsertCouponCommand, error) {
	validFrom, err := parseTimestamp(req.ValidFrom)
	if err != nil {
		return services.UpsertCouponCommand{}, errors.New("validFrom must be a valid RFC3339 timestamp")
	}
	validUntil, err := parseTimestamp(req.ValidUntil)
	if err != nil {
		return services.UpsertCouponCommand{}, errors.New("validUntil must be a valid RFC3339 timestamp")
	}
	return services.UpsertCouponCommand{
		Code:          req.Code,
		Description:   req.Description,
		DiscountType:  domain.DiscountType(strings.ToUpper(strings.TrimSpace(req.DiscountType))),
		DiscountValue: req.DiscountValue,
		MinPurchase:   req.MinPurchase,
		MaxDiscount:   req.MaxDiscount,
		UsageLimit:    req.UsageLimit,
		PerUserLimit:  req.PerUserLimit,
		ValidFrom:     validFrom,
		ValidUntil:    validUntil,
		Active:        req.Active,
		Categories:    req.Categories,
		ProductIDs:    req.ProductIDs,
	}, nil
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("timestamp is required")
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func buildCouponPayload(coupon domain.Coupon) couponPayload {
	payload := couponPayload{
		ID:            coupon.ID,
		Code:          coupon.Code,
		Description:   coupon.Description,
		DiscountType:  string(coupon.DiscountType),
		DiscountValue: coupon.DiscountValue.String(),
		UsageLimit:    coupon.UsageLimit,
		PerUserLimit:  coupon.PerUserLimit,
		ValidFrom:     formatTime(coupon.ValidFrom),
		ValidUntil:    formatTime(coupon.ValidUntil),
		Active:        coupon.Active,
		Categories:    coupon.Categories,
		ProductIDs:    coupon.ProductIDs,
		UsageCount:    coupon.UsageCount,
		CreatedAt:     formatTime(coupon.CreatedAt),
		UpdatedAt:     formatTime(coupon.UpdatedAt),
	}
	if coupon.MinPurchase != nil {
		v := coupon.MinPurchase.String()
		payload.MinPurchase = &v
	}
	if coupon.MaxDiscount != nil {
		v := coupon.MaxDiscount.String()
		payload.MaxDiscount = &v
	}
	return payload
}
