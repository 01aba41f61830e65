package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/camellia-shop/api/internal/domain"
	"github.com/camellia-shop/api/internal/platform/auth"
	"github.com/camellia-shop/api/internal/platform/httpx"
	"github.com/camellia-shop/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

type orderItemRequest struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Name      string          `json:"name"`
}

type addressRequest struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type createOrderRequest struct {
	Items           []orderItemRequest `json:"items"`
	ShippingAddress addressRequest     `json:"shippingAddress"`
	Phone           string             `json:"phone"`
	PaymentMethod   string             `json:"paymentMethod"`
	// CouponID carries the coupon code the client applied; historical field
	// name kept for client compatibility.
	CouponID string `json:"couponId"`
	// DiscountAmount echoes what the client displayed and is advisory only.
	DiscountAmount decimal.Decimal `json:"discountAmount"`
}

type createOrderResponse struct {
	OrderID     string `json:"orderId"`
	OrderNumber int64  `json:"orderNumber"`
	TotalAmount string `json:"totalAmount"`
	PaymentURL  string `json:"paymentUrl,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Name      string `json:"name"`
	ColorName string `json:"colorName,omitempty"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

type orderPayload struct {
	OrderID        string             `json:"orderId"`
	OrderNumber    int64              `json:"orderNumber"`
	Items          []orderItemPayload `json:"items"`
	TotalAmount    string             `json:"totalAmount"`
	DiscountAmount string             `json:"discountAmount"`
	CouponCode     string             `json:"couponCode,omitempty"`
	PaymentMethod  string             `json:"paymentMethod"`
	PaymentStatus  string             `json:"paymentStatus"`
	Fulfillment    string             `json:"fulfillmentStatus"`
	Shipping       addressRequest     `json:"shippingAddress"`
	Phone          string             `json:"phone,omitempty"`
	CreatedAt      string             `json:"createdAt"`
	UpdatedAt      string             `json:"updatedAt,omitempty"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

// OrderHandlers exposes order placement and read endpoints for buyers.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
}

// createOrder places an order for the authenticated buyer. Successful
// creation answers 201 Created with the order id and, for online payment,
// the checkout redirect URL.
func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	lines := make([]domain.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, domain.CartLine{
			ProductID: strings.TrimSpace(item.ProductID),
			VariantID: strings.TrimSpace(item.VariantID),
			Quantity:  item.Quantity,
			Price:     item.Price,
			Name:      strings.TrimSpace(item.Name),
		})
	}

	result, err := h.orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID:        identity.UID,
		Email:         identity.Email,
		Lines:         lines,
		Shipping:      addressFromRequest(req.ShippingAddress),
		Phone:         req.Phone,
		PaymentMethod: domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		CouponCode:    req.CouponID,
	})
	if err != nil {
		writePlaceOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		OrderID:     result.Order.ID,
		OrderNumber: result.Order.OrderNumber,
		TotalAmount: result.Order.TotalAmount.String(),
		PaymentURL:  result.PaymentURL,
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	pager, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, identity.UID, pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, identity.UID, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func writePlaceOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	var lineRejection *services.LineRejection
	if errors.As(err, &lineRejection) {
		details := map[string]any{
			"errorType": string(lineRejection.Reason),
			"line":      lineRejection.Line,
		}
		if lineRejection.ProductID != "" {
			details["productId"] = lineRejection.ProductID
		}
		if lineRejection.VariantID != "" {
			details["variantId"] = lineRejection.VariantID
		}
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_rejected", lineRejection.Error(), http.StatusBadRequest).WithDetails(details))
		return
	}

	var couponRejection *services.CouponRejection
	if errors.As(err, &couponRejection) {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", couponRejection.Error(), http.StatusBadRequest).
			WithDetails(couponRejectionDetails(couponRejection)))
		return
	}

	writeServiceError(ctx, w, err)
}

func couponRejectionDetails(rejection *services.CouponRejection) map[string]any {
	details := map[string]any{
		"errorType": string(rejection.Reason),
	}
	if rejection.Required != nil {
		details["required"] = rejection.Required.String()
	}
	if rejection.Current != nil {
		details["current"] = rejection.Current.String()
	}
	return details
}

func addressFromRequest(req addressRequest) domain.Address {
	return domain.Address{
		Recipient:  strings.TrimSpace(req.Recipient),
		Line1:      strings.TrimSpace(req.Line1),
		Line2:      strings.TrimSpace(req.Line2),
		City:       strings.TrimSpace(req.City),
		State:      strings.TrimSpace(req.State),
		PostalCode: strings.TrimSpace(req.PostalCode),
		Country:    strings.TrimSpace(req.Country),
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			ColorName: item.ColorName,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
			ImageURL:  item.ImageURL,
		})
	}
	return orderPayload{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Items:          items,
		TotalAmount:    order.TotalAmount.String(),
		DiscountAmount: order.DiscountAmount.String(),
		CouponCode:     order.CouponCode,
		PaymentMethod:  string(order.PaymentMethod),
		PaymentStatus:  string(order.PaymentStatus),
		Fulfillment:    string(order.Fulfillment),
		Shipping: addressRequest{
			Recipient:  order.Shipping.Recipient,
			Line1:      order.Shipping.Line1,
			Line2:      order.Shipping.Line2,
			City:       order.Shipping.City,
			State:      order.Shipping.State,
			PostalCode: order.Shipping.PostalCode,
			Country:    order.Shipping.Country,
		},
		Phone:     order.Phone,
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
}
