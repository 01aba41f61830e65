package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/camellia-shop/api/internal/platform/httpx"
	"github.com/camellia-shop/api/internal/repositories"
	"github.com/camellia-shop/api/internal/services"

	domain "github.com/camellia-shop/api/internal/domain"
)

const maxRequestBodySize = 64 * 1024

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSONBody reads a bounded JSON body into dst, rejecting unknown
// payload shapes with a client error rather than a panic downstream.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	decoder := json.NewDecoder(body)
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parsePagination(r *http.Request, defaultSize, maxSize int) (domain.Pagination, error) {
	query := r.URL.Query()
	pageSize := defaultSize
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Pagination{}, errors.New("page_size must be an integer")
		}
		switch {
		case size <= 0:
			pageSize = defaultSize
		case size > maxSize:
			pageSize = maxSize
		default:
			pageSize = size
		}
	}
	return domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}, nil
}

// writeServiceError maps service sentinels shared by several handlers onto
// the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponCodeTaken):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_code_taken", "a coupon with this code already exists", http.StatusConflict))
	case errors.Is(err, services.ErrStorageUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request cancelled or timed out", http.StatusGatewayTimeout))
	default:
		if repositories.IsUnavailable(err) {
			httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}
