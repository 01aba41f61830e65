package firestore

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Amounts are stored as decimal strings so Firestore never holds a binary
// float representation of money.

func encodeAmount(amount decimal.Decimal) string {
	return amount.String()
}

func encodeAmountPtr(amount *decimal.Decimal) *string {
	if amount == nil {
		return nil
	}
	s := amount.String()
	return &s
}

func decodeAmount(field, value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode amount %s: %w", field, err)
	}
	return amount, nil
}

func decodeAmountPtr(field string, value *string) (*decimal.Decimal, error) {
	if value == nil {
		return nil, nil
	}
	amount, err := decodeAmount(field, *value)
	if err != nil {
		return nil, err
	}
	return &amount, nil
}

// List cursors encode the sort key and document ID of the last returned row.

func encodeListToken(sortTime time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", sortTime.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeListToken(token string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decode page token: %w", err)
	}
	timePart, idPart, ok := strings.Cut(string(raw), "|")
	if !ok || idPart == "" {
		return time.Time{}, "", fmt.Errorf("decode page token: malformed payload")
	}
	sortTime, err := time.Parse(time.RFC3339Nano, timePart)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decode page token: %w", err)
	}
	return sortTime, idPart, nil
}
