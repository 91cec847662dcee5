package client

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// MaxCorrelationIDLength bounds caller supplied correlation identifiers.
const MaxCorrelationIDLength = 128

type correlationKey struct{}

// NormalizeCorrelationID trims id and rejects empty, oversized or
// non-printable identifiers.
func NormalizeCorrelationID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxCorrelationIDLength {
		return "", false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x20 || id[i] > 0x7e {
			return "", false
		}
	}
	return id, true
}

// WithCorrelationID makes requests issued with ctx carry id in the
// X-Correlation-Id header. Invalid identifiers leave ctx untouched.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	normalized, ok := NormalizeCorrelationID(id)
	if !ok {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, normalized)
}

// CorrelationIDFromContext returns the identifier stored by WithCorrelationID.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// GenerateCorrelationID returns a fresh time-ordered identifier.
func GenerateCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
