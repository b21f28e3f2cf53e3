package usercontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type userIDKey struct{}
type requestIDKey struct{}
type ipAddressKey struct{}
type userAgentKey struct{}

// WithUserID stores the authenticated user ID in the context.
func WithUserID(ctx context.Context, userID snowflake.ID) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated user ID, if set.
func UserIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	switch typed := ctx.Value(userIDKey{}).(type) {
	case snowflake.ID:
		return typed, true
	case int64:
		return snowflake.ID(typed), true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// WithRequestID stores the request correlation ID in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if strings.TrimSpace(requestID) == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request correlation ID, if set.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithIPAddress stores the caller IP in the context.
func WithIPAddress(ctx context.Context, ip string) context.Context {
	if strings.TrimSpace(ip) == "" {
		return ctx
	}
	return context.WithValue(ctx, ipAddressKey{}, ip)
}

// IPAddressFromContext returns the caller IP, if set.
func IPAddressFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ipAddressKey{}).(string); ok {
		return v
	}
	return ""
}

// WithUserAgent stores the caller user agent in the context.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	if strings.TrimSpace(ua) == "" {
		return ctx
	}
	return context.WithValue(ctx, userAgentKey{}, ua)
}

// UserAgentFromContext returns the caller user agent, if set.
func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(userAgentKey{}).(string); ok {
		return v
	}
	return ""
}
