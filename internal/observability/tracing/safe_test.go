package tracing

import (
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/recommendations/bulk"),
		attribute.String("user.email", "user@example.com"),
		attribute.String("search.prompt", "recommend movies"),
	)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(attrs))
	}
	if attrs[0].Key != "http.route" {
		t.Fatalf("expected http.route to be retained, got %s", attrs[0].Key)
	}
}

func TestSafeErrorTruncates(t *testing.T) {
	if SafeError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	long := errors.New(strings.Repeat("x", 1024))
	got := SafeError(long)
	if len(got.Error()) > maxErrorLen+3 {
		t.Fatalf("expected truncated message, got %d bytes", len(got.Error()))
	}
}
