package tracing

import (
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const maxErrorLen = 256

var sensitiveKeyFragments = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"cookie",
	"api_key",
	"apikey",
	"email",
	"prompt",
}

// SafeAttributes drops attributes whose keys suggest sensitive content.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	safe := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		key := strings.ToLower(string(attr.Key))
		sensitive := false
		for _, fragment := range sensitiveKeyFragments {
			if strings.Contains(key, fragment) {
				sensitive = true
				break
			}
		}
		if sensitive {
			continue
		}
		safe = append(safe, attr)
	}
	return safe
}

// SafeError returns an error suitable for span recording, truncated so
// upstream payloads never leak into trace storage.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen] + "..."
	}
	return errors.New(msg)
}
