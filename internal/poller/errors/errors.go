// Package pollererrors convierte errores internos en mensajes cortos para el cliente.
package pollererrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adcondev/receipt-daemon/internal/delivery"
	"github.com/adcondev/receipt-daemon/internal/media"
	"github.com/adcondev/receipt-daemon/internal/queue"
	"github.com/adcondev/receipt-daemon/internal/receipt"
	"github.com/adcondev/receipt-daemon/internal/render"
)

// ExtractUserFriendlyError creates a clean error message for the UI
func ExtractUserFriendlyError(err error) string {
	if err == nil {
		return ""
	}

	var te *receipt.TemplateError
	if errors.As(err, &te) {
		if te.Field != "" {
			return fmt.Sprintf("TEMPLATE: %s %s", te.Field, te.Reason)
		}
		return fmt.Sprintf("TEMPLATE: %s", te.Reason)
	}

	var agg *delivery.AllMethodsFailedError
	if errors.As(err, &agg) {
		methods := make([]string, len(agg.Errors))
		for i, me := range agg.Errors {
			methods[i] = me.Method
		}
		return fmt.Sprintf("PRINTER: Cannot reach %q (tried %s)", agg.Printer, strings.Join(methods, ", "))
	}

	switch {
	case errors.Is(err, render.ErrInvalidProfile):
		return "VALIDATION: Invalid paper width (use 58 or 80)"
	case errors.Is(err, media.ErrEncodeFailed):
		return fmt.Sprintf("MEDIA: %s", extractInnerError(err.Error()))
	case errors.Is(err, queue.ErrAlreadyClaimed):
		return "QUEUE: Job already taken by another worker"
	case errors.Is(err, queue.ErrUpdateFailed):
		return "QUEUE: Status update not saved"
	case errors.Is(err, queue.ErrQueueFull):
		return "QUEUE: Queue full, please retry in a few seconds"
	}

	errStr := err.Error()

	// Common error patterns and their friendly messages
	errorMappings := []struct {
		pattern string
		message string
	}{
		{"invalid paper_width", "VALIDATION: Invalid paper width (use 58 or 80)"},
		{"unknown job kind", "VALIDATION: Unknown job type (use kitchen_ticket, customer_receipt or bill)"},
		{"no printer", "PRINTER: No printer name specified"},
		{"QR data cannot be empty", "QR: Data cannot be empty"},
		{"QR data too long", "QR: Data exceeds maximum length"},
		{"failed to load image", "IMAGE: Invalid or corrupted image data"},
		{"panic", "ERROR: Internal error while printing"},
	}

	// Check for matching patterns
	for _, mapping := range errorMappings {
		if strings.Contains(strings.ToLower(errStr), strings.ToLower(mapping.pattern)) {
			return mapping.message
		}
	}

	// Fallback:  return cleaned error
	return fmt.Sprintf("ERROR: %s", cleanErrorMessage(errStr))
}

// extractInnerError gets the innermost error message
func extractInnerError(errStr string) string {
	parts := strings.Split(errStr, ": ")
	return parts[len(parts)-1]
}

// cleanErrorMessage removes verbose prefixes
func cleanErrorMessage(errStr string) string {
	prefixes := []string{
		"render failed: ",
		"decode document: ",
	}
	result := errStr
	for _, prefix := range prefixes {
		result = strings.TrimPrefix(result, prefix)
	}
	return result
}
