// Package validation provides input validation helpers and middleware for
// the trustgate API.
package validation

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// Accepted clock skew for client-supplied timestamps.
const (
	MaxTimestampAge  = 5 * time.Minute
	MaxTimestampSkew = 1 * time.Minute
)

var (
	// identifierRegex matches tenant ids, event ids and similar opaque keys.
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)
	// versionRegex matches dotted version strings like "1.4.2" or "2.0.0-rc1".
	versionRegex = regexp.MustCompile(`^[0-9]+(\.[0-9]+){0,3}([-+][A-Za-z0-9.]+)?$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsSafeIdentifier checks that s only contains identifier characters.
func IsSafeIdentifier(s string) bool {
	return identifierRegex.MatchString(s)
}

// IsValidVersion checks a dotted version string.
func IsValidVersion(s string) bool {
	return versionRegex.MatchString(s)
}

// IsRecentTimestamp reports whether ts (epoch millis) lies within the
// accepted window around now.
func IsRecentTimestamp(ts int64, now time.Time) bool {
	t := time.UnixMilli(ts)
	return !t.Before(now.Add(-MaxTimestampAge)) && !t.After(now.Add(MaxTimestampSkew))
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)

	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ValidVersion checks an optional version field.
func ValidVersion(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidVersion(value) {
			return &ValidationError{Field: field, Message: "must be a dotted version string"}
		}
		return nil
	}
}

// ValidIdentifier checks an optional identifier field.
func ValidIdentifier(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsSafeIdentifier(value) {
			return &ValidationError{Field: field, Message: "contains invalid characters"}
		}
		return nil
	}
}
