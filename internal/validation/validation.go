// Package validation provides input validation middleware for the scoring API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (16MB). Batches are bulky;
// anything larger should go through the CLI.
const MaxRequestSize = 16 << 20

// MaxBatchSize caps the number of records in one scoring request.
const MaxBatchSize = 100000

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// userKeyRegex keeps user keys to printable, non-pathological identifiers.
var userKeyRegex = regexp.MustCompile(`^[\x21-\x7e]{1,254}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidUserKey checks whether a user key is a plausible normalized
// identifier (email or opaque ID, printable ASCII, bounded length).
func IsValidUserKey(key string) bool {
	return userKeyRegex.MatchString(key)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// UserKeyParamMiddleware validates the :userKey URL parameter on routes that
// use it, rejecting malformed keys before they reach a store query.
func UserKeyParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("userKey")
		if key != "" && !IsValidUserKey(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_user_key",
				"message": "userKey must be printable ASCII, at most 254 characters",
			})
			return
		}
		c.Next()
	}
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
