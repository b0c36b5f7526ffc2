package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidUserKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"jane.doe@example.com", true},
		{"user_12345", true},
		{"", false},
		{"has space", false},
		{"tab\there", false},
		{strings.Repeat("a", 254), true},
		{strings.Repeat("a", 255), false},
	}
	for _, tt := range tests {
		if got := IsValidUserKey(tt.key); got != tt.want {
			t.Errorf("IsValidUserKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestUserKeyParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/users/:userKey", UserKeyParamMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/users/jane@example.com", nil))
	if w.Code != http.StatusOK {
		t.Errorf("valid key: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/users/bad%00key", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid key: status = %d, want 400", w.Code)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("SanitizeString = %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("SanitizeString length cap = %q", got)
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("name", ""),
		MaxLength("detail", strings.Repeat("x", 20), 10),
	)
	if len(errs) != 2 {
		t.Fatalf("errs = %v, want 2", errs)
	}
	if errs.Error() != "name: is required" {
		t.Errorf("Error() = %q", errs.Error())
	}

	if errs := Validate(Required("name", "ok")); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}
