package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func identityRouter() (*gin.Engine, *string, *any) {
	gin.SetMode(gin.TestMode)
	var seenUser string
	var seenGuest any
	r := gin.New()
	r.Use(Identity())
	r.GET("/probe", func(c *gin.Context) {
		seenUser = UserIDFromContext(c)
		seenGuest, _ = c.Get("isGuest")
		c.Status(http.StatusOK)
	})
	return r, &seenUser, &seenGuest
}

func TestIdentityUserHeader(t *testing.T) {
	r, user, guest := identityRouter()

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-User-Id", "user-42")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if *user != "user-42" {
		t.Fatalf("user id: got %q", *user)
	}
	if isGuest, _ := (*guest).(bool); isGuest {
		t.Fatalf("expected isGuest false")
	}
}

func TestIdentityGuestHeader(t *testing.T) {
	r, user, guest := identityRouter()

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-Guest-Id", "abc")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if *user != "guest:abc" {
		t.Fatalf("guest id: got %q", *user)
	}
	if isGuest, _ := (*guest).(bool); !isGuest {
		t.Fatalf("expected isGuest true")
	}
}

func TestIdentityAnonymousAllowed(t *testing.T) {
	r, user, _ := identityRouter()

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("anonymous request should pass, got %d", resp.Code)
	}
	if *user != "" {
		t.Fatalf("expected empty user id, got %q", *user)
	}
}
