package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func newAuthRouter(t *testing.T, secret string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("SUPABASE_JWT_SECRET", secret)
	t.Setenv("SUPABASE_JWT_ISSUER", "")
	t.Setenv("SUPABASE_JWT_AUDIENCE", "")

	r := gin.New()
	r.GET("/me", JWTAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id")})
	})
	return r
}

func signToken(t *testing.T, secret, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func doAuthed(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth_ValidTokenSetsUserID(t *testing.T) {
	r := newAuthRouter(t, "test-secret")
	sub := "11111111-1111-1111-1111-111111111111"

	w := doAuthed(r, signToken(t, "test-secret", sub))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), sub) {
		t.Fatalf("user_id not propagated: %s", w.Body)
	}
}

func TestJWTAuth_RejectsBadSignature(t *testing.T) {
	r := newAuthRouter(t, "test-secret")

	w := doAuthed(r, signToken(t, "wrong-secret", "u1"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestJWTAuth_RejectsMissingToken(t *testing.T) {
	r := newAuthRouter(t, "test-secret")

	if w := doAuthed(r, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestJWTAuth_RejectsMissingSubject(t *testing.T) {
	r := newAuthRouter(t, "test-secret")

	if w := doAuthed(r, signToken(t, "test-secret", "")); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
