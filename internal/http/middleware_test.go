package http

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nerolab/alas-console/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func authTestRouter(extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append([]gin.HandlerFunc{JWTAuthMiddleware(testSecret)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(200, gin.H{
			"user_id": c.GetString("userID"),
			"role":    c.GetString("role"),
		})
	})
	r.GET("/probe", handlers...)
	return r
}

func TestJWTAuthRejectsMissingHeader(t *testing.T) {
	r := authTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	r.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestJWTAuthRejectsMalformedHeader(t *testing.T) {
	r := authTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	req.Header.Set("Authorization", "Token abc")
	r.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestJWTAuthRejectsWrongKey(t *testing.T) {
	r := authTestRouter()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1", "type": "access", "exp": time.Now().Add(time.Hour).Unix(),
	})
	s, _ := token.SignedString([]byte("wrong-key-wrong-key-wrong-key-xx"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+s)
	r.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

// refresh token 不能当 access token 用
func TestJWTAuthRejectsRefreshToken(t *testing.T) {
	r := authTestRouter()

	s := signToken(t, jwt.MapClaims{
		"sub":  "u1",
		"type": "refresh",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+s)
	r.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestJWTAuthRejectsExpiredToken(t *testing.T) {
	r := authTestRouter()

	s := signToken(t, jwt.MapClaims{
		"sub":  "u1",
		"type": "access",
		"exp":  time.Now().Add(-time.Minute).Unix(),
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+s)
	r.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestJWTAuthSetsIdentity(t *testing.T) {
	r := authTestRouter()

	s := signToken(t, jwt.MapClaims{
		"sub":      "u1",
		"username": "alice",
		"role":     models.RoleUser,
		"type":     "access",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+s)
	r.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if want := `"user_id":"u1"`; !strings.Contains(body, want) {
		t.Errorf("body %s missing %s", body, want)
	}
	if want := `"role":"user"`; !strings.Contains(body, want) {
		t.Errorf("body %s missing %s", body, want)
	}
}

func TestAdminRequiredBlocksUserRole(t *testing.T) {
	r := authTestRouter(AdminRequired())

	for role, want := range map[string]int{
		models.RoleAdmin: 200,
		models.RoleUser:  403,
	} {
		s := signToken(t, jwt.MapClaims{
			"sub":  "u1",
			"role": role,
			"type": "access",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+s)
		r.ServeHTTP(w, req)

		if w.Code != want {
			t.Errorf("role %s: status = %d, want %d", role, w.Code, want)
		}
	}
}

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("k") {
			t.Fatalf("request %d unexpectedly blocked", i+1)
		}
	}
	if rl.Allow("k") {
		t.Error("request over the limit was allowed")
	}
	// other keys are independent
	if !rl.Allow("other") {
		t.Error("independent key was blocked")
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)

	if !rl.Allow("k") {
		t.Fatal("first request blocked")
	}
	if rl.Allow("k") {
		t.Fatal("second request within window allowed")
	}
	time.Sleep(30 * time.Millisecond)
	if !rl.Allow("k") {
		t.Error("request after window expiry blocked")
	}
}

