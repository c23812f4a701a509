package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(subject string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UnitID: "main",
		Name:   "Dra. Ana",
		Roles:  []string{RolePhysician},
	}
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, req *http.Request, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	return mw(handler)(c)
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/queues/arrivals", nil)
	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		t.Run(header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", header)
			err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req, okHandler)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidTokenSetsOperator(t *testing.T) {
	operatorID := uuid.New()
	tokenStr := createTestToken(t, validClaims(operatorID.String()), testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	called := false
	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req, func(c echo.Context) error {
		called = true
		ctx := c.Request().Context()
		if got := OperatorIDFromContext(ctx); got != operatorID {
			t.Errorf("expected operator %s, got %s", operatorID, got)
		}
		if got := OperatorNameFromContext(ctx); got != "Dra. Ana" {
			t.Errorf("expected operator name, got %q", got)
		}
		if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RolePhysician {
			t.Errorf("unexpected roles %v", roles)
		}
		if unit, _ := c.Get("jwt_unit_id").(string); unit != "main" {
			t.Errorf("expected jwt_unit_id=main, got %q", unit)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestJWTMiddleware_NonUUIDSubject(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("user-123"), testSigningKey)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims(uuid.NewString())
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	tokenStr := createTestToken(t, claims, testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(uuid.NewString()), []byte("another-key"))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_IssuerMismatch(t *testing.T) {
	claims := validClaims(uuid.NewString())
	claims.Issuer = "https://other.local"
	tokenStr := createTestToken(t, claims, testSigningKey)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "https://idp.local"})
	err := runMiddleware(t, mw, req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_SkipsDisplays(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/displays/reception", nil)
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})
	if err := runMiddleware(t, mw, req, okHandler); err != nil {
		t.Fatalf("display path must bypass auth, got %v", err)
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	err := runMiddleware(t, DevAuthMiddleware(nil), req, func(c echo.Context) error {
		ctx := c.Request().Context()
		if got := OperatorIDFromContext(ctx); got != DevOperatorID {
			t.Errorf("expected dev operator, got %s", got)
		}
		if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleAdmin {
			t.Errorf("expected [admin], got %v", roles)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_Impersonation(t *testing.T) {
	operatorID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Operator-ID", operatorID.String())
	req.Header.Set("X-Operator-Roles", "nurse,receptionist")

	err := runMiddleware(t, DevAuthMiddleware(nil), req, func(c echo.Context) error {
		ctx := c.Request().Context()
		if got := OperatorIDFromContext(ctx); got != operatorID {
			t.Errorf("expected %s, got %s", operatorID, got)
		}
		if roles := RolesFromContext(ctx); len(roles) != 2 || roles[0] != RoleNurse {
			t.Errorf("unexpected roles %v", roles)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_BadOperatorHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Operator-ID", "not-a-uuid")
	err := runMiddleware(t, DevAuthMiddleware(nil), req, okHandler)
	expectStatus(t, err, http.StatusBadRequest)
}

func TestOperatorIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := OperatorIDFromContext(req.Context()); got != uuid.Nil {
		t.Errorf("expected uuid.Nil, got %s", got)
	}
}
