package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-signing-key")

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSigningKey)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func runMiddleware(mw echo.MiddlewareFunc, req *http.Request) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return rec, handler(c)
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := runMiddleware(mw, req)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc123")
	_, err := runMiddleware(mw, req)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	token := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"sync-operator"},
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec, err := runMiddleware(mw, req)
	if err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	token := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	_, err := runMiddleware(mw, req)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %v", err)
	}
}

func TestJWTMiddleware_ClaimsExtraction(t *testing.T) {
	var gotUser string
	var gotRoles []string

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	token := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"sync-operator", "reviewer"},
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	handler := mw(func(c echo.Context) error {
		gotUser = UserIDFromContext(c.Request().Context())
		gotRoles = RolesFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatal(err)
	}
	if gotUser != "user-42" {
		t.Errorf("user id = %q", gotUser)
	}
	if len(gotRoles) != 2 || gotRoles[0] != "sync-operator" {
		t.Errorf("roles = %v", gotRoles)
	}
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	var gotUser string
	mw := DevAuthMiddleware()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	handler := mw(func(c echo.Context) error {
		gotUser = UserIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatal(err)
	}
	if gotUser != "dev-user" {
		t.Errorf("expected dev defaults, got user %q", gotUser)
	}
}
