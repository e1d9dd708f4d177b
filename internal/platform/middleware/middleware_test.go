package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := RequestID()
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected a generated request ID header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := RequestID()
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if got := rec.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("expected preserved request ID, got %q", got)
	}
	if got, _ := c.Get("request_id").(string); got != "req-123" {
		t.Errorf("expected request_id in context, got %q", got)
	}
}

func TestRecovery_RecoversPanic(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	logger := zerolog.New(os.Stderr)
	mw := Recovery(logger)
	handler := mw(func(c echo.Context) error { panic("boom") })

	err := handler(c)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 HTTPError, got %v", err)
	}
}

func TestLogger_SkipsHealthProbes(t *testing.T) {
	e := echo.New()
	var buf bytes.Buffer
	mw := Logger(zerolog.New(&buf))
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("health probe was logged: %s", buf.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/conflicts", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(buf.String(), "/api/v1/conflicts") {
		t.Errorf("request not logged: %s", buf.String())
	}
}

func TestRateLimit_Exhaustion(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2})
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	var lastErr error
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		lastErr = handler(c)
	}

	if lastErr == nil {
		t.Fatal("expected rate limit error on third request")
	}
	httpErr, ok := lastErr.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %v", lastErr)
	}
}
