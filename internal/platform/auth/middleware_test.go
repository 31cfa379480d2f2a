package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

const testSecret = "test-secret"

func doRequest(t *testing.T, mw echo.MiddlewareFunc, authHeader string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, c
}

func TestMiddleware_ValidToken(t *testing.T) {
	token, err := Mint("reviewer-1", "sess-1", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	rec, c := doRequest(t, Middleware(testSecret, false), "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got, _ := c.Get("auth_subject").(string); got != "reviewer-1" {
		t.Errorf("auth_subject = %q", got)
	}
	if got, _ := c.Get("auth_session_id").(string); got != "sess-1" {
		t.Errorf("auth_session_id = %q", got)
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	rec, _ := doRequest(t, Middleware(testSecret, false), "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_MalformedHeader(t *testing.T) {
	rec, _ := doRequest(t, Middleware(testSecret, false), "Token abc")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_WrongSecret(t *testing.T) {
	token, err := Mint("reviewer-1", "", "other-secret", time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	rec, _ := doRequest(t, Middleware(testSecret, false), "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	token, err := Mint("reviewer-1", "", testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	rec, _ := doRequest(t, Middleware(testSecret, false), "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_DevMode(t *testing.T) {
	rec, c := doRequest(t, Middleware("", true), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got, _ := c.Get("auth_subject").(string); got != "dev" {
		t.Errorf("auth_subject = %q", got)
	}
}

func TestVerify_RejectsUnsignedAlg(t *testing.T) {
	// alg=none style tokens must not pass.
	if _, err := Verify("eyJhbGciOiJub25lIn0.eyJzdWIiOiJ4In0.", testSecret); err == nil {
		t.Error("expected an error for alg=none token")
	}
}
