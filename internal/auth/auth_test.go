package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWT("secret")
	tok, err := j.Sign("scheduler", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sub, err := j.Verify(tok)
	if err != nil || sub != "scheduler" {
		t.Fatalf("Verify: %q %v", sub, err)
	}
	if _, err := NewJWT("other").Verify(tok); err == nil {
		t.Fatalf("wrong secret must fail")
	}
	expired, _ := j.Sign("scheduler", -time.Minute)
	if _, err := j.Verify(expired); err == nil {
		t.Fatalf("expired token must fail")
	}
}

func TestRequireAuth(t *testing.T) {
	j := NewJWT("secret")
	var caller string
	h := RequireAuth(j)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", rec.Code)
	}

	tok, _ := j.Sign("cron", time.Minute)
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || caller != "cron" {
		t.Fatalf("valid token: code=%d caller=%q", rec.Code, caller)
	}

	open := RequireAuth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("nil verifier should pass through: %d", rec.Code)
	}
}
