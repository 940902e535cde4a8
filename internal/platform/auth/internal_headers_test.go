package auth

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestInternalAuthSignature_Verify(t *testing.T) {
	secret := "test-secret"
	ts := "1770000000"
	method := "GET"
	path := "/api/planning/plans"
	requestID := "rid-1"
	subject := "op-1"
	email := "op-1@example.test"
	roles := "operator,viewer"

	sig, err := ComputeInternalAuthSignature(secret, ts, method, path, requestID, subject, email, roles)
	if err != nil {
		t.Fatalf("ComputeInternalAuthSignature() err=%v", err)
	}
	if err := VerifyInternalAuthSignature(secret, ts, method, path, requestID, subject, email, roles, sig); err != nil {
		t.Fatalf("VerifyInternalAuthSignature() err=%v", err)
	}
	if err := VerifyInternalAuthSignature(secret, ts, http.MethodPost, path, requestID, subject, email, roles, sig); err == nil {
		t.Fatalf("expected signature verification to fail when method changes")
	}
	if err := VerifyInternalAuthSignature("other-secret", ts, method, path, requestID, subject, email, roles, sig); err == nil {
		t.Fatalf("expected signature verification to fail with wrong secret")
	}
}

func TestInternalAuthTimestamp_Verify(t *testing.T) {
	now := time.Unix(1770000000, 0).UTC()
	if err := VerifyInternalAuthTimestamp("1770000000", now, 5*time.Minute); err != nil {
		t.Fatalf("VerifyInternalAuthTimestamp() err=%v", err)
	}
	if err := VerifyInternalAuthTimestamp("1760000000", now, 5*time.Minute); err == nil {
		t.Fatalf("expected timestamp to be rejected")
	}
	if err := VerifyInternalAuthTimestamp("not-a-number", now, 5*time.Minute); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestGatewayHeadersAuthenticator(t *testing.T) {
	secret := "test-secret"
	authn, err := NewGatewayHeadersAuthenticator(secret)
	if err != nil {
		t.Fatalf("NewGatewayHeadersAuthenticator() err=%v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "http://example.test/plans", nil)
	req.Header.Set("X-Request-Id", "rid-2")
	req.Header.Set(HeaderSubject, "op-1")
	req.Header.Set(HeaderEmail, "op-1@example.test")
	req.Header.Set(HeaderRoles, "operator,viewer")

	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	sig, err := ComputeInternalAuthSignature(secret, ts, req.Method, req.URL.Path, req.Header.Get("X-Request-Id"), "op-1", "op-1@example.test", "operator,viewer")
	if err != nil {
		t.Fatalf("ComputeInternalAuthSignature() err=%v", err)
	}
	req.Header.Set(HeaderInternalAuthTimestamp, ts)
	req.Header.Set(HeaderInternalAuthSignature, sig)

	identity, err := authn.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if identity.Subject != "op-1" {
		t.Fatalf("Subject=%q, want op-1", identity.Subject)
	}
	if len(identity.Roles) != 2 {
		t.Fatalf("Roles=%v, want 2 roles", identity.Roles)
	}

	req.Header.Set(HeaderRoles, "admin")
	if _, err := authn.Authenticate(req.Context(), req); err == nil {
		t.Fatalf("expected tampered roles to fail verification")
	}
}

func TestGatewayHeadersAuthenticator_MissingHeaders(t *testing.T) {
	authn, err := NewGatewayHeadersAuthenticator("test-secret")
	if err != nil {
		t.Fatalf("NewGatewayHeadersAuthenticator() err=%v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "http://example.test/plans", nil)
	if _, err := authn.Authenticate(req.Context(), req); err == nil {
		t.Fatalf("expected unauthenticated for bare request")
	}
}
