package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestRequireFirebaseAuthStoresIdentity(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "uid-123",
		Claims: map[string]any{
			"role":   []any{"Admin", "customer", "admin"},
			"locale": "es-MX",
			"email":  "ana@example.com",
		},
	}}
	authn := NewAuthenticator(verifier)

	called := false
	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" || identity.Email != "ana@example.com" || identity.Locale != "es-MX" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if len(identity.Roles) != 2 || !identity.IsAdmin() {
			t.Fatalf("expected deduplicated admin roles, got %v", identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent || !called {
		t.Fatalf("expected handler to run, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestRequireFirebaseAuthDefaultsToCustomer(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-456", Claims: map[string]any{}}}
	handler := NewAuthenticator(verifier).RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleCustomer {
			t.Fatalf("expected customer role, got %v", identity.Roles)
		}
		if identity.IsAdmin() {
			t.Fatalf("customer must not be admin")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer t")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestRequireFirebaseAuthRejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
		code   string
	}{
		{name: "missing header", header: "", code: "unauthenticated"},
		{name: "wrong scheme", header: "Basic abc", code: "unauthenticated"},
		{name: "expired", header: "Bearer expired", err: ErrTokenExpired, code: "token_expired"},
		{name: "invalid", header: "Bearer bad", err: ErrTokenInvalid, code: "invalid_token"},
		{name: "other failure", header: "Bearer x", err: errors.New("network"), code: "invalid_token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(&stubTokenVerifier{err: tc.err, token: &firebaseauth.Token{UID: "u"}})
			handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if got := errorCode(t, rr); got != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, got)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	guard := RequireRole(RoleAdmin)(ok)

	cases := []struct {
		name     string
		identity *Identity
		status   int
	}{
		{name: "anonymous", status: http.StatusUnauthorized},
		{name: "customer", identity: &Identity{UID: "u1", Roles: []string{RoleCustomer}}, status: http.StatusForbidden},
		{name: "admin", identity: &Identity{UID: "u2", Roles: []string{RoleAdmin}}, status: http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.identity != nil {
			req = req.WithContext(WithIdentity(req.Context(), tc.identity))
		}
		rr := httptest.NewRecorder()
		guard.ServeHTTP(rr, req)
		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rr.Code)
		}
		if tc.status == http.StatusForbidden && errorCode(t, rr) != "admin_required" {
			t.Fatalf("expected admin_required code, got %s", rr.Body.String())
		}
	}
}
