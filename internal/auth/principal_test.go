package auth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kuitang/entrystore/internal/obs"
	"pgregory.net/rapid"
)

func tokenGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`[A-Za-z0-9._~+/=-]{1,64}`).Filter(func(s string) bool {
		return s != "Bearer"
	})
}

func testFromHeader_StripsOneBearerPrefix(t *rapid.T) {
	token := tokenGenerator().Draw(t, "token")

	p, ok := FromHeader("Bearer "+token, true)
	if !ok || p.UserID != token {
		t.Fatalf("FromHeader(Bearer %q) = (%q, %v), want (%q, true)", token, p.UserID, ok, token)
	}

	// Without the prefix the value is the identifier as-is.
	p, ok = FromHeader(token, true)
	if !ok || p.UserID != token {
		t.Fatalf("FromHeader(%q) = (%q, %v)", token, p.UserID, ok)
	}

	// Only the leading prefix is removed.
	p, ok = FromHeader("Bearer Bearer "+token, true)
	if !ok || p.UserID != "Bearer "+token {
		t.Fatalf("double prefix stripped too far: %q", p.UserID)
	}
}

func TestFromHeader_StripsOneBearerPrefix(t *testing.T) {
	rapid.Check(t, testFromHeader_StripsOneBearerPrefix)
}

func FuzzFromHeader_NeverPanics(f *testing.F) {
	f.Add("Bearer abc")
	f.Add("")
	f.Add("Bearer ")
	f.Fuzz(func(t *testing.T, value string) {
		p, ok := FromHeader(value, true)
		if ok != p.Authenticated() {
			t.Fatalf("ok=%v but Authenticated()=%v for %q", ok, p.Authenticated(), value)
		}
	})
}

func TestFromHeader_AbsentCases(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		present bool
	}{
		{"missing", "", false},
		{"empty", "", true},
		{"bare prefix", "Bearer ", true},
		{"trimmed bare prefix", "Bearer", true},
		{"missing ignores value", "Bearer abc", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if p, ok := FromHeader(tc.value, tc.present); ok {
				t.Fatalf("expected no principal, got %q", p.UserID)
			}
		})
	}
}

func TestFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := FromRequest(req); ok {
		t.Fatal("expected no principal without header")
	}
	req.Header.Set("Authorization", "Bearer abc")
	p, ok := FromRequest(req)
	if !ok || p.UserID != "abc" {
		t.Fatalf("FromRequest = (%q, %v), want (abc, true)", p.UserID, ok)
	}
}

func TestPassthrough_RejectsEmpty(t *testing.T) {
	if _, err := (Passthrough{}).Verify(context.Background(), ""); !errors.Is(err, ErrNoToken) {
		t.Fatalf("Verify(\"\") error = %v, want ErrNoToken", err)
	}
}

type denyAll struct{}

func (denyAll) Verify(context.Context, string) (Principal, error) {
	return Principal{}, errors.New("denied")
}

func TestOptionalAuth_StoresPrincipal(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutputForTests(&buf)
	defer restore()

	var got Principal
	var ok bool
	h := NewMiddleware(nil).OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = PrincipalFrom(r.Context())
		obs.From(r.Context()).Info("handled")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret-identity")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !ok || got.UserID != "secret-identity" {
		t.Fatalf("PrincipalFrom = (%q, %v)", got.UserID, ok)
	}
	if strings.Contains(buf.String(), "secret-identity") {
		t.Fatalf("raw token leaked into log: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"principal"`) {
		t.Fatalf("principal fingerprint missing from log: %s", buf.String())
	}
}

func TestOptionalAuth_AnonymousAndRejected(t *testing.T) {
	for name, mw := range map[string]*Middleware{
		"passthrough": NewMiddleware(Passthrough{}),
		"deny":        NewMiddleware(denyAll{}),
	} {
		t.Run(name, func(t *testing.T) {
			called := false
			h := mw.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if _, ok := PrincipalFrom(r.Context()); ok && name != "passthrough" {
					t.Fatal("rejected token produced a principal")
				}
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if name == "deny" {
				req.Header.Set("Authorization", "Bearer abc")
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if !called {
				t.Fatal("handler not called")
			}
		})
	}
}
