package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmeshcher/live-auction/internal/model"
)

func TestMember_WithValidHeaders(t *testing.T) {
	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("identity not in context")
		}
		if id.MemberID != 42 {
			t.Fatalf("member id from context = %d, want 42", id.MemberID)
		}
		if id.Role != model.RoleSeller {
			t.Fatalf("role from context = %s, want %s", id.Role, model.RoleSeller)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set(MemberIDHeader, "42")
	r.Header.Set(MemberRoleHeader, string(model.RoleSeller))

	Member(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestMember_DefaultsToConsumer(t *testing.T) {
	var got Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set(MemberIDHeader, "7")

	Member(next).ServeHTTP(httptest.NewRecorder(), r)

	if got.Role != model.RoleConsumer {
		t.Fatalf("role = %q, want %q", got.Role, model.RoleConsumer)
	}
}

func TestMember_RejectsBadHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{name: "missing member id", headers: map[string]string{}},
		{name: "non numeric member id", headers: map[string]string{MemberIDHeader: "abc"}},
		{name: "unknown role", headers: map[string]string{MemberIDHeader: "1", MemberRoleHeader: "ROLE_ROOT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			Member(next).ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name string
		role model.MemberRole
		want int
	}{
		{name: "admin passes", role: model.RoleAdmin, want: http.StatusOK},
		{name: "consumer is forbidden", role: model.RoleConsumer, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			r := httptest.NewRequest(http.MethodPost, "/admin", nil)
			r.Header.Set(MemberIDHeader, "1")
			r.Header.Set(MemberRoleHeader, string(tt.role))
			w := httptest.NewRecorder()

			Member(RequireAdmin(next)).ServeHTTP(w, r)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
