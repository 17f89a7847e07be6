// Package middleware содержит HTTP middleware сервиса аукционов.
package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/mmeshcher/live-auction/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

// Заголовки, которые шлюз проставляет после аутентификации участника.
const (
	MemberIDHeader   = "memberId"
	MemberRoleHeader = "memberRole"
)

// Identity описывает участника, от имени которого выполняется запрос.
type Identity struct {
	MemberID int64
	Role     model.MemberRole
}

// IsAdmin сообщает, что запрос выполняет администратор.
func (i Identity) IsAdmin() bool {
	return i.Role == model.RoleAdmin
}

// Member читает идентичность участника из заголовков шлюза и кладёт её в контекст запроса.
func Member(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIdentity(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := WithIdentity(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin пропускает только администраторов. Должен стоять после Member.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if !id.IsAdmin() {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseIdentity(r *http.Request) (Identity, bool) {
	raw := r.Header.Get(MemberIDHeader)
	if raw == "" {
		return Identity{}, false
	}

	memberID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || memberID < 0 {
		return Identity{}, false
	}

	role := model.MemberRole(r.Header.Get(MemberRoleHeader))
	switch role {
	case "":
		role = model.RoleConsumer
	case model.RoleConsumer, model.RoleSeller, model.RoleAdmin:
	default:
		return Identity{}, false
	}

	return Identity{MemberID: memberID, Role: role}, true
}

// WithIdentity кладёт идентичность участника в контекст.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext извлекает идентичность участника из контекста запроса.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
