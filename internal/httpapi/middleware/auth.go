package middleware

import (
	"net/http"
	"strings"
)

// Role is the access level a request must present.
type Role int

const (
	RolePublic Role = iota
	RoleAdmin
)

// Keyring holds the configured API keys per role. A ring with no keys
// for a role leaves that role open, which keeps local runs friction-free.
type Keyring struct {
	public map[string]struct{}
	admin  map[string]struct{}
}

func NewKeyring(public, admin []string) *Keyring {
	k := &Keyring{
		public: make(map[string]struct{}, len(public)),
		admin:  make(map[string]struct{}, len(admin)),
	}
	for _, s := range public {
		if s != "" {
			k.public[s] = struct{}{}
		}
	}
	for _, s := range admin {
		if s != "" {
			k.admin[s] = struct{}{}
		}
	}
	return k
}

// presentedKey extracts the API key from "Authorization: Bearer <k>"
// or the X-API-Key header.
func presentedKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return strings.TrimSpace(h[len("bearer "):])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func (k *Keyring) allows(key string, role Role) bool {
	switch role {
	case RoleAdmin:
		if len(k.admin) == 0 {
			return true
		}
		_, ok := k.admin[key]
		return ok
	default:
		if len(k.public) == 0 && len(k.admin) == 0 {
			return true
		}
		if _, ok := k.public[key]; ok {
			return true
		}
		_, ok := k.admin[key]
		return ok
	}
}

// Require guards a route subtree with the given role. Admin keys satisfy
// public routes; the reverse does not hold.
func (k *Keyring) Require(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if k.allows(presentedKey(r), role) {
				next.ServeHTTP(w, r)
				return
			}
			status := http.StatusUnauthorized
			if role == RoleAdmin {
				status = http.StatusForbidden
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"missing or invalid api key"}`))
		})
	}
}
