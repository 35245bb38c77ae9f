package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// Role is the coarse permission level resolved from a bearer token.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
	RoleStaff  Role = "STAFF"
)

// Identity is the resolved caller: a role and, for members, their member id.
// This core trusts the resolved identity; token issuance happens elsewhere.
type Identity struct {
	Role     Role
	MemberID string
}

type identityKey struct{}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok
}

// claims is the expected token payload. Subject carries the member id for
// member tokens.
type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticate parses an optional Bearer token (HS256) and stores the
// resolved identity in the request context. Requests without a token pass
// through anonymously; requests with an invalid token are rejected so a
// broken client fails loudly instead of silently downgrading to guest.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeError(r.Context(), w, http.StatusUnauthorized, "unauthorized", "malformed authorization header")
				return
			}

			identity, err := parseToken(raw, secret)
			if err != nil {
				writeError(r.Context(), w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseToken(raw string, secret []byte) (*Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	role := Role(c.Role)
	switch role {
	case RoleAdmin, RoleMember, RoleStaff:
	default:
		return nil, errors.Errorf("unknown role %q", c.Role)
	}
	return &Identity{Role: role, MemberID: c.Subject}, nil
}

// RequireRole rejects requests whose identity is missing (401) or whose role
// is not in the allowed set (403).
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(r.Context(), w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if _, ok := allowed[identity.Role]; !ok {
				writeError(r.Context(), w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
