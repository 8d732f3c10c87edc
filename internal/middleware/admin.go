package middleware

import (
	"context"
	"net/http"
)

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// Admin is the resolved caller of an admin route.
type Admin struct {
	UserID  string
	IsSuper bool
}

func AdminFromContext(ctx context.Context) (Admin, bool) {
	admin, ok := ctx.Value(adminKey).(Admin)
	return admin, ok
}

// RequireAdmin admits super admins and admins holding any of roles. With no
// roles every admin is admitted. Must run after Auth.
func RequireAdmin(admins AdminStore, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID, ok := UserIDFromContext(ctx)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			isAdmin, isSuper, err := admins.IsAdmin(ctx, userID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "admin_lookup_failed")
				return
			}
			if !isAdmin {
				writeError(w, http.StatusForbidden, "admin_required")
				return
			}
			if !isSuper && len(roles) > 0 {
				granted, err := hasAnyRole(ctx, admins, userID, roles)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "admin_lookup_failed")
					return
				}
				if !granted {
					writeError(w, http.StatusForbidden, "role_required")
					return
				}
			}
			ctx = context.WithValue(ctx, adminKey, Admin{UserID: userID, IsSuper: isSuper})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasAnyRole(ctx context.Context, admins AdminStore, userID string, roles []string) (bool, error) {
	for _, role := range roles {
		ok, err := admins.HasRole(ctx, userID, role)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}
