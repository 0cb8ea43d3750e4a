package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/stockledger/internal/companies"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// CompanyResolver confirms the tenant in a token may operate.
type CompanyResolver interface {
	Resolve(ctx context.Context, id string) (companies.Company, error)
}

// Middleware authenticates requests and places the caller identity on the context.
type Middleware struct {
	issuer    *Issuer
	companies CompanyResolver
	cookie    string
	logger    *slog.Logger
}

// NewMiddleware constructs Middleware. Tokens are read from the cookie named
// cookie or from an Authorization bearer header.
func NewMiddleware(issuer *Issuer, resolver CompanyResolver, cookie string, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{issuer: issuer, companies: resolver, cookie: cookie, logger: logger}
}

// Handler wraps next.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := m.token(r)
		if raw == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		claims, err := m.issuer.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
			return
		}
		if m.companies != nil {
			if _, err := m.companies.Resolve(r.Context(), claims.CompanyID); err != nil {
				switch {
				case errors.Is(err, companies.ErrCompanyNotFound), errors.Is(err, companies.ErrCompanyInactive):
					httpx.Problem(w, http.StatusForbidden, "Forbidden", "company is not permitted")
				default:
					m.logger.Error("resolve company", slog.String("company_id", claims.CompanyID), slog.Any("error", err))
					httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "company lookup failed")
				}
				return
			}
		}
		ctx := shared.ContextWithIdentity(r.Context(), &shared.Identity{
			UserID:    claims.UserID,
			CompanyID: claims.CompanyID,
			Role:      claims.Role,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) token(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if m.cookie == "" {
		return ""
	}
	c, err := r.Cookie(m.cookie)
	if err != nil {
		return ""
	}
	return c.Value
}
