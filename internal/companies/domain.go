package companies

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Company is a tenant owning stock records.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

var (
	// ErrCompanyNotFound reports an unknown tenant.
	ErrCompanyNotFound = fmt.Errorf("company not found: %w", httpx.ErrNotFound)
	// ErrCompanyInactive reports a tenant that may no longer operate.
	ErrCompanyInactive = fmt.Errorf("company is inactive: %w", httpx.ErrForbidden)
)
