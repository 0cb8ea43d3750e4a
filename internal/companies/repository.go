package companies

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads and writes tenants.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a company by id.
func (r *Repository) Get(ctx context.Context, id string) (Company, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Company{}, ErrCompanyNotFound
	}
	var c Company
	err := r.pool.QueryRow(ctx, `SELECT id::text, name, is_active, created_at FROM companies WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.IsActive, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Company{}, ErrCompanyNotFound
	}
	if err != nil {
		return Company{}, fmt.Errorf("companies: get: %w", err)
	}
	return c, nil
}

// Create inserts an active company.
func (r *Repository) Create(ctx context.Context, name string) (Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Company{}, errors.New("companies: name required")
	}
	c := Company{ID: uuid.NewString(), Name: name, IsActive: true, CreatedAt: time.Now().UTC()}
	if _, err := r.pool.Exec(ctx, `INSERT INTO companies (id, name, is_active, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.IsActive, c.CreatedAt); err != nil {
		return Company{}, fmt.Errorf("companies: insert: %w", err)
	}
	return c, nil
}

// SetActive toggles a company's active flag.
func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE companies SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("companies: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCompanyNotFound
	}
	return nil
}
