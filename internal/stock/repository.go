package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository persists stock records as versioned JSONB documents in PostgreSQL.
// Scalar columns mirror the fields used for filtering and uniqueness.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new record. A second record for the same company and
// product fails with ErrDuplicateProduct.
func (r *Repository) Create(ctx context.Context, rec Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("stock: encode record: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO stock_records
		(id, company_id, product, is_active, closing_stock, minimum_stock, expiry_date, version, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.CompanyID, rec.Product, rec.IsActive, rec.ClosingStock, rec.MinimumStock,
		rec.ExpiryDate, rec.Version, doc, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateProduct
		}
		return fmt.Errorf("stock: insert record: %w", err)
	}
	return nil
}

// Get loads a record scoped to companyID.
func (r *Repository) Get(ctx context.Context, companyID, id string) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Record{}, ErrRecordNotFound
	}
	row := r.pool.QueryRow(ctx, `SELECT doc, version FROM stock_records WHERE id = $1 AND company_id = $2`, id, companyID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

// Save writes rec with version expectedVersion+1 when the stored version
// still equals expectedVersion.
func (r *Repository) Save(ctx context.Context, rec Record, expectedVersion int64) (Record, error) {
	rec.Version = expectedVersion + 1
	doc, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("stock: encode record: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE stock_records
		SET doc = $1, version = $2, is_active = $3, closing_stock = $4, minimum_stock = $5,
		    expiry_date = $6, updated_at = $7
		WHERE id = $8 AND company_id = $9 AND version = $10`,
		doc, rec.Version, rec.IsActive, rec.ClosingStock, rec.MinimumStock,
		rec.ExpiryDate, rec.UpdatedAt, rec.ID, rec.CompanyID, expectedVersion)
	if err != nil {
		return Record{}, fmt.Errorf("stock: update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_records WHERE id = $1 AND company_id = $2)`,
			rec.ID, rec.CompanyID).Scan(&exists); err != nil {
			return Record{}, fmt.Errorf("stock: check record: %w", err)
		}
		if !exists {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, ErrConcurrentUpdate
	}
	return rec, nil
}

// List returns records for a company ordered by product. The flag filters
// are evaluated by the caller against a fresh recalculation.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	var (
		where = []string{"company_id = $1"}
		args  = []any{filter.CompanyID}
	)
	if filter.Product != "" {
		args = append(args, filter.Product)
		where = append(where, fmt.Sprintf("product = $%d", len(args)))
	}
	if !filter.IncludeInactive {
		where = append(where, "is_active")
	}
	query := `SELECT doc, version FROM stock_records WHERE ` + strings.Join(where, " AND ") + ` ORDER BY product, id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stock: list records: %w", err)
	}
	return collectRecords(rows)
}

// ListActive pages through active records of every company in id order.
func (r *Repository) ListActive(ctx context.Context, afterID string, limit int) ([]Record, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if afterID == "" {
		rows, err = r.pool.Query(ctx, `SELECT doc, version FROM stock_records WHERE is_active ORDER BY id LIMIT $1`, limit)
	} else {
		rows, err = r.pool.Query(ctx, `SELECT doc, version FROM stock_records WHERE is_active AND id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("stock: list active records: %w", err)
	}
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		doc     []byte
		version int64
	)
	if err := row.Scan(&doc, &version); err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return Record{}, fmt.Errorf("stock: decode record: %w", err)
	}
	rec.Version = version
	if rec.AgentStocks == nil {
		rec.AgentStocks = []AgentAllocation{}
	}
	return rec, nil
}
