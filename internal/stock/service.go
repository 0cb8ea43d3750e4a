package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// DefaultMaxAttempts bounds the read-modify-write retry loop.
const DefaultMaxAttempts = 3

// RepositoryPort abstracts the versioned document store.
type RepositoryPort interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, companyID, id string) (Record, error)
	// Save writes rec only if the stored version still equals expectedVersion,
	// returning ErrConcurrentUpdate otherwise.
	Save(ctx context.Context, rec Record, expectedVersion int64) (Record, error)
	List(ctx context.Context, filter ListFilter) ([]Record, error)
	ListActive(ctx context.Context, afterID string, limit int) ([]Record, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards replayed allocation batches.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort receives ledger counters.
type MetricsPort interface {
	AllocationsApplied(success, failed int)
	WriteConflict(op string, exhausted bool)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Products    []string
	MaxAttempts int
}

// Service coordinates stock ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     MetricsPort
	catalog     Catalog
	maxAttempts int
	logger      *slog.Logger
	clock       func() time.Time
}

// NewService builds Service. audit, idempotency and metrics may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, metrics MetricsPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		metrics:     metrics,
		catalog:     NewCatalog(cfg.Products),
		maxAttempts: attempts,
		logger:      logger,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// Catalog exposes the configured product catalog.
func (s *Service) Catalog() Catalog {
	return s.catalog
}

// Create registers a new stock record for a product.
func (s *Service) Create(ctx context.Context, in CreateInput) (Record, error) {
	product := normalizeProduct(in.Product)
	if product == "" {
		return Record{}, &httpx.ValidationError{Field: "product", Reason: "is required"}
	}
	if !s.catalog.Contains(product) {
		return Record{}, ErrUnknownProduct
	}
	if !in.Unit.Valid() {
		return Record{}, ErrInvalidUnit
	}
	if in.ExpiryDate.IsZero() {
		return Record{}, ErrMissingExpiry
	}
	if !validNonNegative(in.OpeningStock) {
		return Record{}, negativeQuantity("openingStock")
	}
	if !validNonNegative(in.MinimumStock) {
		return Record{}, negativeQuantity("minimumStock")
	}

	now := s.clock()
	rec := Record{
		ID:           uuid.NewString(),
		CompanyID:    in.CompanyID,
		Product:      product,
		Unit:         in.Unit,
		OpeningStock: in.OpeningStock,
		MinimumStock: in.MinimumStock,
		ExpiryDate:   in.ExpiryDate.UTC(),
		AgentStocks:  []AgentAllocation{},
		IsActive:     true,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	rec.Recalculate(now)
	if err := s.repo.Create(ctx, rec); err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, in.ActorID, "stock:create", rec, map[string]any{
		"product":       rec.Product,
		"unit":          rec.Unit,
		"opening_stock": rec.OpeningStock,
	})
	return rec, nil
}

// Get returns a single record with derived fields evaluated at the current time.
func (s *Service) Get(ctx context.Context, companyID, id string) (Record, error) {
	if strings.TrimSpace(id) == "" {
		return Record{}, &httpx.ValidationError{Field: "stockId", Reason: "is required"}
	}
	rec, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return Record{}, err
	}
	rec.Recalculate(s.clock())
	return rec, nil
}

// List returns records matching filter and their aggregate summary.
func (s *Service) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	if filter.Product != "" {
		filter.Product = normalizeProduct(filter.Product)
	}
	now := filter.Now
	if now.IsZero() {
		now = s.clock()
	}
	records, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		rec.Recalculate(now)
		if filter.LowStock != nil && rec.IsLowStock != *filter.LowStock {
			continue
		}
		if filter.Expired != nil && rec.IsExpired != *filter.Expired {
			continue
		}
		out = append(out, rec)
	}
	return ListResult{Records: out, Summary: Summarize(out)}, nil
}

// Update applies a partial update to an active record.
func (s *Service) Update(ctx context.Context, in UpdateInput) (Record, error) {
	if in.OpeningStock == nil && in.MinimumStock == nil && in.ExpiryDate == nil && in.Unit == nil {
		return Record{}, &httpx.ValidationError{Field: "body", Reason: "must contain at least one updatable field"}
	}
	rec, err := s.mutate(ctx, "update", in.CompanyID, in.StockID, true, func(rec *Record, now time.Time) (bool, error) {
		return true, rec.ApplyUpdate(in, now)
	})
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, in.ActorID, "stock:update", rec, nil)
	return rec, nil
}

// Deactivate marks a record inactive. Deactivating twice succeeds.
func (s *Service) Deactivate(ctx context.Context, companyID, actorID, id string) (Record, error) {
	rec, err := s.mutate(ctx, "deactivate", companyID, id, false, func(rec *Record, now time.Time) (bool, error) {
		if !rec.IsActive {
			return false, nil
		}
		rec.IsActive = false
		rec.Recalculate(now)
		return true, nil
	})
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, actorID, "stock:deactivate", rec, nil)
	return rec, nil
}

// Allocate distributes quantity from a record to agents.
func (s *Service) Allocate(ctx context.Context, in AllocateInput) (AllocationOutcome, error) {
	if strings.TrimSpace(in.StockID) == "" {
		return AllocationOutcome{}, &httpx.ValidationError{Field: "stockId", Reason: "is required"}
	}
	if len(in.Allocations) == 0 {
		return AllocationOutcome{}, &httpx.ValidationError{Field: "allocations", Reason: "must contain at least one entry"}
	}
	lines := make([]AllocationLine, len(in.Allocations))
	for i, line := range in.Allocations {
		line.AgentID = NormalizeAgentID(line.AgentID)
		lines[i] = line
	}

	idemKey := ""
	if in.IdempotencyKey != "" && s.idempotency != nil {
		idemKey = fmt.Sprintf("stock:allocate:%s:%s", in.CompanyID, in.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "stock"); err != nil {
			return AllocationOutcome{}, err
		}
	}

	var results []AllocationResult
	rec, err := s.mutate(ctx, "allocate", in.CompanyID, in.StockID, true, func(rec *Record, now time.Time) (bool, error) {
		var err error
		results, err = rec.Allocate(lines, now)
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		if idemKey != "" {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return AllocationOutcome{}, err
	}

	success, failed := 0, 0
	for _, r := range results {
		if r.Status == AllocationSuccess {
			success++
		} else {
			failed++
		}
	}
	if s.metrics != nil {
		s.metrics.AllocationsApplied(success, failed)
	}
	s.recordAudit(ctx, in.ActorID, "stock:allocate", rec, map[string]any{
		"success": success,
		"failed":  failed,
		"results": results,
	})
	return AllocationOutcome{Results: results, Stock: rec.Summary()}, nil
}

// GetAllocations returns the agent allocations of a record, optionally for one agent.
func (s *Service) GetAllocations(ctx context.Context, companyID, stockID, agentID string) ([]AgentAllocation, error) {
	rec, err := s.Get(ctx, companyID, stockID)
	if err != nil {
		return nil, err
	}
	return rec.filterAgents(NormalizeAgentID(agentID)), nil
}

// RecordDelivery books a forward delivery by an agent.
func (s *Service) RecordDelivery(ctx context.Context, in AgentInput) (AgentUpdate, error) {
	return s.agentMutation(ctx, "delivery", in, func(rec *Record, agentID string, now time.Time) (AgentAllocation, bool, error) {
		a, err := rec.RecordDelivery(agentID, in.Quantity, now)
		return a, err == nil, err
	})
}

// RecordSalesReturn books stock coming back to an agent from sales.
func (s *Service) RecordSalesReturn(ctx context.Context, in AgentInput) (AgentUpdate, error) {
	return s.agentMutation(ctx, "return", in, func(rec *Record, agentID string, now time.Time) (AgentAllocation, bool, error) {
		a, err := rec.RecordSalesReturn(agentID, in.Quantity, now)
		return a, err == nil, err
	})
}

// CompleteDelivery marks everything an agent still holds as delivered.
func (s *Service) CompleteDelivery(ctx context.Context, in AgentInput) (AgentUpdate, error) {
	return s.agentMutation(ctx, "complete", in, func(rec *Record, agentID string, now time.Time) (AgentAllocation, bool, error) {
		return rec.CompleteDelivery(agentID, now)
	})
}

// GetDeliveryStatus reports per-agent delivery progress with aggregate statistics.
func (s *Service) GetDeliveryStatus(ctx context.Context, companyID, stockID, agentID string) (DeliveryStatus, error) {
	rec, err := s.Get(ctx, companyID, stockID)
	if err != nil {
		return DeliveryStatus{}, err
	}
	agentID = NormalizeAgentID(agentID)
	if agentID != "" {
		if _, ok := rec.Agent(agentID); !ok {
			return DeliveryStatus{}, ErrAgentNotFound
		}
	}
	return rec.DeliveryStatus(agentID), nil
}

// RecordMovement books an external purchase or sale against a record.
func (s *Service) RecordMovement(ctx context.Context, in MovementInput) (Record, error) {
	rec, err := s.mutate(ctx, "movement", in.CompanyID, in.StockID, true, func(rec *Record, now time.Time) (bool, error) {
		return true, rec.ApplyMovement(in.Type, in.Quantity, now)
	})
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, in.ActorID, "stock:"+string(in.Type), rec, map[string]any{"quantity": in.Quantity})
	return rec, nil
}

// RefreshReport summarises a RefreshFlags sweep.
type RefreshReport struct {
	Scanned   int
	Updated   int
	Conflicts int
	LowStock  int
	Expired   int
}

// RefreshFlags re-evaluates derived flags on every active record and persists
// the ones whose stored flags drifted. Records written concurrently are skipped.
func (s *Service) RefreshFlags(ctx context.Context, pageSize int) (RefreshReport, error) {
	if pageSize <= 0 {
		pageSize = 200
	}
	var report RefreshReport
	afterID := ""
	for {
		page, err := s.repo.ListActive(ctx, afterID, pageSize)
		if err != nil {
			return report, err
		}
		now := s.clock()
		for _, stored := range page {
			report.Scanned++
			next := stored.Clone()
			next.Recalculate(now)
			if next.IsLowStock {
				report.LowStock++
			}
			if next.IsExpired {
				report.Expired++
			}
			if next.IsLowStock == stored.IsLowStock && next.IsExpired == stored.IsExpired {
				continue
			}
			next.UpdatedAt = now
			if _, err := s.repo.Save(ctx, next, stored.Version); err != nil {
				if errors.Is(err, ErrConcurrentUpdate) {
					report.Conflicts++
					continue
				}
				return report, err
			}
			report.Updated++
		}
		if len(page) < pageSize {
			return report, nil
		}
		afterID = page[len(page)-1].ID
	}
}

type agentFn func(rec *Record, agentID string, now time.Time) (AgentAllocation, bool, error)

func (s *Service) agentMutation(ctx context.Context, op string, in AgentInput, fn agentFn) (AgentUpdate, error) {
	if strings.TrimSpace(in.StockID) == "" {
		return AgentUpdate{}, &httpx.ValidationError{Field: "stockId", Reason: "is required"}
	}
	in.AgentID = NormalizeAgentID(in.AgentID)
	if in.AgentID == "" {
		return AgentUpdate{}, ErrMissingAgent
	}
	var agent AgentAllocation
	var changed bool
	rec, err := s.mutate(ctx, op, in.CompanyID, in.StockID, true, func(rec *Record, now time.Time) (bool, error) {
		var err error
		agent, changed, err = fn(rec, in.AgentID, now)
		return changed, err
	})
	if err != nil {
		return AgentUpdate{}, err
	}
	if changed {
		s.recordAudit(ctx, in.ActorID, "stock:"+op, rec, map[string]any{
			"agent_id": in.AgentID,
			"quantity": in.Quantity,
		})
	}
	return AgentUpdate{Agent: agent, Stock: rec.Summary(), Completed: op == "complete"}, nil
}

type mutateFn func(rec *Record, now time.Time) (bool, error)

// mutate runs fn against a fresh copy of the record and writes it back with a
// version check, repeating the whole cycle on conflict up to maxAttempts.
// fn reporting no change skips the write.
func (s *Service) mutate(ctx context.Context, op, companyID, stockID string, requireActive bool, fn mutateFn) (Record, error) {
	if strings.TrimSpace(stockID) == "" {
		return Record{}, &httpx.ValidationError{Field: "stockId", Reason: "is required"}
	}
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.repo.Get(ctx, companyID, stockID)
		if err != nil {
			return Record{}, err
		}
		if requireActive && !current.IsActive {
			return Record{}, ErrRecordInactive
		}
		next := current.Clone()
		now := s.clock()
		changed, err := fn(&next, now)
		if err != nil {
			return Record{}, err
		}
		if !changed {
			next.Recalculate(now)
			return next, nil
		}
		next.UpdatedAt = now
		saved, err := s.repo.Save(ctx, next, current.Version)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			return Record{}, err
		}
		if s.metrics != nil {
			s.metrics.WriteConflict(op, attempt == s.maxAttempts)
		}
		s.logger.DebugContext(ctx, "stock write conflict",
			slog.String("op", op),
			slog.String("stock_id", stockID),
			slog.Int("attempt", attempt))
	}
	s.logger.WarnContext(ctx, "stock write conflict retries exhausted",
		slog.String("op", op),
		slog.String("stock_id", stockID),
		slog.Int("attempts", s.maxAttempts))
	return Record{}, ErrConcurrentUpdate
}

func (s *Service) recordAudit(ctx context.Context, actorID, action string, rec Record, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["company_id"] = rec.CompanyID
	meta["version"] = rec.Version
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_record",
		EntityID: rec.ID,
		Meta:     meta,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
