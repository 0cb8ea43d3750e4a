package stock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	records map[string]Record
	// beforeSave runs ahead of the version check, letting tests interleave writers.
	beforeSave func(rec Record)
	saves      int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[string]Record)}
}

func (r *memoryRepo) Create(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.CompanyID == rec.CompanyID && existing.Product == rec.Product {
			return ErrDuplicateProduct
		}
	}
	r.records[rec.ID] = rec.Clone()
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, companyID, id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.CompanyID != companyID {
		return Record{}, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (r *memoryRepo) Save(ctx context.Context, rec Record, expectedVersion int64) (Record, error) {
	if hook := r.beforeSave; hook != nil {
		hook(rec)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[rec.ID]
	if !ok || current.CompanyID != rec.CompanyID {
		return Record{}, ErrRecordNotFound
	}
	if current.Version != expectedVersion {
		return Record{}, ErrConcurrentUpdate
	}
	rec.Version = expectedVersion + 1
	r.records[rec.ID] = rec.Clone()
	r.saves++
	return rec, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Product != "" && rec.Product != filter.Product {
			continue
		}
		if !filter.IncludeInactive && !rec.IsActive {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product < out[j].Product })
	return out, nil
}

func (r *memoryRepo) ListActive(ctx context.Context, afterID string, limit int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.IsActive && rec.ID > afterID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// bump simulates a concurrent writer committing first.
func (r *memoryRepo) bump(id string, fn func(*Record)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[id]
	fn(&rec)
	rec.Version++
	r.records[id] = rec
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type countingMetrics struct {
	mu              sync.Mutex
	success, failed int
	conflicts       int
	exhausted       int
}

func (m *countingMetrics) AllocationsApplied(success, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.success += success
	m.failed += failed
}

func (m *countingMetrics) WriteConflict(op string, exhausted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
	if exhausted {
		m.exhausted++
	}
}

type serviceFixture struct {
	svc     *Service
	repo    *memoryRepo
	audit   *memoryAudit
	idem    *memoryIdempotency
	metrics *countingMetrics
	now     time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		repo:    newMemoryRepo(),
		audit:   &memoryAudit{},
		idem:    &memoryIdempotency{keys: make(map[string]bool)},
		metrics: &countingMetrics{},
		now:     time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, f.audit, f.idem, f.metrics, ServiceConfig{}, nil)
	f.svc.clock = func() time.Time { return f.now }
	return f
}

func (f *serviceFixture) create(t *testing.T, product string, opening float64) Record {
	t.Helper()
	rec, err := f.svc.Create(context.Background(), CreateInput{
		CompanyID:    "co-1",
		ActorID:      "user-1",
		Product:      product,
		Unit:         UnitPackets,
		ExpiryDate:   f.now.Add(48 * time.Hour),
		OpeningStock: opening,
		MinimumStock: 10,
	})
	require.NoError(t, err)
	return rec
}

func TestServiceCreateValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	rec := f.create(t, "Milk", 100)
	require.Equal(t, "milk", rec.Product)
	require.Equal(t, 100.0, rec.ClosingStock)
	require.True(t, rec.IsActive)
	require.Equal(t, int64(1), rec.Version)
	require.NotNil(t, rec.AgentStocks)

	_, err := f.svc.Create(ctx, CreateInput{CompanyID: "co-1", Product: "milk", Unit: UnitPackets, ExpiryDate: f.now})
	require.ErrorIs(t, err, httpx.ErrValidation)
	var verr *httpx.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "product", verr.Field)

	// Another company may stock the same product.
	_, err = f.svc.Create(ctx, CreateInput{CompanyID: "co-2", Product: "milk", Unit: UnitPackets, ExpiryDate: f.now})
	require.NoError(t, err)

	cases := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{"missing product", CreateInput{Unit: UnitKg, ExpiryDate: f.now}, "product"},
		{"unknown product", CreateInput{Product: "caviar", Unit: UnitKg, ExpiryDate: f.now}, "product"},
		{"bad unit", CreateInput{Product: "curd", Unit: "crates", ExpiryDate: f.now}, "unit"},
		{"missing expiry", CreateInput{Product: "curd", Unit: UnitKg}, "expiryDate"},
		{"negative opening", CreateInput{Product: "curd", Unit: UnitKg, ExpiryDate: f.now, OpeningStock: -1}, "openingStock"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.CompanyID = "co-1"
			_, err := f.svc.Create(ctx, tc.in)
			var verr *httpx.ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestServiceAllocateScenario(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 100)

	out, err := f.svc.Allocate(ctx, AllocateInput{
		CompanyID: "co-1",
		ActorID:   "user-1",
		StockID:   rec.ID,
		Allocations: []AllocationLine{
			{AgentID: "agentA", AgentName: "A", Quantity: 30},
			{AgentID: "agentB", AgentName: "B", Quantity: 40},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 70.0, out.Stock.StockGiven)
	require.Equal(t, 70.0, out.Stock.StockAvailable)
	require.Equal(t, int64(2), out.Stock.Version)
	require.Equal(t, 2, f.metrics.success)

	upd, err := f.svc.RecordDelivery(ctx, AgentInput{CompanyID: "co-1", StockID: rec.ID, AgentID: "agentA", Quantity: 20})
	require.NoError(t, err)
	require.Equal(t, 10.0, upd.Agent.StockInHand)
	require.Equal(t, 20.0, upd.Stock.StockDelivered)
	require.Equal(t, 50.0, upd.Stock.StockAvailable)

	upd, err = f.svc.RecordSalesReturn(ctx, AgentInput{CompanyID: "co-1", StockID: rec.ID, AgentID: "agentA", Quantity: 5})
	require.NoError(t, err)
	require.Equal(t, 5.0, upd.Agent.StockReturned)
	require.Equal(t, 15.0, upd.Agent.StockInHand)
	require.Equal(t, 5.0, upd.Stock.SalesReturns)
	require.Equal(t, 55.0, upd.Stock.StockAvailable)

	stored, err := f.repo.Get(ctx, "co-1", rec.ID)
	require.NoError(t, err)
	requireConsistent(t, stored)

	var actions []string
	for _, l := range f.audit.logs {
		actions = append(actions, l.Action)
	}
	require.Equal(t, []string{"stock:create", "stock:allocate", "stock:delivery", "stock:return"}, actions)
}

func TestServiceAllocateInsufficientLeavesRecordUnchanged(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 100)

	_, err := f.svc.Allocate(ctx, AllocateInput{
		CompanyID:   "co-1",
		StockID:     rec.ID,
		Allocations: []AllocationLine{{AgentID: "agentA", Quantity: 60}, {AgentID: "agentB", Quantity: 50}},
	})
	ise, ok := AsInsufficientStock(err)
	require.True(t, ok)
	require.Equal(t, 100.0, ise.Available)
	require.Equal(t, 110.0, ise.Requested)

	stored, err := f.repo.Get(ctx, "co-1", rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.Version, stored.Version)
	require.Empty(t, stored.AgentStocks)
	require.Zero(t, f.repo.saves)
}

func TestServiceAllocateRequestValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Allocate(ctx, AllocateInput{CompanyID: "co-1", Allocations: []AllocationLine{{AgentID: "a", Quantity: 1}}})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.Allocate(ctx, AllocateInput{CompanyID: "co-1", StockID: "x"})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.Allocate(ctx, AllocateInput{CompanyID: "co-1", StockID: "missing", Allocations: []AllocationLine{{AgentID: "a", Quantity: 1}}})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestServiceTenantIsolation(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.create(t, "milk", 100)

	_, err := f.svc.Get(context.Background(), "co-2", rec.ID)
	require.ErrorIs(t, err, ErrRecordNotFound)
	_, err = f.svc.Allocate(context.Background(), AllocateInput{
		CompanyID:   "co-2",
		StockID:     rec.ID,
		Allocations: []AllocationLine{{AgentID: "a", Quantity: 1}},
	})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestServiceRetriesOnConflict(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 100)

	// A concurrent sale lands between our read and write on the first attempt.
	interleaved := false
	f.repo.beforeSave = func(Record) {
		if interleaved {
			return
		}
		interleaved = true
		f.repo.bump(rec.ID, func(r *Record) {
			r.TotalSales += 50
			r.Recalculate(f.now)
		})
	}

	_, err := f.svc.Allocate(ctx, AllocateInput{
		CompanyID:   "co-1",
		StockID:     rec.ID,
		Allocations: []AllocationLine{{AgentID: "agentA", Quantity: 60}},
	})
	ise, ok := AsInsufficientStock(err)
	require.True(t, ok, "capacity must be re-checked against the fresh read")
	require.Equal(t, 50.0, ise.Available)
	require.Equal(t, 1, f.metrics.conflicts)

	out, err := f.svc.Allocate(ctx, AllocateInput{
		CompanyID:   "co-1",
		StockID:     rec.ID,
		Allocations: []AllocationLine{{AgentID: "agentA", Quantity: 50}},
	})
	require.NoError(t, err)
	require.Equal(t, 50.0, out.Stock.StockGiven)
}

func TestServiceConflictExhaustsRetries(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 100)

	f.repo.beforeSave = func(Record) {
		f.repo.bump(rec.ID, func(*Record) {})
	}
	_, err := f.svc.Allocate(ctx, AllocateInput{
		CompanyID:      "co-1",
		StockID:        rec.ID,
		IdempotencyKey: "batch-1",
		Allocations:    []AllocationLine{{AgentID: "agentA", Quantity: 10}},
	})
	require.ErrorIs(t, err, ErrConcurrentUpdate)
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Equal(t, DefaultMaxAttempts, f.metrics.conflicts)
	require.Equal(t, 1, f.metrics.exhausted)
	require.Empty(t, f.idem.keys, "failed batch releases its idempotency key")
}

func TestServiceConcurrentAllocationsNeverOverCommit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Allocate(ctx, AllocateInput{
				CompanyID:   "co-1",
				StockID:     rec.ID,
				Allocations: []AllocationLine{{AgentID: "agentA", Quantity: 30}},
			})
		}()
	}
	wg.Wait()

	stored, err := f.repo.Get(ctx, "co-1", rec.ID)
	require.NoError(t, err)
	require.LessOrEqual(t, stored.StockGiven, 100.0)
	requireConsistent(t, stored)
}

func TestServiceSequentialAllocationsRespectCapacity(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 100)

	_, err := f.svc.Allocate(ctx, AllocateInput{CompanyID: "co-1", StockID: rec.ID,
		Allocations: []AllocationLine{{AgentID: "agentA", Quantity: 70}}})
	require.NoError(t, err)
	_, err = f.svc.Allocate(ctx, AllocateInput{CompanyID: "co-1", StockID: rec.ID,
		Allocations: []AllocationLine{{AgentID: "agentB", Quantity: 50}}})
	ise, ok := AsInsufficientStock(err)
	require.True(t, ok)
	require.Equal(t, 30.0, ise.Available)

	stored, err := f.repo.Get(ctx, "co-1", rec.ID)
	require.NoError(t, err)
	require.Equal(t, 70.0, stored.StockGiven)
}

func TestServiceAgentIDsAreTrimmedEverywhere(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 100)

	out, err := f.svc.Allocate(ctx, AllocateInput{CompanyID: "co-1", StockID: rec.ID,
		Allocations: []AllocationLine{{AgentID: " a ", Quantity: 20}}})
	require.NoError(t, err)
	require.Equal(t, "a", out.Results[0].AgentID)

	upd, err := f.svc.RecordDelivery(ctx, AgentInput{CompanyID: "co-1", StockID: rec.ID, AgentID: " a", Quantity: 5})
	require.NoError(t, err)
	require.Equal(t, "a", upd.Agent.AgentID)

	_, err = f.svc.RecordSalesReturn(ctx, AgentInput{CompanyID: "co-1", StockID: rec.ID, AgentID: "a ", Quantity: 2})
	require.NoError(t, err)

	agents, err := f.svc.GetAllocations(ctx, "co-1", rec.ID, " a ")
	require.NoError(t, err)
	require.Len(t, agents, 1)

	_, err = f.svc.GetDeliveryStatus(ctx, "co-1", rec.ID, "\ta")
	require.NoError(t, err)

	upd, err = f.svc.CompleteDelivery(ctx, AgentInput{CompanyID: "co-1", StockID: rec.ID, AgentID: " a "})
	require.NoError(t, err)
	require.Zero(t, upd.Agent.StockInHand)
}

func TestServiceAllocateIdempotencyKey(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 100)
	in := AllocateInput{
		CompanyID:      "co-1",
		StockID:        rec.ID,
		IdempotencyKey: "batch-1",
		Allocations:    []AllocationLine{{AgentID: "agentA", Quantity: 10}},
	}

	_, err := f.svc.Allocate(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.Allocate(ctx, in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, 409, httpx.StatusFor(err))

	stored, err := f.repo.Get(ctx, "co-1", rec.ID)
	require.NoError(t, err)
	require.Equal(t, 10.0, stored.StockGiven)
}

func TestServiceCompleteDeliveryNoOpDoesNotWrite(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 100)
	_, err := f.svc.Allocate(ctx, AllocateInput{CompanyID: "co-1", StockID: rec.ID, Allocations: []AllocationLine{{AgentID: "agentA", Quantity: 30}}})
	require.NoError(t, err)

	upd, err := f.svc.CompleteDelivery(ctx, AgentInput{CompanyID: "co-1", StockID: rec.ID, AgentID: "agentA"})
	require.NoError(t, err)
	require.True(t, upd.Completed)
	require.Equal(t, 0.0, upd.Agent.StockInHand)
	require.Equal(t, 30.0, upd.Stock.StockDelivered)
	saves := f.repo.saves

	upd, err = f.svc.CompleteDelivery(ctx, AgentInput{CompanyID: "co-1", StockID: rec.ID, AgentID: "agentA"})
	require.NoError(t, err)
	require.Equal(t, 30.0, upd.Agent.StockDelivered)
	require.Equal(t, saves, f.repo.saves)

	_, err = f.svc.CompleteDelivery(ctx, AgentInput{CompanyID: "co-1", StockID: rec.ID, AgentID: "ghost"})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestServiceDeliveryStatus(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 100)

	status, err := f.svc.GetDeliveryStatus(ctx, "co-1", rec.ID, "")
	require.NoError(t, err)
	require.Equal(t, 0.0, status.Statistics.DeliveryRate)

	_, err = f.svc.GetDeliveryStatus(ctx, "co-1", rec.ID, "ghost")
	require.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = f.svc.GetDeliveryStatus(ctx, "co-1", "missing", "")
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestServiceGetAllocations(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 100)
	_, err := f.svc.Allocate(ctx, AllocateInput{CompanyID: "co-1", StockID: rec.ID, Allocations: []AllocationLine{
		{AgentID: "a", Quantity: 10}, {AgentID: "b", Quantity: 5},
	}})
	require.NoError(t, err)

	all, err := f.svc.GetAllocations(ctx, "co-1", rec.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	one, err := f.svc.GetAllocations(ctx, "co-1", rec.ID, "b")
	require.NoError(t, err)
	require.Len(t, one, 1)
	require.Equal(t, 5.0, one[0].StockAllocated)

	_, err = f.svc.GetAllocations(ctx, "co-1", "missing", "")
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestServiceDeactivateBlocksMutations(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 100)

	deactivated, err := f.svc.Deactivate(ctx, "co-1", "user-1", rec.ID)
	require.NoError(t, err)
	require.False(t, deactivated.IsActive)

	_, err = f.svc.Deactivate(ctx, "co-1", "user-1", rec.ID)
	require.NoError(t, err)

	_, err = f.svc.Allocate(ctx, AllocateInput{CompanyID: "co-1", StockID: rec.ID, Allocations: []AllocationLine{{AgentID: "a", Quantity: 1}}})
	require.ErrorIs(t, err, ErrRecordInactive)
	_, err = f.svc.RecordMovement(ctx, MovementInput{CompanyID: "co-1", StockID: rec.ID, Type: MovementPurchase, Quantity: 1})
	require.ErrorIs(t, err, ErrRecordInactive)

	got, err := f.svc.Get(ctx, "co-1", rec.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	list, err := f.svc.List(ctx, ListFilter{CompanyID: "co-1"})
	require.NoError(t, err)
	require.Empty(t, list.Records)
	list, err = f.svc.List(ctx, ListFilter{CompanyID: "co-1", IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, list.Records, 1)
}

func TestServiceUpdate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 100)

	_, err := f.svc.Update(ctx, UpdateInput{CompanyID: "co-1", StockID: rec.ID})
	require.ErrorIs(t, err, httpx.ErrValidation)

	minimum := 150.0
	updated, err := f.svc.Update(ctx, UpdateInput{CompanyID: "co-1", StockID: rec.ID, MinimumStock: &minimum})
	require.NoError(t, err)
	require.True(t, updated.IsLowStock)
	require.Equal(t, int64(2), updated.Version)
}

func TestServiceListFiltersAndSummary(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	milk := f.create(t, "milk", 100)
	f.create(t, "curd", 5)
	ghee := f.create(t, "ghee", 50)

	_, err := f.svc.Allocate(ctx, AllocateInput{CompanyID: "co-1", StockID: milk.ID, Allocations: []AllocationLine{{AgentID: "a", Quantity: 20}}})
	require.NoError(t, err)
	past := f.now.Add(-time.Hour)
	_, err = f.svc.Update(ctx, UpdateInput{CompanyID: "co-1", StockID: ghee.ID, ExpiryDate: &past})
	require.NoError(t, err)

	all, err := f.svc.List(ctx, ListFilter{CompanyID: "co-1"})
	require.NoError(t, err)
	require.Equal(t, 3, all.Summary.Count)
	require.Equal(t, 155.0, all.Summary.TotalClosingStock)
	require.Equal(t, 20.0, all.Summary.TotalStockGiven)
	require.Equal(t, 1, all.Summary.LowStockCount)
	require.Equal(t, 1, all.Summary.ExpiredCount)

	yes := true
	low, err := f.svc.List(ctx, ListFilter{CompanyID: "co-1", LowStock: &yes})
	require.NoError(t, err)
	require.Len(t, low.Records, 1)
	require.Equal(t, "curd", low.Records[0].Product)

	expired, err := f.svc.List(ctx, ListFilter{CompanyID: "co-1", Expired: &yes})
	require.NoError(t, err)
	require.Len(t, expired.Records, 1)
	require.Equal(t, "ghee", expired.Records[0].Product)

	byProduct, err := f.svc.List(ctx, ListFilter{CompanyID: "co-1", Product: "MILK"})
	require.NoError(t, err)
	require.Len(t, byProduct.Records, 1)

	// Expiry is evaluated at read time, not from the stored flag.
	f.now = f.now.Add(72 * time.Hour)
	later, err := f.svc.List(ctx, ListFilter{CompanyID: "co-1", Expired: &yes})
	require.NoError(t, err)
	require.Len(t, later.Records, 3)
}

func TestServiceRecordMovement(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t, "milk", 10)

	updated, err := f.svc.RecordMovement(ctx, MovementInput{CompanyID: "co-1", StockID: rec.ID, Type: MovementPurchase, Quantity: 40})
	require.NoError(t, err)
	require.Equal(t, 50.0, updated.ClosingStock)
	require.False(t, updated.IsLowStock)

	_, err = f.svc.RecordMovement(ctx, MovementInput{CompanyID: "co-1", StockID: rec.ID, Type: MovementSale, Quantity: 60})
	_, ok := AsInsufficientStock(err)
	require.True(t, ok)
}

func TestServiceRefreshFlags(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	milk := f.create(t, "milk", 100)
	f.create(t, "curd", 100)
	f.create(t, "paneer", 1)
	_, err := f.svc.Deactivate(ctx, "co-1", "", milk.ID)
	require.NoError(t, err)

	f.now = f.now.Add(49 * time.Hour)
	report, err := f.svc.RefreshFlags(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, report.Scanned)
	require.Equal(t, 2, report.Updated)
	require.Equal(t, 2, report.Expired)
	require.Equal(t, 1, report.LowStock)

	report, err = f.svc.RefreshFlags(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, report.Updated)
}
