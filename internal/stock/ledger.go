package stock

import (
	"math"
	"strings"
	"time"
)

// quantityEpsilon absorbs float drift when comparing accumulated quantities.
const quantityEpsilon = 1e-9

func validQuantity(q float64) bool {
	return q > quantityEpsilon && !math.IsInf(q, 0) && !math.IsNaN(q)
}

func validNonNegative(q float64) bool {
	return q >= 0 && !math.IsInf(q, 0) && !math.IsNaN(q)
}

// Recalculate recomputes every derived field from the authoritative inputs.
// It is idempotent and must run before each persist.
func (r *Record) Recalculate(now time.Time) {
	r.ClosingStock = r.OpeningStock + r.TotalPurchases - r.TotalSales

	var given, delivered, returned float64
	for i := range r.AgentStocks {
		a := &r.AgentStocks[i]
		a.StockInHand = a.StockAllocated - a.StockDelivered + a.StockReturned
		if math.Abs(a.StockInHand) < quantityEpsilon {
			a.StockInHand = 0
		}
		given += a.StockAllocated
		delivered += a.StockDelivered
		returned += a.StockReturned
	}
	r.StockGiven = given
	r.StockDelivered = delivered
	r.SalesReturns = returned
	r.StockAvailable = given - delivered + returned
	r.IsLowStock = r.ClosingStock <= r.MinimumStock
	r.IsExpired = now.After(r.ExpiryDate)
}

// Summary returns the compact view of r.
func (r *Record) Summary() RecordSummary {
	return RecordSummary{
		ID:             r.ID,
		Product:        r.Product,
		Unit:           r.Unit,
		ClosingStock:   r.ClosingStock,
		StockGiven:     r.StockGiven,
		StockDelivered: r.StockDelivered,
		SalesReturns:   r.SalesReturns,
		StockAvailable: r.StockAvailable,
		IsLowStock:     r.IsLowStock,
		IsExpired:      r.IsExpired,
		Version:        r.Version,
	}
}

// Clone returns a deep copy so callers can mutate without aliasing agentStocks.
func (r *Record) Clone() Record {
	out := *r
	if r.AgentStocks != nil {
		out.AgentStocks = make([]AgentAllocation, len(r.AgentStocks))
		copy(out.AgentStocks, r.AgentStocks)
	}
	return out
}

func (r *Record) agentIndex(agentID string) int {
	for i := range r.AgentStocks {
		if r.AgentStocks[i].AgentID == agentID {
			return i
		}
	}
	return -1
}

// Agent returns the allocation held by agentID.
func (r *Record) Agent(agentID string) (AgentAllocation, bool) {
	idx := r.agentIndex(agentID)
	if idx < 0 {
		return AgentAllocation{}, false
	}
	return r.AgentStocks[idx], true
}

// Allocate applies an allocation batch. The capacity check covers the whole
// batch plus what is already given out, and runs before any entry is applied.
// Entries failing validation are reported inline while the rest proceed.
func (r *Record) Allocate(lines []AllocationLine, now time.Time) ([]AllocationResult, error) {
	var requested float64
	for _, line := range lines {
		if validQuantity(line.Quantity) {
			requested += line.Quantity
		}
	}
	if r.StockGiven+requested > r.ClosingStock+quantityEpsilon {
		return nil, &InsufficientStockError{Available: r.unallocated(), Requested: requested, Unit: r.Unit}
	}

	results := make([]AllocationResult, 0, len(lines))
	for _, line := range lines {
		line.AgentID = NormalizeAgentID(line.AgentID)
		res := AllocationResult{AgentID: line.AgentID, Quantity: line.Quantity, Status: AllocationSuccess}
		if err := r.allocateOne(line, now); err != nil {
			res.Status = AllocationFailed
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	r.Recalculate(now)
	return results, nil
}

// unallocated is the closing stock not yet given to agents, floored at zero
// since sales may deplete closing stock below what was allocated earlier.
func (r *Record) unallocated() float64 {
	return math.Max(0, r.ClosingStock-r.StockGiven)
}

// NormalizeAgentID trims surrounding whitespace from an agent id.
func NormalizeAgentID(id string) string {
	return strings.TrimSpace(id)
}

func (r *Record) allocateOne(line AllocationLine, now time.Time) error {
	agentID := line.AgentID
	if agentID == "" {
		return ErrMissingAgent
	}
	if !validQuantity(line.Quantity) {
		return invalidQuantity("quantity")
	}
	idx := r.agentIndex(agentID)
	if idx < 0 {
		r.AgentStocks = append(r.AgentStocks, AgentAllocation{AgentID: agentID, AgentName: line.AgentName})
		idx = len(r.AgentStocks) - 1
	}
	a := &r.AgentStocks[idx]
	if a.AgentName == "" && line.AgentName != "" {
		a.AgentName = line.AgentName
	}
	a.StockAllocated += line.Quantity
	a.LastUpdated = now
	return nil
}

// RecordDelivery marks qty of agentID's in-hand stock as delivered.
// Deliveries beyond the agent's stock in hand are rejected.
func (r *Record) RecordDelivery(agentID string, qty float64, now time.Time) (AgentAllocation, error) {
	if !validQuantity(qty) {
		return AgentAllocation{}, invalidQuantity("deliveredQuantity")
	}
	idx := r.agentIndex(agentID)
	if idx < 0 {
		return AgentAllocation{}, ErrAgentNotFound
	}
	a := &r.AgentStocks[idx]
	inHand := a.StockAllocated - a.StockDelivered + a.StockReturned
	if qty > inHand+quantityEpsilon {
		return AgentAllocation{}, ErrOverDelivery
	}
	a.StockDelivered += qty
	a.LastUpdated = now
	r.Recalculate(now)
	return r.AgentStocks[idx], nil
}

// RecordSalesReturn brings qty of previously delivered stock back to the agent.
// Returns cannot exceed what was delivered and not already returned.
func (r *Record) RecordSalesReturn(agentID string, qty float64, now time.Time) (AgentAllocation, error) {
	if !validQuantity(qty) {
		return AgentAllocation{}, invalidQuantity("deliveredQuantity")
	}
	idx := r.agentIndex(agentID)
	if idx < 0 {
		return AgentAllocation{}, ErrAgentNotFound
	}
	a := &r.AgentStocks[idx]
	if qty > a.StockDelivered-a.StockReturned+quantityEpsilon {
		return AgentAllocation{}, ErrExcessReturn
	}
	a.StockReturned += qty
	a.LastUpdated = now
	r.Recalculate(now)
	return r.AgentStocks[idx], nil
}

// CompleteDelivery moves the agent's remaining stock in hand into delivered.
// The bool result is false when nothing was in hand and r was left untouched.
func (r *Record) CompleteDelivery(agentID string, now time.Time) (AgentAllocation, bool, error) {
	idx := r.agentIndex(agentID)
	if idx < 0 {
		return AgentAllocation{}, false, ErrAgentNotFound
	}
	a := &r.AgentStocks[idx]
	inHand := a.StockAllocated - a.StockDelivered + a.StockReturned
	if inHand <= quantityEpsilon {
		return *a, false, nil
	}
	a.StockDelivered += inHand
	a.LastUpdated = now
	r.Recalculate(now)
	return r.AgentStocks[idx], true, nil
}

// ApplyMovement books an external purchase or sale. A sale may not take
// closing stock below zero.
func (r *Record) ApplyMovement(kind MovementType, qty float64, now time.Time) error {
	if !validQuantity(qty) {
		return invalidQuantity("quantity")
	}
	switch kind {
	case MovementPurchase:
		r.TotalPurchases += qty
	case MovementSale:
		if qty > r.ClosingStock+quantityEpsilon {
			return &InsufficientStockError{Available: r.ClosingStock, Requested: qty, Unit: r.Unit}
		}
		r.TotalSales += qty
	default:
		return ErrInvalidMovement
	}
	r.Recalculate(now)
	return nil
}

// ApplyUpdate applies the non-nil fields of in.
func (r *Record) ApplyUpdate(in UpdateInput, now time.Time) error {
	if in.OpeningStock != nil {
		if !validNonNegative(*in.OpeningStock) {
			return negativeQuantity("openingStock")
		}
		r.OpeningStock = *in.OpeningStock
	}
	if in.MinimumStock != nil {
		if !validNonNegative(*in.MinimumStock) {
			return negativeQuantity("minimumStock")
		}
		r.MinimumStock = *in.MinimumStock
	}
	if in.ExpiryDate != nil {
		if in.ExpiryDate.IsZero() {
			return ErrMissingExpiry
		}
		r.ExpiryDate = in.ExpiryDate.UTC()
	}
	if in.Unit != nil {
		if !in.Unit.Valid() {
			return ErrInvalidUnit
		}
		r.Unit = *in.Unit
	}
	r.Recalculate(now)
	return nil
}

// DeliveryStatus builds per-agent delivery statistics, optionally filtered to agentID.
func (r *Record) DeliveryStatus(agentID string) DeliveryStatus {
	agents := r.filterAgents(agentID)
	stats := DeliveryStats{TotalAgents: len(agents)}
	for _, a := range agents {
		stats.TotalAllocated += a.StockAllocated
		stats.TotalDelivered += a.StockDelivered
		stats.TotalReturned += a.StockReturned
		stats.TotalInHand += a.StockInHand
	}
	if stats.TotalAllocated > 0 {
		stats.DeliveryRate = stats.TotalDelivered / stats.TotalAllocated * 100
	}
	return DeliveryStatus{
		StockID:    r.ID,
		Product:    r.Product,
		Unit:       r.Unit,
		Agents:     agents,
		Statistics: stats,
	}
}

func (r *Record) filterAgents(agentID string) []AgentAllocation {
	if agentID == "" {
		out := make([]AgentAllocation, len(r.AgentStocks))
		copy(out, r.AgentStocks)
		return out
	}
	out := make([]AgentAllocation, 0, 1)
	if a, ok := r.Agent(agentID); ok {
		out = append(out, a)
	}
	return out
}

// Summarize aggregates totals across records.
func Summarize(records []Record) ListSummary {
	sum := ListSummary{Count: len(records)}
	for i := range records {
		rec := &records[i]
		sum.TotalOpeningStock += rec.OpeningStock
		sum.TotalPurchases += rec.TotalPurchases
		sum.TotalSales += rec.TotalSales
		sum.TotalClosingStock += rec.ClosingStock
		sum.TotalStockGiven += rec.StockGiven
		sum.TotalStockDelivered += rec.StockDelivered
		sum.TotalSalesReturns += rec.SalesReturns
		sum.TotalStockAvailable += rec.StockAvailable
		if rec.IsLowStock {
			sum.LowStockCount++
		}
		if rec.IsExpired {
			sum.ExpiredCount++
		}
	}
	return sum
}

// ParseCompositeID splits "<stockId>_<agentId>" at the first underscore.
func ParseCompositeID(id string) (stockID, agentID string, err error) {
	stockID, agentID, ok := strings.Cut(id, "_")
	if !ok || stockID == "" || agentID == "" {
		return "", "", ErrInvalidCompositeID
	}
	return stockID, agentID, nil
}
