package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Unit enumerates supported units of measure.
type Unit string

const (
	// UnitPackets counts individual packets.
	UnitPackets Unit = "packets"
	// UnitPacks counts multi-packet packs.
	UnitPacks Unit = "packs"
	// UnitKg measures loose weight.
	UnitKg Unit = "kg"
)

// Valid reports whether u is a supported unit.
func (u Unit) Valid() bool {
	switch u {
	case UnitPackets, UnitPacks, UnitKg:
		return true
	}
	return false
}

// MovementType enumerates external quantity events applied to a record.
type MovementType string

const (
	// MovementPurchase increases totalPurchases.
	MovementPurchase MovementType = "purchase"
	// MovementSale increases totalSales.
	MovementSale MovementType = "sale"
)

// AllocationStatus is the outcome of a single batch entry.
type AllocationStatus string

const (
	AllocationSuccess AllocationStatus = "success"
	AllocationFailed  AllocationStatus = "failed"
)

// AgentAllocation tracks the stock held by one delivery agent for a record.
type AgentAllocation struct {
	AgentID        string    `json:"agentId"`
	AgentName      string    `json:"agentName"`
	StockAllocated float64   `json:"stockAllocated"`
	StockDelivered float64   `json:"stockDelivered"`
	StockReturned  float64   `json:"stockReturned"`
	StockInHand    float64   `json:"stockInHand"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Record is the per-product, per-company stock ledger document.
// AgentStocks keeps insertion order and is looked up by agent ID so the whole
// record stays a single versioned unit.
type Record struct {
	ID             string            `json:"id"`
	CompanyID      string            `json:"companyId"`
	Product        string            `json:"product"`
	Unit           Unit              `json:"unit"`
	OpeningStock   float64           `json:"openingStock"`
	TotalPurchases float64           `json:"totalPurchases"`
	TotalSales     float64           `json:"totalSales"`
	ClosingStock   float64           `json:"closingStock"`
	ExpiryDate     time.Time         `json:"expiryDate"`
	MinimumStock   float64           `json:"minimumStock"`
	AgentStocks    []AgentAllocation `json:"agentStocks"`
	StockGiven     float64           `json:"stockGiven"`
	StockDelivered float64           `json:"stockDelivered"`
	SalesReturns   float64           `json:"salesReturns"`
	StockAvailable float64           `json:"stockAvailable"`
	IsLowStock     bool              `json:"isLowStock"`
	IsExpired      bool              `json:"isExpired"`
	IsActive       bool              `json:"isActive"`
	Version        int64             `json:"version"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// RecordSummary is the compact view returned alongside mutation results.
type RecordSummary struct {
	ID             string  `json:"id"`
	Product        string  `json:"product"`
	Unit           Unit    `json:"unit"`
	ClosingStock   float64 `json:"closingStock"`
	StockGiven     float64 `json:"stockGiven"`
	StockDelivered float64 `json:"stockDelivered"`
	SalesReturns   float64 `json:"salesReturns"`
	StockAvailable float64 `json:"stockAvailable"`
	IsLowStock     bool    `json:"isLowStock"`
	IsExpired      bool    `json:"isExpired"`
	Version        int64   `json:"version"`
}

// AllocationLine is one entry of an allocation batch.
type AllocationLine struct {
	AgentID   string  `json:"agentId"`
	AgentName string  `json:"agentName"`
	Quantity  float64 `json:"quantity"`
}

// AllocationResult reports how a single batch entry was applied.
type AllocationResult struct {
	AgentID  string           `json:"agentId"`
	Quantity float64          `json:"quantity"`
	Status   AllocationStatus `json:"status"`
	Error    string           `json:"error,omitempty"`
}

// AllocationOutcome is returned by Allocate.
type AllocationOutcome struct {
	Results []AllocationResult `json:"results"`
	Stock   RecordSummary      `json:"stock"`
}

// DeliveryStats aggregates per-agent delivery counters.
type DeliveryStats struct {
	TotalAgents    int     `json:"totalAgents"`
	TotalAllocated float64 `json:"totalAllocated"`
	TotalDelivered float64 `json:"totalDelivered"`
	TotalReturned  float64 `json:"totalReturned"`
	TotalInHand    float64 `json:"totalInHand"`
	DeliveryRate   float64 `json:"deliveryRate"`
}

// DeliveryStatus is returned by GetDeliveryStatus.
type DeliveryStatus struct {
	StockID    string            `json:"stockId"`
	Product    string            `json:"product"`
	Unit       Unit              `json:"unit"`
	Agents     []AgentAllocation `json:"agents"`
	Statistics DeliveryStats     `json:"statistics"`
}

// AgentUpdate is returned by delivery, return and completion operations.
type AgentUpdate struct {
	Agent     AgentAllocation `json:"agent"`
	Stock     RecordSummary   `json:"stock"`
	Completed bool            `json:"completed,omitempty"`
}

// ListFilter narrows List results. Nil flags are not applied.
type ListFilter struct {
	CompanyID       string
	Product         string
	LowStock        *bool
	Expired         *bool
	IncludeInactive bool
	Now             time.Time
}

// ListSummary aggregates all records matched by a List call.
type ListSummary struct {
	Count               int     `json:"count"`
	TotalOpeningStock   float64 `json:"totalOpeningStock"`
	TotalPurchases      float64 `json:"totalPurchases"`
	TotalSales          float64 `json:"totalSales"`
	TotalClosingStock   float64 `json:"totalClosingStock"`
	TotalStockGiven     float64 `json:"totalStockGiven"`
	TotalStockDelivered float64 `json:"totalStockDelivered"`
	TotalSalesReturns   float64 `json:"totalSalesReturns"`
	TotalStockAvailable float64 `json:"totalStockAvailable"`
	LowStockCount       int     `json:"lowStockCount"`
	ExpiredCount        int     `json:"expiredCount"`
}

// ListResult is returned by List.
type ListResult struct {
	Records []Record    `json:"records"`
	Summary ListSummary `json:"summary"`
}

// CreateInput describes a new stock record.
type CreateInput struct {
	CompanyID    string
	ActorID      string
	Product      string
	Unit         Unit
	ExpiryDate   time.Time
	OpeningStock float64
	MinimumStock float64
}

// UpdateInput carries a partial update; nil fields are left untouched.
type UpdateInput struct {
	CompanyID    string
	ActorID      string
	StockID      string
	OpeningStock *float64
	MinimumStock *float64
	ExpiryDate   *time.Time
	Unit         *Unit
}

// AllocateInput describes an allocation batch.
type AllocateInput struct {
	CompanyID      string
	ActorID        string
	StockID        string
	IdempotencyKey string
	Allocations    []AllocationLine
}

// AgentInput addresses one agent allocation with an optional quantity.
type AgentInput struct {
	CompanyID string
	ActorID   string
	StockID   string
	AgentID   string
	Quantity  float64
}

// MovementInput records an external purchase or sale.
type MovementInput struct {
	CompanyID string
	ActorID   string
	StockID   string
	Type      MovementType
	Quantity  float64
}

var (
	// ErrRecordNotFound indicates an unknown stock ID for the company.
	ErrRecordNotFound = fmt.Errorf("stock record: %w", httpx.ErrNotFound)
	// ErrRecordInactive indicates a deactivated record was targeted by a mutation.
	ErrRecordInactive = fmt.Errorf("stock record is inactive: %w", httpx.ErrNotFound)
	// ErrAgentNotFound indicates the agent has no allocation on the record.
	ErrAgentNotFound = fmt.Errorf("agent allocation: %w", httpx.ErrNotFound)
	// ErrConcurrentUpdate is returned when the version check on write fails.
	ErrConcurrentUpdate = fmt.Errorf("stock record modified concurrently: %w", httpx.ErrConflict)
	// ErrInsufficientStock is the sentinel matched by InsufficientStockError.
	ErrInsufficientStock = fmt.Errorf("insufficient stock: %w", httpx.ErrValidation)

	// ErrDuplicateProduct indicates a record already exists for the product.
	ErrDuplicateProduct = &httpx.ValidationError{Field: "product", Reason: "already has a stock record"}
	// ErrUnknownProduct indicates the product is not in the catalog.
	ErrUnknownProduct = &httpx.ValidationError{Field: "product", Reason: "is not in the product catalog"}
	// ErrInvalidUnit indicates an unsupported unit.
	ErrInvalidUnit = &httpx.ValidationError{Field: "unit", Reason: "must be one of packets, packs, kg"}
	// ErrMissingExpiry indicates the expiry date is required.
	ErrMissingExpiry = &httpx.ValidationError{Field: "expiryDate", Reason: "is required"}
	// ErrMissingAgent indicates an allocation line without agent ID.
	ErrMissingAgent = &httpx.ValidationError{Field: "agentId", Reason: "is required"}
	// ErrOverDelivery indicates a delivery larger than the agent's stock in hand.
	ErrOverDelivery = &httpx.ValidationError{Field: "deliveredQuantity", Reason: "exceeds stock in hand"}
	// ErrInvalidMovement indicates an unknown movement type.
	ErrInvalidMovement = &httpx.ValidationError{Field: "type", Reason: "must be purchase or sale"}
	// ErrInvalidCompositeID indicates a malformed <stockId>_<agentId> path segment.
	ErrInvalidCompositeID = &httpx.ValidationError{Field: "id", Reason: "must be <stockId>_<agentId>"}
	// ErrExcessReturn indicates a return larger than the agent's net deliveries.
	ErrExcessReturn = &httpx.ValidationError{Field: "deliveredQuantity", Reason: "exceeds quantity delivered and not yet returned"}
)

// InsufficientStockError reports a rejected allocation batch or sale.
type InsufficientStockError struct {
	Available float64
	Requested float64
	Unit      Unit
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %g %s, requested %g %s", e.Available, e.Unit, e.Requested, e.Unit)
}

// Unwrap lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// AsInsufficientStock extracts the capacity details from err.
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var target *InsufficientStockError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func invalidQuantity(field string) error {
	return &httpx.ValidationError{Field: field, Reason: "must be a positive number"}
}

func negativeQuantity(field string) error {
	return &httpx.ValidationError{Field: field, Reason: "must not be negative"}
}
