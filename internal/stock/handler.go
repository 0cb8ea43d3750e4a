package stock

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler exposes the stock ledger over JSON HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, validator: v}
}

// MountRoutes registers stock routes. Callers mount it under /stock.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Put("/", h.handleUpdate)
	r.Post("/allocate", h.handleAllocate)
	r.Get("/allocate", h.handleGetAllocations)
	r.Post("/delivery", h.handleDelivery)
	r.Get("/delivery", h.handleDeliveryStatus)
	r.Put("/delivery-stock/{compositeID}", h.handleCompleteDelivery)
	r.Post("/movements", h.handleMovement)
	r.Get("/products", h.handleProducts)
	r.Get("/{stockID}", h.handleGet)
	r.Delete("/{stockID}", h.handleDeactivate)
}

// Date accepts either RFC 3339 timestamps or plain YYYY-MM-DD dates.
type Date struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return &httpx.ValidationError{Field: "expiryDate", Reason: "must be an RFC 3339 timestamp or YYYY-MM-DD date"}
}

type createRequest struct {
	Product      string   `json:"product" validate:"required"`
	Unit         Unit     `json:"unit" validate:"required,oneof=packets packs kg"`
	ExpiryDate   *Date    `json:"expiryDate" validate:"required"`
	OpeningStock *float64 `json:"openingStock" validate:"omitempty,gte=0"`
	MinimumStock *float64 `json:"minimumStock" validate:"omitempty,gte=0"`
}

type updateRequest struct {
	ID           string   `json:"id" validate:"required"`
	OpeningStock *float64 `json:"openingStock" validate:"omitempty,gte=0"`
	MinimumStock *float64 `json:"minimumStock" validate:"omitempty,gte=0"`
	ExpiryDate   *Date    `json:"expiryDate"`
	Unit         *Unit    `json:"unit" validate:"omitempty,oneof=packets packs kg"`
}

type allocateRequest struct {
	StockID     string           `json:"stockId" validate:"required"`
	Allocations []AllocationLine `json:"allocations" validate:"required,min=1"`
}

type deliveryRequest struct {
	StockID           string  `json:"stockId" validate:"required"`
	AgentID           string  `json:"agentId" validate:"required"`
	DeliveredQuantity float64 `json:"deliveredQuantity" validate:"gt=0"`
	Type              string  `json:"type" validate:"required,oneof=delivery return"`
}

type movementRequest struct {
	StockID  string       `json:"stockId" validate:"required"`
	Type     MovementType `json:"type" validate:"required,oneof=purchase sale"`
	Quantity float64      `json:"quantity" validate:"gt=0"`
}

type allocationsResponse struct {
	StockID string            `json:"stockId"`
	Agents  []AgentAllocation `json:"agents"`
}

type insufficientStockProblem struct {
	httpx.ProblemDetail
	Available float64 `json:"available"`
	Requested float64 `json:"requested"`
	Unit      Unit    `json:"unit"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in := CreateInput{
		CompanyID:  id.CompanyID,
		ActorID:    id.UserID,
		Product:    req.Product,
		Unit:       req.Unit,
		ExpiryDate: req.ExpiryDate.Time,
	}
	if req.OpeningStock != nil {
		in.OpeningStock = *req.OpeningStock
	}
	if req.MinimumStock != nil {
		in.MinimumStock = *req.MinimumStock
	}
	rec, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := ListFilter{CompanyID: id.CompanyID, Product: q.Get("product")}
	var err error
	if filter.LowStock, err = optionalBool(q.Get("lowStock"), "lowStock"); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.Expired, err = optionalBool(q.Get("expired"), "expired"); err != nil {
		h.fail(w, r, err)
		return
	}
	includeInactive, err := optionalBool(q.Get("includeInactive"), "includeInactive")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter.IncludeInactive = includeInactive != nil && *includeInactive
	result, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in := UpdateInput{
		CompanyID:    id.CompanyID,
		ActorID:      id.UserID,
		StockID:      req.ID,
		OpeningStock: req.OpeningStock,
		MinimumStock: req.MinimumStock,
		Unit:         req.Unit,
	}
	if req.ExpiryDate != nil {
		in.ExpiryDate = &req.ExpiryDate.Time
	}
	rec, err := h.service.Update(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req allocateRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	outcome, err := h.service.Allocate(r.Context(), AllocateInput{
		CompanyID:      id.CompanyID,
		ActorID:        id.UserID,
		StockID:        req.StockID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		Allocations:    req.Allocations,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleGetAllocations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	stockID := r.URL.Query().Get("stockId")
	agents, err := h.service.GetAllocations(r.Context(), id.CompanyID, stockID, r.URL.Query().Get("agentId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, allocationsResponse{StockID: stockID, Agents: agents})
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req deliveryRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in := AgentInput{
		CompanyID: id.CompanyID,
		ActorID:   id.UserID,
		StockID:   req.StockID,
		AgentID:   req.AgentID,
		Quantity:  req.DeliveredQuantity,
	}
	var (
		update AgentUpdate
		err    error
	)
	if req.Type == "return" {
		update, err = h.service.RecordSalesReturn(r.Context(), in)
	} else {
		update, err = h.service.RecordDelivery(r.Context(), in)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, update)
}

func (h *Handler) handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	status, err := h.service.GetDeliveryStatus(r.Context(), id.CompanyID, q.Get("stockId"), q.Get("agentId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) handleCompleteDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	stockID, agentID, err := ParseCompositeID(chi.URLParam(r, "compositeID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	update, err := h.service.CompleteDelivery(r.Context(), AgentInput{
		CompanyID: id.CompanyID,
		ActorID:   id.UserID,
		StockID:   stockID,
		AgentID:   agentID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, update)
}

func (h *Handler) handleMovement(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req movementRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.service.RecordMovement(r.Context(), MovementInput{
		CompanyID: id.CompanyID,
		ActorID:   id.UserID,
		StockID:   req.StockID,
		Type:      req.Type,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleProducts(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identity(w, r); !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]string{"products": h.service.Catalog().Products()})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), id.CompanyID, chi.URLParam(r, "stockID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Deactivate(r.Context(), id.CompanyID, id.UserID, chi.URLParam(r, "stockID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (*shared.Identity, bool) {
	id := shared.IdentityFromContext(r.Context())
	if id == nil || id.CompanyID == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "company context required")
		return nil, false
	}
	return id, true
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &httpx.ValidationError{Field: fe.Field(), Reason: validationReason(fe)}
		}
		return err
	}
	return nil
}

func validationReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "min":
		return "must contain at least " + fe.Param() + " entry"
	default:
		return "is invalid"
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if ise, ok := AsInsufficientStock(err); ok {
		httpx.WriteProblem(w, http.StatusBadRequest, insufficientStockProblem{
			ProblemDetail: httpx.ProblemDetail{
				Title:  "Insufficient Stock",
				Status: http.StatusBadRequest,
				Detail: ise.Error(),
			},
			Available: ise.Available,
			Requested: ise.Requested,
			Unit:      ise.Unit,
		})
		return
	}
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "stock request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func optionalBool(raw, field string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, &httpx.ValidationError{Field: field, Reason: "must be true or false"}
	}
	return &v, nil
}
