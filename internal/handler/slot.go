package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/table-reservation/internal/model"
	"github.com/iliyamo/table-reservation/internal/service"
)

// SlotHandler exposes the reservation service under /slot/:slotNumber.
type SlotHandler struct {
	Svc *service.ReservationService
}

// NewSlotHandler constructs a SlotHandler and panics if svc is nil.
func NewSlotHandler(svc *service.ReservationService) *SlotHandler {
	if svc == nil {
		panic("nil service passed to NewSlotHandler")
	}
	return &SlotHandler{Svc: svc}
}

// ----- DTOs -----

type tableReq struct {
	Number int `json:"number"`
}

type reserveReq struct {
	Number          int    `json:"number"`
	PaymentIntentID string `json:"paymentIntentId"`
}

type adminReserveReq struct {
	Number int    `json:"number"`
	UserID uint64 `json:"userId"`
}

type addTableReq struct {
	Number   int `json:"number"`
	Capacity int `json:"capacity"`
}

type changeTableReq struct {
	OldTableNumber int `json:"oldTableNumber"`
	NewTableNumber int `json:"newTableNumber"`
}

type paymentIntentReq struct {
	Amount int64 `json:"amount"`
}

type slotResp struct {
	Message  string      `json:"message"`
	SlotTime string      `json:"slotTime"`
	Slot     *model.Slot `json:"slot"`
}

func mutated(c echo.Context, status int, msg string, s *model.Slot) error {
	return c.JSON(status, slotResp{Message: msg, SlotTime: model.SlotLabel(s.SlotNumber), Slot: s})
}

// bindTable binds the path slot number and a {number} body.  On failure
// the 400 response has been written and table is 0.
func bindTable(c echo.Context) (int, int, error) {
	n, ok := slotNumberParam(c)
	if !ok {
		return 0, 0, badRequest(c, "invalid_slot_number", "slot number must be an integer")
	}
	var req tableReq
	if err := c.Bind(&req); err != nil {
		return 0, 0, badRequest(c, "invalid_body", "invalid body")
	}
	if req.Number <= 0 {
		return 0, 0, badRequest(c, "number_required", "table number is required")
	}
	return n, req.Number, nil
}

// List: GET /slot/:slotNumber
func (h *SlotHandler) List(c echo.Context) error {
	n, ok := slotNumberParam(c)
	if !ok {
		return badRequest(c, "invalid_slot_number", "slot number must be an integer")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	views, err := h.Svc.ListSlots(ctx, n)
	if err != nil {
		return writeError(c, err)
	}
	if views == nil {
		views = []model.SlotView{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"slotNumber": n,
		"slotTime":   model.SlotLabel(n),
		"slots":      views,
	})
}

// Available: GET /slot/:slotNumber/available-tables?capacity=&exclude=
func (h *SlotHandler) Available(c echo.Context) error {
	n, ok := slotNumberParam(c)
	if !ok {
		return badRequest(c, "invalid_slot_number", "slot number must be an integer")
	}
	capacity, ok := queryInt(c, "capacity")
	if !ok {
		return badRequest(c, "invalid_capacity", "capacity must be an integer")
	}
	exclude, ok := queryInt(c, "exclude")
	if !ok {
		return badRequest(c, "invalid_exclude", "exclude must be an integer")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	tables, err := h.Svc.AvailableTables(ctx, n, capacity, exclude)
	if err != nil {
		return writeError(c, err)
	}
	if tables == nil {
		tables = []model.Slot{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"slotNumber": n,
		"slotTime":   model.SlotLabel(n),
		"tables":     tables,
	})
}

// Reserve: POST /slot/:slotNumber/reserve
func (h *SlotHandler) Reserve(c echo.Context) error {
	n, ok := slotNumberParam(c)
	if !ok {
		return badRequest(c, "invalid_slot_number", "slot number must be an integer")
	}
	caller, err := getCaller(c)
	if err != nil {
		return unauthorized(c)
	}
	var req reserveReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_body", "invalid body")
	}
	if req.Number <= 0 {
		return badRequest(c, "number_required", "table number is required")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	slot, err := h.Svc.Reserve(ctx, n, req.Number, caller.UserID, req.PaymentIntentID)
	if err != nil {
		return writeError(c, err)
	}
	return mutated(c, http.StatusOK, "table reserved", slot)
}

// Unreserve: POST /slot/:slotNumber/unreserve
func (h *SlotHandler) Unreserve(c echo.Context) error {
	caller, err := getCaller(c)
	if err != nil {
		return unauthorized(c)
	}
	n, table, err := bindTable(c)
	if err != nil || table == 0 {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	slot, err := h.Svc.Unreserve(ctx, n, table, caller)
	if err != nil {
		return writeError(c, err)
	}
	return mutated(c, http.StatusOK, "reservation cancelled", slot)
}

// AdminUnreserve: POST /slot/:slotNumber/admin/unreserve
func (h *SlotHandler) AdminUnreserve(c echo.Context) error {
	n, table, err := bindTable(c)
	if err != nil || table == 0 {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	slot, err := h.Svc.AdminUnreserve(ctx, n, table)
	if err != nil {
		return writeError(c, err)
	}
	return mutated(c, http.StatusOK, "reservation cancelled", slot)
}

// AdminReserve: POST /slot/:slotNumber/admin/reserve
func (h *SlotHandler) AdminReserve(c echo.Context) error {
	n, ok := slotNumberParam(c)
	if !ok {
		return badRequest(c, "invalid_slot_number", "slot number must be an integer")
	}
	var req adminReserveReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_body", "invalid body")
	}
	if req.Number <= 0 || req.UserID == 0 {
		return badRequest(c, "fields_required", "number and userId are required")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	slot, err := h.Svc.AdminReserve(ctx, n, req.Number, req.UserID)
	if err != nil {
		return writeError(c, err)
	}
	return mutated(c, http.StatusOK, "table reserved for user", slot)
}

// Add: POST /slot/:slotNumber/add
func (h *SlotHandler) Add(c echo.Context) error {
	n, ok := slotNumberParam(c)
	if !ok {
		return badRequest(c, "invalid_slot_number", "slot number must be an integer")
	}
	var req addTableReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_body", "invalid body")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	// table and capacity bounds are enforced by the service
	slot, err := h.Svc.AddTable(ctx, n, req.Number, req.Capacity)
	if err != nil {
		return writeError(c, err)
	}
	return mutated(c, http.StatusCreated, "table added", slot)
}

// Delete: DELETE /slot/:slotNumber/delete
func (h *SlotHandler) Delete(c echo.Context) error {
	n, table, err := bindTable(c)
	if err != nil || table == 0 {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	slot, err := h.Svc.DeleteTable(ctx, n, table)
	if err != nil {
		return writeError(c, err)
	}
	return mutated(c, http.StatusOK, "table deleted", slot)
}

// ToggleStatus: POST /slot/:slotNumber/toggle-status
func (h *SlotHandler) ToggleStatus(c echo.Context) error {
	n, table, err := bindTable(c)
	if err != nil || table == 0 {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	slot, err := h.Svc.ToggleStatus(ctx, n, table)
	if err != nil {
		return writeError(c, err)
	}
	msg := "table enabled"
	if slot.Disabled {
		msg = "table disabled"
	}
	return mutated(c, http.StatusOK, msg, slot)
}

// ChangeTable: POST /slot/:slotNumber/change-table
func (h *SlotHandler) ChangeTable(c echo.Context) error {
	n, ok := slotNumberParam(c)
	if !ok {
		return badRequest(c, "invalid_slot_number", "slot number must be an integer")
	}
	caller, err := getCaller(c)
	if err != nil {
		return unauthorized(c)
	}
	var req changeTableReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_body", "invalid body")
	}
	if req.OldTableNumber <= 0 || req.NewTableNumber <= 0 {
		return badRequest(c, "fields_required", "oldTableNumber and newTableNumber are required")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	slot, err := h.Svc.ChangeTable(ctx, n, req.OldTableNumber, req.NewTableNumber, caller)
	if err != nil {
		return writeError(c, err)
	}
	return mutated(c, http.StatusOK, "table changed", slot)
}

// CreatePaymentIntent: POST /slot/:slotNumber/create-payment-intent
func (h *SlotHandler) CreatePaymentIntent(c echo.Context) error {
	var req paymentIntentReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_body", "invalid body")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	intent, err := h.Svc.CreatePaymentIntent(ctx, req.Amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"clientSecret":    intent.ClientSecret,
		"paymentIntentId": intent.ID,
		"amount":          intent.Amount,
		"currency":        intent.Currency,
	})
}
