package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/table-reservation/internal/model"
)

// MyPayments: GET /v1/me/payments lists the caller's ledger, newest first.
func (h *SlotHandler) MyPayments(c echo.Context) error {
	caller, err := getCaller(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	entries, err := h.Svc.Payments(ctx, caller.UserID)
	if err != nil {
		return writeError(c, err)
	}
	if entries == nil {
		entries = []model.PaymentEntry{}
	}
	var outstanding int64
	for _, e := range entries {
		if !e.Deducted {
			outstanding += e.Amount
		}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"payments":    entries,
		"outstanding": outstanding,
	})
}
