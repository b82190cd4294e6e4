// Package service implements the reservation state machine.  Each slot is
// Free, Reserved, Disabled or Reserved and Disabled; every transition is a
// single conditional write in the store, and operations touching more than
// one row undo their earlier writes when a later one fails.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/table-reservation/internal/metrics"
	"github.com/iliyamo/table-reservation/internal/model"
	"github.com/iliyamo/table-reservation/internal/notify"
	"github.com/iliyamo/table-reservation/internal/payment"
	"github.com/iliyamo/table-reservation/internal/repository"
)

// SlotStore is the persistence the service needs for slots.
type SlotStore interface {
	Get(ctx context.Context, slotNumber, tableNumber int) (*model.Slot, error)
	ListBySlot(ctx context.Context, slotNumber int) ([]model.SlotView, error)
	Available(ctx context.Context, f model.AvailabilityFilter) ([]model.Slot, error)
	Create(ctx context.Context, s *model.Slot) error
	Delete(ctx context.Context, slotNumber, tableNumber int) error
	MarkReserved(ctx context.Context, slotNumber, tableNumber int, userID uint64) error
	Release(ctx context.Context, slotNumber, tableNumber int, userID uint64) error
	Restore(ctx context.Context, slotNumber, tableNumber int, userID uint64) error
	ToggleDisabled(ctx context.Context, slotNumber, tableNumber int) error
}

// LedgerStore is the persistence the service needs for payment entries.
type LedgerStore interface {
	Append(ctx context.Context, e *model.PaymentEntry) error
	MarkDeducted(ctx context.Context, userID, reservationID uint64) (int64, error)
	Retarget(ctx context.Context, userID, fromReservationID, toReservationID uint64, tableNumber int) (int64, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.PaymentEntry, error)
}

// UserLookup resolves reservation targets.
type UserLookup interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// Caller identifies who is invoking an operation.
type Caller struct {
	UserID uint64
	Role   string
}

// IsAdmin reports whether the caller has the administrative role.
func (c Caller) IsAdmin() bool { return c.Role == model.RoleAdmin }

// Settings carries the configuration values of the service.
type Settings struct {
	FeeAmount      int64  // reservation fee in major units
	Currency       string // gateway currency code
	VerifyPayments bool   // check intents with the gateway before reserving
	Metrics        *metrics.Metrics
}

// ReservationService owns every slot transition.
type ReservationService struct {
	slots   SlotStore
	ledger  LedgerStore
	users   UserLookup
	pub     notify.Publisher
	gateway payment.Gateway
	cfg     Settings
}

// NewReservationService wires the service.  gateway may be nil, in which
// case payment intents cannot be created or verified.
func NewReservationService(slots SlotStore, ledger LedgerStore, users UserLookup, pub notify.Publisher, gateway payment.Gateway, cfg Settings) *ReservationService {
	if pub == nil {
		pub = notify.Nop{}
	}
	if cfg.Currency == "" {
		cfg.Currency = "inr"
	}
	return &ReservationService{slots: slots, ledger: ledger, users: users, pub: pub, gateway: gateway, cfg: cfg}
}

// FeeAmount returns the configured reservation fee.
func (s *ReservationService) FeeAmount() int64 { return s.cfg.FeeAmount }

// ListSlots returns every table of a window, reserving users populated.
func (s *ReservationService) ListSlots(ctx context.Context, slotNumber int) ([]model.SlotView, error) {
	return s.slots.ListBySlot(ctx, slotNumber)
}

// AvailableTables returns the free, enabled tables of a window.  A zero
// capacity or exclude disables that filter.
func (s *ReservationService) AvailableTables(ctx context.Context, slotNumber, capacity, exclude int) ([]model.Slot, error) {
	if capacity < 0 {
		return nil, ErrInvalidCapacity
	}
	if exclude < 0 {
		exclude = 0
	}
	return s.slots.Available(ctx, model.AvailabilityFilter{SlotNumber: slotNumber, Capacity: capacity, Exclude: exclude})
}

// Reserve books a free table for userID against a settled payment intent.
func (s *ReservationService) Reserve(ctx context.Context, slotNumber, table int, userID uint64, paymentIntentID string) (_ *model.Slot, err error) {
	defer s.record("reserve", &err)

	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if table <= 0 {
		return nil, ErrInvalidTable
	}
	if paymentIntentID == "" {
		return nil, ErrPaymentIntentRequired
	}
	slot, err := s.load(ctx, slotNumber, table)
	if err != nil {
		return nil, err
	}
	if err := freeCheck(slot); err != nil {
		return nil, err
	}

	status := model.PaymentStatusSucceeded
	if s.cfg.VerifyPayments && s.gateway != nil {
		intent, err := s.gateway.Retrieve(ctx, paymentIntentID)
		if errors.Is(err, payment.ErrIntentNotFound) {
			return nil, ErrPaymentNotSettled
		}
		if err != nil {
			return nil, fmt.Errorf("retrieve payment intent: %w", err)
		}
		if intent.Status != payment.StatusSucceeded {
			return nil, ErrPaymentNotSettled
		}
		if intent.Amount != payment.ToMinor(s.cfg.FeeAmount) || !strings.EqualFold(intent.Currency, s.cfg.Currency) {
			return nil, ErrPaymentAmountMismatch
		}
		status = intent.Status
	}

	entry := &model.PaymentEntry{
		PaymentIntentID: paymentIntentID,
		Amount:          s.cfg.FeeAmount,
		Status:          status,
	}
	return s.reserveFor(ctx, slot, userID, entry, notify.ActionReserve)
}

// AdminReserve books a free table for another user without a payment.
func (s *ReservationService) AdminReserve(ctx context.Context, slotNumber, table int, userID uint64) (_ *model.Slot, err error) {
	defer s.record("admin_reserve", &err)

	if table <= 0 {
		return nil, ErrInvalidTable
	}
	if userID == 0 {
		return nil, ErrInvalidUser
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	slot, err := s.load(ctx, slotNumber, table)
	if err != nil {
		return nil, err
	}
	if err := freeCheck(slot); err != nil {
		return nil, err
	}
	entry := &model.PaymentEntry{
		PaymentIntentID: "admin-" + uuid.NewString(),
		Amount:          0,
		Status:          model.PaymentStatusAdminAssisted,
	}
	return s.reserveFor(ctx, slot, userID, entry, notify.ActionAdminReserve)
}

func (s *ReservationService) reserveFor(ctx context.Context, slot *model.Slot, userID uint64, entry *model.PaymentEntry, action string) (*model.Slot, error) {
	if err := s.slots.MarkReserved(ctx, slot.SlotNumber, slot.TableNumber, userID); err != nil {
		return nil, s.reserveConflict(ctx, slot.SlotNumber, slot.TableNumber, err)
	}

	entry.UserID = userID
	entry.ReservationID = slot.ID
	entry.TableNumber = slot.TableNumber
	entry.SlotTime = model.SlotLabel(slot.SlotNumber)
	if err := s.ledger.Append(ctx, entry); err != nil {
		s.undo(ctx, "release after ledger failure", func(ctx context.Context) error {
			return s.slots.Release(ctx, slot.SlotNumber, slot.TableNumber, userID)
		})
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrPaymentIntentUsed
		}
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}

	reserved := *slot
	reserved.Reserved = true
	reserved.ReservedBy = &userID

	ev := notify.SlotEvent{
		Action:      action,
		SlotNumber:  slot.SlotNumber,
		SlotTime:    entry.SlotTime,
		TableNumber: slot.TableNumber,
		UserID:      userID,
		Slot:        &reserved,
	}
	s.publish(ctx, notify.SlotTopic(slot.SlotNumber), notify.EventSlotUpdated, ev)
	s.publish(ctx, notify.UserTopic(userID), notify.EventNewReservation, ev)
	s.publish(ctx, notify.AdminTopic(), notify.EventNewReservation, ev)
	return &reserved, nil
}

// Unreserve releases a reservation held by the caller.  Admins may
// release anyone's reservation.
func (s *ReservationService) Unreserve(ctx context.Context, slotNumber, table int, caller Caller) (_ *model.Slot, err error) {
	defer s.record("unreserve", &err)

	if table <= 0 {
		return nil, ErrInvalidTable
	}
	slot, err := s.load(ctx, slotNumber, table)
	if err != nil {
		return nil, err
	}
	if !slot.Reserved || slot.ReservedBy == nil {
		return nil, ErrNotReserved
	}
	if *slot.ReservedBy != caller.UserID && !caller.IsAdmin() {
		return nil, ErrNotOwner
	}
	return s.release(ctx, slot, notify.ActionUnreserve)
}

// AdminUnreserve releases a reservation regardless of who holds it.
func (s *ReservationService) AdminUnreserve(ctx context.Context, slotNumber, table int) (_ *model.Slot, err error) {
	defer s.record("admin_unreserve", &err)

	if table <= 0 {
		return nil, ErrInvalidTable
	}
	slot, err := s.load(ctx, slotNumber, table)
	if err != nil {
		return nil, err
	}
	if !slot.Reserved || slot.ReservedBy == nil {
		return nil, ErrNotReserved
	}
	return s.release(ctx, slot, notify.ActionAdminRelease)
}

func (s *ReservationService) release(ctx context.Context, slot *model.Slot, action string) (*model.Slot, error) {
	owner := *slot.ReservedBy
	if err := s.slots.Release(ctx, slot.SlotNumber, slot.TableNumber, owner); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrNotReserved
		}
		return nil, fmt.Errorf("release slot: %w", err)
	}
	if _, err := s.ledger.MarkDeducted(ctx, owner, slot.ID); err != nil {
		s.undo(ctx, "re-reserve after ledger failure", func(ctx context.Context) error {
			return s.slots.Restore(ctx, slot.SlotNumber, slot.TableNumber, owner)
		})
		return nil, fmt.Errorf("mark ledger deducted: %w", err)
	}

	freed := *slot
	freed.Reserved = false
	freed.ReservedBy = nil

	ev := notify.SlotEvent{
		Action:      action,
		SlotNumber:  slot.SlotNumber,
		SlotTime:    model.SlotLabel(slot.SlotNumber),
		TableNumber: slot.TableNumber,
		UserID:      owner,
		Slot:        &freed,
	}
	s.publish(ctx, notify.SlotTopic(slot.SlotNumber), notify.EventSlotUpdated, ev)
	s.publish(ctx, notify.UserTopic(owner), notify.EventReservationRemoved, ev)
	return &freed, nil
}

// ToggleStatus flips the disabled flag of a table.
func (s *ReservationService) ToggleStatus(ctx context.Context, slotNumber, table int) (_ *model.Slot, err error) {
	defer s.record("toggle_status", &err)

	if table <= 0 {
		return nil, ErrInvalidTable
	}
	if err := s.slots.ToggleDisabled(ctx, slotNumber, table); err != nil {
		if errors.Is(err, repository.ErrSlotNotFound) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("toggle slot: %w", err)
	}
	slot, err := s.load(ctx, slotNumber, table)
	if err != nil {
		return nil, err
	}

	ev := notify.SlotEvent{
		Action:      notify.ActionToggle,
		SlotNumber:  slotNumber,
		SlotTime:    model.SlotLabel(slotNumber),
		TableNumber: table,
		Slot:        slot,
	}
	s.publish(ctx, notify.SlotTopic(slotNumber), notify.EventTableStatusChanged, ev)
	s.publish(ctx, notify.CatalogTopic(), notify.EventTableStatusChanged, ev)
	return slot, nil
}

// ChangeTable moves a reservation to another free table of the same
// capacity in the same window.  Nothing is written unless every
// precondition holds.
func (s *ReservationService) ChangeTable(ctx context.Context, slotNumber, oldTable, newTable int, caller Caller) (_ *model.Slot, err error) {
	defer s.record("change_table", &err)

	if oldTable <= 0 || newTable <= 0 {
		return nil, ErrInvalidTable
	}
	if oldTable == newTable {
		return nil, ErrSameTable
	}
	from, err := s.load(ctx, slotNumber, oldTable)
	if err != nil {
		return nil, err
	}
	if !from.Reserved || from.ReservedBy == nil {
		return nil, ErrNotReserved
	}
	owner := *from.ReservedBy
	if owner != caller.UserID && !caller.IsAdmin() {
		return nil, ErrNotOwner
	}
	to, err := s.load(ctx, slotNumber, newTable)
	if err != nil {
		return nil, err
	}
	if err := freeCheck(to); err != nil {
		return nil, err
	}
	if to.Capacity != from.Capacity {
		return nil, ErrCapacityMismatch
	}

	if err := s.slots.MarkReserved(ctx, slotNumber, newTable, owner); err != nil {
		return nil, s.reserveConflict(ctx, slotNumber, newTable, err)
	}
	if err := s.slots.Release(ctx, slotNumber, oldTable, owner); err != nil {
		s.undo(ctx, "release new table", func(ctx context.Context) error {
			return s.slots.Release(ctx, slotNumber, newTable, owner)
		})
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrNotReserved
		}
		return nil, fmt.Errorf("release old table: %w", err)
	}
	if _, err := s.ledger.Retarget(ctx, owner, from.ID, to.ID, newTable); err != nil {
		s.undo(ctx, "restore old table", func(ctx context.Context) error {
			if err := s.slots.Release(ctx, slotNumber, newTable, owner); err != nil {
				return err
			}
			return s.slots.Restore(ctx, slotNumber, oldTable, owner)
		})
		return nil, fmt.Errorf("retarget ledger: %w", err)
	}

	freed := *from
	freed.Reserved = false
	freed.ReservedBy = nil
	taken := *to
	taken.Reserved = true
	taken.ReservedBy = &owner

	ev := notify.SlotEvent{
		Action:         notify.ActionChangeTable,
		SlotNumber:     slotNumber,
		SlotTime:       model.SlotLabel(slotNumber),
		TableNumber:    newTable,
		OldTableNumber: oldTable,
		UserID:         owner,
		Slot:           &taken,
		Previous:       &freed,
	}
	s.publish(ctx, notify.SlotTopic(slotNumber), notify.EventTableChanged, ev)
	s.publish(ctx, notify.UserTopic(owner), notify.EventReservationChanged, ev)
	return &taken, nil
}

// AddTable creates a free, enabled table in a window.
func (s *ReservationService) AddTable(ctx context.Context, slotNumber, table, capacity int) (_ *model.Slot, err error) {
	defer s.record("add_table", &err)

	if table <= 0 {
		return nil, ErrInvalidTable
	}
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	slot := &model.Slot{SlotNumber: slotNumber, TableNumber: table, Capacity: capacity}
	if err := s.slots.Create(ctx, slot); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrTableExists
		}
		return nil, fmt.Errorf("create slot: %w", err)
	}

	ev := notify.SlotEvent{
		Action:      notify.ActionAdd,
		SlotNumber:  slotNumber,
		SlotTime:    model.SlotLabel(slotNumber),
		TableNumber: table,
		Slot:        slot,
	}
	s.publish(ctx, notify.SlotTopic(slotNumber), notify.EventTableAdded, ev)
	return slot, nil
}

// DeleteTable removes a table.  A reservation on it is cancelled: the
// owner's fee is marked deducted and the owner is told.
func (s *ReservationService) DeleteTable(ctx context.Context, slotNumber, table int) (_ *model.Slot, err error) {
	defer s.record("delete_table", &err)

	if table <= 0 {
		return nil, ErrInvalidTable
	}
	slot, err := s.load(ctx, slotNumber, table)
	if err != nil {
		return nil, err
	}
	if err := s.slots.Delete(ctx, slotNumber, table); err != nil {
		if errors.Is(err, repository.ErrSlotNotFound) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("delete slot: %w", err)
	}

	ev := notify.SlotEvent{
		Action:      notify.ActionDelete,
		SlotNumber:  slotNumber,
		SlotTime:    model.SlotLabel(slotNumber),
		TableNumber: table,
		Previous:    slot,
	}
	if slot.Reserved && slot.ReservedBy != nil {
		owner := *slot.ReservedBy
		ev.UserID = owner
		// the row is gone, so a ledger failure can only be reported
		if _, err := s.ledger.MarkDeducted(ctx, owner, slot.ID); err != nil {
			log.Printf("reservation: mark ledger deducted for deleted table %d/%d: %v", slotNumber, table, err)
		}
		s.publish(ctx, notify.UserTopic(owner), notify.EventReservationRemoved, ev)
	}
	s.publish(ctx, notify.SlotTopic(slotNumber), notify.EventTableDeleted, ev)
	return slot, nil
}

// Payments lists the ledger of a user, newest first.
func (s *ReservationService) Payments(ctx context.Context, userID uint64) ([]model.PaymentEntry, error) {
	return s.ledger.ListByUser(ctx, userID)
}

// CreatePaymentIntent opens a gateway intent for amount (major units).  A
// zero amount means the reservation fee.
func (s *ReservationService) CreatePaymentIntent(ctx context.Context, amount int64) (payment.Intent, error) {
	if s.gateway == nil {
		return payment.Intent{}, ErrPaymentsDisabled
	}
	if amount == 0 {
		amount = s.cfg.FeeAmount
	}
	if amount <= 0 {
		return payment.Intent{}, ErrInvalidAmount
	}
	return s.gateway.CreateIntent(ctx, payment.ToMinor(amount), s.cfg.Currency)
}

func (s *ReservationService) load(ctx context.Context, slotNumber, table int) (*model.Slot, error) {
	slot, err := s.slots.Get(ctx, slotNumber, table)
	if errors.Is(err, repository.ErrSlotNotFound) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	return slot, nil
}

func freeCheck(slot *model.Slot) error {
	if slot.Reserved {
		return ErrAlreadyReserved
	}
	if slot.Disabled {
		return ErrSlotDisabled
	}
	return nil
}

// reserveConflict explains a failed conditional reserve by re-reading
// the row another writer changed.
func (s *ReservationService) reserveConflict(ctx context.Context, slotNumber, table int, err error) error {
	if !errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("reserve slot: %w", err)
	}
	current, lerr := s.load(ctx, slotNumber, table)
	if lerr != nil {
		return lerr
	}
	if ferr := freeCheck(current); ferr != nil {
		return ferr
	}
	return ErrAlreadyReserved
}

// undo runs a compensating write.  It ignores cancellation of the request
// context so a client disconnect cannot leave half an operation behind.
func (s *ReservationService) undo(ctx context.Context, what string, fn func(context.Context) error) {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		log.Printf("reservation: compensation %q failed: %v", what, err)
	}
}

func (s *ReservationService) publish(ctx context.Context, topic notify.Topic, event string, payload any) {
	if err := s.pub.Publish(ctx, topic, event, payload); err != nil {
		log.Printf("reservation: publish %s to %s: %v", event, topic, err)
	}
}

func (s *ReservationService) record(op string, errp *error) {
	result := "ok"
	if *errp != nil {
		result = KindOf(*errp).String()
	}
	s.cfg.Metrics.Operation(op, result)
}
