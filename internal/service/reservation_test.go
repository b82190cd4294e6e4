package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/table-reservation/internal/model"
	"github.com/iliyamo/table-reservation/internal/notify"
	"github.com/iliyamo/table-reservation/internal/payment"
	"github.com/iliyamo/table-reservation/internal/repository/memstore"
)

type published struct {
	topic notify.Topic
	event string
	ev    notify.SlotEvent
}

type recorder struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (r *recorder) Publish(_ context.Context, topic notify.Topic, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, _ := payload.(notify.SlotEvent)
	r.sent = append(r.sent, published{topic: topic, event: event, ev: ev})
	return r.err
}

func (r *recorder) find(topic notify.Topic, event string) (notify.SlotEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.sent {
		if p.topic == topic && p.event == event {
			return p.ev, true
		}
	}
	return notify.SlotEvent{}, false
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}

type fixture struct {
	svc   *ReservationService
	store *memstore.Store
	pub   *recorder
	alice uint64
	bob   uint64
	admin Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	alice, err := store.CreateUser(ctx, "Alice", "alice@example.com", "secret123", model.RoleUser, bcrypt.MinCost)
	require.NoError(t, err)
	bob, err := store.CreateUser(ctx, "Bob", "bob@example.com", "secret123", model.RoleUser, bcrypt.MinCost)
	require.NoError(t, err)
	adminID, err := store.CreateUser(ctx, "Root", "root@example.com", "secret123", model.RoleAdmin, bcrypt.MinCost)
	require.NoError(t, err)

	pub := &recorder{}
	svc := NewReservationService(store, store, store, pub, nil, Settings{FeeAmount: 100})
	return &fixture{
		svc:   svc,
		store: store,
		pub:   pub,
		alice: alice,
		bob:   bob,
		admin: Caller{UserID: adminID, Role: model.RoleAdmin},
	}
}

func (f *fixture) addTable(t *testing.T, slot, table, capacity int) *model.Slot {
	t.Helper()
	s, err := f.svc.AddTable(context.Background(), slot, table, capacity)
	require.NoError(t, err)
	return s
}

func (f *fixture) slot(t *testing.T, slot, table int) *model.Slot {
	t.Helper()
	s, err := f.store.Get(context.Background(), slot, table)
	require.NoError(t, err)
	assertConsistent(t, s)
	return s
}

func user(id uint64) Caller { return Caller{UserID: id, Role: model.RoleUser} }

func assertConsistent(t *testing.T, s *model.Slot) {
	t.Helper()
	assert.Equal(t, s.Reserved, s.ReservedBy != nil, "reserved flag and reservedBy disagree for table %d", s.TableNumber)
}

func TestReserveThenAdminUnreserveDeductsFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	table := f.addTable(t, 1, 5, 4)

	_, err := f.svc.Reserve(ctx, 1, 5, f.alice, "pi_1")
	require.NoError(t, err)

	views, err := f.svc.ListSlots(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Reserved)
	require.NotNil(t, views[0].ReservedBy)
	assert.Equal(t, f.alice, *views[0].ReservedBy)
	require.NotNil(t, views[0].User)
	assert.Equal(t, "Alice", views[0].User.Name)
	assert.Equal(t, "10:00 AM - 12:00 PM", views[0].SlotTime)

	_, err = f.svc.AdminUnreserve(ctx, 1, 5)
	require.NoError(t, err)

	s := f.slot(t, 1, 5)
	assert.False(t, s.Reserved)
	assert.Nil(t, s.ReservedBy)

	entries, err := f.svc.Payments(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, table.ID, entries[0].ReservationID)
	assert.Equal(t, "pi_1", entries[0].PaymentIntentID)
	assert.Equal(t, int64(100), entries[0].Amount)
	assert.Equal(t, model.PaymentStatusSucceeded, entries[0].Status)
	assert.True(t, entries[0].Deducted)
}

func TestReserveBroadcasts(t *testing.T) {
	f := newFixture(t)
	f.addTable(t, 2, 3, 2)
	f.pub.reset()

	_, err := f.svc.Reserve(context.Background(), 2, 3, f.alice, "pi_b")
	require.NoError(t, err)

	ev, ok := f.pub.find(notify.SlotTopic(2), notify.EventSlotUpdated)
	require.True(t, ok)
	assert.Equal(t, notify.ActionReserve, ev.Action)
	assert.Equal(t, "1:00 PM - 3:00 PM", ev.SlotTime)
	require.NotNil(t, ev.Slot)
	assert.True(t, ev.Slot.Reserved)

	_, ok = f.pub.find(notify.UserTopic(f.alice), notify.EventNewReservation)
	assert.True(t, ok)
	_, ok = f.pub.find(notify.AdminTopic(), notify.EventNewReservation)
	assert.True(t, ok)
}

func TestReserveRejectsReservedOrDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 1, 2)
	f.addTable(t, 1, 2, 2)

	_, err := f.svc.Reserve(ctx, 1, 1, f.alice, "pi_a")
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, 1, 1, f.bob, "pi_b")
	assert.ErrorIs(t, err, ErrAlreadyReserved)
	_, err = f.svc.AdminReserve(ctx, 1, 1, f.bob)
	assert.ErrorIs(t, err, ErrAlreadyReserved)
	assert.Equal(t, f.alice, *f.slot(t, 1, 1).ReservedBy)

	_, err = f.svc.ToggleStatus(ctx, 1, 2)
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, 1, 2, f.alice, "pi_c")
	assert.ErrorIs(t, err, ErrSlotDisabled)
	_, err = f.svc.AdminReserve(ctx, 1, 2, f.alice)
	assert.ErrorIs(t, err, ErrSlotDisabled)
	assert.False(t, f.slot(t, 1, 2).Reserved)
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 1, 2)

	_, err := f.svc.Reserve(ctx, 1, 1, f.alice, "  ")
	assert.ErrorIs(t, err, ErrPaymentIntentRequired)
	_, err = f.svc.Reserve(ctx, 1, 0, f.alice, "pi")
	assert.ErrorIs(t, err, ErrInvalidTable)
	_, err = f.svc.Reserve(ctx, 1, 9, f.alice, "pi")
	assert.ErrorIs(t, err, ErrSlotNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestReserveWithUsedIntentReleasesTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 5, 4)
	f.addTable(t, 1, 6, 4)

	_, err := f.svc.Reserve(ctx, 1, 5, f.alice, "pi_1")
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, 1, 6, f.alice, "pi_1")
	assert.ErrorIs(t, err, ErrPaymentIntentUsed)

	assert.False(t, f.slot(t, 1, 6).Reserved)
	entries, err := f.svc.Payments(ctx, f.alice)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

type failingLedger struct {
	LedgerStore
	appendErr, deductErr, retargetErr error
}

func (l failingLedger) Append(ctx context.Context, e *model.PaymentEntry) error {
	if l.appendErr != nil {
		return l.appendErr
	}
	return l.LedgerStore.Append(ctx, e)
}

func (l failingLedger) MarkDeducted(ctx context.Context, userID, reservationID uint64) (int64, error) {
	if l.deductErr != nil {
		return 0, l.deductErr
	}
	return l.LedgerStore.MarkDeducted(ctx, userID, reservationID)
}

func (l failingLedger) Retarget(ctx context.Context, userID, from, to uint64, table int) (int64, error) {
	if l.retargetErr != nil {
		return 0, l.retargetErr
	}
	return l.LedgerStore.Retarget(ctx, userID, from, to, table)
}

func TestLedgerFailuresAreCompensated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 5, 4)
	f.addTable(t, 1, 6, 4)
	boom := errors.New("ledger down")

	broken := NewReservationService(f.store, failingLedger{LedgerStore: f.store, appendErr: boom}, f.store, f.pub, nil, Settings{FeeAmount: 100})
	_, err := broken.Reserve(ctx, 1, 5, f.alice, "pi_x")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.False(t, f.slot(t, 1, 5).Reserved)

	_, err = f.svc.Reserve(ctx, 1, 5, f.alice, "pi_y")
	require.NoError(t, err)

	broken = NewReservationService(f.store, failingLedger{LedgerStore: f.store, deductErr: boom}, f.store, f.pub, nil, Settings{FeeAmount: 100})
	_, err = broken.Unreserve(ctx, 1, 5, user(f.alice))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, f.alice, *f.slot(t, 1, 5).ReservedBy)

	broken = NewReservationService(f.store, failingLedger{LedgerStore: f.store, retargetErr: boom}, f.store, f.pub, nil, Settings{FeeAmount: 100})
	_, err = broken.ChangeTable(ctx, 1, 5, 6, user(f.alice))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, f.alice, *f.slot(t, 1, 5).ReservedBy)
	assert.False(t, f.slot(t, 1, 6).Reserved)
}

func TestLedgerFailureOnDisabledTableKeepsReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 5, 4)
	f.addTable(t, 1, 6, 4)
	boom := errors.New("ledger down")

	_, err := f.svc.Reserve(ctx, 1, 5, f.alice, "pi_y")
	require.NoError(t, err)
	_, err = f.svc.ToggleStatus(ctx, 1, 5)
	require.NoError(t, err)

	broken := NewReservationService(f.store, failingLedger{LedgerStore: f.store, deductErr: boom}, f.store, f.pub, nil, Settings{FeeAmount: 100})
	_, err = broken.Unreserve(ctx, 1, 5, user(f.alice))
	require.ErrorIs(t, err, boom)
	five := f.slot(t, 1, 5)
	assert.True(t, five.Reserved)
	assert.True(t, five.Disabled)
	assert.Equal(t, f.alice, *five.ReservedBy)

	broken = NewReservationService(f.store, failingLedger{LedgerStore: f.store, retargetErr: boom}, f.store, f.pub, nil, Settings{FeeAmount: 100})
	_, err = broken.ChangeTable(ctx, 1, 5, 6, user(f.alice))
	require.ErrorIs(t, err, boom)
	five = f.slot(t, 1, 5)
	assert.True(t, five.Reserved)
	assert.True(t, five.Disabled)
	assert.Equal(t, f.alice, *five.ReservedBy)
	assert.False(t, f.slot(t, 1, 6).Reserved)

	entries, err := f.svc.Payments(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Deducted)
}

func TestUnreserveOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	table := f.addTable(t, 3, 1, 2)

	_, err := f.svc.Reserve(ctx, 3, 1, f.alice, "pi_1")
	require.NoError(t, err)

	_, err = f.svc.Unreserve(ctx, 3, 1, user(f.bob))
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, KindForbidden, KindOf(err))
	assert.True(t, f.slot(t, 3, 1).Reserved)

	f.pub.reset()
	_, err = f.svc.Unreserve(ctx, 3, 1, user(f.alice))
	require.NoError(t, err)
	assert.False(t, f.slot(t, 3, 1).Reserved)

	entries, err := f.svc.Payments(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, table.ID, entries[0].ReservationID)
	assert.True(t, entries[0].Deducted)

	ev, ok := f.pub.find(notify.UserTopic(f.alice), notify.EventReservationRemoved)
	require.True(t, ok)
	assert.Equal(t, notify.ActionUnreserve, ev.Action)
	_, ok = f.pub.find(notify.SlotTopic(3), notify.EventSlotUpdated)
	assert.True(t, ok)

	_, err = f.svc.Unreserve(ctx, 3, 1, user(f.alice))
	assert.ErrorIs(t, err, ErrNotReserved)
	_, err = f.svc.AdminUnreserve(ctx, 3, 1)
	assert.ErrorIs(t, err, ErrNotReserved)
}

func TestAdminMayUnreserveAnyone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 1, 2)

	_, err := f.svc.Reserve(ctx, 1, 1, f.bob, "pi_bob")
	require.NoError(t, err)
	_, err = f.svc.Unreserve(ctx, 1, 1, f.admin)
	require.NoError(t, err)

	entries, err := f.svc.Payments(ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Deducted)
}

func TestChangeTableMovesReservationAndLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 5, 4)
	six := f.addTable(t, 1, 6, 4)

	_, err := f.svc.Reserve(ctx, 1, 5, f.alice, "pi_1")
	require.NoError(t, err)
	f.pub.reset()

	moved, err := f.svc.ChangeTable(ctx, 1, 5, 6, user(f.alice))
	require.NoError(t, err)
	assert.Equal(t, 6, moved.TableNumber)

	assert.False(t, f.slot(t, 1, 5).Reserved)
	s6 := f.slot(t, 1, 6)
	assert.True(t, s6.Reserved)
	assert.Equal(t, f.alice, *s6.ReservedBy)

	entries, err := f.svc.Payments(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 6, entries[0].TableNumber)
	assert.Equal(t, six.ID, entries[0].ReservationID)
	assert.False(t, entries[0].Deducted)

	ev, ok := f.pub.find(notify.SlotTopic(1), notify.EventTableChanged)
	require.True(t, ok)
	assert.Equal(t, 5, ev.OldTableNumber)
	assert.Equal(t, 6, ev.TableNumber)
	require.NotNil(t, ev.Previous)
	assert.False(t, ev.Previous.Reserved)
	_, ok = f.pub.find(notify.UserTopic(f.alice), notify.EventReservationChanged)
	assert.True(t, ok)
}

func TestChangeTableCapacityMismatchLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 5, 4)
	f.addTable(t, 1, 7, 6)
	_, err := f.svc.Reserve(ctx, 1, 5, f.alice, "pi_1")
	require.NoError(t, err)

	_, err = f.svc.ChangeTable(ctx, 1, 5, 7, user(f.alice))
	assert.ErrorIs(t, err, ErrCapacityMismatch)

	assert.Equal(t, f.alice, *f.slot(t, 1, 5).ReservedBy)
	assert.False(t, f.slot(t, 1, 7).Reserved)
	entries, err := f.svc.Payments(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, 5, entries[0].TableNumber)
}

func TestChangeTablePreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 1, 4)
	f.addTable(t, 1, 2, 4)
	f.addTable(t, 1, 3, 4)
	f.addTable(t, 1, 4, 4)

	_, err := f.svc.ChangeTable(ctx, 1, 1, 2, user(f.alice))
	assert.ErrorIs(t, err, ErrNotReserved)

	_, err = f.svc.Reserve(ctx, 1, 1, f.alice, "pi_1")
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, 1, 2, f.bob, "pi_2")
	require.NoError(t, err)
	_, err = f.svc.ToggleStatus(ctx, 1, 3)
	require.NoError(t, err)

	cases := []struct {
		name   string
		old    int
		new    int
		caller Caller
		want   error
	}{
		{"same table", 1, 1, user(f.alice), ErrSameTable},
		{"new reserved", 1, 2, user(f.alice), ErrAlreadyReserved},
		{"new disabled", 1, 3, user(f.alice), ErrSlotDisabled},
		{"new missing", 1, 99, user(f.alice), ErrSlotNotFound},
		{"not owner", 1, 4, user(f.bob), ErrNotOwner},
		{"bad table", 0, 4, user(f.alice), ErrInvalidTable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.ChangeTable(ctx, 1, tc.old, tc.new, tc.caller)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, f.alice, *f.slot(t, 1, 1).ReservedBy)
			assert.False(t, f.slot(t, 1, 4).Reserved)
		})
	}

	_, err = f.svc.ChangeTable(ctx, 1, 1, 4, f.admin)
	require.NoError(t, err)
	assert.Equal(t, f.alice, *f.slot(t, 1, 4).ReservedBy)
}

func TestToggleTwiceRestoresStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 2, 1, 2)
	f.pub.reset()

	s, err := f.svc.ToggleStatus(ctx, 2, 1)
	require.NoError(t, err)
	assert.True(t, s.Disabled)
	_, ok := f.pub.find(notify.SlotTopic(2), notify.EventTableStatusChanged)
	assert.True(t, ok)
	_, ok = f.pub.find(notify.CatalogTopic(), notify.EventTableStatusChanged)
	assert.True(t, ok)

	s, err = f.svc.ToggleStatus(ctx, 2, 1)
	require.NoError(t, err)
	assert.False(t, s.Disabled)

	_, err = f.svc.ToggleStatus(ctx, 2, 42)
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestDisablingReservedTableKeepsReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 1, 2)
	_, err := f.svc.Reserve(ctx, 1, 1, f.alice, "pi_1")
	require.NoError(t, err)

	s, err := f.svc.ToggleStatus(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, s.Disabled)
	assert.True(t, s.Reserved)
	assertConsistent(t, s)

	_, err = f.svc.Unreserve(ctx, 1, 1, user(f.alice))
	require.NoError(t, err)
	s = f.slot(t, 1, 1)
	assert.True(t, s.Disabled)
	assert.False(t, s.Reserved)
}

func TestAvailableTablesExcludesReservedAndDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, c := range []int{2, 4, 4, 4, 6} {
		f.addTable(t, 1, i+1, c)
	}
	f.addTable(t, 2, 1, 4)
	_, err := f.svc.Reserve(ctx, 1, 2, f.alice, "pi_1")
	require.NoError(t, err)
	_, err = f.svc.ToggleStatus(ctx, 1, 3)
	require.NoError(t, err)

	all, err := f.svc.AvailableTables(ctx, 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 5}, tableNumbers(all))
	for _, s := range all {
		assert.False(t, s.Reserved)
		assert.False(t, s.Disabled)
	}

	four, err := f.svc.AvailableTables(ctx, 1, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, tableNumbers(four))

	excl, err := f.svc.AvailableTables(ctx, 1, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5}, tableNumbers(excl))

	_, err = f.svc.AvailableTables(ctx, 1, -1, 0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func tableNumbers(slots []model.Slot) []int {
	out := make([]int, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.TableNumber)
	}
	return out
}

func TestAdminReserve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 3, 8, 2)

	_, err := f.svc.AdminReserve(ctx, 3, 8, 9999)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.False(t, f.slot(t, 3, 8).Reserved)

	s, err := f.svc.AdminReserve(ctx, 3, 8, f.bob)
	require.NoError(t, err)
	assert.Equal(t, f.bob, *s.ReservedBy)

	entries, err := f.svc.Payments(ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.PaymentStatusAdminAssisted, entries[0].Status)
	assert.Equal(t, int64(0), entries[0].Amount)
	assert.True(t, strings.HasPrefix(entries[0].PaymentIntentID, "admin-"))
	assert.Equal(t, "7:00 PM - 9:00 PM", entries[0].SlotTime)

	ev, ok := f.pub.find(notify.UserTopic(f.bob), notify.EventNewReservation)
	require.True(t, ok)
	assert.Equal(t, notify.ActionAdminReserve, ev.Action)
}

func TestAddAndDeleteTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 1, 4)

	_, err := f.svc.AddTable(ctx, 1, 1, 2)
	assert.ErrorIs(t, err, ErrTableExists)
	_, err = f.svc.AddTable(ctx, 1, 2, 0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
	_, err = f.svc.AddTable(ctx, 1, -2, 4)
	assert.ErrorIs(t, err, ErrInvalidTable)

	s, err := f.svc.AddTable(ctx, 9, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, model.UnknownSlotLabel, model.SlotLabel(s.SlotNumber))

	_, err = f.svc.Reserve(ctx, 1, 1, f.alice, "pi_1")
	require.NoError(t, err)
	f.pub.reset()

	_, err = f.svc.DeleteTable(ctx, 1, 1)
	require.NoError(t, err)
	_, err = f.store.Get(ctx, 1, 1)
	assert.Error(t, err)

	entries, err := f.svc.Payments(ctx, f.alice)
	require.NoError(t, err)
	assert.True(t, entries[0].Deducted)
	_, ok := f.pub.find(notify.SlotTopic(1), notify.EventTableDeleted)
	assert.True(t, ok)
	_, ok = f.pub.find(notify.UserTopic(f.alice), notify.EventReservationRemoved)
	assert.True(t, ok)

	_, err = f.svc.DeleteTable(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestConcurrentReservesHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 1, 2)

	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := f.alice
			if i%2 == 1 {
				uid = f.bob
			}
			_, err := f.svc.Reserve(ctx, 1, 1, uid, fmt.Sprintf("pi_%d", i))
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrAlreadyReserved)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.True(t, f.slot(t, 1, 1).Reserved)
	a, _ := f.svc.Payments(ctx, f.alice)
	b, _ := f.svc.Payments(ctx, f.bob)
	assert.Len(t, append(a, b...), 1)
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.addTable(t, 1, 1, 2)
	f.pub.err = errors.New("hub gone")

	_, err := f.svc.Reserve(context.Background(), 1, 1, f.alice, "pi_1")
	require.NoError(t, err)
	assert.True(t, f.slot(t, 1, 1).Reserved)
}

type fakeGateway struct {
	intents map[string]payment.Intent
	created []int64
}

func (g *fakeGateway) CreateIntent(_ context.Context, amountMinor int64, currency string) (payment.Intent, error) {
	g.created = append(g.created, amountMinor)
	return payment.Intent{ID: "pi_new", ClientSecret: "pi_new_secret", Amount: amountMinor, Currency: currency, Status: "requires_payment_method"}, nil
}

func (g *fakeGateway) Retrieve(_ context.Context, id string) (payment.Intent, error) {
	in, ok := g.intents[id]
	if !ok {
		return payment.Intent{}, payment.ErrIntentNotFound
	}
	return in, nil
}

func TestReserveVerifiesPaymentWithGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 1, 2)
	gw := &fakeGateway{intents: map[string]payment.Intent{
		"pi_ok":      {ID: "pi_ok", Amount: 10000, Currency: "inr", Status: payment.StatusSucceeded},
		"pi_pending": {ID: "pi_pending", Amount: 10000, Currency: "inr", Status: "processing"},
	}}
	svc := NewReservationService(f.store, f.store, f.store, f.pub, gw, Settings{FeeAmount: 100, VerifyPayments: true})

	_, err := svc.Reserve(ctx, 1, 1, f.alice, "pi_missing")
	assert.ErrorIs(t, err, ErrPaymentNotSettled)
	_, err = svc.Reserve(ctx, 1, 1, f.alice, "pi_pending")
	assert.ErrorIs(t, err, ErrPaymentNotSettled)
	assert.False(t, f.slot(t, 1, 1).Reserved)

	_, err = svc.Reserve(ctx, 1, 1, f.alice, "pi_ok")
	require.NoError(t, err)
}

func TestReserveRejectsIntentForAnotherAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTable(t, 1, 1, 2)
	gw := &fakeGateway{intents: map[string]payment.Intent{
		"pi_cheap": {ID: "pi_cheap", Amount: 100, Currency: "inr", Status: payment.StatusSucceeded},
		"pi_usd":   {ID: "pi_usd", Amount: 10000, Currency: "usd", Status: payment.StatusSucceeded},
		"pi_upper": {ID: "pi_upper", Amount: 10000, Currency: "INR", Status: payment.StatusSucceeded},
	}}
	svc := NewReservationService(f.store, f.store, f.store, f.pub, gw, Settings{FeeAmount: 100, VerifyPayments: true})

	for _, id := range []string{"pi_cheap", "pi_usd"} {
		_, err := svc.Reserve(ctx, 1, 1, f.alice, id)
		assert.ErrorIs(t, err, ErrPaymentAmountMismatch, id)
	}
	assert.False(t, f.slot(t, 1, 1).Reserved)
	entries, err := svc.Payments(ctx, f.alice)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = svc.Reserve(ctx, 1, 1, f.alice, "pi_upper")
	require.NoError(t, err)
}

func TestCreatePaymentIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePaymentIntent(ctx, 0)
	assert.ErrorIs(t, err, ErrPaymentsDisabled)

	gw := &fakeGateway{}
	svc := NewReservationService(f.store, f.store, f.store, f.pub, gw, Settings{FeeAmount: 100})
	in, err := svc.CreatePaymentIntent(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "pi_new_secret", in.ClientSecret)
	assert.Equal(t, "inr", in.Currency)

	_, err = svc.CreatePaymentIntent(ctx, 250)
	require.NoError(t, err)
	assert.Equal(t, []int64{10000, 25000}, gw.created)

	_, err = svc.CreatePaymentIntent(ctx, -5)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
