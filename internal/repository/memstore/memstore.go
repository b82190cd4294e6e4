// Package memstore is an in-process implementation of the slot, ledger,
// user and token stores.  It backs STORAGE_DRIVER=memory and the service
// tests.  A single mutex serialises every operation, which gives the same
// conditional-update guarantees as the SQL repositories.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/table-reservation/internal/model"
	"github.com/iliyamo/table-reservation/internal/repository"
	"github.com/iliyamo/table-reservation/internal/utils"
)

type slotKey struct{ slot, table int }

type token struct {
	userID    uint64
	expiresAt time.Time
	revoked   bool
}

// Store holds all entities in memory.
type Store struct {
	mu       sync.Mutex
	nextID   uint64
	slots    map[slotKey]*model.Slot
	payments []*model.PaymentEntry
	users    map[uint64]*model.User
	tokens   map[string]*token
	now      func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		slots:  make(map[slotKey]*model.Slot),
		users:  make(map[uint64]*model.User),
		tokens: make(map[string]*token),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

// ---- slots ----

// Get returns a copy of the slot.
func (s *Store) Get(_ context.Context, slotNumber, tableNumber int) (*model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[slotKey{slotNumber, tableNumber}]
	if !ok {
		return nil, repository.ErrSlotNotFound
	}
	cp := copySlot(sl)
	return &cp, nil
}

// ListBySlot returns the tables of a window with users populated.
func (s *Store) ListBySlot(_ context.Context, slotNumber int) ([]model.SlotView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.SlotView{}
	for k, sl := range s.slots {
		if k.slot != slotNumber {
			continue
		}
		v := model.SlotView{Slot: copySlot(sl), SlotTime: model.SlotLabel(slotNumber)}
		if sl.ReservedBy != nil {
			if u, ok := s.users[*sl.ReservedBy]; ok {
				v.User = &model.SlotUser{ID: u.ID, Name: u.Name, Email: u.Email}
			}
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableNumber < out[j].TableNumber })
	return out, nil
}

// Available applies the same filter as the SQL repository.
func (s *Store) Available(_ context.Context, f model.AvailabilityFilter) ([]model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Slot{}
	for k, sl := range s.slots {
		if k.slot != f.SlotNumber || !sl.IsFree() {
			continue
		}
		if f.Capacity > 0 && sl.Capacity != f.Capacity {
			continue
		}
		if f.Exclude > 0 && sl.TableNumber == f.Exclude {
			continue
		}
		out = append(out, copySlot(sl))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableNumber < out[j].TableNumber })
	return out, nil
}

// Create inserts a free, enabled table.
func (s *Store) Create(_ context.Context, sl *model.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := slotKey{sl.SlotNumber, sl.TableNumber}
	if _, ok := s.slots[k]; ok {
		return repository.ErrDuplicate
	}
	stored := model.Slot{
		ID:          s.id(),
		SlotNumber:  sl.SlotNumber,
		TableNumber: sl.TableNumber,
		Capacity:    sl.Capacity,
		ReserveDate: s.now(),
	}
	s.slots[k] = &stored
	*sl = stored
	return nil
}

// Delete removes a table.
func (s *Store) Delete(_ context.Context, slotNumber, tableNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := slotKey{slotNumber, tableNumber}
	if _, ok := s.slots[k]; !ok {
		return repository.ErrSlotNotFound
	}
	delete(s.slots, k)
	return nil
}

// MarkReserved books a free, enabled table.
func (s *Store) MarkReserved(_ context.Context, slotNumber, tableNumber int, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[slotKey{slotNumber, tableNumber}]
	if !ok || !sl.IsFree() {
		return repository.ErrConflict
	}
	uid := userID
	sl.Reserved, sl.ReservedBy = true, &uid
	return nil
}

// Release frees a table still held by userID.
func (s *Store) Release(_ context.Context, slotNumber, tableNumber int, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[slotKey{slotNumber, tableNumber}]
	if !ok || !sl.ReservedByUser(userID) {
		return repository.ErrConflict
	}
	sl.Reserved, sl.ReservedBy = false, nil
	return nil
}

// Restore gives a released table back to userID whatever its disabled flag.
func (s *Store) Restore(_ context.Context, slotNumber, tableNumber int, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[slotKey{slotNumber, tableNumber}]
	if !ok || sl.Reserved {
		return repository.ErrConflict
	}
	uid := userID
	sl.Reserved, sl.ReservedBy = true, &uid
	return nil
}

// ToggleDisabled flips the disabled flag.
func (s *Store) ToggleDisabled(_ context.Context, slotNumber, tableNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[slotKey{slotNumber, tableNumber}]
	if !ok {
		return repository.ErrSlotNotFound
	}
	sl.Disabled = !sl.Disabled
	return nil
}

func copySlot(sl *model.Slot) model.Slot {
	cp := *sl
	if sl.ReservedBy != nil {
		id := *sl.ReservedBy
		cp.ReservedBy = &id
	}
	return cp
}

// ---- ledger ----

// Append adds a ledger entry; payment intent ids are unique.
func (s *Store) Append(_ context.Context, e *model.PaymentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.PaymentIntentID == e.PaymentIntentID {
			return repository.ErrDuplicate
		}
	}
	e.ID = s.id()
	e.CreatedAt = s.now()
	stored := *e
	s.payments = append(s.payments, &stored)
	return nil
}

// MarkDeducted consumes the open entries of userID for a slot.
func (s *Store) MarkDeducted(_ context.Context, userID, reservationID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.payments {
		if p.UserID == userID && p.ReservationID == reservationID && !p.Deducted {
			p.Deducted = true
			n++
		}
	}
	return n, nil
}

// Retarget moves open entries to another slot.
func (s *Store) Retarget(_ context.Context, userID, fromReservationID, toReservationID uint64, tableNumber int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.payments {
		if p.UserID == userID && p.ReservationID == fromReservationID && !p.Deducted {
			p.ReservationID, p.TableNumber = toReservationID, tableNumber
			n++
		}
	}
	return n, nil
}

// ListByUser returns a user's ledger, newest first.
func (s *Store) ListByUser(_ context.Context, userID uint64) ([]model.PaymentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.PaymentEntry{}
	for i := len(s.payments) - 1; i >= 0; i-- {
		if s.payments[i].UserID == userID {
			out = append(out, *s.payments[i])
		}
	}
	return out, nil
}

// ---- users ----

// CreateUser is Create for the user store; the slot store already owns
// the Create name, so UserStore adapts it.
func (s *Store) CreateUser(_ context.Context, name, email, password, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return 0, repository.ErrEmailExists
		}
	}
	now := s.now()
	u := &model.User{
		ID: s.id(), Name: strings.TrimSpace(name), Email: email, PasswordHash: hash,
		Role: role, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	s.users[u.ID] = u
	return u.ID, nil
}

// GetByID fetches a user by id.
func (s *Store) GetByID(_ context.Context, id uint64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return *u, nil
	}
	return model.User{}, repository.ErrUserNotFound
}

// GetByEmail fetches a user by normalized email.
func (s *Store) GetByEmail(_ context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

// Users exposes the user half of the store under the repository method
// names (Create, GetByID, GetByEmail).
func (s *Store) Users() *UserStore { return &UserStore{s} }

// UserStore adapts Store to the user repository method set.
type UserStore struct{ *Store }

// Create inserts a user.
func (u *UserStore) Create(ctx context.Context, name, email, password, role string, cost int) (uint64, error) {
	return u.CreateUser(ctx, name, email, password, role, cost)
}

// ---- refresh tokens ----

// StoreRefresh records a refresh token hash.
func (s *Store) StoreRefresh(_ context.Context, userID uint64, tokenHash string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenHash] = &token{userID: userID, expiresAt: exp}
	return nil
}

// ValidateRefresh returns the owner of a live token.
func (s *Store) ValidateRefresh(_ context.Context, tokenHash string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenHash]
	if !ok {
		return 0, repository.ErrTokenInvalid
	}
	if t.revoked || s.now().After(t.expiresAt) {
		return 0, repository.ErrTokenInvalid
	}
	return t.userID, nil
}

// RevokeByHash revokes one token.
func (s *Store) RevokeByHash(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[tokenHash]; ok {
		t.revoked = true
	}
	return nil
}

// RevokeAllForUser revokes every token of a user.
func (s *Store) RevokeAllForUser(_ context.Context, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.userID == userID {
			t.revoked = true
		}
	}
	return nil
}
