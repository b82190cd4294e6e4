package model

import "time"

// Slot is a reservable (time window, table) pair.  One row exists per
// combination of slot number and table number and it lives across many
// reservation cycles: reserving and releasing only flips its flags.
//
// Fields:
//
//	ID                – primary key identifier.
//	SlotNumber        – time window (see SlotLabel).
//	TableNumber       – table identifier within the window.
//	Capacity          – seats at the table.
//	Reserved          – whether the table is currently booked.
//	ReservedBy        – booking user; non-nil exactly when Reserved is true.
//	ReservationExpiry – stored for compatibility, no operation reads it.
//	Disabled          – administrative override blocking new reservations.
//	ReserveDate       – record timestamp.
type Slot struct {
	ID                uint64     `json:"id"`                          // slots.id
	SlotNumber        int        `json:"slotNumber"`                  // slots.slot_number
	TableNumber       int        `json:"tableNumber"`                 // slots.table_number
	Capacity          int        `json:"capacity"`                    // slots.capacity
	Reserved          bool       `json:"reserved"`                    // slots.reserved
	ReservedBy        *uint64    `json:"reservedBy"`                  // slots.reserved_by (nullable)
	ReservationExpiry *time.Time `json:"reservationExpiry,omitempty"` // slots.reservation_expiry (nullable)
	Disabled          bool       `json:"disabled"`                    // slots.disabled
	ReserveDate       time.Time  `json:"reserveDate"`                 // slots.reserve_date
}

// IsFree reports whether the slot can take a new reservation.
func (s Slot) IsFree() bool { return !s.Reserved && !s.Disabled }

// ReservedByUser reports whether userID holds the reservation.
func (s Slot) ReservedByUser(userID uint64) bool {
	return s.Reserved && s.ReservedBy != nil && *s.ReservedBy == userID
}

// SlotUser is the public part of a user shown next to a reserved slot.
type SlotUser struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SlotView is a slot with the reserving user populated, as returned by
// slot listings.
type SlotView struct {
	Slot
	SlotTime string    `json:"slotTime"`
	User     *SlotUser `json:"user,omitempty"`
}

// AvailabilityFilter narrows an available-tables query.  Zero values for
// Capacity and Exclude disable the corresponding condition.
type AvailabilityFilter struct {
	SlotNumber int
	Capacity   int
	Exclude    int
}

var slotLabels = map[int]string{
	1: "10:00 AM - 12:00 PM",
	2: "1:00 PM - 3:00 PM",
	3: "7:00 PM - 9:00 PM",
}

// UnknownSlotLabel is reported for slot numbers outside the known windows.
const UnknownSlotLabel = "Unknown Slot"

// SlotLabel maps a slot number to its time window.  Numbers outside the
// fixed windows are not an error; they are labelled UnknownSlotLabel.
func SlotLabel(slotNumber int) string {
	if l, ok := slotLabels[slotNumber]; ok {
		return l
	}
	return UnknownSlotLabel
}
