// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// reservation service to distinguish between different failure scenarios.
// ErrConflict in particular is what a conditional update reports when its
// embedded precondition no longer holds (for example a slot that was
// reserved by someone else between the read and the write).
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrConflict is returned when an update cannot be performed because
// the row is not in the expected state any more.
var ErrConflict = errors.New("conflict")

// ErrDuplicate is returned when an insert violates a unique key, such as
// a second table with the same number in a slot or a reused payment
// intent id.
var ErrDuplicate = errors.New("duplicate entry")

// ErrSlotNotFound is returned when no slot matches (slot number, table number).
var ErrSlotNotFound = errors.New("slot not found")

// ErrUserNotFound is returned when a user lookup yields no rows.
var ErrUserNotFound = errors.New("user not found")

// isDuplicate reports whether err is a MySQL duplicate key error (1062).
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
