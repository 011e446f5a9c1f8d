package services

import (
	"errors"
	"fmt"

	"circulation/internal/models"
)

var (
	// ErrUnknownBarcode is returned when a scanned barcode matches no item
	// ever registered for the library, discarded ones included.
	ErrUnknownBarcode = errors.New("barcode not recognized")

	// ErrNotOnLoan is returned when the barcode matches a registered item but
	// no loan, past or present, exists to act on.
	ErrNotOnLoan = errors.New("item was not on loan")

	// ErrAlreadyActive is returned when a restore is requested on a loan that
	// is neither closed nor lost. Not reachable through the normal front-desk
	// flow, enforced as a guard.
	ErrAlreadyActive = errors.New("loan is already active")

	// ErrLoanDurationNotSet is returned when a checkout is attempted on an
	// item whose catalog entry has no positive loan duration.
	ErrLoanDurationNotSet = errors.New("catalog entry has no loan duration")

	// ErrItemDiscarded is returned when a checkout is attempted on a
	// tombstoned item.
	ErrItemDiscarded = errors.New("item is discarded")

	// ErrInvalidDueDate is returned when UpdateTerms receives a zero due date.
	ErrInvalidDueDate = errors.New("invalid due date")

	// ErrLibraryNotFound is returned when the referenced library does not exist.
	ErrLibraryNotFound = errors.New("library not found")

	// ErrThingNotFound is returned when the referenced catalog entry does not exist.
	ErrThingNotFound = errors.New("catalog entry not found")

	// ErrItemNotFound is returned when the referenced item does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrLoanNotFound is returned when the referenced loan does not exist.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// ConflictError is returned when a checkout is attempted on an item that
// already has an open loan. It carries that loan so the caller can show who
// holds the item.
type ConflictError struct {
	Existing *models.Loan
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("item %s already has an open loan %s", e.Existing.ItemID, e.Existing.ID)
}
