package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"circulation/internal/models"
)

// CheckinSelector identifies the loan a check-in should act on: either a
// scanned barcode or an explicit loan id. An empty selector means nothing was
// scanned and the check-in is a benign no-op.
type CheckinSelector struct {
	Barcode string
	LoanID  *uuid.UUID
}

func (s CheckinSelector) Empty() bool {
	return s.Barcode == "" && s.LoanID == nil
}

// CheckinOutcome classifies what a check-in actually did, so the front desk
// gets a specific message instead of a generic success.
type CheckinOutcome string

const (
	// OutcomeReturned is the normal case: an open loan was closed.
	OutcomeReturned CheckinOutcome = "RETURNED"
	// OutcomeFoundViaReturn means the loan was registered as lost and the
	// return cleared the lost flags on both loan and item.
	OutcomeFoundViaReturn CheckinOutcome = "FOUND_VIA_RETURN"
	// OutcomeItemDiscarded means the item was discarded while the loan was out.
	OutcomeItemDiscarded CheckinOutcome = "ITEM_DISCARDED"
	// OutcomeAlreadyReturned means the resolved loan was already closed; the
	// check-in is harmless.
	OutcomeAlreadyReturned CheckinOutcome = "ALREADY_RETURNED"
	// OutcomeNothingScanned means the selector was empty.
	OutcomeNothingScanned CheckinOutcome = "NOTHING_SCANNED"
)

// Message renders the operator-facing text for the outcome. thingName is the
// catalog entry name of the item involved, empty for OutcomeNothingScanned.
func (o CheckinOutcome) Message(thingName string) string {
	switch o {
	case OutcomeReturned:
		return fmt.Sprintf("The %s was returned.", thingName)
	case OutcomeFoundViaReturn:
		return fmt.Sprintf("This %s was registered as lost, but not anymore (thanks to you)!", thingName)
	case OutcomeItemDiscarded:
		return fmt.Sprintf("Well well, this %s has actually been discarded in the meantime!", thingName)
	case OutcomeAlreadyReturned:
		return fmt.Sprintf("This %s was strictly speaking not on loan (but that is quite alright).", thingName)
	case OutcomeNothingScanned:
		return "Nothing was returned. Arguably an unnecessary operation, but who knows."
	default:
		return "Done."
	}
}

// CheckinResult is the success payload of a check-in.
type CheckinResult struct {
	Loan    *models.Loan   `json:"loan,omitempty"`
	Outcome CheckinOutcome `json:"outcome"`
	Message string         `json:"message"`
	// UndoLoanID is set for a normal return and feeds a Restore call.
	UndoLoanID *uuid.UUID `json:"undo_loan_id,omitempty"`
}

// resolveLoanForCheckin locates the single loan a check-in should act on.
// The precedence is a fixed policy:
//
//  1. An explicit loan id is used directly, no search.
//  2. Otherwise the open loan whose item carries the barcode.
//  3. Otherwise any loan for the barcode, closed ones included, most
//     recently updated first. This recovers double check-ins, discarded
//     items and already-lost loans with a sensible response.
//  4. Otherwise, if some item (discarded or not) carries the barcode the
//     scan fails with ErrNotOnLoan, and with ErrUnknownBarcode if none does.
func (s *loanService) resolveLoanForCheckin(tx *gorm.DB, libraryID uuid.UUID, sel CheckinSelector) (*models.Loan, error) {
	if sel.LoanID != nil {
		loan, err := s.loanRepo.GetByIDForUpdate(tx, *sel.LoanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrLoanNotFound
			}
			return nil, err
		}
		if loan.LibraryID != libraryID {
			return nil, ErrLoanNotFound
		}
		return loan, nil
	}

	loan, err := s.loanRepo.FindActiveByBarcode(tx, libraryID, sel.Barcode)
	if err == nil {
		return loan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	loan, err = s.loanRepo.FindLatestByBarcode(tx, libraryID, sel.Barcode)
	if err == nil {
		return loan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if _, err := s.itemRepo.FindByBarcode(tx, libraryID, sel.Barcode); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownBarcode
		}
		return nil, err
	}
	return nil, ErrNotOnLoan
}
