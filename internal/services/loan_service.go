package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"circulation/internal/models"
	"circulation/internal/repositories"
)

// MarkLostResult is the success payload of marking a loan lost.
type MarkLostResult struct {
	Loan    *models.Loan `json:"loan"`
	Message string       `json:"message"`
	// UndoLoanID feeds a Restore call that reverses the loss.
	UndoLoanID uuid.UUID `json:"undo_loan_id"`
}

// LoanService is the loan lifecycle engine. Every operation is scoped to one
// library, runs in a single transaction, and emits one lifecycle event on
// success.
type LoanService interface {
	Checkout(ctx context.Context, libraryID, itemID, userID uuid.UUID, note string) (*models.Loan, error)
	CheckIn(ctx context.Context, libraryID uuid.UUID, sel CheckinSelector) (*CheckinResult, error)
	MarkLost(ctx context.Context, libraryID, loanID uuid.UUID) (*MarkLostResult, error)
	Restore(ctx context.Context, libraryID, loanID uuid.UUID) (*models.Loan, error)
	UpdateTerms(ctx context.Context, libraryID, loanID uuid.UUID, dueAt time.Time, note string) (*models.Loan, error)

	GetLoan(ctx context.Context, libraryID, loanID uuid.UUID) (*models.Loan, error)
	ListLoans(ctx context.Context, libraryID uuid.UUID) ([]models.Loan, error)
	IsItemAvailable(ctx context.Context, libraryID, itemID uuid.UUID) (bool, error)
}

type loanService struct {
	db        *gorm.DB
	loanRepo  repositories.LoanRepository
	itemRepo  repositories.ItemRepository
	thingRepo repositories.ThingRepository
	userRepo  repositories.UserRepository
	notifier  Notifier

	// Seams for tests: the clock and the transaction wrapper.
	now      func() time.Time
	transact func(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// NewLoanService wires up the lifecycle engine.
func NewLoanService(
	db *gorm.DB,
	loanRepo repositories.LoanRepository,
	itemRepo repositories.ItemRepository,
	thingRepo repositories.ThingRepository,
	userRepo repositories.UserRepository,
	notifier Notifier,
) LoanService {
	s := &loanService{
		db:        db,
		loanRepo:  loanRepo,
		itemRepo:  itemRepo,
		thingRepo: thingRepo,
		userRepo:  userRepo,
		notifier:  notifier,
		now:       time.Now,
	}
	s.transact = func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		return db.WithContext(ctx).Transaction(fn)
	}
	return s
}

// Checkout creates a new open loan for the item.
//
// The item row is locked before the open-loan check so two concurrent
// checkouts of the same item serialize: the loser sees the winner's loan and
// fails with ConflictError.
func (s *loanService) Checkout(ctx context.Context, libraryID, itemID, userID uuid.UUID, note string) (*models.Loan, error) {
	var created *models.Loan

	err := s.transact(ctx, func(tx *gorm.DB) error {
		user, err := s.userRepo.GetByID(tx, libraryID, userID)
		if err != nil {
			return asNotFound(err, ErrUserNotFound)
		}

		item, err := s.itemRepo.GetByIDForUpdate(tx, itemID)
		if err != nil {
			return asNotFound(err, ErrItemNotFound)
		}
		if item.LibraryID != libraryID {
			return ErrItemNotFound
		}
		if item.Discarded() {
			return ErrItemDiscarded
		}

		existing, err := s.loanRepo.FindActiveByItem(tx, item.ID)
		if err == nil {
			return &ConflictError{Existing: existing}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		thing, err := s.thingRepo.GetByID(tx, libraryID, item.ThingID)
		if err != nil {
			return asNotFound(err, ErrThingNotFound)
		}
		if thing.LoanTimeDays <= 0 {
			return ErrLoanDurationNotSet
		}

		now := s.now()
		loan := &models.Loan{
			LibraryID: libraryID,
			ItemID:    item.ID,
			UserID:    user.ID,
			DueAt:     DueDate(now, thing.LoanTimeDays),
			Note:      note,
			CreatedAt: now,
		}
		if err := s.loanRepo.Create(tx, loan); err != nil {
			log.Printf("[ERROR] Checkout: failed to create loan for item %s: %v", item.ID, err)
			return err
		}
		if err := s.userRepo.RecordCheckout(tx, user.ID, now); err != nil {
			return err
		}
		created = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] Checkout: loan %s created for item %s / user %s, due %s",
		created.ID, created.ItemID, created.UserID, created.DueAt.Format("2006-01-02"))
	s.emit(ctx, EventCheckout, created, nil)

	return s.loanRepo.GetByID(nil, libraryID, created.ID)
}

// CheckIn resolves the scan to a loan, classifies what the return means, and
// closes the loan. The classification happens under the loan's row lock.
func (s *loanService) CheckIn(ctx context.Context, libraryID uuid.UUID, sel CheckinSelector) (*CheckinResult, error) {
	if sel.Empty() {
		return &CheckinResult{
			Outcome: OutcomeNothingScanned,
			Message: OutcomeNothingScanned.Message(""),
		}, nil
	}

	var (
		outcome CheckinOutcome
		undo    *uuid.UUID
		loanID  uuid.UUID
	)

	err := s.transact(ctx, func(tx *gorm.DB) error {
		resolved, err := s.resolveLoanForCheckin(tx, libraryID, sel)
		if err != nil {
			return err
		}

		loan, err := s.loanRepo.GetByIDForUpdate(tx, resolved.ID)
		if err != nil {
			return asNotFound(err, ErrLoanNotFound)
		}
		item, err := s.itemRepo.GetByID(tx, libraryID, loan.ItemID)
		if err != nil {
			return asNotFound(err, ErrItemNotFound)
		}

		switch {
		case models.ClassifyLoan(loan) == models.LoanStateLost:
			// Scanning a lost item back in doubles as finding it.
			outcome = OutcomeFoundViaReturn
			if err := s.itemRepo.SetLost(tx, item.ID, false); err != nil {
				return err
			}
			if err := s.itemRepo.ClearTombstone(tx, item.ID); err != nil {
				return err
			}
			if err := s.loanRepo.SetLost(tx, loan.ID, false); err != nil {
				return err
			}
		case item.Discarded():
			outcome = OutcomeItemDiscarded
		case loan.Returned():
			outcome = OutcomeAlreadyReturned
		default:
			outcome = OutcomeReturned
			id := loan.ID
			undo = &id
		}

		// Close the loan in every branch; a no-op when already tombstoned.
		now := s.now()
		if err := s.loanRepo.MarkReturned(tx, loan.ID, now); err != nil {
			return err
		}
		if err := s.userRepo.TouchLastLoan(tx, loan.UserID, now); err != nil {
			return err
		}
		loanID = loan.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	loan, err := s.loanRepo.GetByID(nil, libraryID, loanID)
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] CheckIn: loan %s closed (outcome=%s)", loan.ID, outcome)
	s.emit(ctx, EventCheckin, loan, map[string]interface{}{"outcome": string(outcome)})

	return &CheckinResult{
		Loan:       loan,
		Outcome:    outcome,
		Message:    outcome.Message(loan.Item.Thing.Name),
		UndoLoanID: undo,
	}, nil
}

// MarkLost flags the loan as lost and takes the item out of circulation: the
// item gets its own lost flag and a discard tombstone, atomically with the
// loan update.
func (s *loanService) MarkLost(ctx context.Context, libraryID, loanID uuid.UUID) (*MarkLostResult, error) {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		loan, err := s.lockLoan(tx, libraryID, loanID)
		if err != nil {
			return err
		}
		if err := s.loanRepo.SetLost(tx, loan.ID, true); err != nil {
			return err
		}
		if err := s.itemRepo.SetLost(tx, loan.ItemID, true); err != nil {
			return err
		}
		return s.itemRepo.Trash(tx, loan.ItemID)
	})
	if err != nil {
		return nil, err
	}

	loan, err := s.loanRepo.GetByID(nil, libraryID, loanID)
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] MarkLost: loan %s / item %s registered as lost", loan.ID, loan.ItemID)
	s.emit(ctx, EventLost, loan, nil)

	return &MarkLostResult{
		Loan:       loan,
		Message:    "The " + loan.Item.Thing.Name + " was registered as lost.",
		UndoLoanID: loan.ID,
	}, nil
}

// Restore reverses the most recent transition on the loan. A lost loan is
// "found": the lost flags clear and the item's tombstone lifts. A closed loan
// is reopened. A loan that is neither fails with ErrAlreadyActive.
func (s *loanService) Restore(ctx context.Context, libraryID, loanID uuid.UUID) (*models.Loan, error) {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		loan, err := s.lockLoan(tx, libraryID, loanID)
		if err != nil {
			return err
		}
		switch models.ClassifyLoan(loan) {
		case models.LoanStateLost:
			if err := s.itemRepo.ClearTombstone(tx, loan.ItemID); err != nil {
				return err
			}
			if err := s.itemRepo.SetLost(tx, loan.ItemID, false); err != nil {
				return err
			}
			return s.loanRepo.SetLost(tx, loan.ID, false)
		case models.LoanStateReturned:
			return s.loanRepo.ClearTombstone(tx, loan.ID)
		default:
			return ErrAlreadyActive
		}
	})
	if err != nil {
		return nil, err
	}

	loan, err := s.loanRepo.GetByID(nil, libraryID, loanID)
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] Restore: loan %s back in state %s", loan.ID, models.ClassifyLoan(loan))
	s.emit(ctx, EventRestore, loan, nil)
	return loan, nil
}

// UpdateTerms edits the due date and note of a loan without touching its
// lifecycle state. The emitted event records the due date before and after.
func (s *loanService) UpdateTerms(ctx context.Context, libraryID, loanID uuid.UUID, dueAt time.Time, note string) (*models.Loan, error) {
	if dueAt.IsZero() {
		return nil, ErrInvalidDueDate
	}

	var before time.Time
	err := s.transact(ctx, func(tx *gorm.DB) error {
		loan, err := s.lockLoan(tx, libraryID, loanID)
		if err != nil {
			return err
		}
		before = loan.DueAt
		return s.loanRepo.UpdateTerms(tx, loan.ID, dueAt, note)
	})
	if err != nil {
		return nil, err
	}

	loan, err := s.loanRepo.GetByID(nil, libraryID, loanID)
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] UpdateTerms: loan %s due date %s -> %s",
		loan.ID, before.Format("2006-01-02"), loan.DueAt.Format("2006-01-02"))
	s.emit(ctx, EventUpdate, loan, map[string]interface{}{
		"due_at_before": before,
		"due_at_after":  loan.DueAt,
	})
	return loan, nil
}

// GetLoan returns one loan, closed or not, with item and user preloaded.
func (s *loanService) GetLoan(ctx context.Context, libraryID, loanID uuid.UUID) (*models.Loan, error) {
	loan, err := s.loanRepo.GetByID(s.dbWith(ctx), libraryID, loanID)
	if err != nil {
		return nil, asNotFound(err, ErrLoanNotFound)
	}
	return loan, nil
}

// ListLoans returns the library's open loans, newest first.
func (s *loanService) ListLoans(ctx context.Context, libraryID uuid.UUID) ([]models.Loan, error) {
	return s.loanRepo.ListByLibrary(s.dbWith(ctx), libraryID)
}

// IsItemAvailable reports whether the item has no open loan.
func (s *loanService) IsItemAvailable(ctx context.Context, libraryID, itemID uuid.UUID) (bool, error) {
	db := s.dbWith(ctx)
	if _, err := s.itemRepo.GetByID(db, libraryID, itemID); err != nil {
		return false, asNotFound(err, ErrItemNotFound)
	}
	_, err := s.loanRepo.FindActiveByItem(db, itemID)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	return false, err
}

// dbWith hands the repositories a context-bound handle; nil lets them fall
// back to their own connection.
func (s *loanService) dbWith(ctx context.Context) *gorm.DB {
	if s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx)
}

// lockLoan fetches the loan under a row lock and verifies tenant scope.
func (s *loanService) lockLoan(tx *gorm.DB, libraryID, loanID uuid.UUID) (*models.Loan, error) {
	loan, err := s.loanRepo.GetByIDForUpdate(tx, loanID)
	if err != nil {
		return nil, asNotFound(err, ErrLoanNotFound)
	}
	if loan.LibraryID != libraryID {
		return nil, ErrLoanNotFound
	}
	return loan, nil
}

// emit hands one lifecycle event to the notifier. Never fails the operation.
func (s *loanService) emit(ctx context.Context, kind EventKind, loan *models.Loan, detail map[string]interface{}) {
	s.notifier.Notify(ctx, Event{
		Kind:      kind,
		Actor:     actorFromContext(ctx),
		LibraryID: loan.LibraryID,
		LoanID:    loan.ID,
		ItemID:    loan.ItemID,
		UserID:    loan.UserID,
		Timestamp: s.now(),
		Detail:    detail,
	})
}

func asNotFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// actorKey carries the acting operator's name through the context.
type actorKey struct{}

// WithActor tags the context with the operator performing the request.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok {
		return actor
	}
	return ""
}
