package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"circulation/internal/models"
)

// Every method takes an explicit *gorm.DB so the same repository can be used
// inside a transaction (pass the tx handle) or outside one (pass nil to fall
// back to the repository's own connection).

type LibraryRepository interface {
	Create(db *gorm.DB, library *models.Library) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Library, error)
}

type ThingRepository interface {
	Create(db *gorm.DB, thing *models.Thing) error
	GetByID(db *gorm.DB, libraryID, id uuid.UUID) (*models.Thing, error)
}

type ItemRepository interface {
	Create(db *gorm.DB, item *models.Item) error
	// GetByID finds an item regardless of its discard tombstone.
	GetByID(db *gorm.DB, libraryID, id uuid.UUID) (*models.Item, error)
	// GetByIDForUpdate locks the item row (SELECT ... FOR UPDATE) so that
	// concurrent checkouts of the same item serialize on it.
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Item, error)
	// FindByBarcode searches all items, discarded ones included.
	FindByBarcode(db *gorm.DB, libraryID uuid.UUID, barcode string) (*models.Item, error)
	SetLost(db *gorm.DB, id uuid.UUID, lost bool) error
	// Trash sets the discard tombstone; ClearTombstone removes it.
	Trash(db *gorm.DB, id uuid.UUID) error
	ClearTombstone(db *gorm.DB, id uuid.UUID) error
}

type LoanRepository interface {
	Create(db *gorm.DB, loan *models.Loan) error
	// GetByID finds a loan regardless of its closure tombstone, with item,
	// thing and user preloaded.
	GetByID(db *gorm.DB, libraryID, id uuid.UUID) (*models.Loan, error)
	// GetByIDForUpdate locks the loan row so that classification and the
	// following mutation are atomic with respect to concurrent transitions.
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Loan, error)
	// FindActiveByItem returns the item's open loan: not tombstoned, not lost.
	FindActiveByItem(db *gorm.DB, itemID uuid.UUID) (*models.Loan, error)
	// FindActiveByBarcode returns the open loan whose item carries the barcode.
	FindActiveByBarcode(db *gorm.DB, libraryID uuid.UUID, barcode string) (*models.Loan, error)
	// FindLatestByBarcode searches all loans for the barcode, closed ones
	// included, most recently updated first.
	FindLatestByBarcode(db *gorm.DB, libraryID uuid.UUID, barcode string) (*models.Loan, error)
	// MarkReturned sets the closure tombstone; ClearTombstone removes it.
	MarkReturned(db *gorm.DB, id uuid.UUID, returnedAt time.Time) error
	ClearTombstone(db *gorm.DB, id uuid.UUID) error
	SetLost(db *gorm.DB, id uuid.UUID, lost bool) error
	UpdateTerms(db *gorm.DB, id uuid.UUID, dueAt time.Time, note string) error
	ListByLibrary(db *gorm.DB, libraryID uuid.UUID) ([]models.Loan, error)
}

type UserRepository interface {
	Create(db *gorm.DB, user *models.User) error
	GetByID(db *gorm.DB, libraryID, id uuid.UUID) (*models.User, error)
	// RecordCheckout bumps the user's loan counter and last-loan timestamp.
	RecordCheckout(db *gorm.DB, id uuid.UUID, at time.Time) error
	// TouchLastLoan stamps the last-loan timestamp only.
	TouchLastLoan(db *gorm.DB, id uuid.UUID, at time.Time) error
}

// concrete implementations

type libraryRepository struct {
	db *gorm.DB
}

func NewLibraryRepository(db *gorm.DB) LibraryRepository {
	return &libraryRepository{db: db}
}

func (r *libraryRepository) Create(db *gorm.DB, library *models.Library) error {
	if db == nil {
		db = r.db
	}
	return db.Create(library).Error
}

func (r *libraryRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Library, error) {
	if db == nil {
		db = r.db
	}
	var library models.Library
	if err := db.First(&library, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &library, nil
}

type thingRepository struct {
	db *gorm.DB
}

func NewThingRepository(db *gorm.DB) ThingRepository {
	return &thingRepository{db: db}
}

func (r *thingRepository) Create(db *gorm.DB, thing *models.Thing) error {
	if db == nil {
		db = r.db
	}
	return db.Create(thing).Error
}

func (r *thingRepository) GetByID(db *gorm.DB, libraryID, id uuid.UUID) (*models.Thing, error) {
	if db == nil {
		db = r.db
	}
	var thing models.Thing
	if err := db.First(&thing, "id = ? AND library_id = ?", id, libraryID).Error; err != nil {
		return nil, err
	}
	return &thing, nil
}

type itemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) ItemRepository {
	return &itemRepository{db: db}
}

func (r *itemRepository) Create(db *gorm.DB, item *models.Item) error {
	if db == nil {
		db = r.db
	}
	return db.Create(item).Error
}

func (r *itemRepository) GetByID(db *gorm.DB, libraryID, id uuid.UUID) (*models.Item, error) {
	if db == nil {
		db = r.db
	}
	var item models.Item
	err := db.Unscoped().
		Preload("Thing").
		First(&item, "id = ? AND library_id = ?", id, libraryID).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *itemRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Item, error) {
	if db == nil {
		db = r.db
	}
	var item models.Item
	err := db.Unscoped().
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *itemRepository) FindByBarcode(db *gorm.DB, libraryID uuid.UUID, barcode string) (*models.Item, error) {
	if db == nil {
		db = r.db
	}
	var item models.Item
	err := db.Unscoped().
		First(&item, "library_id = ? AND barcode = ?", libraryID, barcode).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *itemRepository) SetLost(db *gorm.DB, id uuid.UUID, lost bool) error {
	if db == nil {
		db = r.db
	}
	return db.Unscoped().Model(&models.Item{}).
		Where("id = ?", id).
		Update("is_lost", lost).
		Error
}

func (r *itemRepository) Trash(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Item{}, "id = ?", id).Error
}

func (r *itemRepository) ClearTombstone(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Unscoped().Model(&models.Item{}).
		Where("id = ?", id).
		Update("deleted_at", nil).
		Error
}

type loanRepository struct {
	db *gorm.DB
}

func NewLoanRepository(db *gorm.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) Create(db *gorm.DB, loan *models.Loan) error {
	if db == nil {
		db = r.db
	}
	return db.Create(loan).Error
}

func (r *loanRepository) GetByID(db *gorm.DB, libraryID, id uuid.UUID) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	err := db.Unscoped().
		Preload("Item", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Preload("Item.Thing").
		Preload("User").
		First(&loan, "id = ? AND library_id = ?", id, libraryID).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	err := db.Unscoped().
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&loan, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) FindActiveByItem(db *gorm.DB, itemID uuid.UUID) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	err := db.
		Where("item_id = ? AND is_lost = FALSE", itemID).
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) FindActiveByBarcode(db *gorm.DB, libraryID uuid.UUID, barcode string) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	err := db.
		Joins("JOIN items ON items.id = loans.item_id").
		Where("items.library_id = ? AND items.barcode = ? AND loans.is_lost = FALSE", libraryID, barcode).
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) FindLatestByBarcode(db *gorm.DB, libraryID uuid.UUID, barcode string) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	err := db.Unscoped().
		Joins("JOIN items ON items.id = loans.item_id").
		Where("items.library_id = ? AND items.barcode = ?", libraryID, barcode).
		Order("loans.updated_at DESC").
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) MarkReturned(db *gorm.DB, id uuid.UUID, returnedAt time.Time) error {
	if db == nil {
		db = r.db
	}
	return db.Unscoped().Model(&models.Loan{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", returnedAt).
		Error
}

func (r *loanRepository) ClearTombstone(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Unscoped().Model(&models.Loan{}).
		Where("id = ?", id).
		Update("deleted_at", nil).
		Error
}

func (r *loanRepository) SetLost(db *gorm.DB, id uuid.UUID, lost bool) error {
	if db == nil {
		db = r.db
	}
	return db.Unscoped().Model(&models.Loan{}).
		Where("id = ?", id).
		Update("is_lost", lost).
		Error
}

func (r *loanRepository) UpdateTerms(db *gorm.DB, id uuid.UUID, dueAt time.Time, note string) error {
	if db == nil {
		db = r.db
	}
	return db.Unscoped().Model(&models.Loan{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"due_at": dueAt,
			"note":   note,
		}).Error
}

func (r *loanRepository) ListByLibrary(db *gorm.DB, libraryID uuid.UUID) ([]models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loans []models.Loan
	err := db.
		Preload("Item", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Preload("Item.Thing").
		Preload("User").
		Where("library_id = ?", libraryID).
		Order("created_at DESC").
		Find(&loans).Error
	if err != nil {
		return nil, err
	}
	return loans, nil
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(db *gorm.DB, user *models.User) error {
	if db == nil {
		db = r.db
	}
	return db.Create(user).Error
}

func (r *userRepository) GetByID(db *gorm.DB, libraryID, id uuid.UUID) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "id = ? AND library_id = ?", id, libraryID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) RecordCheckout(db *gorm.DB, id uuid.UUID, at time.Time) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"loan_count":   gorm.Expr("loan_count + 1"),
			"last_loan_at": at,
		}).Error
}

func (r *userRepository) TouchLastLoan(db *gorm.DB, id uuid.UUID, at time.Time) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.User{}).
		Where("id = ?", id).
		Update("last_loan_at", at).
		Error
}
