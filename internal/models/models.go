package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Library is the tenant owning all other records. Every operation is scoped
// to exactly one library; there is no cross-library coordination.
type Library struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Thing is a catalog entry; physical Items belong to it. LoanTimeDays is the
// loan duration handed to the due-date calculation at checkout.
type Thing struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LibraryID    uuid.UUID `gorm:"type:uuid;not null;index" json:"library_id"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	LoanTimeDays int       `gorm:"not null;default:28" json:"loan_time_days"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Item is one barcoded physical unit of a Thing.
//
// DeletedAt is the discard tombstone: a discarded item keeps its row and its
// loan history and can be restored later. IsLost marks why it was discarded;
// an item tombstoned with IsLost set came out of circulation via a lost loan.
type Item struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LibraryID uuid.UUID      `gorm:"type:uuid;not null;index:idx_items_library_barcode,unique" json:"library_id"`
	ThingID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"thing_id"`
	Thing     Thing          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"thing"`
	Barcode   string         `gorm:"size:64;not null;index:idx_items_library_barcode,unique" json:"barcode"`
	Note      string         `gorm:"size:1024" json:"note"`
	IsLost    bool           `gorm:"not null;default:false" json:"is_lost"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

// Discarded reports whether the item is tombstoned.
func (i *Item) Discarded() bool {
	return i.DeletedAt.Valid
}

// Loan is one lending transaction. CreatedAt is the checkout instant.
//
// DeletedAt is the closure tombstone ("checked in"); IsLost is independent of
// it. At most one loan per item may be open (not tombstoned, not lost) at any
// time; the engine enforces this, the schema does not.
type Loan struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LibraryID uuid.UUID      `gorm:"type:uuid;not null;index" json:"library_id"`
	ItemID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"item_id"`
	Item      Item           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"item"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User      User           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"user"`
	DueAt     time.Time      `gorm:"not null" json:"due_at"`
	Note      string         `gorm:"size:1024" json:"note"`
	IsLost    bool           `gorm:"not null;default:false" json:"is_lost"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

// Returned reports whether the loan is tombstoned (checked in).
func (l *Loan) Returned() bool {
	return l.DeletedAt.Valid
}

// User is a borrower profile. LoanCount and LastLoanAt are activity counters
// maintained as side effects of checkout and check-in.
type User struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LibraryID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"library_id"`
	Name       string     `gorm:"size:255;not null" json:"name"`
	LoanCount  int        `gorm:"not null;default:0" json:"loan_count"`
	LastLoanAt *time.Time `json:"last_loan_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// LoanState is the derived lifecycle state of a loan. It is never stored;
// ClassifyLoan computes it from the tombstone and the lost flag.
type LoanState string

const (
	LoanStateActive   LoanState = "ACTIVE"
	LoanStateReturned LoanState = "RETURNED"
	LoanStateLost     LoanState = "LOST"
)

// ClassifyLoan maps the loan's two independent markers onto a single state.
// Lost wins over the tombstone, so a loan that is both lost and closed (a
// corner case not reachable through the normal flow) still classifies as
// LOST and stays restorable via the found path.
func ClassifyLoan(l *Loan) LoanState {
	switch {
	case l.IsLost:
		return LoanStateLost
	case l.Returned():
		return LoanStateReturned
	default:
		return LoanStateActive
	}
}
