package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"circulation/internal/models"
)

// The engine is exercised against in-memory fakes of the repository
// interfaces. The fakes ignore the *gorm.DB handle (the engine's transaction
// seam passes nil) and mimic the store's semantics: soft-delete scoping,
// record-not-found errors, and updated-at ordering.

type storeData struct {
	seq       int64
	libraries map[uuid.UUID]*models.Library
	things    map[uuid.UUID]*models.Thing
	items     map[uuid.UUID]*models.Item
	loans     map[uuid.UUID]*models.Loan
	users     map[uuid.UUID]*models.User
}

func newStoreData() *storeData {
	return &storeData{
		libraries: make(map[uuid.UUID]*models.Library),
		things:    make(map[uuid.UUID]*models.Thing),
		items:     make(map[uuid.UUID]*models.Item),
		loans:     make(map[uuid.UUID]*models.Loan),
		users:     make(map[uuid.UUID]*models.User),
	}
}

// tick returns a strictly increasing timestamp, standing in for the store's
// updated-at maintenance.
func (d *storeData) tick() time.Time {
	d.seq++
	return time.Date(2024, 1, 1, 0, 0, 0, int(d.seq), time.UTC)
}

func (d *storeData) touchLoan(id uuid.UUID) {
	if loan, ok := d.loans[id]; ok {
		loan.UpdatedAt = d.tick()
	}
}

func copyLoan(l *models.Loan) *models.Loan {
	c := *l
	return &c
}

func copyItem(i *models.Item) *models.Item {
	c := *i
	return &c
}

type fakeLibraryRepo struct{ d *storeData }

func (r *fakeLibraryRepo) Create(_ *gorm.DB, library *models.Library) error {
	library.ID = uuid.New()
	r.d.libraries[library.ID] = library
	return nil
}

func (r *fakeLibraryRepo) GetByID(_ *gorm.DB, id uuid.UUID) (*models.Library, error) {
	library, ok := r.d.libraries[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *library
	return &c, nil
}

type fakeThingRepo struct{ d *storeData }

func (r *fakeThingRepo) Create(_ *gorm.DB, thing *models.Thing) error {
	thing.ID = uuid.New()
	r.d.things[thing.ID] = thing
	return nil
}

func (r *fakeThingRepo) GetByID(_ *gorm.DB, libraryID, id uuid.UUID) (*models.Thing, error) {
	thing, ok := r.d.things[id]
	if !ok || thing.LibraryID != libraryID {
		return nil, gorm.ErrRecordNotFound
	}
	c := *thing
	return &c, nil
}

type fakeItemRepo struct{ d *storeData }

func (r *fakeItemRepo) Create(_ *gorm.DB, item *models.Item) error {
	item.ID = uuid.New()
	r.d.items[item.ID] = item
	return nil
}

func (r *fakeItemRepo) GetByID(_ *gorm.DB, libraryID, id uuid.UUID) (*models.Item, error) {
	item, ok := r.d.items[id]
	if !ok || item.LibraryID != libraryID {
		return nil, gorm.ErrRecordNotFound
	}
	out := copyItem(item)
	if thing, ok := r.d.things[item.ThingID]; ok {
		out.Thing = *thing
	}
	return out, nil
}

func (r *fakeItemRepo) GetByIDForUpdate(_ *gorm.DB, id uuid.UUID) (*models.Item, error) {
	item, ok := r.d.items[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return copyItem(item), nil
}

func (r *fakeItemRepo) FindByBarcode(_ *gorm.DB, libraryID uuid.UUID, barcode string) (*models.Item, error) {
	for _, item := range r.d.items {
		if item.LibraryID == libraryID && item.Barcode == barcode {
			return copyItem(item), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeItemRepo) SetLost(_ *gorm.DB, id uuid.UUID, lost bool) error {
	if item, ok := r.d.items[id]; ok {
		item.IsLost = lost
	}
	return nil
}

func (r *fakeItemRepo) Trash(_ *gorm.DB, id uuid.UUID) error {
	if item, ok := r.d.items[id]; ok {
		item.DeletedAt = gorm.DeletedAt{Time: r.d.tick(), Valid: true}
	}
	return nil
}

func (r *fakeItemRepo) ClearTombstone(_ *gorm.DB, id uuid.UUID) error {
	if item, ok := r.d.items[id]; ok {
		item.DeletedAt = gorm.DeletedAt{}
	}
	return nil
}

type fakeLoanRepo struct{ d *storeData }

func (r *fakeLoanRepo) Create(_ *gorm.DB, loan *models.Loan) error {
	loan.ID = uuid.New()
	loan.UpdatedAt = r.d.tick()
	r.d.loans[loan.ID] = copyLoan(loan)
	return nil
}

func (r *fakeLoanRepo) GetByID(_ *gorm.DB, libraryID, id uuid.UUID) (*models.Loan, error) {
	loan, ok := r.d.loans[id]
	if !ok || loan.LibraryID != libraryID {
		return nil, gorm.ErrRecordNotFound
	}
	out := copyLoan(loan)
	if item, ok := r.d.items[loan.ItemID]; ok {
		out.Item = *item
		if thing, ok := r.d.things[item.ThingID]; ok {
			out.Item.Thing = *thing
		}
	}
	if user, ok := r.d.users[loan.UserID]; ok {
		out.User = *user
	}
	return out, nil
}

func (r *fakeLoanRepo) GetByIDForUpdate(_ *gorm.DB, id uuid.UUID) (*models.Loan, error) {
	loan, ok := r.d.loans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return copyLoan(loan), nil
}

func (r *fakeLoanRepo) FindActiveByItem(_ *gorm.DB, itemID uuid.UUID) (*models.Loan, error) {
	for _, loan := range r.d.loans {
		if loan.ItemID == itemID && !loan.DeletedAt.Valid && !loan.IsLost {
			return copyLoan(loan), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeLoanRepo) FindActiveByBarcode(_ *gorm.DB, libraryID uuid.UUID, barcode string) (*models.Loan, error) {
	for _, loan := range r.d.loans {
		if loan.DeletedAt.Valid || loan.IsLost {
			continue
		}
		item, ok := r.d.items[loan.ItemID]
		if ok && item.LibraryID == libraryID && item.Barcode == barcode {
			return copyLoan(loan), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeLoanRepo) FindLatestByBarcode(_ *gorm.DB, libraryID uuid.UUID, barcode string) (*models.Loan, error) {
	var matches []*models.Loan
	for _, loan := range r.d.loans {
		item, ok := r.d.items[loan.ItemID]
		if ok && item.LibraryID == libraryID && item.Barcode == barcode {
			matches = append(matches, loan)
		}
	}
	if len(matches) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
	})
	return copyLoan(matches[0]), nil
}

func (r *fakeLoanRepo) MarkReturned(_ *gorm.DB, id uuid.UUID, returnedAt time.Time) error {
	loan, ok := r.d.loans[id]
	if !ok || loan.DeletedAt.Valid {
		// Matches the guarded UPDATE: an already-closed loan is untouched.
		return nil
	}
	loan.DeletedAt = gorm.DeletedAt{Time: returnedAt, Valid: true}
	r.d.touchLoan(id)
	return nil
}

func (r *fakeLoanRepo) ClearTombstone(_ *gorm.DB, id uuid.UUID) error {
	if loan, ok := r.d.loans[id]; ok {
		loan.DeletedAt = gorm.DeletedAt{}
		r.d.touchLoan(id)
	}
	return nil
}

func (r *fakeLoanRepo) SetLost(_ *gorm.DB, id uuid.UUID, lost bool) error {
	if loan, ok := r.d.loans[id]; ok {
		loan.IsLost = lost
		r.d.touchLoan(id)
	}
	return nil
}

func (r *fakeLoanRepo) UpdateTerms(_ *gorm.DB, id uuid.UUID, dueAt time.Time, note string) error {
	if loan, ok := r.d.loans[id]; ok {
		loan.DueAt = dueAt
		loan.Note = note
		r.d.touchLoan(id)
	}
	return nil
}

func (r *fakeLoanRepo) ListByLibrary(_ *gorm.DB, libraryID uuid.UUID) ([]models.Loan, error) {
	var loans []models.Loan
	for _, loan := range r.d.loans {
		if loan.LibraryID == libraryID && !loan.DeletedAt.Valid {
			loans = append(loans, *copyLoan(loan))
		}
	}
	sort.Slice(loans, func(i, j int) bool {
		return loans[i].CreatedAt.After(loans[j].CreatedAt)
	})
	return loans, nil
}

type fakeUserRepo struct{ d *storeData }

func (r *fakeUserRepo) Create(_ *gorm.DB, user *models.User) error {
	user.ID = uuid.New()
	r.d.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetByID(_ *gorm.DB, libraryID, id uuid.UUID) (*models.User, error) {
	user, ok := r.d.users[id]
	if !ok || user.LibraryID != libraryID {
		return nil, gorm.ErrRecordNotFound
	}
	c := *user
	return &c, nil
}

func (r *fakeUserRepo) RecordCheckout(_ *gorm.DB, id uuid.UUID, at time.Time) error {
	if user, ok := r.d.users[id]; ok {
		user.LoanCount++
		t := at
		user.LastLoanAt = &t
	}
	return nil
}

func (r *fakeUserRepo) TouchLastLoan(_ *gorm.DB, id uuid.UUID, at time.Time) error {
	if user, ok := r.d.users[id]; ok {
		t := at
		user.LastLoanAt = &t
	}
	return nil
}

// recordingNotifier captures emitted lifecycle events.
type recordingNotifier struct {
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, event Event) {
	n.events = append(n.events, event)
}

func (n *recordingNotifier) kinds() []EventKind {
	kinds := make([]EventKind, len(n.events))
	for i, e := range n.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// testEngine bundles the engine with its fakes and a controllable clock.
type testEngine struct {
	svc      *loanService
	store    *storeData
	notifier *recordingNotifier

	library *models.Library
	thing   *models.Thing
	item    *models.Item
	user    *models.User
}

const testBarcode = "0301073"

func newTestEngine() *testEngine {
	store := newStoreData()
	notifier := &recordingNotifier{}

	svc := &loanService{
		loanRepo:  &fakeLoanRepo{d: store},
		itemRepo:  &fakeItemRepo{d: store},
		thingRepo: &fakeThingRepo{d: store},
		userRepo:  &fakeUserRepo{d: store},
		notifier:  notifier,
		now:       func() time.Time { return time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC) },
	}
	svc.transact = func(_ context.Context, fn func(tx *gorm.DB) error) error {
		return fn(nil)
	}

	e := &testEngine{svc: svc, store: store, notifier: notifier}

	e.library = &models.Library{Name: "Main Street Library"}
	_ = (&fakeLibraryRepo{d: store}).Create(nil, e.library)

	e.thing = &models.Thing{LibraryID: e.library.ID, Name: "bicycle pump", LoanTimeDays: 14}
	_ = svc.thingRepo.Create(nil, e.thing)

	e.item = &models.Item{LibraryID: e.library.ID, ThingID: e.thing.ID, Barcode: testBarcode}
	_ = svc.itemRepo.Create(nil, e.item)

	e.user = &models.User{LibraryID: e.library.ID, Name: "Ada"}
	_ = svc.userRepo.Create(nil, e.user)

	return e
}

func (e *testEngine) checkout(ctx context.Context) (*models.Loan, error) {
	return e.svc.Checkout(ctx, e.library.ID, e.item.ID, e.user.ID, "")
}

// activeLoanCount counts open loans for an item, for invariant checks.
func (e *testEngine) activeLoanCount(itemID uuid.UUID) int {
	n := 0
	for _, loan := range e.store.loans {
		if loan.ItemID == itemID && !loan.DeletedAt.Valid && !loan.IsLost {
			n++
		}
	}
	return n
}
