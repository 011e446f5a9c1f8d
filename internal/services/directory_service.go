package services

import (
	"context"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"circulation/internal/models"
	"circulation/internal/repositories"
)

// DirectoryService covers intake: registering libraries, catalog entries,
// barcoded items and borrower profiles. No lifecycle rules live here.
type DirectoryService interface {
	CreateLibrary(ctx context.Context, name string) (*models.Library, error)
	CreateThing(ctx context.Context, libraryID uuid.UUID, name string, loanTimeDays int) (*models.Thing, error)
	CreateItem(ctx context.Context, libraryID, thingID uuid.UUID, barcode, note string) (*models.Item, error)
	CreateUser(ctx context.Context, libraryID uuid.UUID, name string) (*models.User, error)
	GetItem(ctx context.Context, libraryID, itemID uuid.UUID) (*models.Item, error)
}

type directoryService struct {
	db          *gorm.DB
	libraryRepo repositories.LibraryRepository
	thingRepo   repositories.ThingRepository
	itemRepo    repositories.ItemRepository
	userRepo    repositories.UserRepository
}

func NewDirectoryService(
	db *gorm.DB,
	libraryRepo repositories.LibraryRepository,
	thingRepo repositories.ThingRepository,
	itemRepo repositories.ItemRepository,
	userRepo repositories.UserRepository,
) DirectoryService {
	return &directoryService{
		db:          db,
		libraryRepo: libraryRepo,
		thingRepo:   thingRepo,
		itemRepo:    itemRepo,
		userRepo:    userRepo,
	}
}

func (s *directoryService) dbWith(ctx context.Context) *gorm.DB {
	if s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx)
}

func (s *directoryService) CreateLibrary(ctx context.Context, name string) (*models.Library, error) {
	library := &models.Library{Name: name}
	if err := s.libraryRepo.Create(s.dbWith(ctx), library); err != nil {
		log.Printf("[ERROR] CreateLibrary: %v", err)
		return nil, err
	}
	log.Printf("[INFO] CreateLibrary: created library %q (id=%s)", library.Name, library.ID)
	return library, nil
}

func (s *directoryService) CreateThing(ctx context.Context, libraryID uuid.UUID, name string, loanTimeDays int) (*models.Thing, error) {
	if loanTimeDays <= 0 {
		return nil, ErrLoanDurationNotSet
	}
	if _, err := s.libraryRepo.GetByID(s.dbWith(ctx), libraryID); err != nil {
		return nil, asNotFound(err, ErrLibraryNotFound)
	}
	thing := &models.Thing{
		LibraryID:    libraryID,
		Name:         name,
		LoanTimeDays: loanTimeDays,
	}
	if err := s.thingRepo.Create(s.dbWith(ctx), thing); err != nil {
		log.Printf("[ERROR] CreateThing: %v", err)
		return nil, err
	}
	log.Printf("[INFO] CreateThing: created %q (id=%s, loan time %d days)", thing.Name, thing.ID, loanTimeDays)
	return thing, nil
}

func (s *directoryService) CreateItem(ctx context.Context, libraryID, thingID uuid.UUID, barcode, note string) (*models.Item, error) {
	if _, err := s.thingRepo.GetByID(s.dbWith(ctx), libraryID, thingID); err != nil {
		return nil, asNotFound(err, ErrThingNotFound)
	}
	item := &models.Item{
		LibraryID: libraryID,
		ThingID:   thingID,
		Barcode:   barcode,
		Note:      note,
	}
	if err := s.itemRepo.Create(s.dbWith(ctx), item); err != nil {
		log.Printf("[ERROR] CreateItem: barcode %q: %v", barcode, err)
		return nil, err
	}
	log.Printf("[INFO] CreateItem: registered barcode %q (id=%s)", item.Barcode, item.ID)
	return item, nil
}

func (s *directoryService) CreateUser(ctx context.Context, libraryID uuid.UUID, name string) (*models.User, error) {
	if _, err := s.libraryRepo.GetByID(s.dbWith(ctx), libraryID); err != nil {
		return nil, asNotFound(err, ErrLibraryNotFound)
	}
	user := &models.User{LibraryID: libraryID, Name: name}
	if err := s.userRepo.Create(s.dbWith(ctx), user); err != nil {
		log.Printf("[ERROR] CreateUser: %v", err)
		return nil, err
	}
	log.Printf("[INFO] CreateUser: created user %q (id=%s)", user.Name, user.ID)
	return user, nil
}

func (s *directoryService) GetItem(ctx context.Context, libraryID, itemID uuid.UUID) (*models.Item, error) {
	item, err := s.itemRepo.GetByID(s.dbWith(ctx), libraryID, itemID)
	if err != nil {
		return nil, asNotFound(err, ErrItemNotFound)
	}
	return item, nil
}
