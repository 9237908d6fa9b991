package books

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("database handle is required")

const (
	opServiceNew  = "books.service.new"
	opCreate      = "books.create"
	opCreateMany  = "books.create_many"
	opGet         = "books.get"
	opListByOwner = "books.list_by_owner"
	opUpdate      = "books.update"
	opDelete      = "books.delete"
)

// ServiceConfig describes the dependencies required by the registry.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns CRUD over books scoped to their owner.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the registry.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Create stores a new book owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID int64, fields BookFields) (Book, error) {
	created, err := s.insert(ctx, opCreate, ownerID, []BookFields{fields})
	if err != nil {
		return Book{}, err
	}
	return created[0], nil
}

// CreateMany stores every book in one transaction; if any insert fails none
// of them are kept.
func (s *Service) CreateMany(ctx context.Context, ownerID int64, batch []BookFields) ([]Book, error) {
	return s.insert(ctx, opCreateMany, ownerID, batch)
}

func (s *Service) insert(ctx context.Context, operation string, ownerID int64, batch []BookFields) ([]Book, error) {
	if len(batch) == 0 {
		return nil, serviceerr.New(operation, "invalid_book", ErrInvalidBook)
	}
	createdAt := s.clock().UTC()
	records := make([]Book, 0, len(batch))
	for _, fields := range batch {
		normalized, err := fields.Validate()
		if err != nil {
			return nil, serviceerr.New(operation, "invalid_book", err)
		}
		records = append(records, Book{
			Title:     normalized.Title,
			Author:    normalized.Author,
			Published: normalized.Published,
			CreatedAt: createdAt,
			OwnerID:   ownerID,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for index := range records {
			if err := tx.Omit("Owner").Create(&records[index]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if serviceerr.IsForeignKeyViolation(err) {
		return nil, serviceerr.New(operation, "owner_missing", fmt.Errorf("%w: %v", ErrOwnerNotFound, err))
	}
	if err != nil {
		s.logError(operation, "insert_failed", err, zap.Int64("owner_id", ownerID), zap.Int("count", len(records)))
		return nil, serviceerr.New(operation, "insert_failed", err)
	}
	return records, nil
}

// Get returns a book by id regardless of owner.
func (s *Service) Get(ctx context.Context, id int64) (Book, error) {
	var book Book
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Book{}, serviceerr.New(opGet, "not_found", ErrBookNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.Int64("book_id", id))
		return Book{}, serviceerr.New(opGet, "query_failed", err)
	}
	return book, nil
}

// ListByOwner returns the books owned by ownerID ordered by id.
func (s *Service) ListByOwner(ctx context.Context, ownerID int64) ([]Book, error) {
	var owned []Book
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("id ASC").
		Find(&owned).Error; err != nil {
		s.logError(opListByOwner, "query_failed", err, zap.Int64("owner_id", ownerID))
		return nil, serviceerr.New(opListByOwner, "query_failed", err)
	}
	return owned, nil
}

// Update replaces the editable fields of a book owned by callerID. A book
// owned by someone else is reported as not found.
func (s *Service) Update(ctx context.Context, id, callerID int64, fields BookFields) (Book, error) {
	normalized, err := fields.Validate()
	if err != nil {
		return Book{}, serviceerr.New(opUpdate, "invalid_book", err)
	}

	var updated Book
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ownedBook(tx, id, callerID, &updated); err != nil {
			return err
		}
		if err := tx.Model(&Book{}).
			Where("id = ? AND owner_id = ?", id, callerID).
			Updates(map[string]interface{}{
				"title":     normalized.Title,
				"author":    normalized.Author,
				"published": normalized.Published,
			}).Error; err != nil {
			return err
		}
		updated.Title = normalized.Title
		updated.Author = normalized.Author
		updated.Published = normalized.Published
		return nil
	})
	if errors.Is(err, ErrBookNotFound) {
		return Book{}, serviceerr.New(opUpdate, "not_found", err)
	}
	if err != nil {
		s.logError(opUpdate, "update_failed", err, zap.Int64("book_id", id), zap.Int64("caller_id", callerID))
		return Book{}, serviceerr.New(opUpdate, "update_failed", err)
	}
	return updated, nil
}

// Delete removes a book owned by callerID; its votes cascade.
func (s *Service) Delete(ctx context.Context, id, callerID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND owner_id = ?", id, callerID).Delete(&Book{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrBookNotFound
		}
		return nil
	})
	if errors.Is(err, ErrBookNotFound) {
		return serviceerr.New(opDelete, "not_found", err)
	}
	if err != nil {
		s.logError(opDelete, "delete_failed", err, zap.Int64("book_id", id), zap.Int64("caller_id", callerID))
		return serviceerr.New(opDelete, "delete_failed", err)
	}
	return nil
}

func ownedBook(tx *gorm.DB, id, ownerID int64, target *Book) error {
	err := tx.Where("id = ? AND owner_id = ?", id, ownerID).Take(target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrBookNotFound
	}
	return err
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	serviceerr.Log(s.logger, "books", operation, reason, err, fields...)
}
