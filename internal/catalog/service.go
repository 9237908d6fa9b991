// Package catalog answers read queries that combine books with their vote counts.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/books"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingBooks    = errors.New("book registry is required")
	errMissingVotes    = errors.New("vote ledger is required")
)

const (
	opServiceNew   = "catalog.service.new"
	opListOwned    = "catalog.list_owned"
	opListAll      = "catalog.list_all"
	opGetWithVotes = "catalog.get"
)

// BookRegistry is the subset of the book registry the catalog reads from.
type BookRegistry interface {
	Get(ctx context.Context, id int64) (books.Book, error)
}

// VoteCounter is the subset of the vote ledger the catalog reads from.
type VoteCounter interface {
	CountForBook(ctx context.Context, bookID int64) (int64, error)
}

// Entry is a book together with the number of votes it has received.
type Entry struct {
	Book  books.Book
	Votes int64
}

// ServiceConfig describes the dependencies of the catalog.
type ServiceConfig struct {
	Database *gorm.DB
	Books    BookRegistry
	Votes    VoteCounter
	Logger   *zap.Logger
}

// Service joins books against the vote ledger.
type Service struct {
	db     *gorm.DB
	books  BookRegistry
	votes  VoteCounter
	logger *zap.Logger
}

// NewService constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Books == nil {
		return nil, serviceerr.New(opServiceNew, "missing_books", errMissingBooks)
	}
	if cfg.Votes == nil {
		return nil, serviceerr.New(opServiceNew, "missing_votes", errMissingVotes)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, books: cfg.Books, votes: cfg.Votes, logger: logger}, nil
}

type entryRow struct {
	ID        int64     `gorm:"column:id"`
	Title     string    `gorm:"column:title"`
	Author    string    `gorm:"column:author"`
	Published bool      `gorm:"column:published"`
	CreatedAt time.Time `gorm:"column:created_at"`
	OwnerID   int64     `gorm:"column:owner_id"`
	Votes     int64     `gorm:"column:votes"`
}

// ListOwnedWithVotes returns the books owned by ownerID with their vote
// counts, ordered by book id. Books without votes report zero.
func (s *Service) ListOwnedWithVotes(ctx context.Context, ownerID int64) ([]Entry, error) {
	entries, err := s.listWithVotes(ctx, func(query *gorm.DB) *gorm.DB {
		return query.Where("books.owner_id = ?", ownerID)
	})
	if err != nil {
		s.logError(opListOwned, "query_failed", err, zap.Int64("owner_id", ownerID))
		return nil, serviceerr.New(opListOwned, "query_failed", err)
	}
	return entries, nil
}

// ListAllWithVotes returns every book with its vote count, ordered by book id.
func (s *Service) ListAllWithVotes(ctx context.Context) ([]Entry, error) {
	entries, err := s.listWithVotes(ctx, func(query *gorm.DB) *gorm.DB {
		return query
	})
	if err != nil {
		s.logError(opListAll, "query_failed", err)
		return nil, serviceerr.New(opListAll, "query_failed", err)
	}
	return entries, nil
}

func (s *Service) listWithVotes(ctx context.Context, scope func(*gorm.DB) *gorm.DB) ([]Entry, error) {
	var rows []entryRow
	query := s.db.WithContext(ctx).
		Table("books").
		Select("books.id, books.title, books.author, books.published, books.created_at, books.owner_id, COUNT(votes.book_id) AS votes").
		Joins("LEFT JOIN votes ON votes.book_id = books.id")
	err := scope(query).
		Group("books.id, books.title, books.author, books.published, books.created_at, books.owner_id").
		Order("books.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			Book: books.Book{
				ID:        row.ID,
				Title:     row.Title,
				Author:    row.Author,
				Published: row.Published,
				CreatedAt: row.CreatedAt,
				OwnerID:   row.OwnerID,
			},
			Votes: row.Votes,
		})
	}
	return entries, nil
}

// GetWithVotes returns a single book and its vote count.
func (s *Service) GetWithVotes(ctx context.Context, bookID int64) (Entry, error) {
	book, err := s.books.Get(ctx, bookID)
	if err != nil {
		return Entry{}, err
	}
	count, err := s.votes.CountForBook(ctx, bookID)
	if err != nil {
		return Entry{}, serviceerr.New(opGetWithVotes, "count_failed", err)
	}
	return Entry{Book: book, Votes: count}, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	serviceerr.Log(s.logger, "catalog", operation, reason, err, fields...)
}
