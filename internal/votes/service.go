package votes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/books"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("database handle is required")

const (
	opServiceNew = "votes.service.new"
	opCast       = "votes.cast"
	opCount      = "votes.count"
)

// ServiceConfig describes the dependencies required by the ledger.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service records at most one vote per (user, book) and aggregates counts.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the ledger.
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

// Cast applies direction to the (userID, bookID) pair. Up moves Absent to
// Present and Down moves Present to Absent; any other transition fails
// without touching storage.
func (s *Service) Cast(ctx context.Context, userID, bookID int64, direction Direction) (Outcome, error) {
	if _, err := ParseDirection(int(direction)); err != nil {
		return "", serviceerr.New(opCast, "invalid_direction", err)
	}

	var outcome Outcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&books.Book{}).Where("id = ?", bookID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return books.ErrBookNotFound
		}

		if direction == Up {
			result := tx.Omit("User", "Book").
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&Vote{UserID: userID, BookID: bookID, CreatedAt: s.clock().UTC()})
			if serviceerr.IsForeignKeyViolation(result.Error) {
				return fmt.Errorf("%w: %v", ErrVoterNotFound, result.Error)
			}
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrAlreadyVoted
			}
			outcome = OutcomeRecorded
			return nil
		}

		result := tx.Where("user_id = ? AND book_id = ?", userID, bookID).Delete(&Vote{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNoSuchVote
		}
		outcome = OutcomeRemoved
		return nil
	})

	switch {
	case err == nil:
		return outcome, nil
	case errors.Is(err, books.ErrBookNotFound):
		return "", serviceerr.New(opCast, "book_not_found", err)
	case errors.Is(err, ErrAlreadyVoted):
		return "", serviceerr.New(opCast, "already_voted", err)
	case errors.Is(err, ErrNoSuchVote):
		return "", serviceerr.New(opCast, "no_such_vote", err)
	case errors.Is(err, ErrVoterNotFound):
		return "", serviceerr.New(opCast, "voter_missing", err)
	default:
		s.logError(opCast, "write_failed", err,
			zap.Int64("user_id", userID),
			zap.Int64("book_id", bookID),
			zap.Int("direction", int(direction)))
		return "", serviceerr.New(opCast, "write_failed", err)
	}
}

// CountForBook returns the number of votes on bookID.
func (s *Service) CountForBook(ctx context.Context, bookID int64) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Vote{}).Where("book_id = ?", bookID).Count(&count).Error; err != nil {
		s.logError(opCount, "query_failed", err, zap.Int64("book_id", bookID))
		return 0, serviceerr.New(opCount, "query_failed", err)
	}
	return count, nil
}

type bookCount struct {
	BookID int64 `gorm:"column:book_id"`
	Votes  int64 `gorm:"column:votes"`
}

// CountsForBooks returns vote counts for every requested id in one grouped
// query. Ids without votes map to zero.
func (s *Service) CountsForBooks(ctx context.Context, bookIDs []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(bookIDs))
	if len(bookIDs) == 0 {
		return counts, nil
	}
	for _, id := range bookIDs {
		counts[id] = 0
	}

	var rows []bookCount
	if err := s.db.WithContext(ctx).
		Model(&Vote{}).
		Select("book_id, COUNT(*) AS votes").
		Where("book_id IN ?", bookIDs).
		Group("book_id").
		Scan(&rows).Error; err != nil {
		s.logError(opCount, "query_failed", err, zap.Int("book_count", len(bookIDs)))
		return nil, serviceerr.New(opCount, "query_failed", err)
	}
	for _, row := range rows {
		counts[row.BookID] = row.Votes
	}
	return counts, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	serviceerr.Log(s.logger, "votes", operation, reason, err, fields...)
}
