package votes

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/books"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/users"
)

// Direction is the requested transition for a (user, book) pair.
type Direction int

const (
	// Down removes an existing vote.
	Down Direction = 0
	// Up records a new vote.
	Up Direction = 1
)

// Outcome reports what a successful Cast did.
type Outcome string

const (
	OutcomeRecorded Outcome = "recorded"
	OutcomeRemoved  Outcome = "removed"
)

var (
	// ErrInvalidDirection indicates a direction other than 0 or 1.
	ErrInvalidDirection = errors.New("votes: invalid direction")
	// ErrAlreadyVoted indicates an Up for a pair that already has a vote.
	ErrAlreadyVoted = errors.New("votes: already voted")
	// ErrNoSuchVote indicates a Down for a pair without a vote.
	ErrNoSuchVote = errors.New("votes: no vote to remove")
	// ErrVoterNotFound indicates the voting account no longer exists.
	ErrVoterNotFound = errors.New("votes: voter not found")
)

// ParseDirection validates a wire value.
func ParseDirection(value int) (Direction, error) {
	switch Direction(value) {
	case Up:
		return Up, nil
	case Down:
		return Down, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidDirection, value)
	}
}

// Vote marks that a user upvoted a book. The composite primary key keeps at
// most one row per pair.
type Vote struct {
	UserID    int64       `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	BookID    int64       `gorm:"column:book_id;primaryKey;autoIncrement:false;index:idx_votes_book_id"`
	CreatedAt time.Time   `gorm:"column:created_at;not null"`
	User      *users.User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
	Book      *books.Book `gorm:"foreignKey:BookID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "votes"
}
