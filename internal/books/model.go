package books

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/users"
)

const maxFieldLength = 300

var (
	// ErrBookNotFound indicates the book is missing or not owned by the caller.
	ErrBookNotFound = errors.New("books: book not found")
	// ErrInvalidBook indicates that title or author is empty or too long.
	ErrInvalidBook = errors.New("books: invalid book")
	// ErrOwnerNotFound indicates the owner account no longer exists.
	ErrOwnerNotFound = errors.New("books: owner not found")
)

// Book is a catalog entry owned by exactly one user.
type Book struct {
	ID        int64       `gorm:"column:id;primaryKey;autoIncrement"`
	Title     string      `gorm:"column:title;size:300;not null;index"`
	Author    string      `gorm:"column:author;size:300;not null;index"`
	Published bool        `gorm:"column:published;not null"`
	CreatedAt time.Time   `gorm:"column:created_at;not null"`
	OwnerID   int64       `gorm:"column:owner_id;not null;index"`
	Owner     *users.User `gorm:"foreignKey:OwnerID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Book) TableName() string {
	return "books"
}

// BookFields carries the client-editable attributes of a book.
type BookFields struct {
	Title     string
	Author    string
	Published bool
}

// Validate trims the fields and rejects empty or oversized values.
func (f BookFields) Validate() (BookFields, error) {
	normalized := BookFields{
		Title:     strings.TrimSpace(f.Title),
		Author:    strings.TrimSpace(f.Author),
		Published: f.Published,
	}
	if normalized.Title == "" {
		return BookFields{}, fmt.Errorf("%w: title is required", ErrInvalidBook)
	}
	if normalized.Author == "" {
		return BookFields{}, fmt.Errorf("%w: author is required", ErrInvalidBook)
	}
	if len(normalized.Title) > maxFieldLength || len(normalized.Author) > maxFieldLength {
		return BookFields{}, fmt.Errorf("%w: exceeds %d characters", ErrInvalidBook, maxFieldLength)
	}
	return normalized, nil
}
