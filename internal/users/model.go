package users

import (
	"strings"
	"time"
)

// User is a registered account. PasswordHash never leaves the service layer.
type User struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name         string    `gorm:"column:name;size:190;not null;index"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

// NormalizeEmail trims and lower-cases an address so lookups match storage.
func NormalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
