package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User struct
type User struct {
	ID       string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name     string `gorm:"not null" json:"name"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`
	Avatar   string `json:"avatar"`
	Role     string `json:"-"`
	IsOnline bool   `gorm:"not null;default:false" json:"is_online"`

	OtpEnabled bool   `gorm:"default:false" json:"-"`
	OtpSecret  string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Profile is the public projection of a user attached to chats, messages and
// friend lists.
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
	IsOnline bool   `json:"is_online"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Avatar:   u.Avatar,
		IsOnline: u.IsOnline,
	}
}
