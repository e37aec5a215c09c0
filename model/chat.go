package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Chat is either a direct conversation between two users or a named group.
// PairKey is set only for direct chats and carries the unique index that
// guarantees one direct chat per unordered pair.
type Chat struct {
	ID            string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	IsGroup       bool         `gorm:"not null;default:false" json:"is_group"`
	Name          string       `json:"name"`
	PairKey       *string      `gorm:"uniqueIndex;type:varchar(80)" json:"-"`
	AdminID       *string      `gorm:"type:varchar(36)" json:"admin_id"`
	LastMessageID *string      `gorm:"type:varchar(36)" json:"last_message_id"`
	Members       []ChatMember `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `gorm:"index" json:"updated_at"`

	Users       []Profile `gorm:"-" json:"users"`
	LastMessage *Message  `gorm:"-" json:"last_message,omitempty"`
}

func (c *Chat) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// AfterFind flattens preloaded members into Users, keeping insertion order.
func (c *Chat) AfterFind(*gorm.DB) error {
	if len(c.Members) == 0 {
		return nil
	}
	c.Users = make([]Profile, 0, len(c.Members))
	for _, m := range c.Members {
		if m.User.ID == "" {
			// users were not preloaded
			c.Users = nil
			return nil
		}
		c.Users = append(c.Users, m.User.Profile())
	}
	return nil
}

// HasMember reports whether userID belongs to the chat. Members must be loaded.
func (c *Chat) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// MemberIDs returns member ids in insertion order. Members must be loaded.
func (c *Chat) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// IsAdmin reports whether userID is the group admin.
func (c *Chat) IsAdmin(userID string) bool {
	return c.AdminID != nil && *c.AdminID == userID
}

type ChatMember struct {
	ChatID    string    `gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `gorm:"primaryKey;type:varchar(36);index"`
	Position  int       `gorm:"not null"`
	User      User      `gorm:"foreignKey:UserID"`
	CreatedAt time.Time
}

// DirectPairKey returns the same key for (a, b) and (b, a).
func DirectPairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
