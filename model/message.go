package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Message struct {
	ID        string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ChatID    string        `gorm:"index;not null;type:varchar(36)" json:"chat_id"`
	SenderID  string        `gorm:"not null;type:varchar(36)" json:"-"`
	Sender    User          `gorm:"foreignKey:SenderID" json:"-"`
	Content   string        `gorm:"type:text;not null" json:"content"`
	Reads     []MessageRead `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time     `gorm:"index" json:"created_at"`

	From   Profile  `gorm:"-" json:"sender"`
	ReadBy []string `gorm:"-" json:"read_by"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// AfterFind fills the JSON projections from preloaded associations.
func (m *Message) AfterFind(*gorm.DB) error {
	m.From = m.Sender.Profile()
	m.ReadBy = make([]string, 0, len(m.Reads))
	for _, r := range m.Reads {
		m.ReadBy = append(m.ReadBy, r.UserID)
	}
	return nil
}

// IsReadBy reports whether userID is in the read-by set.
func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// MessageRead is one entry of a message's read-by set. Rows are only ever
// inserted, so the set grows monotonically.
type MessageRead struct {
	MessageID string `gorm:"primaryKey;type:varchar(36)"`
	UserID    string `gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time
}
