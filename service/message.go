package service

import (
	"context"
	"strings"
	"time"

	"realtalk-service/event"
	"realtalk-service/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageService persists messages, their read-by sets and each chat's last
// message pointer. Authorization goes through the chat's membership.
type MessageService struct {
	db        *gorm.DB
	chats     *ChatService
	publisher event.Publisher
	logger    *zap.Logger
}

func NewMessageService(db *gorm.DB, chats *ChatService, publisher event.Publisher, logger *zap.Logger) *MessageService {
	return &MessageService{db: db, chats: chats, publisher: publisher, logger: logger}
}

// MessageCreated is the payload of the message.created event.
type MessageCreated struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id"`
}

// Send persists a message whose read-by set is exactly {sender} and points the
// chat's last message at it. The returned message carries the sender profile.
func (s *MessageService) Send(ctx context.Context, senderID, chatID, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, newError(KindValidation, "message content is required")
	}
	if chatID == "" {
		return nil, newError(KindValidation, "chat id is required")
	}
	if _, err := s.chats.authorize(ctx, chatID, senderID); err != nil {
		return nil, err
	}

	message := &model.Message{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(message).Error; err != nil {
			return err
		}
		read := &model.MessageRead{MessageID: message.ID, UserID: senderID, CreatedAt: message.CreatedAt}
		if err := tx.Create(read).Error; err != nil {
			return err
		}
		return tx.Model(&model.Chat{}).
			Where("id = ?", chatID).
			Updates(map[string]any{"last_message_id": message.ID, "updated_at": time.Now()}).Error
	})
	if err != nil {
		return nil, storeError(err, "message")
	}

	stored, err := s.Find(ctx, message.ID)
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, event.ActionMessageCreated, MessageCreated{
		MessageID: stored.ID,
		ChatID:    stored.ChatID,
		SenderID:  stored.From.ID,
	})
	return stored, nil
}

// List returns the chat's messages, oldest first.
func (s *MessageService) List(ctx context.Context, chatID, requester string) ([]model.Message, error) {
	if _, err := s.chats.authorize(ctx, chatID, requester); err != nil {
		return nil, err
	}

	var messages []model.Message
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Preload("Reads").
		Where("chat_id = ?", chatID).
		Order("created_at asc, id asc").
		Find(&messages).Error
	if err != nil {
		return nil, storeError(err, "messages")
	}
	return messages, nil
}

// MarkRead adds requester to the read-by set of every message of the chat.
// Calling it again has no further effect.
func (s *MessageService) MarkRead(ctx context.Context, chatID, requester string) error {
	if _, err := s.chats.authorize(ctx, chatID, requester); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Exec(`
		INSERT INTO message_reads (message_id, user_id, created_at)
		SELECT m.id, ?, ? FROM messages m
		WHERE m.chat_id = ?
		AND NOT EXISTS (
			SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = ?
		)
		ON CONFLICT (message_id, user_id) DO NOTHING`, requester, time.Now(), chatID, requester).Error
	return storeError(err, "message reads")
}

// Get returns one message to a member of its chat.
func (s *MessageService) Get(ctx context.Context, messageID, requester string) (*model.Message, error) {
	message, err := s.Find(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.chats.authorize(ctx, message.ChatID, requester); err != nil {
		return nil, err
	}
	return message, nil
}

// Find loads a message without authorization, for internal delivery paths.
func (s *MessageService) Find(ctx context.Context, messageID string) (*model.Message, error) {
	message := new(model.Message)
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Preload("Reads").
		First(message, "id = ?", messageID).Error
	if err != nil {
		return nil, storeError(err, "message")
	}
	return message, nil
}
