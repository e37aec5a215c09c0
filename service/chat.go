package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"realtalk-service/model"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	minGroupMembers = 3

	directCreateTimeout = 10 * time.Second
)

// ChatService is the conversation store: direct and group chats with their
// membership and admin metadata.
type ChatService struct {
	db     *gorm.DB
	logger *zap.Logger

	// direct coalesces concurrent find-or-create calls for the same pair.
	direct singleflight.Group
}

func NewChatService(db *gorm.DB, logger *zap.Logger) *ChatService {
	return &ChatService{db: db, logger: logger}
}

// AccessOrCreateDirect returns the direct chat of the unordered pair
// (requester, other), creating it on first access.
func (s *ChatService) AccessOrCreateDirect(ctx context.Context, requester, other string) (*model.Chat, error) {
	if other == "" {
		return nil, newError(KindValidation, "user id is required")
	}
	if other == requester {
		return nil, newError(KindValidation, "cannot open a direct chat with yourself")
	}

	key := model.DirectPairKey(requester, other)
	chat, err := s.findDirect(ctx, key)
	if err == nil {
		return chat, nil
	}
	if KindOf(err) != KindNotFound {
		return nil, err
	}

	// The flight has its own deadline. A caller giving up does not cancel it
	// for the others.
	flight := s.direct.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), directCreateTimeout)
		defer cancel()
		return s.createDirect(ctx, requester, other, key)
	})
	select {
	case <-ctx.Done():
		return nil, storeError(ctx.Err(), "chat")
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		shared := *res.Val.(*model.Chat)
		return &shared, nil
	}
}

func (s *ChatService) createDirect(ctx context.Context, requester, other, key string) (*model.Chat, error) {
	// A previous flight may have finished between our lookup and this one.
	if chat, err := s.findDirect(ctx, key); err == nil {
		return chat, nil
	} else if KindOf(err) != KindNotFound {
		return nil, err
	}

	if err := s.requireUsers(ctx, other); err != nil {
		return nil, err
	}

	chat := &model.Chat{PairKey: &key}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(chat).Error; err != nil {
			return err
		}
		return tx.Omit(clause.Associations).Create(&[]model.ChatMember{
			{ChatID: chat.ID, UserID: requester, Position: 0},
			{ChatID: chat.ID, UserID: other, Position: 1},
		}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the race against another process: the winner's chat is the one.
		s.logger.Debug("direct chat created concurrently", zap.String("pair", key))
		return s.findDirect(ctx, key)
	}
	if err != nil {
		return nil, storeError(err, "chat")
	}
	return s.load(ctx, chat.ID)
}

func (s *ChatService) findDirect(ctx context.Context, key string) (*model.Chat, error) {
	chat := new(model.Chat)
	err := s.withMembers(s.db.WithContext(ctx)).
		Where("pair_key = ?", key).
		First(chat).Error
	if err != nil {
		return nil, storeError(err, "chat")
	}
	if err := s.attachLastMessages(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// ListChats returns every chat user belongs to, most recently updated first.
func (s *ChatService) ListChats(ctx context.Context, user string) ([]model.Chat, error) {
	var chats []model.Chat
	memberOf := s.db.Model(&model.ChatMember{}).Select("chat_id").Where("user_id = ?", user)
	err := s.withMembers(s.db.WithContext(ctx)).
		Where("id IN (?)", memberOf).
		Order("updated_at desc").
		Find(&chats).Error
	if err != nil {
		return nil, storeError(err, "chats")
	}

	ptrs := make([]*model.Chat, len(chats))
	for i := range chats {
		ptrs[i] = &chats[i]
	}
	if err := s.attachLastMessages(ctx, ptrs...); err != nil {
		return nil, err
	}
	return chats, nil
}

// CreateGroup creates a group of initiator, who becomes admin, followed by
// the distinct memberIDs.
func (s *ChatService) CreateGroup(ctx context.Context, name, initiator string, memberIDs []string) (*model.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(KindValidation, "group name is required")
	}

	ids := distinct(append([]string{initiator}, memberIDs...))
	if len(ids) < minGroupMembers {
		return nil, newError(KindValidation, "a group chat requires at least %d users", minGroupMembers)
	}
	if err := s.requireUsers(ctx, ids...); err != nil {
		return nil, err
	}

	chat := &model.Chat{IsGroup: true, Name: name, AdminID: &initiator}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(chat).Error; err != nil {
			return err
		}
		members := make([]model.ChatMember, 0, len(ids))
		for i, id := range ids {
			members = append(members, model.ChatMember{ChatID: chat.ID, UserID: id, Position: i})
		}
		return tx.Omit(clause.Associations).Create(&members).Error
	})
	if err != nil {
		return nil, storeError(err, "chat")
	}
	return s.load(ctx, chat.ID)
}

// Rename changes a group's name. Any current member may rename.
func (s *ChatService) Rename(ctx context.Context, chatID, newName, requester string) (*model.Chat, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, newError(KindValidation, "chat name is required")
	}

	chat, err := s.load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsGroup {
		return nil, newError(KindValidation, "direct chats cannot be renamed")
	}
	if !chat.HasMember(requester) {
		return nil, newError(KindForbidden, "you are not part of this chat")
	}

	err = s.db.WithContext(ctx).Model(&model.Chat{}).Where("id = ?", chatID).Update("name", newName).Error
	if err != nil {
		return nil, storeError(err, "chat")
	}
	return s.load(ctx, chatID)
}

func (s *ChatService) AddMember(ctx context.Context, chatID, userID, requester string) (*model.Chat, error) {
	chat, err := s.load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsAdmin(requester) {
		return nil, newError(KindForbidden, "only the group admin can add users")
	}
	if chat.HasMember(userID) {
		return nil, newError(KindConflict, "user is already in the group")
	}
	if err := s.requireUsers(ctx, userID); err != nil {
		return nil, err
	}

	position := 0
	for _, m := range chat.Members {
		if m.Position >= position {
			position = m.Position + 1
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&model.ChatMember{ChatID: chatID, UserID: userID, Position: position}).Error; err != nil {
			return err
		}
		return touch(tx, chatID)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, newError(KindConflict, "user is already in the group")
	}
	if err != nil {
		return nil, storeError(err, "chat")
	}
	return s.load(ctx, chatID)
}

// RemoveMember removes userID from a group. The admin may remove anyone but
// themselves; other members may only remove themselves.
func (s *ChatService) RemoveMember(ctx context.Context, chatID, userID, requester string) (*model.Chat, error) {
	chat, err := s.load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsGroup {
		return nil, newError(KindValidation, "direct chats have fixed membership")
	}
	if !chat.IsAdmin(requester) && requester != userID {
		return nil, newError(KindForbidden, "only the group admin can remove users")
	}
	if !chat.HasMember(userID) {
		return nil, newError(KindConflict, "user is not in the group")
	}
	if chat.IsAdmin(userID) {
		return nil, newError(KindValidation, "admin cannot be removed from the group")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).Delete(&model.ChatMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return newError(KindConflict, "user is not in the group")
		}
		return touch(tx, chatID)
	})
	if err != nil {
		return nil, storeError(err, "chat")
	}
	return s.load(ctx, chatID)
}

// Get returns a chat with its members.
func (s *ChatService) Get(ctx context.Context, chatID string) (*model.Chat, error) {
	return s.load(ctx, chatID)
}

// Members returns the member ids of a chat in insertion order.
func (s *ChatService) Members(ctx context.Context, chatID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.ChatMember{}).
		Where("chat_id = ?", chatID).
		Order("position asc").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, storeError(err, "chat members")
	}
	if len(ids) == 0 {
		return nil, newError(KindNotFound, "chat not found")
	}
	return ids, nil
}

// authorize loads the chat's membership and checks that requester is in it.
func (s *ChatService) authorize(ctx context.Context, chatID, requester string) (*model.Chat, error) {
	chat := new(model.Chat)
	err := s.db.WithContext(ctx).
		Preload("Members").
		First(chat, "id = ?", chatID).Error
	if err != nil {
		return nil, storeError(err, "chat")
	}
	if !chat.HasMember(requester) {
		return nil, newError(KindForbidden, "you are not part of this chat")
	}
	return chat, nil
}

func (s *ChatService) load(ctx context.Context, chatID string) (*model.Chat, error) {
	chat := new(model.Chat)
	if err := s.withMembers(s.db.WithContext(ctx)).First(chat, "id = ?", chatID).Error; err != nil {
		return nil, storeError(err, "chat")
	}
	if err := s.attachLastMessages(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *ChatService) withMembers(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		Preload("Members.User")
}

func (s *ChatService) attachLastMessages(ctx context.Context, chats ...*model.Chat) error {
	var ids []string
	for _, c := range chats {
		if c.LastMessageID != nil {
			ids = append(ids, *c.LastMessageID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var messages []model.Message
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Preload("Reads").
		Where("id IN ?", ids).
		Find(&messages).Error
	if err != nil {
		return storeError(err, "messages")
	}

	byID := make(map[string]*model.Message, len(messages))
	for i := range messages {
		byID[messages[i].ID] = &messages[i]
	}
	for _, c := range chats {
		if c.LastMessageID != nil {
			c.LastMessage = byID[*c.LastMessageID]
		}
	}
	return nil
}

func (s *ChatService) requireUsers(ctx context.Context, ids ...string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return storeError(err, "users")
	}
	if int(count) != len(ids) {
		return newError(KindNotFound, "user not found")
	}
	return nil
}

func touch(tx *gorm.DB, chatID string) error {
	return tx.Model(&model.Chat{}).Where("id = ?", chatID).Update("updated_at", time.Now()).Error
}

// distinct drops empty and repeated ids, keeping first occurrences in order.
func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
