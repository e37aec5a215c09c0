package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"realtalk-service/event"
	"realtalk-service/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FriendService drives the friend-request state machine. Every pair of users
// has at most one relationship row, so each transition is a single-row write
// and needs no cross-record transaction.
type FriendService struct {
	db        *gorm.DB
	users     *UserService
	publisher event.Publisher
	logger    *zap.Logger
}

func NewFriendService(db *gorm.DB, users *UserService, publisher event.Publisher, logger *zap.Logger) *FriendService {
	return &FriendService{db: db, users: users, publisher: publisher, logger: logger}
}

// RequestTarget names the recipient of a friend request by id or by email.
type RequestTarget struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// FriendEvent is the payload of the friend.* events.
type FriendEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SendRequest records a pending request from requester to target and returns
// the target's profile.
func (s *FriendService) SendRequest(ctx context.Context, requester string, target RequestTarget) (*model.Profile, error) {
	recipient, err := s.resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	if recipient.ID == requester {
		return nil, newError(KindValidation, "you cannot send a friend request to yourself")
	}

	low, high := model.PairOf(requester, recipient.ID)
	existing := new(model.Friendship)
	err = s.db.WithContext(ctx).First(existing, "user_low = ? AND user_high = ?", low, high).Error
	switch {
	case err == nil && existing.Status == model.FriendshipAccepted:
		return nil, newError(KindConflict, "you are already friends with this user")
	case err == nil:
		return nil, newError(KindConflict, "friend request already sent")
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, storeError(err, "friendship")
	}

	row := &model.Friendship{
		UserLow:     low,
		UserHigh:    high,
		RequesterID: requester,
		Status:      model.FriendshipPending,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, newError(KindConflict, "friend request already sent")
		}
		return nil, storeError(err, "friendship")
	}

	s.publisher.Publish(ctx, event.ActionFriendRequested, FriendEvent{From: requester, To: recipient.ID})
	profile := recipient.Profile()
	return &profile, nil
}

// AcceptRequest turns the incoming request from requesterID into a friendship.
func (s *FriendService) AcceptRequest(ctx context.Context, accepter, requesterID string) error {
	low, high := model.PairOf(accepter, requesterID)
	res := s.db.WithContext(ctx).
		Model(&model.Friendship{}).
		Where("user_low = ? AND user_high = ? AND requester_id = ? AND status = ?",
			low, high, requesterID, model.FriendshipPending).
		Where("requester_id <> ?", accepter).
		Updates(map[string]any{"status": model.FriendshipAccepted, "updated_at": time.Now()})
	if res.Error != nil {
		return storeError(res.Error, "friendship")
	}
	if res.RowsAffected == 0 {
		return newError(KindValidation, "no friend request found from this user")
	}

	s.publisher.Publish(ctx, event.ActionFriendAccepted, FriendEvent{From: accepter, To: requesterID})
	return nil
}

// RejectRequest drops the incoming request from requesterID on both sides.
func (s *FriendService) RejectRequest(ctx context.Context, rejecter, requesterID string) error {
	low, high := model.PairOf(rejecter, requesterID)
	res := s.db.WithContext(ctx).
		Where("user_low = ? AND user_high = ? AND requester_id = ? AND status = ?",
			low, high, requesterID, model.FriendshipPending).
		Where("requester_id <> ?", rejecter).
		Delete(&model.Friendship{})
	if res.Error != nil {
		return storeError(res.Error, "friendship")
	}
	if res.RowsAffected == 0 {
		return newError(KindValidation, "no friend request found from this user")
	}

	s.publisher.Publish(ctx, event.ActionFriendRejected, FriendEvent{From: rejecter, To: requesterID})
	return nil
}

// ListRequests splits user's pending requests into incoming and outgoing,
// oldest first, with peer profiles attached.
func (s *FriendService) ListRequests(ctx context.Context, user string) (*model.FriendRequests, error) {
	rows, err := s.relations(ctx, user, model.FriendshipPending)
	if err != nil {
		return nil, err
	}
	peers, err := s.peerProfiles(ctx, user, rows)
	if err != nil {
		return nil, err
	}

	out := &model.FriendRequests{
		Incoming: []model.PendingRequest{},
		Outgoing: []model.PendingRequest{},
	}
	for _, row := range rows {
		peer, ok := peers[row.Peer(user)]
		if !ok {
			continue
		}
		if row.RequesterID == user {
			out.Outgoing = append(out.Outgoing, model.PendingRequest{User: peer, Status: model.Outgoing, CreatedAt: row.CreatedAt})
		} else {
			out.Incoming = append(out.Incoming, model.PendingRequest{User: peer, Status: model.Incoming, CreatedAt: row.CreatedAt})
		}
	}
	return out, nil
}

// ListFriends returns the profiles of user's friends sorted by name.
func (s *FriendService) ListFriends(ctx context.Context, user string) ([]model.Profile, error) {
	rows, err := s.relations(ctx, user, model.FriendshipAccepted)
	if err != nil {
		return nil, err
	}
	peers, err := s.peerProfiles(ctx, user, rows)
	if err != nil {
		return nil, err
	}

	friends := make([]model.Profile, 0, len(peers))
	for _, p := range peers {
		friends = append(friends, p)
	}
	sort.Slice(friends, func(i, j int) bool {
		if friends[i].Name != friends[j].Name {
			return friends[i].Name < friends[j].Name
		}
		return friends[i].ID < friends[j].ID
	})
	return friends, nil
}

func (s *FriendService) resolve(ctx context.Context, target RequestTarget) (*model.User, error) {
	switch {
	case strings.TrimSpace(target.Email) != "":
		return s.users.FindByEmail(ctx, target.Email)
	case target.UserID != "":
		return s.users.Get(ctx, target.UserID)
	}
	return nil, newError(KindValidation, "please provide userId or email")
}

func (s *FriendService) relations(ctx context.Context, user string, status model.FriendshipStatus) ([]model.Friendship, error) {
	var rows []model.Friendship
	err := s.db.WithContext(ctx).
		Where("(user_low = ? OR user_high = ?) AND status = ?", user, user, status).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, storeError(err, "friendships")
	}
	return rows, nil
}

func (s *FriendService) peerProfiles(ctx context.Context, user string, rows []model.Friendship) (map[string]model.Profile, error) {
	ids := make([]string, 0, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].Peer(user))
	}
	return s.users.profilesByID(ctx, ids)
}
