package service

import (
	"context"
	"net/mail"
	"strings"

	"realtalk-service/model"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewUserService(db *gorm.DB, logger *zap.Logger) *UserService {
	return &UserService{db: db, logger: logger}
}

func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	user := new(model.User)
	if err := s.db.WithContext(ctx).First(user, "id = ?", id).Error; err != nil {
		return nil, storeError(err, "user")
	}
	return user, nil
}

func (s *UserService) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user := new(model.User)
	err := s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(user).Error
	if err != nil {
		return nil, storeError(err, "user with this email")
	}
	return user, nil
}

type ProfileUpdate struct {
	Name     string
	Email    string
	Avatar   string
	Password string
}

// UpdateProfile overwrites the non-empty fields of in.
func (s *UserService) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (*model.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		user.Name = strings.TrimSpace(in.Name)
	}
	if in.Email != "" {
		email := strings.ToLower(strings.TrimSpace(in.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, newError(KindValidation, "invalid email address")
		}
		user.Email = email
	}
	if in.Avatar != "" {
		user.Avatar = in.Avatar
	}
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
		if err != nil {
			return nil, &Error{Kind: KindInternal, Message: "hash password", Err: err}
		}
		user.Password = string(hash)
	}

	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, storeError(err, "user")
	}
	return user, nil
}

// Search matches keyword against name or email, case-insensitively, and never
// returns the requester.
func (s *UserService) Search(ctx context.Context, requester, keyword string) ([]model.Profile, error) {
	query := s.db.WithContext(ctx).Where("id <> ?", requester)
	if keyword = strings.TrimSpace(keyword); keyword != "" {
		pattern := "%" + strings.ToLower(keyword) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern)
	}

	var users []model.User
	if err := query.Order("name asc").Limit(50).Find(&users).Error; err != nil {
		return nil, storeError(err, "users")
	}
	return profiles(users), nil
}

// SetOnline mirrors presence into the persisted user row.
func (s *UserService) SetOnline(ctx context.Context, id string, online bool) error {
	err := s.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("is_online", online).Error
	return storeError(err, "user")
}

func (s *UserService) profilesByID(ctx context.Context, ids []string) (map[string]model.Profile, error) {
	out := make(map[string]model.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, storeError(err, "users")
	}
	for i := range users {
		out[users[i].ID] = users[i].Profile()
	}
	return out, nil
}

func profiles(users []model.User) []model.Profile {
	out := make([]model.Profile, 0, len(users))
	for i := range users {
		out = append(out, users[i].Profile())
	}
	return out
}
