package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"realtalk-service/model"
	"realtalk-service/utils"

	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var bcryptCost = 12

// TokenStore keeps the single valid refresh token of each user.
type TokenStore interface {
	SetRefresh(ctx context.Context, userID, token string) error
	// GetRefresh returns "" when the user has no stored token.
	GetRefresh(ctx context.Context, userID string) (string, error)
}

// RoleAssigner registers a user's role for route-level RBAC.
type RoleAssigner interface {
	AddGroupingPolicy(params ...interface{}) (bool, error)
}

// IdentityService issues and verifies credentials. It is the only component
// that knows about passwords and tokens; the rest of the service works with
// user ids resolved by Authenticate.
type IdentityService struct {
	db     *gorm.DB
	tokens TokenStore
	roles  RoleAssigner
	issuer string
	logger *zap.Logger
}

func NewIdentityService(db *gorm.DB, tokens TokenStore, roles RoleAssigner, issuer string, logger *zap.Logger) *IdentityService {
	return &IdentityService{db: db, tokens: tokens, roles: roles, issuer: issuer, logger: logger}
}

type SignupInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is what a successful sign-in returns.
type Session struct {
	Tokens *utils.Tokens `json:"tokens"`
	Otp    bool          `json:"2fa"`
}

func (s *IdentityService) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if name == "" || email == "" || in.Password == "" {
		return nil, newError(KindValidation, "name, email and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, newError(KindValidation, "invalid email address")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, storeError(err, "user")
	}
	if count > 0 {
		return nil, newError(KindConflict, "email is already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Message: "hash password", Err: err}
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: email,
		SecretSize:  15,
	})
	if err != nil {
		return nil, &Error{Kind: KindInternal, Message: "generate otp secret", Err: err}
	}

	user := &model.User{
		Name:      name,
		Email:     email,
		Password:  string(hash),
		Role:      "user",
		OtpSecret: key.Secret(),
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, storeError(err, "user")
	}

	if s.roles != nil {
		if _, err := s.roles.AddGroupingPolicy(user.ID, user.Role); err != nil {
			s.logger.Warn("role not registered", zap.String("user", user.ID), zap.Error(err))
		}
	}
	return user, nil
}

func (s *IdentityService) Signin(ctx context.Context, email, password string) (*Session, error) {
	user := new(model.User)
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(user).Error
	if err != nil {
		if KindOf(storeError(err, "user")) == KindNotFound {
			return nil, newError(KindAuthentication, "invalid login or password")
		}
		return nil, storeError(err, "user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, newError(KindAuthentication, "invalid login or password")
	}

	return s.issue(ctx, user.ID, user.OtpEnabled)
}

// Renew rotates a refresh token. Each refresh token is single use.
func (s *IdentityService) Renew(ctx context.Context, refresh string) (*Session, error) {
	claims, err := utils.CheckAndExtractTokenMetadata(refresh, "JWT_REFRESH_KEY")
	if err != nil {
		return nil, &Error{Kind: KindAuthentication, Message: "invalid token", Err: err}
	}

	stored, err := s.tokens.GetRefresh(ctx, claims.Id)
	if err != nil {
		return nil, storeError(err, "refresh token")
	}
	if stored != refresh {
		return nil, newError(KindAuthentication, "refresh token was already used")
	}

	return s.issue(ctx, claims.Id, claims.Otp)
}

// Authenticate resolves an access token to its user. Tokens still waiting for
// the second factor are refused.
func (s *IdentityService) Authenticate(ctx context.Context, credential string) (*model.User, error) {
	if credential == "" {
		return nil, newError(KindAuthentication, "token not provided")
	}
	claims, err := utils.CheckAndExtractTokenMetadata(credential, "JWT_ACCESS_KEY")
	if err != nil {
		return nil, &Error{Kind: KindAuthentication, Message: "invalid token", Err: err}
	}
	if claims.Otp {
		return nil, newError(KindAuthentication, "2FA required")
	}

	user := new(model.User)
	if err := s.db.WithContext(ctx).First(user, "id = ?", claims.Id).Error; err != nil {
		if KindOf(storeError(err, "user")) == KindNotFound {
			return nil, newError(KindAuthentication, "user not found")
		}
		return nil, storeError(err, "user")
	}
	return user, nil
}

// OtpSecret reveals the TOTP secret and provisioning url after re-checking the password.
func (s *IdentityService) OtpSecret(ctx context.Context, userID, password string) (string, string, error) {
	user, err := s.checkPassword(ctx, userID, password)
	if err != nil {
		return "", "", err
	}
	url := fmt.Sprintf("otpauth://totp/%s:%s?algorithm=SHA1&digits=6&issuer=%s&period=30&secret=%s",
		s.issuer,
		user.Email,
		s.issuer,
		user.OtpSecret,
	)
	return user.OtpSecret, url, nil
}

// OtpVerify enables 2FA once the user proves they hold the secret.
func (s *IdentityService) OtpVerify(ctx context.Context, userID, code string) error {
	user, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	if user.OtpEnabled {
		return newError(KindConflict, "2FA is already enabled")
	}
	if !totp.Validate(code, user.OtpSecret) {
		return newError(KindValidation, "invalid token")
	}
	return storeError(s.db.WithContext(ctx).Model(user).Update("otp_enabled", true).Error, "user")
}

// OtpValidate exchanges a half-authenticated session for full tokens.
func (s *IdentityService) OtpValidate(ctx context.Context, userID, code string) (*Session, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.OtpEnabled {
		return nil, newError(KindValidation, "2FA is disabled")
	}
	if !totp.Validate(code, user.OtpSecret) {
		return nil, newError(KindAuthentication, "invalid token")
	}
	return s.issue(ctx, user.ID, false)
}

func (s *IdentityService) OtpDisable(ctx context.Context, userID, password, code string) error {
	user, err := s.checkPassword(ctx, userID, password)
	if err != nil {
		return err
	}
	if !user.OtpEnabled {
		return newError(KindValidation, "2FA is not enabled")
	}
	if !totp.Validate(code, user.OtpSecret) {
		return newError(KindValidation, "invalid token")
	}
	return storeError(s.db.WithContext(ctx).Model(user).Update("otp_enabled", false).Error, "user")
}

func (s *IdentityService) issue(ctx context.Context, userID string, otp bool) (*Session, error) {
	tokens, err := utils.GenerateTokens(userID, otp)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Message: "generate tokens", Err: err}
	}
	if err := s.tokens.SetRefresh(ctx, userID, tokens.Refresh); err != nil {
		return nil, storeError(err, "refresh token")
	}
	return &Session{Tokens: tokens, Otp: otp}, nil
}

func (s *IdentityService) user(ctx context.Context, userID string) (*model.User, error) {
	user := new(model.User)
	if err := s.db.WithContext(ctx).First(user, "id = ?", userID).Error; err != nil {
		return nil, storeError(err, "user")
	}
	return user, nil
}

func (s *IdentityService) checkPassword(ctx context.Context, userID, password string) (*model.User, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, newError(KindAuthentication, "invalid password")
	}
	return user, nil
}
