package utils

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"realtalk-service/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Tokens struct to describe tokens object.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// TokenMetadata struct to describe metadata in JWT.
type TokenMetadata struct {
	Id  string
	Otp bool
	Exp int64
}

var ErrInvalidToken = errors.New("invalid token")

// GenerateTokens mints an access and a refresh token for id. otp marks tokens
// that still need a second factor before they grant access.
func GenerateTokens(id string, otp bool) (*Tokens, error) {
	accessToken, err := generateToken(id, otp, "JWT_ACCESS_EXPIRE", "JWT_ACCESS_KEY")
	if err != nil {
		return nil, err
	}

	refreshToken, err := generateToken(id, otp, "JWT_REFRESH_EXPIRE", "JWT_REFRESH_KEY")
	if err != nil {
		return nil, err
	}

	return &Tokens{
		Access:  accessToken,
		Refresh: refreshToken,
	}, nil
}

func generateToken(id string, otp bool, expire string, key string) (string, error) {
	minutesCount, err := strconv.Atoi(config.Config(expire))
	if err != nil || minutesCount <= 0 {
		minutesCount = 60
	}

	// jti keeps two tokens minted in the same second distinct, which refresh
	// rotation depends on.
	claims := jwt.MapClaims{
		"id":  id,
		"otp": otp,
		"exp": time.Now().Add(time.Minute * time.Duration(minutesCount)).Unix(),
		"jti": uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString([]byte(config.Config(key)))
}

// CheckAndExtractTokenMetadata verifies signature and expiry of token against
// the secret stored under the key env variable.
func CheckAndExtractTokenMetadata(token string, key string) (*TokenMetadata, error) {
	t, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.Config(key)), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return nil, ErrInvalidToken
	}

	id, _ := claims["id"].(string)
	otp, _ := claims["otp"].(bool)
	exp, _ := claims["exp"].(float64)
	if id == "" {
		return nil, ErrInvalidToken
	}

	return &TokenMetadata{
		Id:  id,
		Otp: otp,
		Exp: int64(exp),
	}, nil
}
