package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService(t *testing.T) {
	service := NewService("", 0)
	assert.NotNil(t, service)
	assert.Equal(t, []byte(defaultSecret), service.jwtSecret)
	assert.Equal(t, 24*time.Hour, service.tokenExp)

	service = NewService("s3cret", time.Hour)
	assert.Equal(t, []byte("s3cret"), service.jwtSecret)
	assert.Equal(t, time.Hour, service.tokenExp)
}

func TestService_ValidateToken(t *testing.T) {
	service := NewService("s3cret", time.Hour)

	token, err := service.GenerateToken("user-1", "ana")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// Test valid token
	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "ana", claims.Username)
	assert.Greater(t, claims.Exp, time.Now().Unix())

	// Test token with Bearer prefix
	_, err = service.ValidateToken("Bearer " + token)
	assert.NoError(t, err)

	// Test invalid token
	_, err = service.ValidateToken("invalid-token")
	assert.Equal(t, ErrInvalidToken, err)

	// Test token signed with another secret
	other, err := NewService("other", time.Hour).GenerateToken("user-1", "ana")
	require.NoError(t, err)
	_, err = service.ValidateToken(other)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestService_ValidateToken_Expired(t *testing.T) {
	service := NewService("s3cret", time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user-1",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = service.ValidateToken(signed)
	assert.Equal(t, ErrExpiredToken, err)
}

func TestService_ValidateToken_MissingUser(t *testing.T) {
	service := NewService("s3cret", time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": "ana",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = service.ValidateToken(signed)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestService_ExtractTokenFromHeader(t *testing.T) {
	service := NewService("", 0)

	// Test valid header
	extracted, err := service.ExtractTokenFromHeader("Bearer valid-token")
	assert.NoError(t, err)
	assert.Equal(t, "valid-token", extracted)

	// Test empty header
	_, err = service.ExtractTokenFromHeader("")
	assert.Equal(t, ErrInvalidToken, err)

	// Test invalid format
	_, err = service.ExtractTokenFromHeader("InvalidFormat")
	assert.Equal(t, ErrInvalidToken, err)

	// Test missing token
	_, err = service.ExtractTokenFromHeader("Bearer ")
	assert.Equal(t, ErrInvalidToken, err)
}
