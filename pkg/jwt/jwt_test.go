package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing-purposes"

func TestNewJWTManager(t *testing.T) {
	manager := NewJWTManager(testSecret, "medipredict-api", 15*time.Minute)

	assert.NotNil(t, manager)
	assert.Equal(t, testSecret, manager.secretKey)
	assert.Equal(t, "medipredict-api", manager.audience)
	assert.Equal(t, 15*time.Minute, manager.accessTokenDuration)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewJWTManager(testSecret, "medipredict-api", 15*time.Minute)

	token, err := manager.GenerateAccessToken("doc1", "clinician")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	require.NoError(t, err)
	assert.Equal(t, "doc1", claims.ParticipantID())
	assert.Equal(t, "clinician", claims.Role)
	assert.Equal(t, "medipredict-auth", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt.Time))
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	manager := NewJWTManager(testSecret, "medipredict-api", time.Nanosecond)

	token, err := manager.GenerateAccessToken("doc1", "clinician")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	claims, err := manager.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_InvalidToken(t *testing.T) {
	manager := NewJWTManager(testSecret, "medipredict-api", 15*time.Minute)

	claims, err := manager.ValidateToken("invalid.token.here")

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := NewJWTManager("secret-1", "medipredict-api", 15*time.Minute).GenerateAccessToken("doc1", "clinician")
	require.NoError(t, err)

	claims, err := NewJWTManager("secret-2", "medipredict-api", 15*time.Minute).ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_WrongAudience(t *testing.T) {
	token, err := NewJWTManager(testSecret, "billing-api", 15*time.Minute).GenerateAccessToken("doc1", "clinician")
	require.NoError(t, err)

	claims, err := NewJWTManager(testSecret, "medipredict-api", 15*time.Minute).ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_MissingSubject(t *testing.T) {
	claims := &Claims{
		Role: "patient",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			Audience:  jwt.ClaimStrings{"medipredict-api"},
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	parsed, err := NewJWTManager(testSecret, "medipredict-api", time.Minute).ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, parsed)
}

func TestExtractTokenID(t *testing.T) {
	manager := NewJWTManager(testSecret, "medipredict-api", 15*time.Minute)
	token, err := manager.GenerateAccessToken("pat1", "patient")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)

	id, err := ExtractTokenID(token)
	assert.NoError(t, err)
	assert.Equal(t, claims.ID, id)

	_, err = ExtractTokenID("garbage")
	assert.Error(t, err)
}

func TestValidateToken_NoSecretConfigured(t *testing.T) {
	signer := NewJWTManager(testSecret, "medipredict-api", 15*time.Minute)
	token, err := signer.GenerateAccessToken("doc1", "clinician")
	require.NoError(t, err)

	_, err = NewJWTManager("", "medipredict-api", 15*time.Minute).ValidateToken(token)
	assert.Error(t, err)
}
