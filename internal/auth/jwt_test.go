package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)

	token, err := svc.Generate("user_1", "a@x.com")
	require.NoError(t, err)

	userID, email, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user_1", userID)
	assert.Equal(t, "a@x.com", email)

	_, _, err = NewJWTService("other", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTExpiry(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	issued := time.Now()
	svc.now = func() time.Time { return issued }
	token, err := svc.Generate("user_1", "a@x.com")
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTRejectsOtherAlgorithms(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "user_1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
