package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestVerifier_Parse(t *testing.T) {
	v := NewVerifier("test-secret")

	token := signToken(t, "test-secret", jwt.MapClaims{
		"sub":  "42",
		"role": RoleStaff,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	principal, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), principal.ActorID)
	assert.Equal(t, RoleStaff, principal.Role)
	assert.True(t, principal.Elevated())
}

func TestVerifier_Parse_DefaultsToCustomer(t *testing.T) {
	v := NewVerifier("test-secret")

	token := signToken(t, "test-secret", jwt.MapClaims{
		"sub": "7",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	principal, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, principal.Role)
	assert.False(t, principal.Elevated())
}

func TestVerifier_Parse_Rejections(t *testing.T) {
	v := NewVerifier("test-secret")

	cases := map[string]string{
		"wrong secret": signToken(t, "other-secret", jwt.MapClaims{
			"sub": "42",
			"exp": time.Now().Add(time.Hour).Unix(),
		}),
		"expired": signToken(t, "test-secret", jwt.MapClaims{
			"sub": "42",
			"exp": time.Now().Add(-time.Hour).Unix(),
		}),
		"missing subject": signToken(t, "test-secret", jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}),
		"non-numeric subject": signToken(t, "test-secret", jwt.MapClaims{
			"sub": "alice",
			"exp": time.Now().Add(time.Hour).Unix(),
		}),
		"garbage": "not.a.token",
	}

	for name, token := range cases {
		_, err := v.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestVerifier_Parse_NoSecretConfigured(t *testing.T) {
	v := NewVerifier("")
	_, err := v.Parse("anything")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
