package jwtclaims

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeToken builds a signed token with the given claims. The signing key is
// irrelevant because this package never verifies signatures.
func makeToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	return tok
}

// makeRawToken assembles a token from a raw payload map with a garbage
// signature, for exercising structurally odd payloads.
func makeRawToken(t *testing.T, payload map[string]any) string {
	t.Helper()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	return header + "." + base64.RawURLEncoding.EncodeToString(body) + ".sig"
}

func TestDecode_FullClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	token := makeToken(t, jwt.MapClaims{
		"sub":    "alice",
		"userId": 42,
		"roles":  []string{"ROLE_ADMIN", "ROLE_USER"},
		"exp":    exp,
		"pwdVer": 3,
	})

	c, err := Decode(token)
	require.NoError(t, err)

	assert.Equal(t, "alice", c.Subject)
	assert.Equal(t, "42", c.UserID)
	assert.Equal(t, []string{"ROLE_ADMIN", "ROLE_USER"}, c.Roles)
	assert.Equal(t, exp, c.ExpiresAt.Unix())
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no delimiters", "nonsense"},
		{"two segments", "aaaa.bbbb"},
		{"bad base64 payload", "aaaa.!!!!.cccc"},
		{"payload not json", "aaaa." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".cccc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestIsExpired(t *testing.T) {
	past := makeToken(t, jwt.MapClaims{"sub": "a", "exp": time.Now().Add(-10 * time.Second).Unix()})
	future := makeToken(t, jwt.MapClaims{"sub": "a", "exp": time.Now().Add(time.Hour).Unix()})
	noExp := makeToken(t, jwt.MapClaims{"sub": "a"})

	assert.True(t, IsExpired(past))
	assert.False(t, IsExpired(future))
	assert.True(t, IsExpired(noExp), "token without exp claim is treated as expired")
	assert.True(t, IsExpired("garbage"), "undecodable token is treated as expired")
	assert.True(t, IsExpired(""))
}

func TestProjections_SafeDefaults(t *testing.T) {
	assert.Empty(t, Subject("garbage"))
	assert.Empty(t, UserID("garbage"))

	roles := Roles("garbage")
	require.NotNil(t, roles)
	assert.Empty(t, roles)
}

func TestUserID_Fallbacks(t *testing.T) {
	numeric := makeToken(t, jwt.MapClaims{"userId": 1234567})
	assert.Equal(t, "1234567", UserID(numeric))

	legacy := makeRawToken(t, map[string]any{"id": "u-55"})
	assert.Equal(t, "u-55", UserID(legacy))

	neither := makeToken(t, jwt.MapClaims{"sub": "bob"})
	assert.Empty(t, UserID(neither))
}

func TestRoles_SkipsNonStrings(t *testing.T) {
	token := makeRawToken(t, map[string]any{"roles": []any{"ROLE_USER", 7, ""}})
	assert.Equal(t, []string{"ROLE_USER"}, Roles(token))

	notAList := makeRawToken(t, map[string]any{"roles": "ROLE_USER"})
	assert.Empty(t, Roles(notAList))
}

func TestHasRole_PrefixForms(t *testing.T) {
	prefixed := makeToken(t, jwt.MapClaims{"roles": []string{"ROLE_ADMIN"}})
	bare := makeToken(t, jwt.MapClaims{"roles": []string{"ADMIN"}})

	assert.True(t, HasRole(prefixed, "ADMIN"))
	assert.True(t, HasRole(bare, "ADMIN"))
	assert.False(t, HasRole(prefixed, "USER"))

	assert.True(t, IsAdmin(prefixed))
	assert.True(t, IsAdmin(bare))
	assert.False(t, IsAdmin(makeToken(t, jwt.MapClaims{"roles": []string{"ROLE_USER"}})))
}

func TestHasAnyRole(t *testing.T) {
	token := makeToken(t, jwt.MapClaims{"roles": []string{"ROLE_USER"}})

	assert.True(t, HasAnyRole(token, "ADMIN", "USER"))
	assert.False(t, HasAnyRole(token, "ADMIN", "AUDITOR"))
	assert.False(t, HasAnyRole(token))
}
