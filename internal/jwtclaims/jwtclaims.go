// Package jwtclaims extracts claims from the platform's JWT access tokens.
// The client never verifies signatures; the server is the authority on token
// validity; this package only reads the payload for display and for proactive
// expiry checks. This is a leaf package imported by both api/ and the CLI.
package jwtclaims

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned by Decode for any structurally invalid token.
// Check with errors.Is. Dependents treat malformed tokens as expired.
var ErrMalformed = errors.New("jwtclaims: malformed token")

// rolePrefix is prepended to role names by Spring Security on the server.
// Role checks accept both bare and prefixed forms.
const rolePrefix = "ROLE_"

// Claims holds the semantic fields the client cares about. All other payload
// claims (pwdVer, iat, ...) are ignored.
type Claims struct {
	Subject   string
	UserID    string
	Roles     []string
	ExpiresAt time.Time // zero when the token carries no exp claim
}

// Decode parses a token's payload without verifying its signature.
// Any structural or parse failure is reported as ErrMalformed.
func Decode(token string) (*Claims, error) {
	raw := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	c := &Claims{
		Subject: stringClaim(raw, "sub"),
		UserID:  idClaim(raw),
		Roles:   rolesClaim(raw),
	}

	if exp, err := raw.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}

	return c, nil
}

// IsExpired reports whether a token should be treated as expired.
// Fails safe: a token that cannot be decoded, or that carries no exp claim,
// counts as expired. Re-authentication is always preferable to trusting a
// malformed token.
func IsExpired(token string) bool {
	c, err := Decode(token)
	if err != nil {
		return true
	}

	if c.ExpiresAt.IsZero() {
		return true
	}

	return c.ExpiresAt.Before(time.Now())
}

// Subject returns the username claim, or "" for any invalid token.
func Subject(token string) string {
	c, err := Decode(token)
	if err != nil {
		return ""
	}

	return c.Subject
}

// UserID returns the user ID claim, or "" for any invalid token.
func UserID(token string) string {
	c, err := Decode(token)
	if err != nil {
		return ""
	}

	return c.UserID
}

// Roles returns the roles claim, or an empty slice for any invalid token.
// Never returns nil.
func Roles(token string) []string {
	c, err := Decode(token)
	if err != nil {
		return []string{}
	}

	return c.Roles
}

// HasRole reports whether the token carries the given role, accepting both
// the bare name and the server's ROLE_-prefixed form.
func HasRole(token, role string) bool {
	for _, r := range Roles(token) {
		if r == role || r == rolePrefix+role {
			return true
		}
	}

	return false
}

// IsAdmin reports whether the token carries the ADMIN role.
func IsAdmin(token string) bool {
	return HasRole(token, "ADMIN")
}

// HasAnyRole reports whether the token carries at least one of the given roles.
func HasAnyRole(token string, roles ...string) bool {
	for _, role := range roles {
		if HasRole(token, role) {
			return true
		}
	}

	return false
}

// stringClaim returns a top-level string claim, or "" when absent or not a string.
func stringClaim(raw jwt.MapClaims, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}

	return ""
}

// idClaim extracts the user ID from the userId claim, falling back to id.
// The server issues numeric IDs; older tokens used a string id claim, so both
// representations are accepted.
func idClaim(raw jwt.MapClaims) string {
	for _, key := range []string{"userId", "id"} {
		switch v := raw[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int64:
			return strconv.FormatInt(v, 10)
		}
	}

	return ""
}

// rolesClaim extracts the roles claim. Non-string entries are skipped.
// Never returns nil.
func rolesClaim(raw jwt.MapClaims) []string {
	roles := []string{}

	list, ok := raw["roles"].([]any)
	if !ok {
		return roles
	}

	for _, entry := range list {
		if s, ok := entry.(string); ok && strings.TrimSpace(s) != "" {
			roles = append(roles, s)
		}
	}

	return roles
}
