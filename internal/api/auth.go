package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/crashpusher/crashctl/internal/jwtclaims"
)

// AuthResponse is the JSON shape of the auth endpoints
// (/auth/login, /auth/register/user, /auth/refresh).
type AuthResponse struct {
	Token    string   `json:"token"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Message  string   `json:"message"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates with the server and stores the returned token in the
// slot. Any previously stored token is discarded first: a fresh login always
// starts a fresh session.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	if err := c.tokens.Clear(); err != nil {
		return nil, fmt.Errorf("api: clearing previous session: %w", err)
	}

	return c.authenticate(ctx, "/auth/login", username, password)
}

// RegisterUser creates a new account and stores the returned token.
func (c *Client) RegisterUser(ctx context.Context, username, password string) (*AuthResponse, error) {
	return c.authenticate(ctx, "/auth/register/user", username, password)
}

type adminRegistrationRequest struct {
	ConfirmationToken string `json:"confirmationToken"`
	Username          string `json:"username"`
	Password          string `json:"password"`
}

// GenerateAdminToken asks the server to issue an admin confirmation token.
// The token itself is delivered out of band (the server posts it to the
// operators' Discord channel); only a status message comes back.
func (c *Client) GenerateAdminToken(ctx context.Context) (string, error) {
	var ar AuthResponse
	if err := c.requestJSON(ctx, http.MethodPost, "/auth/generate-admin-token", nil, &ar); err != nil {
		return "", err
	}

	return ar.Message, nil
}

// ValidateAdminToken checks a confirmation token without consuming it.
// An invalid token comes back as a 400, surfaced as ErrBadRequest.
func (c *Client) ValidateAdminToken(ctx context.Context, confirmationToken string) error {
	path := "/auth/validate-admin-token?token=" + url.QueryEscape(confirmationToken)

	return c.requestJSON(ctx, http.MethodPost, path, nil, nil)
}

// RegisterAdmin creates an administrator account using an out-of-band
// confirmation token and stores the returned session token.
func (c *Client) RegisterAdmin(ctx context.Context, confirmationToken, username, password string) (*AuthResponse, error) {
	body, err := json.Marshal(adminRegistrationRequest{
		ConfirmationToken: confirmationToken,
		Username:          username,
		Password:          password,
	})
	if err != nil {
		return nil, fmt.Errorf("api: encoding registration: %w", err)
	}

	return c.authPost(ctx, "/auth/register/admin", body)
}

func (c *Client) authenticate(ctx context.Context, path, username, password string) (*AuthResponse, error) {
	body, err := json.Marshal(credentialsRequest{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("api: encoding credentials: %w", err)
	}

	return c.authPost(ctx, path, body)
}

// authPost posts a JSON body to an auth endpoint and stores the returned
// session token.
func (c *Client) authPost(ctx context.Context, path string, body []byte) (*AuthResponse, error) {
	resp, err := c.Do(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ar AuthResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&ar); decErr != nil {
		return nil, fmt.Errorf("api: decoding auth response: %w", decErr)
	}

	if ar.Token == "" {
		return nil, fmt.Errorf("api: %s returned no token: %s", path, ar.Message)
	}

	if saveErr := c.tokens.Set(ar.Token, authMeta(&ar)); saveErr != nil {
		return nil, fmt.Errorf("api: saving token: %w", saveErr)
	}

	c.logger.Info("authenticated",
		slog.String("username", ar.Username),
		slog.Int("roles", len(ar.Roles)),
	)

	return &ar, nil
}

// Logout clears the token slot. Idempotent; the server holds no session state
// to revoke.
func (c *Client) Logout() error {
	if err := c.tokens.Clear(); err != nil {
		return fmt.Errorf("api: clearing token: %w", err)
	}

	c.logger.Info("logged out")

	return nil
}

// WhoAmI projects the stored token's claims. Returns nil when logged out or
// when the stored token is malformed.
func (c *Client) WhoAmI() *jwtclaims.Claims {
	token := c.tokens.Token()
	if token == "" {
		return nil
	}

	claims, err := jwtclaims.Decode(token)
	if err != nil {
		return nil
	}

	return claims
}

// refreshRequest calls POST /auth/refresh with the given bearer token.
// It deliberately bypasses the Do pipeline: a refresh must never trigger
// another refresh. 401 maps to ErrRefreshUnauthorized (hard failure); every
// other failure maps to ErrRefreshFailed (soft).
func (c *Client) refreshRequest(ctx context.Context, oldToken string) (string, map[string]string, error) {
	resp, err := c.doOnce(ctx, http.MethodPost, "/auth/refresh", "", nil, oldToken, uuid.NewString())
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message
		return "", nil, fmt.Errorf("%w: %s", ErrRefreshUnauthorized, strings.TrimSpace(string(body)))
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message
		return "", nil, fmt.Errorf("%w: HTTP %d: %s", ErrRefreshFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ar AuthResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&ar); decErr != nil {
		return "", nil, fmt.Errorf("%w: decoding response: %w", ErrRefreshFailed, decErr)
	}

	if ar.Token == "" {
		return "", nil, fmt.Errorf("%w: no token in response", ErrRefreshFailed)
	}

	return ar.Token, authMeta(&ar), nil
}

// authMeta caches the response's username and roles alongside the token so
// the CLI can display identity without decoding the JWT.
func authMeta(ar *AuthResponse) map[string]string {
	meta := map[string]string{}

	if ar.Username != "" {
		meta["username"] = ar.Username
	}

	if len(ar.Roles) > 0 {
		meta["roles"] = strings.Join(ar.Roles, ",")
	}

	if len(meta) == 0 {
		return nil
	}

	return meta
}
