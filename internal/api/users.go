package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// User is one row of the user list.
type User struct {
	ID           int64    `json:"id"`
	Username     string   `json:"username"`
	CrashesCount int      `json:"crashesCount"`
	Roles        []string `json:"roles,omitempty"`
}

// UserUpdate carries the mutable fields of a user record. Nil fields are
// omitted from the request and left unchanged by the server.
type UserUpdate struct {
	Username *string  `json:"username,omitempty"`
	Password *string  `json:"password,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// Users lists users, optionally filtered by a search query.
func (c *Client) Users(ctx context.Context, query string) ([]User, error) {
	path := "/users"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}

	var users []User
	if err := c.getJSON(ctx, path, &users); err != nil {
		return nil, err
	}

	return users, nil
}

// UserCrashes lists one user's crash reports, paginated.
func (c *Client) UserCrashes(ctx context.Context, userID int64, page, size int) ([]CrashSummary, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var crashes []CrashSummary
	path := fmt.Sprintf("/users/%d/crashes?%s", userID, q.Encode())

	if err := c.getJSON(ctx, path, &crashes); err != nil {
		return nil, err
	}

	return crashes, nil
}

// AdminUsers lists users through the admin management surface.
func (c *Client) AdminUsers(ctx context.Context, query string) ([]User, error) {
	path := "/admin/users"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}

	var users []User
	if err := c.getJSON(ctx, path, &users); err != nil {
		return nil, err
	}

	return users, nil
}

// CreateUser creates a user account through the admin management surface.
func (c *Client) CreateUser(ctx context.Context, username, password string, roles []string) (*User, error) {
	body := struct {
		Username string   `json:"username"`
		Password string   `json:"password"`
		Roles    []string `json:"roles,omitempty"`
	}{Username: username, Password: password, Roles: roles}

	var user User
	if err := c.requestJSON(ctx, http.MethodPost, "/admin/users", body, &user); err != nil {
		return nil, err
	}

	return &user, nil
}

// UpdateUser applies a partial update to a user record.
func (c *Client) UpdateUser(ctx context.Context, userID int64, update UserUpdate) error {
	return c.requestJSON(ctx, http.MethodPut, fmt.Sprintf("/admin/users/%d", userID), update, nil)
}

// DeleteUser removes a user account.
func (c *Client) DeleteUser(ctx context.Context, userID int64) error {
	return c.requestJSON(ctx, http.MethodDelete, fmt.Sprintf("/admin/users/%d", userID), nil, nil)
}
