package client

import (
	"context"
	"net/http"
	"time"
)

type ProfileDetails struct {
	Avatar string `json:"avatar,omitempty"`
	Bio    string `json:"bio,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

type User struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Role      string         `json:"role"`
	Verified  bool           `json:"isVerified"`
	Active    bool           `json:"isActive"`
	LastLogin *time.Time     `json:"lastLogin"`
	Profile   ProfileDetails `json:"profile"`
	CreatedAt time.Time      `json:"createdAt"`
}

type Session struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"userAgent"`
	IPAddress string    `json:"ipAddress"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type AuthResult struct {
	User   User      `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ProfileUpdate struct {
	Name   *string `json:"name,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
	Bio    *string `json:"bio,omitempty"`
	Phone  *string `json:"phone,omitempty"`
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	var result AuthResult
	if err := c.send(ctx, http.MethodPost, "/auth/register", mustJSON(req), "", &result); err != nil {
		return AuthResult{}, err
	}
	c.startSession(result.Tokens)
	return result, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	var result AuthResult
	body := mustJSON(map[string]string{"email": email, "password": password})
	if err := c.send(ctx, http.MethodPost, "/auth/login", body, "", &result); err != nil {
		return AuthResult{}, err
	}
	c.startSession(result.Tokens)
	return result, nil
}

// Refresh forces a token refresh, sharing any refresh already in flight.
func (c *Client) Refresh(ctx context.Context) error {
	return c.refresh(ctx, c.tokens.Load().AccessToken)
}

// Logout ends the current session on the server. Local tokens are cleared
// even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.tokens.Clear()
	body := bodyFunc(func() any {
		return map[string]string{"refreshToken": c.tokens.Load().RefreshToken}
	})
	return c.authorized(ctx, http.MethodPost, "/auth/logout", body, nil)
}

func (c *Client) LogoutAll(ctx context.Context) error {
	defer c.tokens.Clear()
	return c.authorized(ctx, http.MethodPost, "/auth/logout-all", nil, nil)
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var data struct {
		User User `json:"user"`
	}
	if err := c.authorized(ctx, http.MethodGet, "/auth/me", nil, &data); err != nil {
		return User{}, err
	}
	return data.User, nil
}

func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (User, error) {
	var data struct {
		User User `json:"user"`
	}
	if err := c.authorized(ctx, http.MethodPut, "/auth/profile", update, &data); err != nil {
		return User{}, err
	}
	return data.User, nil
}

// ChangePassword ends every session server-side, so local tokens are cleared
// on success.
func (c *Client) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	err := c.authorized(ctx, http.MethodPut, "/auth/change-password", map[string]string{
		"currentPassword": currentPassword,
		"newPassword":     newPassword,
	}, nil)
	if err != nil {
		return err
	}
	c.tokens.Clear()
	return nil
}

func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var data struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.authorized(ctx, http.MethodGet, "/auth/sessions", nil, &data); err != nil {
		return nil, err
	}
	return data.Sessions, nil
}

func (c *Client) RevokeSession(ctx context.Context, sessionID string) error {
	return c.authorized(ctx, http.MethodDelete, "/auth/sessions/"+escape(sessionID), nil, nil)
}

func (c *Client) startSession(tokens TokenPair) {
	c.mu.Lock()
	c.refreshStreak = 0
	c.mu.Unlock()
	c.tokens.Save(tokens)
}
