package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nhle/zenkoo/internal/credential"
	"github.com/nhle/zenkoo/internal/model"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// Login exchanges credentials for a token pair and stores both tokens.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var tokens tokenPair
	err := c.do(ctx, http.MethodPost, "/users/login/",
		loginRequest{Email: email, Password: password}, &tokens, false)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	if tokens.Access == "" {
		return &AuthError{Message: "login response carried no access token"}
	}

	if err := c.tokens.Set(credential.AccessTokenKey, tokens.Access); err != nil {
		return err
	}
	if tokens.Refresh != "" {
		if err := c.tokens.Set(credential.RefreshTokenKey, tokens.Refresh); err != nil {
			return err
		}
	}
	return nil
}

// Profile returns the profile of the logged-in user.
func (c *Client) Profile(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := c.get(ctx, "/users/profile/", &user); err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	return &user, nil
}

// Logout forgets both stored tokens.
func (c *Client) Logout() error {
	if err := c.tokens.Delete(credential.AccessTokenKey); err != nil {
		return err
	}
	return c.tokens.Delete(credential.RefreshTokenKey)
}

// refresh obtains a new access token using the stored refresh token.
// stale is the access token the caller saw rejected; if another goroutine
// has already replaced it, no request is made.
func (c *Client) refresh(ctx context.Context, stale string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	current, err := c.tokens.Get(credential.AccessTokenKey)
	if err == nil && current != stale && !tokenExpired(current, c.now()) {
		return nil
	}

	refreshToken, err := c.tokens.Get(credential.RefreshTokenKey)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return &AuthError{Message: "session expired and no refresh token is stored"}
		}
		return fmt.Errorf("loading refresh token: %w", err)
	}

	var tokens tokenPair
	err = c.do(ctx, http.MethodPost, "/users/refresh/",
		refreshRequest{Refresh: refreshToken}, &tokens, false)
	if err != nil {
		if IsAuthError(err) {
			return err
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return &AuthError{Message: fmt.Sprintf("refreshing token: %v", err)}
		}
		return fmt.Errorf("refreshing token: %w", err)
	}
	if tokens.Access == "" {
		return &AuthError{Message: "refresh response carried no access token"}
	}

	if err := c.tokens.Set(credential.AccessTokenKey, tokens.Access); err != nil {
		return err
	}
	if tokens.Refresh != "" {
		if err := c.tokens.Set(credential.RefreshTokenKey, tokens.Refresh); err != nil {
			return err
		}
	}
	return nil
}
