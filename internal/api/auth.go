package api

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/okazan/clauth/internal/models"
)

var validate = validator.New()

func init() {
	// Report on 'TagName' json tag instead of struct name
	// Look at documentation of 'RegisterTagNameFunc' for more details
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		// skip if tag key says it should be ignored
		if name == "-" {
			return ""
		}
		return name
	})
}

// authResponse is what register, login and refresh respond with
// (refresh omits the user)
type authResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

// Register creates an account and signs the session in. No session or
// secret-store state is touched unless the server accepted the request.
func (c *Client) Register(ctx context.Context, email string, password string, name string) (models.User, error) {
	type registerRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8"`
		Name     string `json:"name" validate:"required"`
	}

	req := registerRequest{Email: email, Password: password, Name: name}
	if err := validate.Struct(req); err != nil {
		return models.User{}, fmt.Errorf("invalid registration data: %w", err)
	}

	var resp authResponse
	if err := c.call(ctx, http.MethodPost, "/v1/auth/register", req, &resp, ""); err != nil {
		return models.User{}, err
	}

	return c.establishSession(ctx, resp)
}

// Login authenticates with email and password and signs the session in
func (c *Client) Login(ctx context.Context, email string, password string) (models.User, error) {
	type loginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	req := loginRequest{Email: email, Password: password}
	if err := validate.Struct(req); err != nil {
		return models.User{}, fmt.Errorf("invalid login data: %w", err)
	}

	var resp authResponse
	if err := c.call(ctx, http.MethodPost, "/v1/auth/login", req, &resp, ""); err != nil {
		return models.User{}, err
	}

	return c.establishSession(ctx, resp)
}

// establishSession persists the refresh token, then populates the
// session cache. Storage first: the cache is cheap to rebuild, the
// durable token is not.
func (c *Client) establishSession(ctx context.Context, resp authResponse) (models.User, error) {
	if err := c.secrets.Set(ctx, resp.RefreshToken); err != nil {
		return models.User{}, fmt.Errorf("failed to persist refresh token: %w", err)
	}
	c.session.Set(resp.AccessToken, resp.User)

	if resp.User == nil {
		return models.User{}, nil
	}
	return *resp.User, nil
}

// Me fetches the current user and updates the cached identity. This is
// the only endpoint besides login/register/bootstrap that may touch
// the cached user.
func (c *Client) Me(ctx context.Context) (models.User, error) {
	var user models.User
	if err := c.Do(ctx, http.MethodGet, "/v1/users/me", nil, &user); err != nil {
		return models.User{}, err
	}

	c.session.Set(c.session.Snapshot().AccessToken, &user)
	return user, nil
}

// Logout notifies the server best-effort, then unconditionally tears
// down local state. It never fails from the caller's perspective.
func (c *Client) Logout(ctx context.Context) {
	refresh, err := c.secrets.Get(ctx)
	if err == nil {
		type logoutRequest struct {
			RefreshToken string `json:"refresh_token"`
		}

		if err := c.call(ctx, http.MethodPost, "/v1/auth/logout", logoutRequest{RefreshToken: refresh}, nil, ""); err != nil {
			c.logger.Warn("Logout request failed", "error", err)
		}
	}

	if err := c.secrets.Delete(ctx); err != nil {
		c.logger.Warn("Failed to delete refresh token", "error", err)
	}
	c.session.Clear()
}

// Health checks the API without auth and without the refresh protocol
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/healthz", nil, nil, "")
}
