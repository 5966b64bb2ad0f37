package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okazan/clauth/internal/apperrors"
	"github.com/okazan/clauth/internal/models"
)

// Bootstrap restores the session from the stored refresh token, once
// at startup. It fails open: whatever goes wrong, the process comes up
// signed out rather than erroring, and a token the server rejected is
// deleted so the next start skips the network entirely.
func (c *Client) Bootstrap(ctx context.Context) {
	refresh, err := c.secrets.Get(ctx)
	switch {
	case errors.Is(err, apperrors.ErrSecretNotFound):
		return
	case err != nil:
		c.logger.Warn("Failed to read refresh token, starting signed out", "error", err)
		return
	}

	teardown := func() {
		if err := c.secrets.Delete(ctx); err != nil {
			c.logger.Warn("Failed to delete refresh token", "error", err)
		}
		c.session.Clear()
	}

	pair, err := c.refreshCall(ctx, refresh)
	if err != nil {
		c.logger.Info("Stored session rejected, starting signed out", "error", err)
		teardown()
		return
	}

	if err := c.secrets.Set(ctx, pair.Refresh); err != nil {
		c.logger.Warn("Failed to persist refresh token, starting signed out", "error", err)
		teardown()
		return
	}

	var user models.User
	if err := c.call(ctx, http.MethodGet, "/v1/users/me", nil, &user, pair.Access); err != nil {
		c.logger.Warn("Failed to fetch current user, starting signed out", "error", err)
		teardown()
		return
	}

	c.session.Set(pair.Access, &user)
	c.logger.Debug("Session restored", "user_id", user.ID)
}
