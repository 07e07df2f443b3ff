package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

type userResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

func (c *Client) getUser(ctx context.Context, email string) (*userResponse, error) {
	var u userResponse
	if err := c.do(ctx, retryReads, http.MethodGet, "/users/email/"+url.PathEscape(email), nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser creates the backend user unless one with the same email already exists.
func (c *Client) UpsertUser(ctx context.Context, reg models.Registration) error {
	if reg.Email == "" {
		return errors.New("backend: registration email is empty")
	}
	_, err := c.getUser(ctx, reg.Email)
	if err == nil {
		slog.Debug("backend.UpsertUser: user exists", "email", reg.Email)
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("look up user: %w", err)
	}

	password := reg.Password
	if password == "" {
		password = GeneratePassword()
	}
	body := createUserRequest{Email: reg.Email, Password: password, FullName: reg.FullName}
	if err := c.do(ctx, retryDialOnly, http.MethodPost, "/users", nil, body, nil); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	slog.Info("backend.UpsertUser: user created", "email", reg.Email)
	return nil
}

// UpsertProfile creates the profile when absent and patches the supplied fields otherwise.
func (c *Client) UpsertProfile(ctx context.Context, email string, profile models.ProfileRecord) error {
	u, err := c.getUser(ctx, email)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	path := fmt.Sprintf("/users/%d/profile", u.ID)

	err = c.do(ctx, retryReads, http.MethodGet, path, nil, nil, nil)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := c.do(ctx, retryDialOnly, http.MethodPost, path, nil, profile, nil); err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
		slog.Info("backend.UpsertProfile: profile created", "email", email, "minimal", profile.IsMinimal())
	case err != nil:
		return fmt.Errorf("look up profile: %w", err)
	default:
		if err := c.do(ctx, retryDialOnly, http.MethodPatch, path, nil, profile, nil); err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		slog.Info("backend.UpsertProfile: profile updated", "email", email, "minimal", profile.IsMinimal())
	}
	return nil
}

// GetProfile reads back the stored profile, used for the preferred language of follow-ups.
func (c *Client) GetProfile(ctx context.Context, email string) (*models.RemoteProfile, error) {
	var p models.RemoteProfile
	if err := c.do(ctx, retryReads, http.MethodGet, "/profiles/email/"+url.PathEscape(email), nil, nil, &p); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}
