package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// UserPage is one page of the account listing.
type UserPage struct {
	Users      []User `json:"users"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	TotalPages int    `json:"totalPages"`
}

// UpdateUserInput carries the fields of a partial account update.
// Nil fields are left unchanged.
type UpdateUserInput struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

// ListUsers returns a page of accounts, newest first.
//
// Parameters:
//   - page: 1-based page number; values below 1 select the first page
//   - limit: Page size; 0 selects the default, larger than 100 is clamped
func (s *Service) ListUsers(ctx context.Context, page, limit int) (*UserPage, error) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}

	total, err := s.users.Count(ctx)
	if err != nil {
		return nil, result.Wrap(result.CodeInternal, err, "counting users")
	}
	users, err := s.users.List(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, result.Wrap(result.CodeInternal, err, "listing users")
	}

	return &UserPage{
		Users:      users,
		Total:      total,
		Page:       page,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// GetUser loads one account. Missing IDs return ErrUserNotFound.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.Me(ctx, id)
}

// UpdateUser applies a partial update with the same rules as Register.
//
// Returns:
//   - *User: The stored account after the update
//   - error: Validation for bad input, ErrUserNotFound, ErrEmailExists
func (s *Service) UpdateUser(ctx context.Context, id string, in UpdateUserInput) (*User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if !IsValidUsername(username) {
			return nil, result.New(result.CodeValidation, "username must be 1-64 characters: letters, digits, dot, dash, underscore")
		}
		user.Username = username
	}
	if in.Email != nil {
		email, ok := NormaliseEmail(*in.Email)
		if !ok {
			return nil, result.New(result.CodeValidation, "a valid email is required")
		}
		user.Email = email
	}
	if in.Password != nil {
		if len(*in.Password) < minPasswordLength {
			return nil, result.Newf(result.CodeValidation, "password must be at least %d characters", minPasswordLength)
		}
		hash, err := HashPassword(*in.Password)
		if err != nil {
			return nil, result.Wrap(result.CodeInternal, err, "hashing password")
		}
		user.PasswordHash = hash
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, ErrEmailExists) || errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, result.Wrap(result.CodeInternal, err, "updating user")
	}

	s.logger.Info("user updated", "user_id", user.ID)
	return user, nil
}

// DeleteUser removes an account. Its subscriptions go with it.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return result.Wrap(result.CodeInternal, err, "deleting user")
	}
	s.logger.Info("user deleted", "user_id", id)
	return nil
}
