// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/models"
)

const maxNameLength = 100

// Register returns the user with this email, creating it if needed. An
// existing user takes the new name.
// created reports whether a new user was inserted.
func Register(ctx context.Context, q db.Querier, name, email string, now time.Time) (user models.User, created bool, err error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return models.User{}, false, models.Newf(models.ErrValidation, "name is required")
	}
	if len(name) > maxNameLength {
		return models.User{}, false, models.Newf(models.ErrValidation, "name cannot exceed %d characters", maxNameLength)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return models.User{}, false, models.Newf(models.ErrValidation, "invalid email address")
	}

	user, err = scan(q.QueryRowContext(ctx,
		`SELECT id, name, email, created_at, last_active FROM users WHERE email = ?`, email))
	if err == nil {
		_, err = q.ExecContext(ctx, `UPDATE users SET name = ?, last_active = ? WHERE id = ?`, name, db.Millis(now), user.ID)
		if err != nil {
			return models.User{}, false, fmt.Errorf("update user: %w", err)
		}
		user.Name = name
		user.LastActive = db.FromMillis(db.Millis(now))
		return user, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.User{}, false, fmt.Errorf("query user: %w", err)
	}

	user = models.User{
		ID:         uuid.NewString(),
		Name:       name,
		Email:      email,
		CreatedAt:  db.FromMillis(db.Millis(now)),
		LastActive: db.FromMillis(db.Millis(now)),
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO users (id, name, email, created_at, last_active)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Name, user.Email, db.Millis(now), db.Millis(now))
	if err != nil {
		return models.User{}, false, fmt.Errorf("insert user: %w", err)
	}
	return user, true, nil
}

// Get returns a user by ID.
func Get(ctx context.Context, q db.Querier, id string) (models.User, error) {
	user, err := scan(q.QueryRowContext(ctx,
		`SELECT id, name, email, created_at, last_active FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, models.Newf(models.ErrNotFound, "user not found")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func scan(row *sql.Row) (models.User, error) {
	var u models.User
	var createdAt, lastActive int64
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &createdAt, &lastActive); err != nil {
		return models.User{}, err
	}
	u.CreatedAt = db.FromMillis(createdAt)
	u.LastActive = db.FromMillis(lastActive)
	return u, nil
}
