// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package console holds the account model: users, subscription plans
// and quota state.
package console

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

// Error is the default error class for the console package.
var Error = errs.Class("console")

// ErrNoUser is returned when a user does not exist.
var ErrNoUser = errs.Class("user not found")

// User is an account that owns conversion jobs and their artifacts.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash []byte
	FullName     string
	Active       bool
	CreatedAt    time.Time
}

// Users is the user database.
//
// architecture: Database
type Users interface {
	// Get looks a user up by id.
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	// GetByEmail looks a user up by normalized email.
	GetByEmail(ctx context.Context, email string) (*User, error)
	// Insert creates a user.
	Insert(ctx context.Context, user *User) (*User, error)
	// Update persists mutable user fields.
	Update(ctx context.Context, user *User) error
	// Delete removes a user.
	Delete(ctx context.Context, id uuid.UUID) error
}
