// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package convertdb

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"geoconvert.io/geoconvert/console"
)

type usersDB struct {
	db *DB
}

const userColumns = `id, email, password_hash, full_name, active, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*console.User, error) {
	var user console.User
	var id string
	var hash string
	err := row.Scan(&id, &user.Email, &hash, &user.FullName, &user.Active, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	user.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = []byte(hash)
	return &user, nil
}

func (users *usersDB) Get(ctx context.Context, id uuid.UUID) (*console.User, error) {
	row := users.db.db.QueryRowContext(ctx, users.db.rebind(
		`SELECT `+userColumns+` FROM users WHERE id = ?`), id.String())

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, console.ErrNoUser.New("%s", id)
	}
	return user, Error.Wrap(err)
}

func (users *usersDB) GetByEmail(ctx context.Context, email string) (*console.User, error) {
	row := users.db.db.QueryRowContext(ctx, users.db.rebind(
		`SELECT `+userColumns+` FROM users WHERE email = ?`), normalizeEmail(email))

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, console.ErrNoUser.New("%s", email)
	}
	return user, Error.Wrap(err)
}

func (users *usersDB) Insert(ctx context.Context, user *console.User) (*console.User, error) {
	created := *user
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	created.Email = normalizeEmail(created.Email)

	_, err := users.db.db.ExecContext(ctx, users.db.rebind(
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		created.ID.String(), created.Email, string(created.PasswordHash),
		created.FullName, created.Active, created.CreatedAt)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &created, nil
}

func (users *usersDB) Update(ctx context.Context, user *console.User) error {
	_, err := users.db.db.ExecContext(ctx, users.db.rebind(
		`UPDATE users SET email = ?, password_hash = ?, full_name = ?, active = ? WHERE id = ?`),
		normalizeEmail(user.Email), string(user.PasswordHash),
		user.FullName, user.Active, user.ID.String())
	return Error.Wrap(err)
}

func (users *usersDB) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := users.db.db.ExecContext(ctx, users.db.rebind(
		`DELETE FROM users WHERE id = ?`), id.String())
	return Error.Wrap(err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
