// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sfsdb

import (
	"context"
	"database/sql"
	"errors"

	"storj.io/sfs/private/tagsql"
)

// CreateUser inserts a user.
func (db *DB) CreateUser(ctx context.Context, user User) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO users (user_id, tenant, display_name, user_email, suspended, max_buckets)
			VALUES (?, ?, ?, ?, ?, ?)
		`, user.ID, user.Tenant, user.DisplayName, user.Email, user.Suspended, user.MaxBuckets)
		return err
	})
	return ErrDatabase.Wrap(err)
}

// GetUser returns the user with id.
func (db *DB) GetUser(ctx context.Context, id string) (user User, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		var tenant, displayName, email sql.NullString
		err := conn.QueryRowContext(ctx, `
			SELECT user_id, tenant, display_name, user_email, suspended, max_buckets
			FROM users WHERE user_id = ?
		`, id).Scan(&user.ID, &tenant, &displayName, &email, &user.Suspended, &user.MaxBuckets)
		user.Tenant, user.DisplayName, user.Email = tenant.String, displayName.String, email.String
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound.New("user %q", id)
	}
	return user, ErrDatabase.Wrap(err)
}

// AddAccessKey registers an access key of a user.
func (db *DB) AddAccessKey(ctx context.Context, userID, accessKey string) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		_, err := conn.ExecContext(ctx, `INSERT INTO access_keys (access_key, user_id) VALUES (?, ?)`, accessKey, userID)
		return err
	})
	return ErrDatabase.Wrap(err)
}

// UserByAccessKey returns the id of the user owning accessKey.
func (db *DB) UserByAccessKey(ctx context.Context, accessKey string) (userID string, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		return conn.QueryRowContext(ctx, `SELECT user_id FROM access_keys WHERE access_key = ?`, accessKey).Scan(&userID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound.New("access key")
	}
	return userID, ErrDatabase.Wrap(err)
}
