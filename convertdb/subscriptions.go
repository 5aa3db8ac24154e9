// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package convertdb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"geoconvert.io/geoconvert/console"
)

type subscriptionsDB struct {
	db *DB
}

func (subs *subscriptionsDB) Get(ctx context.Context, userID uuid.UUID) (*console.Subscription, error) {
	sub := console.Subscription{UserID: userID}
	var plan string
	err := subs.db.db.QueryRowContext(ctx, subs.db.rebind(
		`SELECT plan, conversions_used, period_start, period_end
		 FROM subscriptions WHERE user_id = ?`), userID.String(),
	).Scan(&plan, &sub.ConversionsUsed, &sub.PeriodStart, &sub.PeriodEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Error.New("no subscription for user %s", userID)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	sub.Plan, err = console.ParsePlan(plan)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (subs *subscriptionsDB) Insert(ctx context.Context, sub *console.Subscription) error {
	_, err := subs.db.db.ExecContext(ctx, subs.db.rebind(
		`INSERT INTO subscriptions (user_id, plan, conversions_used, period_start, period_end)
		 VALUES (?, ?, ?, ?, ?)`),
		sub.UserID.String(), string(sub.Plan), sub.ConversionsUsed,
		sub.PeriodStart, sub.PeriodEnd)
	return Error.Wrap(err)
}

func (subs *subscriptionsDB) Update(ctx context.Context, sub *console.Subscription) error {
	_, err := subs.db.db.ExecContext(ctx, subs.db.rebind(
		`UPDATE subscriptions
		 SET plan = ?, conversions_used = ?, period_start = ?, period_end = ?
		 WHERE user_id = ?`),
		string(sub.Plan), sub.ConversionsUsed, sub.PeriodStart, sub.PeriodEnd,
		sub.UserID.String())
	return Error.Wrap(err)
}
