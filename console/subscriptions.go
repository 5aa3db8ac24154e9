// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package console

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlanType identifies a subscription tier.
type PlanType string

const (
	PlanFree       PlanType = "free"
	PlanStarter    PlanType = "starter"
	PlanPro        PlanType = "pro"
	PlanEnterprise PlanType = "enterprise"
)

// ParsePlan validates a plan tag.
func ParsePlan(s string) (PlanType, error) {
	switch plan := PlanType(strings.ToLower(s)); plan {
	case PlanFree, PlanStarter, PlanPro, PlanEnterprise:
		return plan, nil
	default:
		return "", Error.New("unknown plan %q", s)
	}
}

// ConversionLimit returns the monthly conversion allowance of a plan;
// -1 means unlimited.
func (plan PlanType) ConversionLimit() int {
	switch plan {
	case PlanStarter:
		return 100
	case PlanPro:
		return 1000
	case PlanEnterprise:
		return -1
	default:
		return 5
	}
}

// UploadLimit returns the maximum accepted upload size in bytes.
func (plan PlanType) UploadLimit() int64 {
	switch plan {
	case PlanPro:
		return 2 << 30
	case PlanEnterprise:
		return 20 << 30
	default:
		// free and starter share the 100 MiB cap
		return 100 << 20
	}
}

// Subscription tracks the plan and monthly quota of one user. Exactly
// one subscription exists per user.
type Subscription struct {
	UserID          uuid.UUID
	Plan            PlanType
	ConversionsUsed int
	PeriodStart     time.Time
	PeriodEnd       time.Time
}

// Subscriptions is the subscription database.
//
// architecture: Database
type Subscriptions interface {
	// Get returns the subscription of a user.
	Get(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	// Insert creates a subscription.
	Insert(ctx context.Context, sub *Subscription) error
	// Update persists plan and counter changes.
	Update(ctx context.Context, sub *Subscription) error
}
