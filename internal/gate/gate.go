// Package gate decides whether version-control behaviour is active for a
// user: a per-user tester attribute combined with named rollout flags.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"prototype-versions-backend/internal/flags"
	"prototype-versions-backend/internal/logger"
)

// FlagSource is the read-only view of the external flag store.
type FlagSource interface {
	Enabled(name string) bool
}

// ProfileStore answers whether a user is an eligible tester.
type ProfileStore interface {
	IsEligibleTester(ctx context.Context, userID uuid.UUID) (bool, error)
}

type Access struct {
	IsEligible    bool
	UIEnabled     bool
	UploadEnabled bool
}

type Gate struct {
	flags    FlagSource
	profiles ProfileStore
	cache    *gocache.Cache
	log      *logger.Logger
}

func New(flagSource FlagSource, profiles ProfileStore, cacheTTL time.Duration, log *logger.Logger) *Gate {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Gate{
		flags:    flagSource,
		profiles: profiles,
		cache:    gocache.New(cacheTTL, 2*cacheTTL),
		log:      log.With("component", "AccessGate"),
	}
}

// Evaluate fails closed: on a profile lookup error the returned Access is
// all false alongside the error.
func (g *Gate) Evaluate(ctx context.Context, userID uuid.UUID) (Access, error) {
	eligible, err := g.isEligible(ctx, userID)
	if err != nil {
		return Access{}, err
	}
	return Access{
		IsEligible:    eligible,
		UIEnabled:     eligible && g.flags.Enabled(flags.FlagUIRollout),
		UploadEnabled: eligible && g.flags.Enabled(flags.FlagUploadRollout),
	}, nil
}

func (g *Gate) isEligible(ctx context.Context, userID uuid.UUID) (bool, error) {
	if userID == uuid.Nil {
		return false, nil
	}
	key := userID.String()
	if v, ok := g.cache.Get(key); ok {
		if eligible, ok := v.(bool); ok {
			return eligible, nil
		}
	}
	eligible, err := g.profiles.IsEligibleTester(ctx, userID)
	if err != nil {
		g.log.Warn("profile lookup failed", "user_id", key, "error", err)
		return false, fmt.Errorf("failed to look up tester eligibility: %w", err)
	}
	g.cache.SetDefault(key, eligible)
	return eligible, nil
}
