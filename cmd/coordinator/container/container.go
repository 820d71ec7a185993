package container

import (
	"fmt"

	"github.com/storyloom/coordinator/cmd/coordinator/engine"
	"github.com/storyloom/coordinator/cmd/coordinator/gateway"
	"github.com/storyloom/coordinator/common/bootstrap"
	"github.com/storyloom/coordinator/common/clients"
	"github.com/storyloom/coordinator/common/ratelimit"
	"github.com/storyloom/coordinator/common/repository"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	Store      repository.StoryStore
	Moderation clients.ModerationGate
	AI         clients.ContinuationService
	Policy     *engine.TurnPolicy

	Limiter *ratelimit.RateLimiter

	Registry *gateway.Registry
	Hub      *gateway.Hub
	Manager  *engine.Manager
	Gateway  *gateway.Gateway
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	var store repository.StoryStore
	if components.DB != nil {
		store = repository.NewPostgresStoryStore(components.DB)
	} else {
		store = repository.NewMemoryStoryStore()
	}

	moderation := clients.NewModerationClient(
		cfg.Moderation.BaseURL,
		cfg.Moderation.Timeout,
		log,
	)

	ai := clients.NewContinuationClient(
		cfg.Continuation.BaseURL,
		cfg.Continuation.Timeout,
		cfg.Continuation.MaxRetries,
		cfg.Continuation.BackoffBase,
		log,
	)

	policy, err := engine.NewTurnPolicy(cfg.Session.AITurnPolicy)
	if err != nil {
		return nil, fmt.Errorf("invalid AI turn policy %q: %w", cfg.Session.AITurnPolicy, err)
	}

	// Rate limiting needs Redis counters; without Redis every request
	// is allowed through.
	var limiter *ratelimit.RateLimiter
	if components.Redis != nil {
		limiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log)
	}

	registry := gateway.NewRegistry()

	// Redis event mirroring is optional; the hub works purely in-process
	// without it.
	mirror := components.Redis
	if !cfg.Session.EventMirror {
		mirror = nil
	}
	hub := gateway.NewHub(registry, mirror, log)

	manager := engine.NewManager(engine.ManagerOptions{
		Store:       store,
		Moderation:  moderation,
		AI:          ai,
		Policy:      policy,
		Broadcaster: hub,
		Presence:    registry,
		Cache:       components.Cache,
		Config: engine.Config{
			TurnDeadline:   cfg.Session.TurnDeadline,
			VoteWindow:     cfg.Session.VoteWindow,
			WhatIfTTL:      cfg.Session.WhatIfTTL,
			ChoicesPerVote: cfg.Session.ChoicesPerVote,
		},
		Logger:  log,
		OnEvict: registry.Evict,
	})

	gw := gateway.New(hub, registry, manager, limiter, log)

	return &Container{
		Components: components,
		Store:      store,
		Moderation: moderation,
		AI:         ai,
		Policy:     policy,
		Limiter:    limiter,
		Registry:   registry,
		Hub:        hub,
		Manager:    manager,
		Gateway:    gw,
	}, nil
}
