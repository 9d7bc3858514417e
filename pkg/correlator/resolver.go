// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package correlator

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNoActiveSession = errors.New("no active backend session")
	ErrNotAnonymized   = errors.New("conversation has no anonymized identifier")
)

// Backend looks up the phone behind an anonymized identifier.
type Backend interface {
	ResolveLID(ctx context.Context, sessionID, lid string) (Resolution, error)
}

// SessionSource provides a backend session when the conversation itself has
// not seen one.
type SessionSource interface {
	ActiveSession(ctx context.Context) (string, error)
}

// StaticSession is a SessionSource that always returns the same session.
type StaticSession string

func (s StaticSession) ActiveSession(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoActiveSession
	}
	return string(s), nil
}

type ResolverOptions struct {
	// Workers bounds concurrent background resolutions.
	Workers int
	// CacheSize bounds remembered successful resolutions.
	CacheSize int
}

// Resolver turns anonymized conversations into phone-keyed ones. It never
// retries on its own: a failed lookup leaves the conversation anonymized until
// the next trigger.
type Resolver struct {
	log      zerolog.Logger
	corr     *Correlator
	backend  Backend
	sessions SessionSource

	group singleflight.Group
	pool  *ants.Pool
	cache *lru.Cache

	ctx    context.Context
	cancel context.CancelFunc
}

// NewResolver creates a resolver and registers it as the correlator's
// unresolved hook.
func NewResolver(log zerolog.Logger, corr *Correlator, backend Backend, sessions SessionSource, opts ResolverOptions) (*Resolver, error) {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	pool, err := ants.NewPool(opts.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver pool: %w", err)
	}
	cache, err := lru.New(opts.CacheSize)
	if err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to create resolver cache: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		log:      log.With().Str("component", "resolver").Logger(),
		corr:     corr,
		backend:  backend,
		sessions: sessions,
		pool:     pool,
		cache:    cache,
		ctx:      ctx,
		cancel:   cancel,
	}
	corr.OnUnresolved(r.Trigger)
	return r, nil
}

// Trigger starts a background resolution of lid. Concurrent triggers for the
// same identifier share one lookup.
func (r *Resolver) Trigger(lid string) {
	err := r.pool.Submit(func() {
		if _, err := r.Resolve(r.ctx, lid); err != nil {
			r.log.Debug().Err(err).Str("lid", lid).Msg("Background resolution failed")
		}
	})
	if err != nil {
		r.log.Warn().Err(err).Str("lid", lid).Msg("Dropped resolution trigger")
	}
}

// Open is called when a person opens a conversation. Anonymized
// conversations get a background resolution; others are left alone.
func (r *Resolver) Open(conversationID string) error {
	conv, ok := r.corr.Conversation(conversationID)
	if !ok {
		return ErrUnknownConversation
	}
	if !conv.Anonymized {
		return nil
	}
	lid := conv.LID()
	if lid == "" {
		return ErrNotAnonymized
	}
	r.Trigger(lid)
	return nil
}

// Resolve looks up lid and promotes its conversation. It blocks until the
// backend answers.
func (r *Resolver) Resolve(ctx context.Context, lid string) (Update, error) {
	key := identifierKey(lid)
	v, err, shared := r.group.Do(key, func() (any, error) {
		res, err := r.lookup(ctx, key)
		if err != nil {
			return Update{}, err
		}
		return r.corr.Promote(key, res)
	})
	if shared {
		r.log.Debug().Str("lid", key).Msg("Joined in-flight resolution")
	}
	u, _ := v.(Update)
	return u, err
}

func (r *Resolver) lookup(ctx context.Context, lid string) (Resolution, error) {
	if cached, ok := r.cache.Get(lid); ok {
		return cached.(Resolution), nil
	}
	session := ""
	if conv, ok := r.corr.ConversationByIdentifier(lid); ok {
		session = conv.SessionID
	}
	if session == "" && r.sessions != nil {
		var err error
		session, err = r.sessions.ActiveSession(ctx)
		if err != nil {
			return Resolution{}, fmt.Errorf("failed to get backend session: %w", err)
		}
	}
	if session == "" {
		return Resolution{}, ErrNoActiveSession
	}
	res, err := r.backend.ResolveLID(ctx, session, lid)
	if err != nil {
		r.log.Warn().Err(err).Str("lid", lid).Str("session_id", session).Msg("Failed to resolve anonymized identifier")
		return Resolution{}, err
	}
	r.cache.Add(lid, res)
	return res, nil
}

// Close stops accepting triggers and cancels in-flight lookups.
func (r *Resolver) Close() {
	r.cancel()
	r.pool.Release()
}
