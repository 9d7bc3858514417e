// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package connector

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/console"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/correlator"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/eventchannel"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/projection"
)

// Engine wires one tenant's event channel through the correlator into the
// projections, the update relay and the console API.
type Engine struct {
	log zerolog.Logger
	cfg *Config

	Correlator *correlator.Correlator
	Inbox      *projection.Inbox
	Threads    *projection.Threads
	// Resolver is nil when identity resolution is disabled.
	Resolver  *correlator.Resolver
	Transport *eventchannel.Transport
	Server    *console.Server

	store  projection.Store
	sqlite *projection.SQLiteStore
	nc     *nats.Conn
	relay  func()
}

type EngineOptions struct {
	// Dialer overrides the websocket dialer.
	Dialer eventchannel.Dialer
	// Backend overrides the HTTP resolver backend.
	Backend correlator.Backend
	// Publisher overrides the NATS connection of the update relay.
	Publisher projection.Publisher
}

func NewEngine(ctx context.Context, log zerolog.Logger, cfg *Config, eo EngineOptions) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Channel.TenantID == "" {
		return nil, eventchannel.ErrNoTenant
	}
	log = log.With().Str("tenant_id", cfg.Channel.TenantID).Logger()
	e := &Engine{
		log:        log.With().Str("component", "engine").Logger(),
		cfg:        cfg,
		Correlator: correlator.New(log, correlator.Options{MissThreshold: cfg.Resolver.MissThreshold}),
	}
	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	if cfg.Store.Path != "" {
		sqlite, err := projection.OpenSQLiteStore(ctx, cfg.Store.Path, cfg.Channel.TenantID)
		if err != nil {
			return nil, err
		}
		e.sqlite, e.store = sqlite, sqlite
	} else {
		e.store = projection.NewMemoryStore()
	}

	if cfg.Snapshot.Path != "" {
		snap, err := LoadSnapshotFile(cfg.Snapshot.Path)
		if err != nil {
			return nil, err
		}
		e.Correlator.LoadSnapshot(snap)
	}

	e.Inbox = projection.NewInbox(log, e.Correlator, e.store)
	e.Correlator.OnUpdate(e.Inbox.Apply)
	if err := e.Inbox.Load(ctx); err != nil {
		return nil, err
	}
	e.Threads = projection.NewThreads(e.Correlator)
	e.Correlator.OnUpdate(e.Threads.Apply)

	pub := eo.Publisher
	if pub == nil && cfg.NATS.URL != "" {
		nc, err := projection.ConnectNATS(log, cfg.NATS.Options())
		if err != nil {
			return nil, err
		}
		e.nc, pub = nc, nc
	}
	if pub != nil {
		sink := projection.NewNATSSink(log, pub, cfg.NATS.SubjectPrefix, cfg.Channel.TenantID)
		e.relay = e.Correlator.OnUpdateAsync(sink.Apply)
	}

	if cfg.Resolver.Enabled {
		backend := eo.Backend
		if backend == nil {
			backend = &correlator.HTTPBackend{BaseURL: cfg.Resolver.URL, Token: cfg.Resolver.Token}
		}
		resolver, err := correlator.NewResolver(log, e.Correlator, backend, correlator.StaticSession(cfg.Resolver.Session), cfg.Resolver.Options())
		if err != nil {
			return nil, err
		}
		e.Resolver = resolver
	}

	opts := cfg.Channel.Options()
	if eo.Dialer != nil {
		opts.Dialer = eo.Dialer
	}
	e.Transport = eventchannel.NewTransport(log, cfg.Channel.SocketBase(), cfg.Channel.TenantID, opts)
	e.Transport.Subscribe(e.Correlator.HandleFrame)
	e.Transport.OnStateChange(e.handleStateChange)

	if cfg.HTTP.Listen != "" {
		var opener console.Opener
		if e.Resolver != nil {
			opener = e.Resolver
		}
		e.Server = console.NewServer(log, e.Inbox, e.Threads, e.Correlator, opener)
		e.Server.SetChannel(e.Transport)
	}
	ok = true
	return e, nil
}

func (e *Engine) handleStateChange(sc eventchannel.StateChange) {
	e.Inbox.HandleStateChange(sc)
	if sc.Terminal() {
		e.log.Error().
			Str("reason", string(sc.Reason)).
			Int("attempt", sc.Attempt).
			AnErr("last_error", sc.Err).
			Msg("Event channel stopped")
	}
}

// OnUpdate subscribes fn to correlated updates. The returned func
// unsubscribes.
func (e *Engine) OnUpdate(fn func(correlator.Update)) func() {
	return e.Correlator.OnUpdate(fn)
}

// Run connects the event channel and serves until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	if e.cfg.Snapshot.Path != "" && e.cfg.Snapshot.Watch {
		eg.Go(func() error {
			return WatchSnapshot(ctx, e.log, e.cfg.Snapshot.Path, e.Correlator)
		})
	}
	if e.Server != nil {
		eg.Go(func() error {
			return e.Server.Start(e.cfg.HTTP.Listen)
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return e.Server.Shutdown(shutdownCtx)
		})
	}
	e.Transport.Connect()
	eg.Go(func() error {
		<-ctx.Done()
		e.Transport.Disconnect()
		return nil
	})
	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases everything NewEngine opened.
func (e *Engine) Close() error {
	if e.Transport != nil {
		e.Transport.Disconnect()
	}
	if e.Resolver != nil {
		e.Resolver.Close()
	}
	e.Correlator.WaitAsync()
	if e.relay != nil {
		e.relay()
	}
	if e.nc != nil {
		if err := e.nc.Drain(); err != nil {
			e.nc.Close()
		}
	}
	if e.sqlite != nil {
		return e.sqlite.Close()
	}
	return nil
}
