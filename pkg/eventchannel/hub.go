// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package eventchannel

import (
	"errors"
	"sync"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// ErrNoTenant is returned when subscribing without a tenant id.
var ErrNoTenant = errors.New("tenant id is required")

// Hub is the opt-in connection-sharing mode: subscribers of the same tenant
// share one reference-counted transport. A fault on that socket affects every
// subscriber of the tenant, which is why NewTransport stays the default.
type Hub struct {
	log     zerolog.Logger
	baseURL string
	opts    Options

	lock    sync.Mutex
	tenants map[string]*hubTenant
}

type hubTenant struct {
	transport *Transport
	subs      map[xid.ID]hubSubscriber
	order     []xid.ID
}

type hubSubscriber struct {
	filter  Filter
	handler Handler
	onState func(StateChange)
}

// Subscription is one subscriber's handle on a shared transport.
type Subscription struct {
	hub      *Hub
	tenantID string
	id       xid.ID
	once     sync.Once
}

func NewHub(log zerolog.Logger, baseURL string, opts Options) *Hub {
	return &Hub{
		log:     log.With().Str("component", "eventchannel_hub").Logger(),
		baseURL: baseURL,
		opts:    opts,
		tenants: make(map[string]*hubTenant),
	}
}

// Subscribe registers a handler for the given kinds on the tenant's shared
// transport, connecting it on first use. A nil kinds list uses DefaultKinds.
func (h *Hub) Subscribe(tenantID string, kinds []Kind, handler Handler, onState func(StateChange)) (*Subscription, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	id := xid.New()
	h.lock.Lock()
	ht, ok := h.tenants[tenantID]
	if !ok {
		opts := h.opts
		opts.anyKind = true
		ht = &hubTenant{
			transport: NewTransport(h.log, h.baseURL, tenantID, opts),
			subs:      make(map[xid.ID]hubSubscriber),
		}
		tenant := tenantID
		ht.transport.Subscribe(func(f Frame) { h.dispatch(tenant, f) })
		ht.transport.OnStateChange(func(c StateChange) { h.broadcast(tenant, c) })
		h.tenants[tenantID] = ht
	}
	ht.subs[id] = hubSubscriber{
		filter:  NewFilter(tenantID, h.opts.AnyTenant, kinds...),
		handler: handler,
		onState: onState,
	}
	ht.order = append(ht.order, id)
	transport := ht.transport
	h.lock.Unlock()

	h.log.Debug().Str("tenant_id", tenantID).Str("subscription_id", id.String()).Msg("Added hub subscriber")
	transport.Connect()
	return &Subscription{hub: h, tenantID: tenantID, id: id}, nil
}

// Refs returns the number of live subscriptions for a tenant.
func (h *Hub) Refs(tenantID string) int {
	h.lock.Lock()
	defer h.lock.Unlock()
	if ht, ok := h.tenants[tenantID]; ok {
		return len(ht.subs)
	}
	return 0
}

// Transport returns the shared transport of a tenant, if any subscriber holds
// it.
func (h *Hub) Transport(tenantID string) (*Transport, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	ht, ok := h.tenants[tenantID]
	if !ok {
		return nil, false
	}
	return ht.transport, true
}

// Close disconnects every shared transport.
func (h *Hub) Close() {
	h.lock.Lock()
	tenants := h.tenants
	h.tenants = make(map[string]*hubTenant)
	h.lock.Unlock()
	for _, ht := range tenants {
		ht.transport.Disconnect()
	}
}

func (h *Hub) subscribers(tenantID string) []hubSubscriber {
	h.lock.Lock()
	defer h.lock.Unlock()
	ht, ok := h.tenants[tenantID]
	if !ok {
		return nil
	}
	out := make([]hubSubscriber, 0, len(ht.order))
	for _, id := range ht.order {
		out = append(out, ht.subs[id])
	}
	return out
}

func (h *Hub) dispatch(tenantID string, f Frame) {
	for _, sub := range h.subscribers(tenantID) {
		if sub.handler != nil && sub.filter.Allow(f) {
			sub.handler(f)
		}
	}
}

func (h *Hub) broadcast(tenantID string, c StateChange) {
	for _, sub := range h.subscribers(tenantID) {
		if sub.onState != nil {
			sub.onState(c)
		}
	}
}

func (h *Hub) release(tenantID string, id xid.ID) {
	h.lock.Lock()
	ht, ok := h.tenants[tenantID]
	if !ok {
		h.lock.Unlock()
		return
	}
	delete(ht.subs, id)
	for i, oid := range ht.order {
		if oid == id {
			ht.order = append(ht.order[:i], ht.order[i+1:]...)
			break
		}
	}
	var last *Transport
	if len(ht.subs) == 0 {
		last = ht.transport
		delete(h.tenants, tenantID)
	}
	h.lock.Unlock()
	if last != nil {
		h.log.Debug().Str("tenant_id", tenantID).Msg("Last hub subscriber left, disconnecting")
		last.Disconnect()
	}
}

// Close releases the subscription. The shared transport disconnects when its
// last subscription is closed.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.release(s.tenantID, s.id) })
}

func (s *Subscription) Connected() bool {
	t, ok := s.hub.Transport(s.tenantID)
	return ok && t.Connected()
}
