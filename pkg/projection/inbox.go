// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package projection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/rs/zerolog"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/correlator"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/eventchannel"
)

// Source is the correlator view the inbox rebuilds itself from.
type Source interface {
	Conversation(id string) (correlator.Conversation, bool)
	Conversations() []correlator.Conversation
	MarkRead(id string) (correlator.Conversation, error)
	CanonicalID(id string) string
}

// Entry is one row of the conversation list.
type Entry struct {
	ID           string     `json:"id"`
	Name         string     `json:"name,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	Preview      string     `json:"preview,omitempty"`
	PreviewMedia string     `json:"preview_media,omitempty"`
	LastStatus   string     `json:"last_status,omitempty"`
	LastActivity time.Time  `json:"last_activity"`
	Unread       int        `json:"unread"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
	Virtual      bool       `json:"virtual"`
	Anonymized   bool       `json:"anonymized"`
	Hidden       bool       `json:"hidden"`
}

func entryLess(a, b *Entry) bool {
	if !a.LastActivity.Equal(b.LastActivity) {
		return a.LastActivity.After(b.LastActivity)
	}
	return a.ID < b.ID
}

// Connectivity is the live indicator shown next to the conversation list.
type Connectivity struct {
	Connected bool                `json:"connected"`
	Reason    eventchannel.Reason `json:"reason,omitempty"`
	Since     time.Time           `json:"since"`
}

// Inbox is the conversation list projection: entries ordered by most recent
// activity, with read markers and hidden flags persisted in a Store.
type Inbox struct {
	log   zerolog.Logger
	src   Source
	store Store

	lock    sync.RWMutex
	tree    *btree.BTreeG[*Entry]
	byID    map[string]*Entry
	hidden  map[string]bool
	markers map[string]time.Time

	connLock sync.RWMutex
	conn     Connectivity
}

func NewInbox(log zerolog.Logger, src Source, store Store) *Inbox {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Inbox{
		log:     log.With().Str("component", "inbox").Logger(),
		src:     src,
		store:   store,
		tree:    btree.NewG[*Entry](16, entryLess),
		byID:    make(map[string]*Entry),
		hidden:  make(map[string]bool),
		markers: make(map[string]time.Time),
		conn:    Connectivity{Connected: true, Since: time.Now()},
	}
}

// Load reads persisted markers and rebuilds every entry from the source.
func (ib *Inbox) Load(ctx context.Context) error {
	hidden, err := ib.store.Scan(ctx, KeyHidden)
	if err != nil {
		return fmt.Errorf("failed to load hidden conversations: %w", err)
	}
	markers, err := ib.store.Scan(ctx, KeyReadMarker)
	if err != nil {
		return fmt.Errorf("failed to load read markers: %w", err)
	}
	ib.lock.Lock()
	ib.hidden = make(map[string]bool, len(hidden))
	for id := range hidden {
		ib.hidden[id] = true
	}
	ib.markers = make(map[string]time.Time, len(markers))
	for id, raw := range markers {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			ib.log.Warn().Err(err).Str("conversation_id", id).Msg("Ignoring unparseable read marker")
			continue
		}
		ib.markers[id] = ts
	}
	ib.lock.Unlock()
	ib.rebuild()
	return nil
}

func (ib *Inbox) rebuild() {
	convs := ib.src.Conversations()
	ib.lock.Lock()
	defer ib.lock.Unlock()
	ib.tree.Clear(false)
	ib.byID = make(map[string]*Entry, len(convs))
	for _, conv := range convs {
		ib.upsertLocked(conv)
	}
}

// Apply folds one correlator update into the list.
func (ib *Inbox) Apply(u correlator.Update) {
	switch u.Kind {
	case correlator.UpdateReloaded:
		ib.rebuild()
		return
	case correlator.UpdateRemoved:
		ib.lock.Lock()
		ib.deleteLocked(u.ConversationID)
		ib.lock.Unlock()
		return
	case correlator.UpdatePromoted:
		if u.PreviousID != "" && u.PreviousID != u.ConversationID {
			ib.rename(u.PreviousID, u.ConversationID)
		}
	}
	if u.Conversation.ID == "" {
		return
	}
	var unhidden bool
	ib.lock.Lock()
	if u.Kind == correlator.UpdateMessage && ib.hidden[u.Conversation.ID] {
		if m, ok := findMessage(u.Conversation, u.MessageID); ok && !m.FromMe {
			delete(ib.hidden, u.Conversation.ID)
			unhidden = true
		}
	}
	ib.upsertLocked(u.Conversation)
	ib.lock.Unlock()
	if unhidden {
		ib.persist(u.Conversation.ID, KeyHidden, "")
	}
}

func (ib *Inbox) rename(oldID, newID string) {
	ib.lock.Lock()
	ib.deleteLocked(oldID)
	if ib.hidden[oldID] {
		delete(ib.hidden, oldID)
		ib.hidden[newID] = true
	}
	if ts, ok := ib.markers[oldID]; ok {
		delete(ib.markers, oldID)
		if ts.After(ib.markers[newID]) {
			ib.markers[newID] = ts
		}
	}
	ib.lock.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ib.store.Rename(ctx, oldID, newID); err != nil {
		ib.log.Err(err).Str("from", oldID).Str("to", newID).Msg("Failed to move conversation state")
	}
}

func (ib *Inbox) upsertLocked(conv correlator.Conversation) {
	ib.deleteLocked(conv.ID)
	e := &Entry{
		ID:           conv.ID,
		Name:         conv.Name,
		Phone:        conv.Phone,
		LastActivity: conv.LastActivity,
		Unread:       conv.Unread,
		Virtual:      conv.Virtual,
		Anonymized:   conv.Anonymized,
		Hidden:       ib.hidden[conv.ID],
	}
	if n := len(conv.Messages); n > 0 {
		last := conv.Messages[n-1]
		e.Preview = last.Body
		e.PreviewMedia = last.MediaType
		if last.FromMe {
			e.LastStatus = last.Status
		}
	}
	if marker, ok := ib.markers[conv.ID]; ok {
		e.ReadAt = &marker
	}
	ib.byID[e.ID] = e
	ib.tree.ReplaceOrInsert(e)
}

func (ib *Inbox) deleteLocked(id string) {
	if old, ok := ib.byID[id]; ok {
		ib.tree.Delete(old)
		delete(ib.byID, id)
	}
}

func findMessage(conv correlator.Conversation, id string) (correlator.Message, bool) {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		m := conv.Messages[i]
		if id != "" && (m.ID == id || m.SchedulerJobID == id) {
			return m, true
		}
	}
	return correlator.Message{}, false
}

type ListOptions struct {
	IncludeHidden bool
	UnreadOnly    bool
	Offset        int
	Limit         int
}

// List returns entries most recent first.
func (ib *Inbox) List(opts ListOptions) []Entry {
	ib.lock.RLock()
	defer ib.lock.RUnlock()
	out := make([]Entry, 0, min(ib.tree.Len(), max(opts.Limit, 0)))
	skipped := 0
	ib.tree.Ascend(func(e *Entry) bool {
		if e.Hidden && !opts.IncludeHidden {
			return true
		}
		if opts.UnreadOnly && e.Unread == 0 {
			return true
		}
		if skipped < opts.Offset {
			skipped++
			return true
		}
		out = append(out, *e)
		return opts.Limit <= 0 || len(out) < opts.Limit
	})
	return out
}

// Get returns one entry, following promotions.
func (ib *Inbox) Get(id string) (Entry, bool) {
	id = ib.src.CanonicalID(id)
	ib.lock.RLock()
	defer ib.lock.RUnlock()
	e, ok := ib.byID[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (ib *Inbox) Len() int {
	ib.lock.RLock()
	defer ib.lock.RUnlock()
	return ib.tree.Len()
}

// MarkRead clears the unread counter and stores a read marker at the
// conversation's latest activity. Unread counts always come from the
// correlator; the marker only records when the operator last read.
func (ib *Inbox) MarkRead(ctx context.Context, id string) (Entry, error) {
	conv, err := ib.src.MarkRead(id)
	if err != nil {
		return Entry{}, err
	}
	marker := conv.LastActivity
	if marker.IsZero() {
		marker = time.Now()
	}
	if err = ib.store.Put(ctx, conv.ID, KeyReadMarker, marker.UTC().Format(time.RFC3339Nano)); err != nil {
		return Entry{}, err
	}
	ib.lock.Lock()
	defer ib.lock.Unlock()
	ib.markers[conv.ID] = marker
	ib.upsertLocked(conv)
	return *ib.byID[conv.ID], nil
}

// Hide removes a conversation from the default list until an inbound message
// arrives for it.
func (ib *Inbox) Hide(ctx context.Context, id string) error {
	return ib.setHidden(ctx, id, true)
}

func (ib *Inbox) Unhide(ctx context.Context, id string) error {
	return ib.setHidden(ctx, id, false)
}

func (ib *Inbox) setHidden(ctx context.Context, id string, hidden bool) error {
	id = ib.src.CanonicalID(id)
	ib.lock.RLock()
	_, ok := ib.byID[id]
	ib.lock.RUnlock()
	if !ok {
		return correlator.ErrUnknownConversation
	}
	var err error
	if hidden {
		err = ib.store.Put(ctx, id, KeyHidden, time.Now().UTC().Format(time.RFC3339))
	} else {
		err = ib.store.Delete(ctx, id, KeyHidden)
	}
	if err != nil {
		return err
	}
	ib.lock.Lock()
	defer ib.lock.Unlock()
	if hidden {
		ib.hidden[id] = true
	} else {
		delete(ib.hidden, id)
	}
	if e, ok := ib.byID[id]; ok {
		e.Hidden = hidden
	}
	return nil
}

func (ib *Inbox) persist(id, key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var err error
	if value == "" {
		err = ib.store.Delete(ctx, id, key)
	} else {
		err = ib.store.Put(ctx, id, key, value)
	}
	if err != nil {
		ib.log.Err(err).Str("conversation_id", id).Str("key", key).Msg("Failed to persist conversation state")
	}
}

// HandleStateChange updates the connectivity indicator. Transient drops and
// scheduled reconnects leave it untouched; only a terminal close turns it off.
func (ib *Inbox) HandleStateChange(sc eventchannel.StateChange) {
	ib.connLock.Lock()
	defer ib.connLock.Unlock()
	switch {
	case sc.State == eventchannel.StateOpen && !ib.conn.Connected:
		ib.conn = Connectivity{Connected: true, Since: time.Now()}
	case sc.Terminal() && ib.conn.Connected:
		ib.conn = Connectivity{Connected: false, Reason: sc.Reason, Since: time.Now()}
		ib.log.Warn().Str("tenant_id", sc.TenantID).Str("reason", string(sc.Reason)).Msg("Live updates unavailable")
	}
}

func (ib *Inbox) Connectivity() Connectivity {
	ib.connLock.RLock()
	defer ib.connLock.RUnlock()
	return ib.conn
}
