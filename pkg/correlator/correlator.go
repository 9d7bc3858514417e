// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package correlator

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/eventchannel"
)

// TopicUpdate is the bus topic every Update is published on.
const TopicUpdate = "conversation:update"

const DefaultMissThreshold = 2

var (
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrUnknownIdentifier   = errors.New("identifier is not tracked by any conversation")
	ErrConversationRemoved = errors.New("conversation was removed")
	ErrInvalidResolution   = errors.New("resolution carries no phone number")
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateStatus   UpdateKind = "status"
	UpdatePromoted UpdateKind = "promoted"
	UpdateRead     UpdateKind = "read"
	UpdateRemoved  UpdateKind = "removed"
	UpdateReloaded UpdateKind = "reloaded"
)

// Update is emitted after every change to correlator state. Conversation is a
// copy taken while the change was applied; it is empty for UpdateReloaded.
type Update struct {
	Kind           UpdateKind   `json:"kind"`
	ConversationID string       `json:"conversation_id,omitempty"`
	PreviousID     string       `json:"previous_id,omitempty"`
	MessageID      string       `json:"message_id,omitempty"`
	Conversation   Conversation `json:"conversation"`
}

type Options struct {
	// MissThreshold is how many events may land on the same anonymized
	// virtual conversation before the unresolved hook fires.
	MissThreshold int
}

// Correlator maps delivery-status and inbound-message events onto
// conversations. All state changes are serialized; updates are published in
// the order they were applied.
type Correlator struct {
	log           zerolog.Logger
	bus           EventBus.Bus
	missThreshold int

	// pubLock keeps publish order equal to apply order. Bus subscribers run
	// under it and must not call mutating methods synchronously.
	pubLock sync.Mutex

	subsLock sync.Mutex
	subs     map[uint64]func(Update)
	subOrder []uint64
	nextSub  uint64
	pending  *pendingCounter

	lock         sync.Mutex
	convs        map[string]*conversation
	byIdentifier map[string]*conversation
	byMessage    map[string]*conversation
	byJob        map[string]*conversation
	aliases      map[string]string
	identity     IdentityMapping
	unresolved   func(lid string)
}

func New(log zerolog.Logger, opts Options) *Correlator {
	if opts.MissThreshold <= 0 {
		opts.MissThreshold = DefaultMissThreshold
	}
	c := &Correlator{
		log:           log.With().Str("component", "correlator").Logger(),
		bus:           EventBus.New(),
		missThreshold: opts.MissThreshold,
		subs:          make(map[uint64]func(Update)),
		pending:       newPendingCounter(),
		convs:         make(map[string]*conversation),
		byIdentifier:  make(map[string]*conversation),
		byMessage:     make(map[string]*conversation),
		byJob:         make(map[string]*conversation),
		aliases:       make(map[string]string),
	}
	_ = c.bus.Subscribe(TopicUpdate, c.dispatch)
	return c
}

// OnUpdate subscribes fn to every Update, called synchronously in apply
// order. The returned func unsubscribes.
func (c *Correlator) OnUpdate(fn func(Update)) func() {
	c.subsLock.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = fn
	c.subOrder = append(c.subOrder, id)
	c.subsLock.Unlock()
	return func() {
		c.subsLock.Lock()
		defer c.subsLock.Unlock()
		delete(c.subs, id)
		c.subOrder = slices.DeleteFunc(c.subOrder, func(v uint64) bool { return v == id })
	}
}

// OnUpdateAsync subscribes fn off the apply path. fn sees updates in apply
// order on its own goroutine, calls never overlap, and a slow fn never holds
// up event handling. The returned func unsubscribes once the updates already
// queued are handled. Use WaitAsync to drain.
func (c *Correlator) OnUpdateAsync(fn func(Update)) func() {
	sub := newAsyncSubscriber(fn, c.pending)
	unsubscribe := c.OnUpdate(sub.push)
	return func() {
		unsubscribe()
		sub.stop()
	}
}

// WaitAsync blocks until async subscribers have handled every published
// update.
func (c *Correlator) WaitAsync() {
	c.pending.wait()
}

func (c *Correlator) dispatch(u Update) {
	c.subsLock.Lock()
	fns := make([]func(Update), 0, len(c.subOrder))
	for _, id := range c.subOrder {
		fns = append(fns, c.subs[id])
	}
	c.subsLock.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}

// OnUnresolved sets the hook called with an anonymized identifier once it
// has missed correlation MissThreshold times. It runs on the caller's
// goroutine after all locks are released.
func (c *Correlator) OnUnresolved(fn func(lid string)) {
	c.lock.Lock()
	c.unresolved = fn
	c.lock.Unlock()
}

func identifierKey(chatID string) string {
	return strings.ToLower(strings.TrimSpace(chatID))
}

// Apply routes an event to its handler. It reports the conversation the event
// was applied to.
func (c *Correlator) Apply(ev eventchannel.Event) (string, bool) {
	switch e := ev.(type) {
	case eventchannel.StatusEvent:
		return c.HandleStatus(e)
	case eventchannel.InboundMessageEvent:
		return c.HandleInbound(e)
	case eventchannel.UnknownEvent:
		c.log.Debug().Str("kind", string(e.Kind)).Msg("Ignoring event of unknown kind")
		return "", false
	default:
		return "", false
	}
}

// HandleFrame is an eventchannel.Handler.
func (c *Correlator) HandleFrame(f eventchannel.Frame) {
	c.Apply(f.Event())
}

// HandleStatus overwrites the status of an already tracked message. Status
// events never create conversations or messages.
func (c *Correlator) HandleStatus(ev eventchannel.StatusEvent) (string, bool) {
	if ev.MessageID == "" && ev.SchedulerJobID == "" && ev.ChatID == "" {
		c.log.Warn().Str("status", ev.Status).Msg("Dropping status event without message ID, job ID or chat ID")
		return "", false
	}
	c.pubLock.Lock()
	defer c.pubLock.Unlock()

	c.lock.Lock()
	conv, how := c.resolveLocked(ev.MessageID, ev.SchedulerJobID, ev.ContactID, ev.ChatID)
	if conv == nil || conv.removed {
		c.lock.Unlock()
		c.log.Debug().
			Str("message_id", ev.MessageID).
			Str("scheduler_job_id", ev.SchedulerJobID).
			Str("chat_id", ev.ChatID).
			Msg("Status event matched no conversation")
		return "", false
	}
	msg := conv.findMessage(ev.MessageID, ev.SchedulerJobID)
	if msg == nil {
		c.lock.Unlock()
		c.log.Debug().
			Str("conversation_id", conv.id).
			Str("matched_by", how).
			Str("message_id", ev.MessageID).
			Msg("Status event references untracked message")
		return "", false
	}
	msg.Status = ev.Status
	if ev.Attempts != nil {
		msg.Attempts = ptr.Clone(ev.Attempts)
	}
	msg.Error = ev.Error
	msg.StatusAt = ev.Timestamp
	// a scheduled message learns its real message id from its first status
	if msg.ID == "" && ev.MessageID != "" {
		msg.ID = ev.MessageID
		c.byMessage[msg.ID] = conv
	}
	if msg.SchedulerJobID == "" && ev.SchedulerJobID != "" {
		msg.SchedulerJobID = ev.SchedulerJobID
		c.byJob[msg.SchedulerJobID] = conv
	}
	u := Update{
		Kind:           UpdateStatus,
		ConversationID: conv.id,
		MessageID:      firstNonEmpty(msg.ID, msg.SchedulerJobID),
		Conversation:   conv.snapshot(),
	}
	c.lock.Unlock()

	c.log.Debug().
		Str("conversation_id", u.ConversationID).
		Str("matched_by", how).
		Str("message_id", u.MessageID).
		Str("status", ev.Status).
		Msg("Applied status update")
	c.publish(u)
	return u.ConversationID, true
}

// HandleInbound appends a received message to its conversation, creating a
// virtual conversation when nothing matches.
func (c *Correlator) HandleInbound(ev eventchannel.InboundMessageEvent) (string, bool) {
	id, ok, trigger := c.applyInbound(ev)
	if trigger != "" {
		c.lock.Lock()
		hook := c.unresolved
		c.lock.Unlock()
		if hook != nil {
			hook(trigger)
		}
	}
	return id, ok
}

func (c *Correlator) applyInbound(ev eventchannel.InboundMessageEvent) (string, bool, string) {
	if ev.MessageID == "" && ev.ChatID == "" {
		c.log.Warn().Msg("Dropping inbound message without message ID or chat ID")
		return "", false, ""
	}
	c.pubLock.Lock()
	defer c.pubLock.Unlock()

	c.lock.Lock()
	conv, how := c.resolveLocked(ev.MessageID, "", ev.ContactID, ev.ChatID)
	if conv == nil {
		if ev.ChatID == "" {
			c.lock.Unlock()
			c.log.Warn().Str("message_id", ev.MessageID).Msg("Dropping inbound message for unknown message ID without chat ID")
			return "", false, ""
		}
		conv = c.virtualLocked(ev.ChatID)
		how = "virtual"
	}
	if conv.removed {
		c.lock.Unlock()
		return "", false, ""
	}
	if ev.ChatID != "" {
		c.attachIdentifierLocked(conv, ev.ChatID)
		if conv.phone == "" && !IsLID(ev.ChatID) {
			conv.phone = NormalizePhone(ev.ChatID)
		}
	}
	if ev.SessionID != "" {
		conv.sessionID = ev.SessionID
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := conv.findMessage(ev.MessageID, "")
	if msg != nil {
		// redelivery of a message we already show
		msg.Body = ev.Body
		if ev.MediaType != "" {
			msg.MediaType = ev.MediaType
		}
	} else {
		msg = &Message{
			ID:        ev.MessageID,
			ChatID:    ev.ChatID,
			Body:      ev.Body,
			MediaType: ev.MediaType,
			FromMe:    ev.FromMe,
			Timestamp: ts,
		}
		conv.insertMessage(msg)
		if msg.ID != "" {
			c.byMessage[msg.ID] = conv
		}
		if !ev.FromMe {
			conv.unread++
		}
		conv.touch(ts)
	}
	var trigger string
	if conv.virtual() && conv.anonymized {
		conv.misses++
		if conv.misses >= c.missThreshold {
			trigger = conv.lid()
		}
	}
	u := Update{
		Kind:           UpdateMessage,
		ConversationID: conv.id,
		MessageID:      msg.ID,
		Conversation:   conv.snapshot(),
	}
	c.lock.Unlock()

	c.log.Debug().
		Str("conversation_id", u.ConversationID).
		Str("matched_by", how).
		Str("message_id", msg.ID).
		Msg("Applied inbound message")
	c.publish(u)
	return u.ConversationID, true, trigger
}

// resolveLocked applies the correlation precedence: message id, scheduler
// job id, contact id, known chat identifier, then phone number.
func (c *Correlator) resolveLocked(messageID, jobID, contactID, chatID string) (*conversation, string) {
	if messageID != "" {
		if conv, ok := c.byMessage[messageID]; ok {
			return conv, "message_id"
		}
	}
	if jobID != "" {
		if conv, ok := c.byJob[jobID]; ok {
			return conv, "scheduler_job_id"
		}
	}
	if contactID != "" {
		if conv, ok := c.convs[c.canonicalLocked(contactID)]; ok && !conv.virtual() {
			return conv, "contact_id"
		}
	}
	if chatID == "" {
		return nil, ""
	}
	if conv, ok := c.byIdentifier[identifierKey(chatID)]; ok {
		return conv, "identifier"
	}
	if IsLID(chatID) {
		return nil, ""
	}
	if conv := c.matchPhoneLocked(NormalizePhone(chatID)); conv != nil {
		return conv, "phone"
	}
	return nil, ""
}

// matchPhoneLocked finds the conversation whose last-known phone matches.
// Exact beats suffix; among equals the most recently active wins.
func (c *Correlator) matchPhoneLocked(digits string) *conversation {
	if digits == "" {
		return nil
	}
	var best *conversation
	bestMatch := matchNone
	for _, conv := range c.convs {
		if conv.removed || conv.phone == "" {
			continue
		}
		m := matchPhones(conv.phone, digits)
		if m == matchNone || m < bestMatch {
			continue
		}
		if m > bestMatch || moreRecent(conv, best) {
			best, bestMatch = conv, m
		}
	}
	return best
}

func moreRecent(a, b *conversation) bool {
	if b == nil {
		return true
	}
	if !a.lastActivity.Equal(b.lastActivity) {
		return a.lastActivity.After(b.lastActivity)
	}
	return a.id < b.id
}

func (c *Correlator) virtualLocked(chatID string) *conversation {
	id := VirtualID(chatID)
	if conv, ok := c.convs[id]; ok {
		return conv
	}
	conv := newConversation(id)
	conv.anonymized = IsLID(chatID)
	c.convs[id] = conv
	c.log.Debug().Str("conversation_id", id).Bool("anonymized", conv.anonymized).Msg("Created virtual conversation")
	return conv
}

// attachIdentifierLocked adds chatID to conv unless another conversation
// already owns it.
func (c *Correlator) attachIdentifierLocked(conv *conversation, chatID string) {
	key := identifierKey(chatID)
	if key == "" {
		return
	}
	if owner, ok := c.byIdentifier[key]; ok && owner != conv {
		c.log.Debug().
			Str("chat_id", chatID).
			Str("owner", owner.id).
			Str("conversation_id", conv.id).
			Msg("Chat identifier already belongs to another conversation")
		return
	}
	c.byIdentifier[key] = conv
	conv.identifiers[key] = struct{}{}
}

func (c *conversation) lid() string {
	for id := range c.identifiers {
		if IsLID(id) {
			return id
		}
	}
	return ""
}

func (c *Correlator) canonicalLocked(id string) string {
	for i := 0; i < 8; i++ {
		next, ok := c.aliases[id]
		if !ok {
			break
		}
		id = next
	}
	return id
}

// LoadSnapshot rebuilds the identity mapping from the full contact set and
// attaches locally loaded messages. Existing virtual conversations are kept,
// except those a contact now claims by phone number or chat identifier: they
// are folded into that contact and announced as promoted.
func (c *Correlator) LoadSnapshot(s Snapshot) {
	mapping, dupes := BuildIdentityMapping(s.Contacts)
	for _, d := range dupes {
		c.log.Warn().Str("contact_id", d.ID).Str("phone", d.Phone).Msg("Phone number already mapped to another contact")
	}

	c.pubLock.Lock()
	defer c.pubLock.Unlock()
	c.lock.Lock()
	c.identity = mapping
	var folds []Update
	fold := func(v, conv *conversation) {
		folds = append(folds, Update{Kind: UpdatePromoted, ConversationID: conv.id, PreviousID: v.id})
		c.mergeLocked(v, conv)
	}
	for _, ct := range s.Contacts {
		if ct.ID == "" {
			continue
		}
		id := c.canonicalLocked(ct.ID)
		conv, ok := c.convs[id]
		if !ok {
			conv = newConversation(id)
			c.convs[id] = conv
		}
		conv.removed = false
		conv.contactID = id
		conv.name = ct.Name
		if digits := NormalizePhone(ct.Phone); digits != "" {
			conv.phone = digits
			conv.anonymized = false
			if v, ok := c.convs[virtualPrefix+digits]; ok && v != conv && !v.removed {
				fold(v, conv)
			}
		}
		for _, chatID := range ct.ChatIDs {
			if owner, ok := c.byIdentifier[identifierKey(chatID)]; ok && owner != conv && owner.virtual() && !owner.removed {
				fold(owner, conv)
			}
			c.attachIdentifierLocked(conv, chatID)
		}
	}
	var attached int
	for _, sm := range s.Messages {
		if sm.ID != "" {
			if _, dup := c.byMessage[sm.ID]; dup {
				continue
			}
		}
		if sm.SchedulerJobID != "" {
			if _, dup := c.byJob[sm.SchedulerJobID]; dup {
				continue
			}
		}
		var conv *conversation
		if sm.ContactID != "" {
			conv = c.convs[c.canonicalLocked(sm.ContactID)]
		} else if sm.ChatID != "" {
			conv, _ = c.resolveLocked("", "", "", sm.ChatID)
			if conv == nil {
				conv = c.virtualLocked(sm.ChatID)
			}
		}
		if conv == nil || conv.removed {
			continue
		}
		msg := &Message{
			ID:             sm.ID,
			SchedulerJobID: sm.SchedulerJobID,
			ChatID:         sm.ChatID,
			Body:           sm.Body,
			FromMe:         sm.FromMe,
			Status:         sm.Status,
			Attempts:       ptr.Clone(sm.Attempts),
			Timestamp:      sm.Timestamp,
		}
		conv.insertMessage(msg)
		if msg.ID != "" {
			c.byMessage[msg.ID] = conv
		}
		if msg.SchedulerJobID != "" {
			c.byJob[msg.SchedulerJobID] = conv
		}
		if sm.ChatID != "" {
			c.attachIdentifierLocked(conv, sm.ChatID)
		}
		conv.touch(sm.Timestamp)
		attached++
	}
	total := len(c.convs)
	for i := range folds {
		if conv, ok := c.convs[c.canonicalLocked(folds[i].ConversationID)]; ok {
			folds[i].ConversationID = conv.id
			folds[i].Conversation = conv.snapshot()
		}
	}
	c.lock.Unlock()

	c.log.Info().
		Int("contacts", len(s.Contacts)).
		Int("messages", attached).
		Int("phones", mapping.Len()).
		Int("conversations", total).
		Msg("Loaded snapshot")
	for _, u := range folds {
		c.publish(u)
	}
	c.publish(Update{Kind: UpdateReloaded})
}

// mergeLocked moves everything src owns into dst and retires src's id as an
// alias of dst.
func (c *Correlator) mergeLocked(src, dst *conversation) {
	for key := range src.identifiers {
		dst.identifiers[key] = struct{}{}
		if c.byIdentifier[key] == src {
			c.byIdentifier[key] = dst
		}
	}
	for _, m := range src.messages {
		if dst.findMessage(m.ID, m.SchedulerJobID) != nil {
			continue
		}
		dst.insertMessage(m)
	}
	for k, conv := range c.byMessage {
		if conv == src {
			c.byMessage[k] = dst
		}
	}
	for k, conv := range c.byJob {
		if conv == src {
			c.byJob[k] = dst
		}
	}
	dst.unread += src.unread
	dst.touch(src.lastActivity)
	if dst.sessionID == "" {
		dst.sessionID = src.sessionID
	}
	if dst.phone == "" {
		dst.phone = src.phone
	}
	dst.anonymized = dst.anonymized && dst.phone == ""
	delete(c.convs, src.id)
	c.aliasLocked(src.id, dst.id)
	c.log.Info().Str("from", src.id).Str("to", dst.id).Msg("Merged conversation")
}

func (c *Correlator) aliasLocked(oldID, newID string) {
	c.aliases[oldID] = newID
	for k, v := range c.aliases {
		if v == oldID {
			c.aliases[k] = newID
		}
	}
	delete(c.aliases, newID)
}

// Resolution is a confirmed mapping of an anonymized identifier.
type Resolution struct {
	ChatID    string `json:"chat_id,omitempty"`
	Phone     string `json:"phone,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
}

// Promote merges the conversation owning lid into the conversation for the
// resolved phone. The target is the saved contact for that phone if the
// identity mapping knows one, then any conversation already matching the
// phone; otherwise the virtual conversation is re-keyed to the phone.
func (c *Correlator) Promote(lid string, res Resolution) (Update, error) {
	digits := NormalizePhone(firstNonEmpty(res.Phone, res.ChatID))
	if digits == "" {
		return Update{}, ErrInvalidResolution
	}
	c.pubLock.Lock()
	defer c.pubLock.Unlock()

	c.lock.Lock()
	src, ok := c.byIdentifier[identifierKey(lid)]
	if !ok {
		c.lock.Unlock()
		return Update{}, ErrUnknownIdentifier
	}
	if src.removed {
		c.lock.Unlock()
		return Update{}, ErrConversationRemoved
	}
	prevID := src.id
	if res.ContactID != "" {
		if _, known := c.identity.byPhone[digits]; !known {
			c.identity.Confirm(digits, res.ContactID)
		}
	}

	dst := src
	if src.virtual() {
		if contactID, ok := c.identity.Lookup(digits); ok {
			id := c.canonicalLocked(contactID)
			target, exists := c.convs[id]
			if !exists {
				target = newConversation(id)
				target.contactID = id
				target.phone = digits
				c.convs[id] = target
			}
			dst = target
		} else if res.ChatID != "" {
			if target, ok := c.byIdentifier[identifierKey(res.ChatID)]; ok {
				dst = target
			}
		}
		if dst == src {
			if target := c.matchPhoneLocked(digits); target != nil {
				dst = target
			}
		}
		if dst == src {
			newID := virtualPrefix + digits
			if target, ok := c.convs[newID]; ok && target != src {
				dst = target
			} else if src.id != newID {
				delete(c.convs, src.id)
				src.id = newID
				c.convs[newID] = src
				c.aliasLocked(prevID, newID)
			}
		}
		if dst.removed {
			c.lock.Unlock()
			return Update{}, ErrConversationRemoved
		}
		if dst != src {
			c.mergeLocked(src, dst)
		}
	}
	if dst.phone == "" {
		dst.phone = digits
	}
	dst.anonymized = false
	dst.misses = 0
	if res.ChatID != "" {
		c.attachIdentifierLocked(dst, res.ChatID)
	}
	u := Update{
		Kind:           UpdatePromoted,
		ConversationID: dst.id,
		PreviousID:     prevID,
		Conversation:   dst.snapshot(),
	}
	c.lock.Unlock()

	c.log.Info().
		Str("lid", lid).
		Str("previous_id", prevID).
		Str("conversation_id", dst.id).
		Msg("Resolved anonymized conversation")
	c.publish(u)
	return u, nil
}

// Remove marks a conversation as deleted externally. Later events that
// resolve to it are dropped.
func (c *Correlator) Remove(id string) bool {
	c.pubLock.Lock()
	defer c.pubLock.Unlock()
	c.lock.Lock()
	conv, ok := c.convs[c.canonicalLocked(id)]
	if !ok || conv.removed {
		c.lock.Unlock()
		return false
	}
	conv.removed = true
	u := Update{Kind: UpdateRemoved, ConversationID: conv.id}
	c.lock.Unlock()
	c.publish(u)
	return true
}

// MarkRead clears the unread counter.
func (c *Correlator) MarkRead(id string) (Conversation, error) {
	c.pubLock.Lock()
	defer c.pubLock.Unlock()
	c.lock.Lock()
	conv, ok := c.convs[c.canonicalLocked(id)]
	if !ok {
		c.lock.Unlock()
		return Conversation{}, ErrUnknownConversation
	} else if conv.removed {
		c.lock.Unlock()
		return Conversation{}, ErrConversationRemoved
	}
	conv.unread = 0
	snap := conv.snapshot()
	c.lock.Unlock()
	c.publish(Update{Kind: UpdateRead, ConversationID: snap.ID, Conversation: snap})
	return snap, nil
}

// CanonicalID follows promotions from an old conversation id to the current
// one.
func (c *Correlator) CanonicalID(id string) string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.canonicalLocked(id)
}

// Conversation returns a copy of a live conversation, following promotions.
func (c *Correlator) Conversation(id string) (Conversation, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	conv, ok := c.convs[c.canonicalLocked(id)]
	if !ok || conv.removed {
		return Conversation{}, false
	}
	return conv.snapshot(), true
}

// ConversationByIdentifier returns the conversation owning a chat identifier.
func (c *Correlator) ConversationByIdentifier(chatID string) (Conversation, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	conv, ok := c.byIdentifier[identifierKey(chatID)]
	if !ok || conv.removed {
		return Conversation{}, false
	}
	return conv.snapshot(), true
}

// Conversations returns copies of all live conversations, most recently
// active first.
func (c *Correlator) Conversations() []Conversation {
	c.lock.Lock()
	out := make([]Conversation, 0, len(c.convs))
	for _, conv := range c.convs {
		if !conv.removed {
			out = append(out, conv.snapshot())
		}
	}
	c.lock.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Correlator) publish(u Update) {
	c.bus.Publish(TopicUpdate, u)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
