// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package correlator

import (
	"slices"
	"sort"
	"time"

	"go.mau.fi/util/ptr"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/eventchannel"
)

// Message is one bubble of a conversation.
type Message struct {
	ID             string                   `json:"id,omitempty"`
	SchedulerJobID string                   `json:"scheduler_job_id,omitempty"`
	ChatID         string                   `json:"chat_id,omitempty"`
	Body           string                   `json:"body,omitempty"`
	MediaType      string                   `json:"media_type,omitempty"`
	FromMe         bool                     `json:"from_me"`
	Status         string                   `json:"status,omitempty"`
	Attempts       *int                     `json:"attempts,omitempty"`
	Error          eventchannel.ErrorDetail `json:"error,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
	StatusAt       time.Time                `json:"status_at,omitempty"`
}

// Conversation is a read-only copy of the correlator's view of one
// conversation.
type Conversation struct {
	ID           string    `json:"id"`
	ContactID    string    `json:"contact_id,omitempty"`
	Name         string    `json:"name,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Identifiers  []string  `json:"identifiers"`
	Messages     []Message `json:"messages"`
	Unread       int       `json:"unread"`
	LastActivity time.Time `json:"last_activity"`
	Virtual      bool      `json:"virtual"`
	Anonymized   bool      `json:"anonymized"`
	SessionID    string    `json:"session_id,omitempty"`
}

// LID returns the first anonymized identifier of the conversation.
func (c Conversation) LID() string {
	for _, id := range c.Identifiers {
		if IsLID(id) {
			return id
		}
	}
	return ""
}

type conversation struct {
	id           string
	contactID    string
	name         string
	phone        string
	identifiers  map[string]struct{}
	messages     []*Message
	unread       int
	lastActivity time.Time
	anonymized   bool
	sessionID    string
	removed      bool
	misses       int
}

func newConversation(id string) *conversation {
	return &conversation{
		id:          id,
		identifiers: make(map[string]struct{}),
	}
}

func (c *conversation) virtual() bool {
	return c.contactID == ""
}

func (c *conversation) touch(ts time.Time) {
	if ts.After(c.lastActivity) {
		c.lastActivity = ts
	}
}

func (c *conversation) findMessage(id, jobID string) *Message {
	for _, m := range c.messages {
		if id != "" && m.ID == id {
			return m
		}
		if jobID != "" && m.SchedulerJobID == jobID {
			return m
		}
	}
	return nil
}

// insertMessage keeps messages ordered by timestamp; equal timestamps keep
// arrival order.
func (c *conversation) insertMessage(m *Message) {
	i := sort.Search(len(c.messages), func(i int) bool {
		return c.messages[i].Timestamp.After(m.Timestamp)
	})
	c.messages = slices.Insert(c.messages, i, m)
}

func (c *conversation) snapshot() Conversation {
	out := Conversation{
		ID:           c.id,
		ContactID:    c.contactID,
		Name:         c.name,
		Phone:        c.phone,
		Identifiers:  make([]string, 0, len(c.identifiers)),
		Messages:     make([]Message, len(c.messages)),
		Unread:       c.unread,
		LastActivity: c.lastActivity,
		Virtual:      c.virtual(),
		Anonymized:   c.anonymized,
		SessionID:    c.sessionID,
	}
	for id := range c.identifiers {
		out.Identifiers = append(out.Identifiers, id)
	}
	sort.Strings(out.Identifiers)
	for i, m := range c.messages {
		out.Messages[i] = *m
		out.Messages[i].Attempts = ptr.Clone(m.Attempts)
	}
	return out
}
