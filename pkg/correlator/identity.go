// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package correlator

import (
	"time"
)

// Contact is a saved contact record as loaded by the surrounding application.
type Contact struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"`
	Phone   string   `json:"phone,omitempty" yaml:"phone,omitempty"`
	ChatIDs []string `json:"chat_ids,omitempty" yaml:"chat_ids,omitempty"`
}

// SnapshotMessage is a locally loaded message attached to a contact.
type SnapshotMessage struct {
	ContactID      string    `json:"contact_id" yaml:"contact_id"`
	ChatID         string    `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	ID             string    `json:"id,omitempty" yaml:"id,omitempty"`
	SchedulerJobID string    `json:"scheduler_job_id,omitempty" yaml:"scheduler_job_id,omitempty"`
	Body           string    `json:"body,omitempty" yaml:"body,omitempty"`
	FromMe         bool      `json:"from_me" yaml:"from_me"`
	Status         string    `json:"status,omitempty" yaml:"status,omitempty"`
	Attempts       *int      `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
}

// Snapshot is the full local state handed to LoadSnapshot.
type Snapshot struct {
	Contacts []Contact         `json:"contacts" yaml:"contacts"`
	Messages []SnapshotMessage `json:"messages" yaml:"messages"`
}

// IdentityMapping maps digits-only phone numbers to at most one contact id.
// It is rebuilt from the full contact set and otherwise only changed by
// Confirm.
type IdentityMapping struct {
	byPhone map[string]string
}

// BuildIdentityMapping indexes contacts by normalized phone. When two contacts
// share a number the first one wins; the returned list holds the losers.
func BuildIdentityMapping(contacts []Contact) (IdentityMapping, []Contact) {
	m := IdentityMapping{byPhone: make(map[string]string, len(contacts))}
	var dupes []Contact
	for _, c := range contacts {
		digits := NormalizePhone(c.Phone)
		if digits == "" {
			continue
		}
		if _, exists := m.byPhone[digits]; exists {
			dupes = append(dupes, c)
			continue
		}
		m.byPhone[digits] = c.ID
	}
	return m, dupes
}

// Lookup finds the contact for a phone. An exact match is preferred; failing
// that, a suffix match is accepted only if it is unique.
func (m IdentityMapping) Lookup(phone string) (string, bool) {
	digits := NormalizePhone(phone)
	if digits == "" {
		return "", false
	}
	if id, ok := m.byPhone[digits]; ok {
		return id, true
	}
	var found string
	for p, id := range m.byPhone {
		if matchPhones(p, digits) == matchSuffix {
			if found != "" && found != id {
				return "", false
			}
			found = id
		}
	}
	return found, found != ""
}

// Confirm records a resolver-confirmed phone to contact mapping.
func (m *IdentityMapping) Confirm(phone, contactID string) {
	digits := NormalizePhone(phone)
	if digits == "" || contactID == "" {
		return
	}
	if m.byPhone == nil {
		m.byPhone = make(map[string]string)
	}
	m.byPhone[digits] = contactID
}

func (m IdentityMapping) Len() int {
	return len(m.byPhone)
}
