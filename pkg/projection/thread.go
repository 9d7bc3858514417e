// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package projection

import (
	"sync"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/correlator"
)

// Thread is the read model of the conversation currently open in the
// console. It keeps following the conversation when an anonymized id is
// promoted to a contact id.
type Thread struct {
	lock    sync.RWMutex
	conv    correlator.Conversation
	removed bool
}

// OpenThread loads the current state of a conversation.
func OpenThread(src Source, id string) (*Thread, error) {
	conv, ok := src.Conversation(id)
	if !ok {
		return nil, correlator.ErrUnknownConversation
	}
	return &Thread{conv: conv}, nil
}

func (t *Thread) Apply(u correlator.Update) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.removed {
		return
	}
	switch {
	case u.ConversationID == t.conv.ID:
	case u.Kind == correlator.UpdatePromoted && u.PreviousID == t.conv.ID:
	default:
		return
	}
	if u.Kind == correlator.UpdateRemoved {
		t.removed = true
		return
	}
	if u.Conversation.ID != "" {
		t.conv = u.Conversation
	}
}

func (t *Thread) ID() string {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.conv.ID
}

func (t *Thread) Conversation() correlator.Conversation {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.conv
}

// Messages returns the bubbles ordered by timestamp.
func (t *Thread) Messages() []correlator.Message {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.conv.Messages
}

// Removed reports whether the conversation was deleted while open.
func (t *Thread) Removed() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.removed
}

// Threads keeps the threads open in the console current. It is subscribed
// once to correlator updates and fans them out to every open thread.
type Threads struct {
	src Source

	lock sync.Mutex
	refs map[*Thread]int
}

func NewThreads(src Source) *Threads {
	return &Threads{src: src, refs: make(map[*Thread]int)}
}

// Apply forwards an update to every open thread.
func (ts *Threads) Apply(u correlator.Update) {
	ts.lock.Lock()
	open := make([]*Thread, 0, len(ts.refs))
	for th := range ts.refs {
		open = append(open, th)
	}
	ts.lock.Unlock()
	for _, th := range open {
		th.Apply(u)
	}
}

// Open returns the open thread of a conversation, loading it if nobody has
// it open yet. Every Open must be paired with a Release.
func (ts *Threads) Open(id string) (*Thread, error) {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	if th, ok := ts.findLocked(id); ok {
		ts.refs[th]++
		return th, nil
	}
	th, err := OpenThread(ts.src, id)
	if err != nil {
		return nil, err
	}
	ts.refs[th] = 1
	return th, nil
}

// Release drops one reference to the open thread of a conversation. It
// reports false if no thread was open.
func (ts *Threads) Release(id string) bool {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	th, ok := ts.findLocked(id)
	if !ok {
		return false
	}
	if ts.refs[th]--; ts.refs[th] <= 0 {
		delete(ts.refs, th)
	}
	return true
}

// Find returns the open thread of a conversation, following promotions.
func (ts *Threads) Find(id string) (*Thread, bool) {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	return ts.findLocked(id)
}

func (ts *Threads) findLocked(id string) (*Thread, bool) {
	canonical := ts.src.CanonicalID(id)
	for th := range ts.refs {
		if cur := th.ID(); cur == canonical || cur == id {
			return th, true
		}
	}
	return nil, false
}

func (ts *Threads) Len() int {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	return len(ts.refs)
}
