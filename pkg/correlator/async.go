// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package correlator

import (
	"sync"
)

// asyncSubscriber hands updates to fn on its own goroutine in publish order.
// push never waits for fn.
type asyncSubscriber struct {
	fn      func(Update)
	pending *pendingCounter

	lock   sync.Mutex
	queue  []Update
	wake   chan struct{}
	closed bool
}

func newAsyncSubscriber(fn func(Update), pending *pendingCounter) *asyncSubscriber {
	s := &asyncSubscriber{fn: fn, pending: pending, wake: make(chan struct{}, 1)}
	go s.run()
	return s
}

func (s *asyncSubscriber) push(u Update) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.pending.add(1)
	s.queue = append(s.queue, u)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// stop lets the goroutine exit once everything queued so far is handled.
func (s *asyncSubscriber) stop() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.closed {
		s.closed = true
		close(s.wake)
	}
}

func (s *asyncSubscriber) run() {
	for range s.wake {
		for {
			s.lock.Lock()
			batch := s.queue
			s.queue = nil
			s.lock.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, u := range batch {
				s.fn(u)
				s.pending.add(-1)
			}
		}
	}
}

type pendingCounter struct {
	lock sync.Mutex
	idle *sync.Cond
	n    int
}

func newPendingCounter() *pendingCounter {
	p := &pendingCounter{}
	p.idle = sync.NewCond(&p.lock)
	return p
}

func (p *pendingCounter) add(delta int) {
	p.lock.Lock()
	p.n += delta
	if p.n <= 0 {
		p.n = 0
		p.idle.Broadcast()
	}
	p.lock.Unlock()
}

func (p *pendingCounter) wait() {
	p.lock.Lock()
	for p.n > 0 {
		p.idle.Wait()
	}
	p.lock.Unlock()
}
