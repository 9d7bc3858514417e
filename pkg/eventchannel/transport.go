// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package eventchannel

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateReconnectScheduled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnectScheduled:
		return "reconnect-scheduled"
	default:
		return "unknown"
	}
}

// Reason explains a terminal StateClosed.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonManual     Reason = "manual"
	ReasonAuthFailed Reason = "auth-failed"
	ReasonGaveUp     Reason = "gave-up"
)

// StateChange is emitted on every lifecycle transition.
type StateChange struct {
	TenantID string
	State    State
	Attempt  int
	RetryIn  time.Duration
	Reason   Reason
	Err      error
}

// Terminal reports whether the transport stopped retrying on its own.
func (c StateChange) Terminal() bool {
	return c.Reason == ReasonAuthFailed || c.Reason == ReasonGaveUp
}

// Handler receives filtered, non-control frames in receipt order.
type Handler func(Frame)

// Transport owns one socket for one (tenant, subscriber) pair and keeps it
// alive until Disconnect.
type Transport struct {
	log      zerolog.Logger
	id       xid.ID
	baseURL  string
	tenantID string
	opts     Options
	filter   Filter
	backoff  Backoff

	mu          sync.Mutex
	state       State
	attempts    int
	generation  uint64
	manualClose bool
	disabled    bool
	lastErr     error
	timer       *time.Timer
	cancel      context.CancelFunc
	sock        Socket
	handler     Handler
	onState     func(StateChange)

	connected atomic.Bool

	// afterFunc is swapped in tests
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewTransport creates an idle transport. The socket URL is baseURL with the
// escaped tenant id appended as the last path segment.
func NewTransport(log zerolog.Logger, baseURL, tenantID string, opts Options) *Transport {
	opts = opts.withDefaults()
	id := xid.New()
	log = log.With().
		Str("component", "eventchannel").
		Str("transport_id", id.String()).
		Str("tenant_id", tenantID).
		Logger()
	if opts.Debug {
		log = log.Level(zerolog.DebugLevel)
	}
	filter := NewFilter(tenantID, opts.AnyTenant, opts.Kinds...)
	filter.anyKind = opts.anyKind
	return &Transport{
		log:       log,
		id:        id,
		baseURL:   baseURL,
		tenantID:  tenantID,
		opts:      opts,
		filter:    filter,
		backoff:   opts.backoff(),
		afterFunc: time.AfterFunc,
	}
}

// SocketURL joins a base endpoint and a tenant id.
func SocketURL(baseURL, tenantID string) string {
	return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(tenantID)
}

func (t *Transport) ID() string { return t.id.String() }

func (t *Transport) TenantID() string { return t.tenantID }

// Connected is true while the socket is open.
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func (t *Transport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Disabled is set after the transport gave up or hit an auth failure, and
// cleared on the next successful open.
func (t *Transport) Disabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disabled
}

// Subscribe sets the frame handler. A transport has exactly one handler; a
// second call replaces the first.
func (t *Transport) Subscribe(handler Handler) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

// OnStateChange sets the lifecycle callback. It is called from the reader or
// timer goroutine and must not block.
func (t *Transport) OnStateChange(fn func(StateChange)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// Connect starts the connection. It does nothing without a tenant id or when
// a socket is already connecting, open or scheduled to reconnect.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.tenantID == "" {
		t.mu.Unlock()
		t.log.Debug().Msg("Not connecting without tenant ID")
		return
	}
	t.manualClose = false
	switch t.state {
	case StateConnecting, StateOpen, StateReconnectScheduled:
		t.mu.Unlock()
		return
	}
	t.attempts = 0
	change := t.dialLocked()
	notify := t.onState
	t.mu.Unlock()
	emit(notify, change)
}

// Disconnect closes the socket, cancels any pending reconnect and ignores
// anything the old socket still reports. It stays disconnected until the
// next Connect.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.manualClose = true
	t.generation++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	sock := t.sock
	t.sock = nil
	t.attempts = 0
	t.lastErr = nil
	wasActive := t.state != StateIdle && t.state != StateClosed
	t.state = StateClosed
	t.connected.Store(false)
	notify := t.onState
	t.mu.Unlock()

	if sock != nil {
		if err := sock.Close(int(websocket.StatusNormalClosure), "client disconnect"); err != nil {
			t.log.Debug().Err(err).Msg("Error closing socket")
		}
	}
	if wasActive {
		t.log.Info().Msg("Disconnected")
		emit(notify, StateChange{TenantID: t.tenantID, State: StateClosed, Reason: ReasonManual})
	}
}

func (t *Transport) dialLocked() StateChange {
	t.generation++
	gen := t.generation
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.state = StateConnecting
	t.log.Debug().Int("attempt", t.attempts).Msg("Connecting")
	go t.run(ctx, gen)
	return StateChange{TenantID: t.tenantID, State: StateConnecting, Attempt: t.attempts}
}

func (t *Transport) run(ctx context.Context, gen uint64) {
	sock, err := t.opts.Dialer.Dial(ctx, SocketURL(t.baseURL, t.tenantID), t.opts.Header)
	if err != nil {
		t.handleClosed(gen, err)
		return
	}
	if !t.handleOpen(gen, sock) {
		_ = sock.Close(int(websocket.StatusNormalClosure), "stale connection")
		return
	}
	for {
		data, err := sock.Read(ctx)
		if err != nil {
			t.handleClosed(gen, err)
			return
		}
		t.handleFrame(gen, data)
	}
}

func (t *Transport) handleOpen(gen uint64, sock Socket) bool {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return false
	}
	t.state = StateOpen
	t.attempts = 0
	t.disabled = false
	t.lastErr = nil
	t.sock = sock
	t.connected.Store(true)
	notify := t.onState
	t.mu.Unlock()
	t.log.Info().Msg("Connected")
	emit(notify, StateChange{TenantID: t.tenantID, State: StateOpen})
	return true
}

func (t *Transport) handleFrame(gen uint64, data []byte) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	handler := t.handler
	t.mu.Unlock()

	frame, err := ParseFrame(data, time.Now())
	if errors.Is(err, ErrMalformedFrame) {
		t.log.Debug().Err(err).Int("size", len(data)).Msg("Dropping malformed frame")
		return
	} else if err != nil {
		t.log.Warn().Err(err).Str("kind", string(frame.Kind)).Msg("Failed to parse frame")
		return
	}
	if frame.Kind.IsControl() {
		return
	}
	if !t.filter.Allow(frame) {
		t.log.Debug().
			Str("kind", string(frame.Kind)).
			Str("frame_tenant_id", frame.TenantID).
			Msg("Frame filtered out")
		return
	}
	if handler != nil {
		handler(frame)
	}
}

func (t *Transport) handleClosed(gen uint64, err error) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	notify := t.onState
	t.sock = nil
	t.connected.Store(false)
	t.lastErr = err
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.state = StateClosed
	changes := []StateChange{{TenantID: t.tenantID, State: StateClosed, Attempt: t.attempts, Err: err}}

	var closeErr *CloseError
	switch {
	case t.manualClose:
		t.mu.Unlock()
		return
	case errors.Is(err, ErrUnauthorized),
		errors.As(err, &closeErr) && t.opts.AuthCloseCodes.Contains(closeErr.Code):
		t.disabled = true
		changes[0].Reason = ReasonAuthFailed
		t.mu.Unlock()
		t.log.Error().Err(err).Msg("Authentication rejected, not reconnecting")
		emit(notify, changes...)
		return
	}

	if t.attempts >= t.opts.MaxReconnectAttempts {
		t.disabled = true
		changes[0].Reason = ReasonGaveUp
		attempts := t.attempts
		t.mu.Unlock()
		t.log.Error().Err(err).Int("attempts", attempts).Msg("Giving up on reconnecting")
		emit(notify, changes...)
		return
	}
	t.attempts++
	delay := t.backoff.Next(t.attempts)
	t.state = StateReconnectScheduled
	t.timer = t.afterFunc(delay, func() { t.reconnect(gen) })
	changes = append(changes, StateChange{
		TenantID: t.tenantID,
		State:    StateReconnectScheduled,
		Attempt:  t.attempts,
		RetryIn:  delay,
		Err:      err,
	})
	attempt := t.attempts
	t.mu.Unlock()
	t.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("Connection lost, reconnecting")
	emit(notify, changes...)
}

func (t *Transport) reconnect(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || t.manualClose || t.state != StateReconnectScheduled {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	change := t.dialLocked()
	notify := t.onState
	t.mu.Unlock()
	emit(notify, change)
}

func emit(fn func(StateChange), changes ...StateChange) {
	if fn == nil {
		return
	}
	for _, c := range changes {
		fn(c)
	}
}
