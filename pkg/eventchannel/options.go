// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package eventchannel

import (
	"net/http"
	"time"
)

const (
	DefaultMaxReconnectAttempts = 10
	DefaultBaseDelay            = 1 * time.Second
	DefaultMaxDelay             = 30 * time.Second
	DefaultCapExponent          = 5
	DefaultJitterCeiling        = 1 * time.Second
)

// DefaultAuthCloseCodes is the close-code range treated as an authentication
// failure.
var DefaultAuthCloseCodes = CodeRange{Min: 4001, Max: 4099}

// DefaultKinds is the allow-list used when Options.Kinds is empty.
var DefaultKinds = []Kind{KindMessageStatus, KindMessageReceived}

// CodeRange is an inclusive range of websocket close codes.
type CodeRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

func (r CodeRange) Contains(code int) bool {
	return code >= r.Min && code <= r.Max
}

// Options configures one transport. Zero values fall back to the defaults
// above.
type Options struct {
	// Kinds is the allow-list of event kinds delivered to the subscriber.
	Kinds []Kind
	// AnyTenant disables the tenant check of the filter.
	AnyTenant bool

	MaxReconnectAttempts int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	CapExponent          int
	// JitterCeiling bounds the random spread added to each delay.
	// A negative value disables jitter.
	JitterCeiling time.Duration

	AuthCloseCodes CodeRange

	// Debug logs dropped and malformed frames.
	Debug bool

	// Header is sent with the websocket handshake.
	Header http.Header
	// Dialer overrides the websocket dialer. Mostly useful in tests.
	Dialer Dialer

	anyKind bool
}

func (o Options) withDefaults() Options {
	if len(o.Kinds) == 0 {
		o.Kinds = DefaultKinds
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.CapExponent <= 0 {
		o.CapExponent = DefaultCapExponent
	}
	if o.JitterCeiling == 0 {
		o.JitterCeiling = DefaultJitterCeiling
	} else if o.JitterCeiling < 0 {
		o.JitterCeiling = 0
	}
	if o.AuthCloseCodes == (CodeRange{}) {
		o.AuthCloseCodes = DefaultAuthCloseCodes
	}
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer{}
	}
	return o
}

func (o Options) backoff() Backoff {
	return Backoff{
		Base:        o.BaseDelay,
		Max:         o.MaxDelay,
		CapExponent: o.CapExponent,
		Jitter:      o.JitterCeiling,
	}
}
