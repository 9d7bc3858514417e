// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package eventchannel

import (
	"time"
)

// Kind is the `type` tag of a wire frame.
type Kind string

const (
	KindWelcome Kind = "welcome"
	KindPing    Kind = "ping"
	KindAck     Kind = "ack"

	KindMessageStatus   Kind = "message_status_changed"
	KindMessageReceived Kind = "message_received"
)

// IsControl reports whether the kind is a transport-level control frame.
// Control frames never reach a subscriber.
func (k Kind) IsControl() bool {
	switch k {
	case KindWelcome, KindPing, KindAck:
		return true
	default:
		return false
	}
}

// ErrorDetail is the delivery error attached to a status event.
type ErrorDetail struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e ErrorDetail) IsZero() bool {
	return e.Message == "" && e.Code == ""
}

// Payload is the decoded domain bag of a frame. Fields may arrive at the top
// level of the frame or nested under `data` / `payload`.
type Payload struct {
	MessageID      string    `mapstructure:"message_id"`
	SchedulerJobID string    `mapstructure:"scheduler_job_id"`
	ChatID         string    `mapstructure:"chat_id"`
	ContactID      string    `mapstructure:"contact_id"`
	SessionID      string    `mapstructure:"session_id"`
	Status         string    `mapstructure:"status"`
	Attempts       *int      `mapstructure:"attempts"`
	ErrorMessage   string    `mapstructure:"error_message"`
	ErrorCode      string    `mapstructure:"error_code"`
	Body           string    `mapstructure:"body"`
	FromMe         bool      `mapstructure:"from_me"`
	Media          string    `mapstructure:"media"`
	MediaType      string    `mapstructure:"media_type"`
	Timestamp      time.Time `mapstructure:"timestamp"`

	Extra map[string]any `mapstructure:",remain"`
}

// Frame is a parsed, non-control wire frame.
type Frame struct {
	Kind       Kind
	TenantID   string
	Payload    Payload
	Raw        []byte
	ReceivedAt time.Time
}

// Event is the closed set of frame variants the engine understands.
// Switches over Event should handle StatusEvent, InboundMessageEvent and
// UnknownEvent.
type Event interface {
	EventKind() Kind
	EventTenant() string
	isEvent()
}

// StatusEvent reports a delivery-status change of an outgoing message.
type StatusEvent struct {
	TenantID       string
	MessageID      string
	SchedulerJobID string
	ChatID         string
	ContactID      string
	Status         string
	Attempts       *int
	Error          ErrorDetail
	Timestamp      time.Time
}

// InboundMessageEvent carries a message received from a remote chat.
type InboundMessageEvent struct {
	TenantID  string
	MessageID string
	ChatID    string
	ContactID string
	SessionID string
	Body      string
	MediaType string
	FromMe    bool
	Timestamp time.Time
}

// UnknownEvent is any allow-listed kind the engine has no variant for.
type UnknownEvent struct {
	Kind     Kind
	TenantID string
	Payload  Payload
}

func (StatusEvent) EventKind() Kind { return KindMessageStatus }
func (e StatusEvent) EventTenant() string { return e.TenantID }
func (StatusEvent) isEvent() {}
func (InboundMessageEvent) EventKind() Kind { return KindMessageReceived }
func (e InboundMessageEvent) EventTenant() string { return e.TenantID }
func (InboundMessageEvent) isEvent() {}
func (e UnknownEvent) EventKind() Kind { return e.Kind }
func (e UnknownEvent) EventTenant() string { return e.TenantID }
func (UnknownEvent) isEvent() {}

// Event converts the frame into its typed variant.
func (f Frame) Event() Event {
	p := f.Payload
	ts := p.Timestamp
	if ts.IsZero() {
		ts = f.ReceivedAt
	}
	switch f.Kind {
	case KindMessageStatus:
		return StatusEvent{
			TenantID:       f.TenantID,
			MessageID:      p.MessageID,
			SchedulerJobID: p.SchedulerJobID,
			ChatID:         p.ChatID,
			ContactID:      p.ContactID,
			Status:         p.Status,
			Attempts:       p.Attempts,
			Error:          ErrorDetail{Message: p.ErrorMessage, Code: p.ErrorCode},
			Timestamp:      ts,
		}
	case KindMessageReceived:
		return InboundMessageEvent{
			TenantID:  f.TenantID,
			MessageID: p.MessageID,
			ChatID:    p.ChatID,
			ContactID: p.ContactID,
			SessionID: p.SessionID,
			Body:      p.Body,
			MediaType: p.MediaType,
			FromMe:    p.FromMe,
			Timestamp: ts,
		}
	default:
		return UnknownEvent{Kind: f.Kind, TenantID: f.TenantID, Payload: p}
	}
}
