// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package projection

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/correlator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const DefaultSubjectPrefix = "sparta"

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink relays correlated updates so that the surrounding application
// can persist them.
type NATSSink struct {
	log    zerolog.Logger
	pub    Publisher
	prefix string
	tenant string
}

func NewNATSSink(log zerolog.Logger, pub Publisher, prefix, tenantID string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{
		log:    log.With().Str("component", "nats_sink").Logger(),
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "."),
		tenant: tenantID,
	}
}

// Subject returns the subject an update kind is published on.
func (s *NATSSink) Subject(kind correlator.UpdateKind) string {
	return fmt.Sprintf("%s.%s.conversation.%s", s.prefix, subjectToken(s.tenant), kind)
}

// subjectToken replaces characters that would split or wildcard a subject.
func subjectToken(v string) string {
	if v == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(v)
}

type sinkPayload struct {
	TenantID string            `json:"tenant_id"`
	SentAt   time.Time         `json:"sent_at"`
	Update   correlator.Update `json:"update"`
}

func (s *NATSSink) Apply(u correlator.Update) {
	data, err := json.Marshal(&sinkPayload{TenantID: s.tenant, SentAt: time.Now().UTC(), Update: u})
	if err != nil {
		s.log.Err(err).Str("conversation_id", u.ConversationID).Msg("Failed to marshal update")
		return
	}
	subject := s.Subject(u.Kind)
	if err = s.pub.Publish(subject, data); err != nil {
		s.log.Err(err).Str("subject", subject).Msg("Failed to publish update")
		return
	}
	s.log.Trace().Str("subject", subject).Str("conversation_id", u.ConversationID).Msg("Published update")
}

type NATSOptions struct {
	URL             string
	Name            string
	CredentialsFile string
	Token           string
	ReconnectWait   time.Duration
	MaxReconnects   int
}

// ConnectNATS opens a connection that keeps reconnecting in the background.
func ConnectNATS(log zerolog.Logger, cfg NATSOptions) (*nats.Conn, error) {
	if cfg.Name == "" {
		cfg.Name = "sparta-console"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	log = log.With().Str("component", "nats").Logger()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
	} else if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}
