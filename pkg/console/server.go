// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package console

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/correlator"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/eventchannel"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/projection"
)

// Opener kicks off identity resolution for a conversation that was opened.
type Opener interface {
	Open(conversationID string) error
}

// ChannelStatus is the event channel as seen by the health check.
type ChannelStatus interface {
	State() eventchannel.State
	Attempts() int
	LastError() error
}

// Server exposes the projection read models over HTTP.
type Server struct {
	log    zerolog.Logger
	echo   *echo.Echo
	inbox   *projection.Inbox
	threads *projection.Threads
	src     projection.Source
	opener  Opener
	channel ChannelStatus
}

// NewServer builds the API. threads must already be subscribed to the
// correlator updates of src.
func NewServer(log zerolog.Logger, inbox *projection.Inbox, threads *projection.Threads, src projection.Source, opener Opener) *Server {
	s := &Server{
		log:     log.With().Str("component", "console").Logger(),
		echo:    echo.New(),
		inbox:   inbox,
		threads: threads,
		src:     src,
		opener:  opener,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			evt := s.log.Debug()
			if v.Error != nil {
				evt = s.log.Warn().Err(v.Error)
			}
			evt.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("Handled request")
			return nil
		},
	}))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.getHealth)
	s.echo.GET("/conversations", s.listConversations)
	s.echo.GET("/conversations/:id", s.getConversation)
	s.echo.POST("/conversations/:id/read", s.postRead)
	s.echo.POST("/conversations/:id/open", s.postOpen)
	s.echo.POST("/conversations/:id/close", s.postClose)
	s.echo.POST("/conversations/:id/hide", s.postHide)
}

// SetChannel makes the health check report the event channel state.
func (s *Server) SetChannel(ch ChannelStatus) {
	s.channel = ch
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("address", addr).Msg("Starting console HTTP server")
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, map[string]any{"data": data})
}

func fail(c echo.Context, status int, code, message string, details any) error {
	return c.JSON(status, map[string]any{"error": errorBody{Code: code, Message: message, Details: details}})
}

func failErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, correlator.ErrUnknownConversation):
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
	case errors.Is(err, correlator.ErrConversationRemoved):
		return fail(c, http.StatusGone, "REMOVED", "Conversation was removed", nil)
	case errors.Is(err, correlator.ErrNotAnonymized):
		return fail(c, http.StatusConflict, "NOT_ANONYMIZED", "Conversation has no anonymized identifier", nil)
	default:
		return fail(c, http.StatusInternalServerError, "INTERNAL", "Request failed", err.Error())
	}
}

func conversationID(c echo.Context) string {
	raw := c.Param("id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

func (s *Server) getHealth(c echo.Context) error {
	health := map[string]any{
		"status":        "ok",
		"time":          time.Now().UTC(),
		"connectivity":  s.inbox.Connectivity(),
		"conversations": s.inbox.Len(),
		"open_threads":  s.threads.Len(),
	}
	if s.channel != nil {
		channel := map[string]any{
			"state":    s.channel.State().String(),
			"attempts": s.channel.Attempts(),
		}
		if err := s.channel.LastError(); err != nil {
			channel["last_error"] = err.Error()
		}
		health["channel"] = channel
	}
	return ok(c, health)
}

func (s *Server) listConversations(c echo.Context) error {
	var opts projection.ListOptions
	var err error
	if v := c.QueryParam("limit"); v != "" {
		if opts.Limit, err = cast.ToIntE(v); err != nil || opts.Limit < 0 {
			return fail(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer", v)
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if opts.Offset, err = cast.ToIntE(v); err != nil || opts.Offset < 0 {
			return fail(c, http.StatusBadRequest, "INVALID_OFFSET", "offset must be a non-negative integer", v)
		}
	}
	opts.IncludeHidden = cast.ToBool(c.QueryParam("hidden"))
	opts.UnreadOnly = cast.ToBool(c.QueryParam("unread"))
	entries := s.inbox.List(opts)
	return ok(c, map[string]any{
		"conversations": entries,
		"count":         len(entries),
		"connectivity":  s.inbox.Connectivity(),
	})
}

func (s *Server) getConversation(c echo.Context) error {
	id := conversationID(c)
	th, live := s.threads.Find(id)
	if !live {
		var err error
		if th, err = projection.OpenThread(s.src, id); err != nil {
			return failErr(c, err)
		}
	} else if th.Removed() {
		return failErr(c, correlator.ErrConversationRemoved)
	}
	entry, _ := s.inbox.Get(th.ID())
	return ok(c, map[string]any{
		"entry":        entry,
		"conversation": th.Conversation(),
		"open":         live,
	})
}

func (s *Server) postRead(c echo.Context) error {
	entry, err := s.inbox.MarkRead(c.Request().Context(), conversationID(c))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, entry)
}

func (s *Server) postOpen(c echo.Context) error {
	id := conversationID(c)
	if s.opener != nil {
		if err := s.opener.Open(id); err != nil {
			return failErr(c, err)
		}
	}
	th, err := s.threads.Open(id)
	if err != nil {
		return failErr(c, err)
	}
	conv := th.Conversation()
	return ok(c, map[string]any{
		"conversation": conv,
		"resolving":    conv.Anonymized && s.opener != nil,
	})
}

func (s *Server) postClose(c echo.Context) error {
	id := conversationID(c)
	if !s.threads.Release(id) {
		return fail(c, http.StatusNotFound, "NOT_OPEN", "Conversation is not open", nil)
	}
	return ok(c, map[string]any{"id": s.src.CanonicalID(id), "open_threads": s.threads.Len()})
}

func (s *Server) postHide(c echo.Context) error {
	payload := struct {
		Hidden *bool `json:"hidden"`
	}{}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&payload); err != nil {
			return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
		}
	}
	hidden := payload.Hidden == nil || *payload.Hidden
	id := conversationID(c)
	var err error
	if hidden {
		err = s.inbox.Hide(c.Request().Context(), id)
	} else {
		err = s.inbox.Unhide(c.Request().Context(), id)
	}
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]any{"id": s.src.CanonicalID(id), "hidden": hidden})
}
