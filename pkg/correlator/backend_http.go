// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package correlator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotResolvable means the backend has no phone for the identifier.
var ErrNotResolvable = errors.New("identifier cannot be resolved")

// HTTPBackend resolves identifiers through the messaging gateway's REST API:
// GET {BaseURL}/sessions/{session}/lid/{lid}.
type HTTPBackend struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type lidResponse struct {
	ChatID    string `json:"chat_id"`
	Phone     string `json:"phone"`
	ContactID string `json:"contact_id"`
}

func (b *HTTPBackend) ResolveLID(ctx context.Context, sessionID, lid string) (Resolution, error) {
	endpoint := fmt.Sprintf("%s/sessions/%s/lid/%s",
		strings.TrimRight(b.BaseURL, "/"), url.PathEscape(sessionID), url.PathEscape(lid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to prepare request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if b.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.Token)
	}
	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Resolution{}, ErrNotResolvable
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Resolution{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var data lidResponse
	if err = json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Resolution{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if data.Phone == "" && data.ChatID == "" {
		return Resolution{}, ErrNotResolvable
	}
	return Resolution(data), nil
}
