// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package correlator

import (
	"strings"
)

const (
	lidSuffix = "@lid"

	// MinSuffixDigits is the shortest number allowed to take part in a
	// suffix match. Anything shorter matches too many unrelated numbers.
	MinSuffixDigits = 8
)

// IsLID reports whether the chat identifier is in the anonymized form.
func IsLID(chatID string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(chatID)), lidSuffix)
}

// NormalizePhone reduces a chat identifier or phone number to its digits.
// The `@domain` part and a `:device` suffix are dropped first, so
// "5511988887777:12@c.us" becomes "5511988887777".
func NormalizePhone(id string) string {
	id = strings.TrimSpace(id)
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	if colon := strings.IndexByte(id, ':'); colon >= 0 {
		id = id[:colon]
	}
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type phoneMatch int

const (
	matchNone phoneMatch = iota
	matchSuffix
	matchExact
)

// matchPhones compares two digit strings. One being a suffix of the other
// covers numbers stored with and without the country code.
func matchPhones(a, b string) phoneMatch {
	if a == "" || b == "" {
		return matchNone
	}
	if a == b {
		return matchExact
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) >= MinSuffixDigits && strings.HasSuffix(long, short) {
		return matchSuffix
	}
	return matchNone
}

// VirtualID is the conversation id used for a chat identifier that maps to no
// saved contact.
func VirtualID(chatID string) string {
	if !IsLID(chatID) {
		if digits := NormalizePhone(chatID); digits != "" {
			return virtualPrefix + digits
		}
	}
	return virtualPrefix + strings.TrimSpace(chatID)
}

const virtualPrefix = "virtual-"
