// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package eventchannel

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/gabriel-vasile/mimetype"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedFrame is returned for frames that are not JSON objects or lack
// a `type` field.
var ErrMalformedFrame = errors.New("malformed frame")

var tenantPaths = []string{
	"company_id", "tenant_id",
	"data.company_id", "data.tenant_id",
	"payload.company_id", "payload.tenant_id",
}

var nestedKeys = []string{"data", "payload"}

// peekFrame reads the kind and tenant of a frame without decoding the body.
func peekFrame(raw []byte) (Kind, string, error) {
	if !gjson.ValidBytes(raw) {
		return "", "", ErrMalformedFrame
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return "", "", ErrMalformedFrame
	}
	kind := root.Get("type").String()
	if kind == "" {
		return "", "", ErrMalformedFrame
	}
	for _, path := range tenantPaths {
		if v := root.Get(path); v.Exists() && v.String() != "" {
			return Kind(kind), v.String(), nil
		}
	}
	return Kind(kind), "", nil
}

// ParseFrame decodes a raw wire frame. Control frames are returned with an
// empty payload; callers drop them by kind.
func ParseFrame(raw []byte, receivedAt time.Time) (Frame, error) {
	kind, tenant, err := peekFrame(raw)
	if err != nil {
		return Frame{}, err
	}
	frame := Frame{Kind: kind, TenantID: tenant, Raw: raw, ReceivedAt: receivedAt}
	if kind.IsControl() {
		return frame, nil
	}
	var bag map[string]any
	if err = json.Unmarshal(raw, &bag); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	frame.Payload, err = decodePayload(flattenBag(bag))
	if err != nil {
		return frame, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return frame, nil
}

// flattenBag lifts nested data/payload objects to the top level. Nested
// values win over top-level ones; envelope keys are dropped.
func flattenBag(bag map[string]any) map[string]any {
	out := make(map[string]any, len(bag))
	for k, v := range bag {
		out[k] = v
	}
	for _, key := range nestedKeys {
		nested, ok := bag[key].(map[string]any)
		if !ok {
			continue
		}
		delete(out, key)
		for k, v := range nested {
			out[k] = v
		}
	}
	delete(out, "type")
	delete(out, "company_id")
	delete(out, "tenant_id")
	// `error` may be a plain string or an object with message/code
	switch e := out["error"].(type) {
	case string:
		if _, ok := out["error_message"]; !ok {
			out["error_message"] = e
		}
	case map[string]any:
		if msg, ok := e["message"]; ok {
			out["error_message"] = msg
		}
		if code, ok := e["code"]; ok {
			out["error_code"] = code
		}
	}
	delete(out, "error")
	if _, ok := out["body"]; !ok {
		if text, ok := out["text"]; ok {
			out["body"] = text
			delete(out, "text")
		}
	}
	return out
}

func decodePayload(bag map[string]any) (Payload, error) {
	var p Payload
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       timeHook,
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return p, err
	}
	if err = dec.Decode(bag); err != nil {
		return p, err
	}
	if p.MediaType == "" && p.Media != "" {
		p.MediaType = sniffMedia(p.Media)
	}
	return p, nil
}

var timeType = reflect.TypeOf(time.Time{})

// timeHook accepts RFC3339 strings, unix seconds and unix milliseconds.
func timeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}
	switch v := data.(type) {
	case nil:
		return time.Time{}, nil
	case float64:
		return unixish(int64(v)), nil
	case int64:
		return unixish(v), nil
	case int:
		return unixish(int64(v)), nil
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		if n, err := cast.ToInt64E(v); err == nil {
			return unixish(n), nil
		}
		return cast.ToTimeE(v)
	}
	return cast.ToTimeE(data)
}

func unixish(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

func sniffMedia(encoded string) string {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	return mimetype.Detect(data).String()
}
