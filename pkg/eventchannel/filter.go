// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package eventchannel

// Filter narrows the frame stream of one connection to the kinds it asked for
// and to its own tenant. It holds no state between frames.
type Filter struct {
	kinds     map[Kind]struct{}
	tenantID  string
	anyTenant bool
	anyKind   bool
}

// NewFilter builds a filter for the given tenant. An anyTenant filter accepts
// frames for every tenant.
func NewFilter(tenantID string, anyTenant bool, kinds ...Kind) Filter {
	f := Filter{
		kinds:     make(map[Kind]struct{}, len(kinds)),
		tenantID:  tenantID,
		anyTenant: anyTenant,
	}
	for _, k := range kinds {
		f.kinds[k] = struct{}{}
	}
	return f
}

func (f Filter) Allow(frame Frame) bool {
	if frame.Kind.IsControl() {
		return false
	}
	if !f.anyKind {
		if _, ok := f.kinds[frame.Kind]; !ok {
			return false
		}
	}
	return frame.TenantID == "" || f.anyTenant || frame.TenantID == f.tenantID
}
