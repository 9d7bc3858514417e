package eventchannel

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestHubSharesTransportPerTenant(t *testing.T) {
	dialer := &fakeDialer{}
	hub := NewHub(zerolog.Nop(), "ws://backend.invalid/ws/company", Options{Dialer: dialer})
	defer hub.Close()

	var mu sync.Mutex
	var statusSeen, inboundSeen []string
	statusSub, err := hub.Subscribe("company-1", []Kind{KindMessageStatus}, func(f Frame) {
		mu.Lock()
		statusSeen = append(statusSeen, f.Payload.MessageID)
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	inboxSub, err := hub.Subscribe("company-1", []Kind{KindMessageReceived}, func(f Frame) {
		mu.Lock()
		inboundSeen = append(inboundSeen, f.Payload.MessageID)
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if refs := hub.Refs("company-1"); refs != 2 {
		t.Fatalf("refs = %d, want 2", refs)
	}
	waitFor(t, "open", statusSub.Connected)
	if n := dialer.count(); n != 1 {
		t.Fatalf("dials = %d, want one shared socket", n)
	}

	sock := dialer.last()
	sock.frames <- []byte(`{"type":"message_status_changed","company_id":"company-1","message_id":"s1"}`)
	sock.frames <- []byte(`{"type":"message_received","company_id":"company-1","message_id":"r1","chat_id":"1@c.us"}`)
	sock.frames <- []byte(`{"type":"message_received","company_id":"company-9","message_id":"r2","chat_id":"1@c.us"}`)
	waitFor(t, "dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statusSeen) == 1 && len(inboundSeen) == 1
	})

	statusSub.Close()
	statusSub.Close()
	if refs := hub.Refs("company-1"); refs != 1 {
		t.Fatalf("refs after close = %d, want 1", refs)
	}
	if sock.closed.Load() {
		t.Fatal("shared socket closed while a subscriber remains")
	}
	inboxSub.Close()
	waitFor(t, "socket closed", sock.closed.Load)
	if _, ok := hub.Transport("company-1"); ok {
		t.Fatal("transport should be released with the last subscriber")
	}
}

func TestHubRequiresTenant(t *testing.T) {
	hub := NewHub(zerolog.Nop(), "ws://backend.invalid", Options{Dialer: &fakeDialer{}})
	if _, err := hub.Subscribe("", nil, func(Frame) {}, nil); !errors.Is(err, ErrNoTenant) {
		t.Fatalf("err = %v, want ErrNoTenant", err)
	}
}
