package projection

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/correlator"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	lock sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject, data})
	return nil
}

func TestNATSSinkSubjects(t *testing.T) {
	tests := []struct {
		prefix, tenant string
		kind           correlator.UpdateKind
		want           string
	}{
		{"", "42", correlator.UpdateMessage, "sparta.42.conversation.message"},
		{"console.", "acme.br", correlator.UpdatePromoted, "console.acme_br.conversation.promoted"},
		{"x", "", correlator.UpdateRead, "x._.conversation.read"},
	}
	for _, tt := range tests {
		s := NewNATSSink(zerolog.Nop(), &fakePublisher{}, tt.prefix, tt.tenant)
		if got := s.Subject(tt.kind); got != tt.want {
			t.Errorf("Subject(%q, %q, %s) = %q, want %q", tt.prefix, tt.tenant, tt.kind, got, tt.want)
		}
	}
}

func TestNATSSinkPublishesUpdates(t *testing.T) {
	pub := &fakePublisher{}
	c := correlator.New(zerolog.Nop(), correlator.Options{})
	sink := NewNATSSink(zerolog.Nop(), pub, "sparta", "42")
	c.OnUpdate(sink.Apply)
	c.HandleInbound(inbound("in-1", "5511944440000@c.us", time.Now()))

	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages", len(pub.msgs))
	}
	if pub.msgs[0].subject != "sparta.42.conversation.message" {
		t.Errorf("subject = %q", pub.msgs[0].subject)
	}
	var payload sinkPayload
	if err := json.Unmarshal(pub.msgs[0].data, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.TenantID != "42" || payload.Update.ConversationID != "virtual-5511944440000" || payload.Update.MessageID != "in-1" {
		t.Errorf("payload = %+v", payload)
	}

	// publish failures are logged, not raised
	pub.err = errors.New("nats: connection closed")
	c.HandleInbound(inbound("in-2", "5511944440000@c.us", time.Now()))
}
