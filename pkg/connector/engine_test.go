package connector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/correlator"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/eventchannel"
)

type pipeSocket struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *pipeSocket) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return nil, errors.New("closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *pipeSocket) Close(int, string) error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type pipeDialer struct {
	sock *pipeSocket
	url  chan string
}

func (d *pipeDialer) Dial(_ context.Context, url string, _ http.Header) (eventchannel.Socket, error) {
	d.url <- url
	return d.sock, nil
}

type memPublisher struct {
	lock     sync.Mutex
	subjects []string
}

func (p *memPublisher) Publish(subject string, _ []byte) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

type stubBackend struct{}

func (stubBackend) ResolveLID(context.Context, string, string) (correlator.Resolution, error) {
	return correlator.Resolution{Phone: "5511922220000"}, nil
}

type gatedBackend struct {
	gate chan struct{}
}

func (b gatedBackend) ResolveLID(ctx context.Context, _, _ string) (correlator.Resolution, error) {
	select {
	case <-b.gate:
		return correlator.Resolution{Phone: "5511922220000"}, nil
	case <-ctx.Done():
		return correlator.Resolution{}, ctx.Err()
	}
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		Channel: ChannelConfig{URL: "wss://events.test", TenantPath: "ws", TenantID: "42"},
		Resolver: ResolverConfig{
			Enabled:       true,
			URL:           "http://resolver.test",
			Session:       "sess-1",
			MissThreshold: 1,
		},
		Snapshot: SnapshotConfig{Path: writeFile(t, "snapshot.yaml", "contacts:\n    - id: contact-2\n      phone: \"5511922220000\"\n")},
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestEngineEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	dialer := &pipeDialer{sock: &pipeSocket{frames: make(chan []byte, 4), done: make(chan struct{})}, url: make(chan string, 1)}
	pub := &memPublisher{}
	e, err := NewEngine(context.Background(), zerolog.Nop(), cfg, EngineOptions{Dialer: dialer, Publisher: pub, Backend: stubBackend{}})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	promoted := make(chan correlator.Update, 1)
	e.OnUpdate(func(u correlator.Update) {
		if u.Kind == correlator.UpdatePromoted {
			promoted <- u
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case url := <-dialer.url:
		if url != "wss://events.test/ws/42" {
			t.Errorf("dialed %q", url)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transport never dialed")
	}
	dialer.sock.frames <- []byte(`{"type":"welcome"}`)
	dialer.sock.frames <- []byte(`{"type":"message_received","company_id":"7","data":{"message_id":"x","chat_id":"5511900000000@c.us"}}`)
	dialer.sock.frames <- []byte(`{"type":"message_received","company_id":"42","data":{"message_id":"in-1","chat_id":"208431212345678@lid","text":"oi"}}`)

	// one miss on the anonymized id is enough to resolve it into contact-2
	select {
	case u := <-promoted:
		if u.ConversationID != "contact-2" {
			t.Fatalf("promoted into %q", u.ConversationID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("anonymized conversation never resolved")
	}
	entry, ok := e.Inbox.Get("contact-2")
	if !ok || entry.Preview != "oi" {
		t.Fatalf("inbox entry = %+v, %v", entry, ok)
	}
	if _, ok = e.Correlator.ConversationByIdentifier("5511900000000@c.us"); ok {
		t.Error("frame of another tenant was correlated")
	}

	cancel()
	if err = <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	e.Correlator.WaitAsync()
	pub.lock.Lock()
	defer pub.lock.Unlock()
	want := map[string]bool{"sparta.42.conversation.message": false, "sparta.42.conversation.promoted": false}
	for _, s := range pub.subjects {
		if _, ok := want[s]; ok {
			want[s] = true
		}
	}
	for s, seen := range want {
		if !seen {
			t.Errorf("nothing published on %s (got %v)", s, pub.subjects)
		}
	}
}

func TestNewEngineRequiresTenant(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channel.TenantID = ""
	if _, err := NewEngine(context.Background(), zerolog.Nop(), cfg, EngineOptions{}); !errors.Is(err, eventchannel.ErrNoTenant) {
		t.Fatalf("err = %v", err)
	}
}

func TestEngineOpenThreadFollowsPromotion(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Listen = "127.0.0.1:0"
	backend := gatedBackend{gate: make(chan struct{})}
	e, err := NewEngine(context.Background(), zerolog.Nop(), cfg, EngineOptions{Backend: backend, Publisher: &memPublisher{}})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()
	promoted := make(chan correlator.Update, 1)
	e.OnUpdate(func(u correlator.Update) {
		if u.Kind == correlator.UpdatePromoted {
			select {
			case promoted <- u:
			default:
			}
		}
	})

	e.Correlator.HandleInbound(eventchannel.InboundMessageEvent{MessageID: "in-1", ChatID: "208431212345678@lid", Body: "oi"})
	req := httptest.NewRequest(http.MethodPost, "/conversations/virtual-208431212345678%40lid/open", nil)
	rec := httptest.NewRecorder()
	e.Server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("open status = %d body %s", rec.Code, rec.Body.String())
	}
	th, ok := e.Threads.Find("virtual-208431212345678@lid")
	if !ok || !th.Conversation().Anonymized {
		t.Fatalf("open thread = %v, %v", th, ok)
	}

	close(backend.gate)
	select {
	case <-promoted:
	case <-time.After(3 * time.Second):
		t.Fatal("anonymized conversation never resolved")
	}
	if th.ID() != "contact-2" || th.Conversation().Anonymized || len(th.Messages()) != 1 {
		t.Fatalf("open thread after promotion = %+v", th.Conversation())
	}

	rec = httptest.NewRecorder()
	e.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/virtual-208431212345678%40lid", nil))
	var body struct {
		Data struct {
			Open         bool                    `json:"open"`
			Conversation correlator.Conversation `json:"conversation"`
		} `json:"data"`
	}
	if err = json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body %q: %v", rec.Body.String(), err)
	}
	if !body.Data.Open || body.Data.Conversation.ID != "contact-2" {
		t.Errorf("thread over HTTP = %+v", body.Data)
	}
}
