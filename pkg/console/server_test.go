package console

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/correlator"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/eventchannel"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/projection"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fakeOpener struct {
	lock   sync.Mutex
	opened []string
	corr   *correlator.Correlator
}

func (o *fakeOpener) Open(id string) error {
	o.lock.Lock()
	o.opened = append(o.opened, id)
	o.lock.Unlock()
	if _, ok := o.corr.Conversation(id); !ok {
		return correlator.ErrUnknownConversation
	}
	return nil
}

func setupServer(t *testing.T) (*Server, *correlator.Correlator, *fakeOpener) {
	t.Helper()
	c := correlator.New(zerolog.Nop(), correlator.Options{})
	c.LoadSnapshot(correlator.Snapshot{Contacts: []correlator.Contact{
		{ID: "contact-1", Name: "Ana", Phone: "5511911110000"},
	}})
	ib := projection.NewInbox(zerolog.Nop(), c, projection.NewMemoryStore())
	c.OnUpdate(ib.Apply)
	if err := ib.Load(t.Context()); err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.HandleInbound(eventchannel.InboundMessageEvent{MessageID: "in-1", ChatID: "5511911110000@c.us", Body: "oi", Timestamp: ts})
	c.HandleInbound(eventchannel.InboundMessageEvent{MessageID: "in-2", ChatID: "208431212345678@lid", Body: "hey", Timestamp: ts.Add(time.Minute)})
	threads := projection.NewThreads(c)
	c.OnUpdate(threads.Apply)
	opener := &fakeOpener{corr: c}
	return NewServer(zerolog.Nop(), ib, threads, c, opener), c, opener
}

func do(t *testing.T, s *Server, method, target, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: invalid JSON %q: %v", method, target, rec.Body.String(), err)
	}
	return rec.Code, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("response has no data object: %v", body)
	}
	return d
}

type fakeChannel struct{}

func (fakeChannel) State() eventchannel.State { return eventchannel.StateReconnectScheduled }
func (fakeChannel) Attempts() int { return 3 }
func (fakeChannel) LastError() error { return errors.New("connection reset") }

func TestHealth(t *testing.T) {
	s, _, _ := setupServer(t)
	code, body := do(t, s, http.MethodGet, "/healthz", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	d := data(t, body)
	if d["status"] != "ok" || d["conversations"].(float64) != 2 {
		t.Errorf("health = %v", d)
	}
	if _, ok := d["channel"]; ok {
		t.Errorf("channel reported without a transport: %v", d["channel"])
	}

	s.SetChannel(fakeChannel{})
	_, body = do(t, s, http.MethodGet, "/healthz", "")
	ch, ok := data(t, body)["channel"].(map[string]any)
	if !ok {
		t.Fatalf("health has no channel: %v", body)
	}
	if ch["state"] != eventchannel.StateReconnectScheduled.String() || ch["attempts"].(float64) != 3 || ch["last_error"] != "connection reset" {
		t.Errorf("channel = %v", ch)
	}
}

func TestListConversations(t *testing.T) {
	s, _, _ := setupServer(t)
	code, body := do(t, s, http.MethodGet, "/conversations?limit=1", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	convs := data(t, body)["conversations"].([]any)
	if len(convs) != 1 || convs[0].(map[string]any)["id"] != "virtual-208431212345678@lid" {
		t.Fatalf("conversations = %v", convs)
	}
	if code, _ = do(t, s, http.MethodGet, "/conversations?limit=abc", ""); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", code)
	}
}

func TestGetConversation(t *testing.T) {
	s, _, _ := setupServer(t)
	code, body := do(t, s, http.MethodGet, "/conversations/contact-1", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	conv := data(t, body)["conversation"].(map[string]any)
	if msgs := conv["messages"].([]any); len(msgs) != 1 {
		t.Errorf("messages = %v", msgs)
	}
	if code, body = do(t, s, http.MethodGet, "/conversations/nobody", ""); code != http.StatusNotFound {
		t.Errorf("unknown status = %d, body %v", code, body)
	}
}

func TestMarkReadAndHide(t *testing.T) {
	s, _, _ := setupServer(t)
	code, body := do(t, s, http.MethodPost, "/conversations/contact-1/read", "")
	if code != http.StatusOK || data(t, body)["unread"].(float64) != 0 {
		t.Fatalf("read = %d %v", code, body)
	}
	if code, _ = do(t, s, http.MethodPost, "/conversations/contact-1/hide", ""); code != http.StatusOK {
		t.Fatalf("hide status = %d", code)
	}
	_, body = do(t, s, http.MethodGet, "/conversations", "")
	if convs := data(t, body)["conversations"].([]any); len(convs) != 1 {
		t.Fatalf("hidden conversation still listed: %v", convs)
	}
	if code, _ = do(t, s, http.MethodPost, "/conversations/contact-1/hide", `{"hidden":false}`); code != http.StatusOK {
		t.Fatalf("unhide status = %d", code)
	}
	_, body = do(t, s, http.MethodGet, "/conversations", "")
	if convs := data(t, body)["conversations"].([]any); len(convs) != 2 {
		t.Fatalf("unhidden conversation missing: %v", convs)
	}
}

func TestOpenTriggersResolution(t *testing.T) {
	s, _, opener := setupServer(t)
	code, body := do(t, s, http.MethodPost, "/conversations/virtual-208431212345678%40lid/open", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d body %v", code, body)
	}
	if data(t, body)["resolving"] != true {
		t.Errorf("resolving = %v", data(t, body)["resolving"])
	}
	if len(opener.opened) != 1 || opener.opened[0] != "virtual-208431212345678@lid" {
		t.Errorf("opened = %v", opener.opened)
	}
	if code, _ = do(t, s, http.MethodPost, "/conversations/ghost/open", ""); code != http.StatusNotFound {
		t.Errorf("ghost status = %d", code)
	}
}

func TestOpenThreadFollowsPromotion(t *testing.T) {
	s, c, _ := setupServer(t)
	if code, body := do(t, s, http.MethodPost, "/conversations/virtual-208431212345678%40lid/open", ""); code != http.StatusOK {
		t.Fatalf("open status = %d body %v", code, body)
	}
	if _, err := c.Promote("208431212345678@lid", correlator.Resolution{Phone: "5511911110000"}); err != nil {
		t.Fatal(err)
	}
	code, body := do(t, s, http.MethodGet, "/conversations/virtual-208431212345678%40lid", "")
	if code != http.StatusOK {
		t.Fatalf("get status = %d body %v", code, body)
	}
	d := data(t, body)
	conv := d["conversation"].(map[string]any)
	if d["open"] != true || conv["id"] != "contact-1" {
		t.Fatalf("thread after promotion = %v", d)
	}
	if msgs := conv["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %v", msgs)
	}

	if code, _ = do(t, s, http.MethodPost, "/conversations/contact-1/close", ""); code != http.StatusOK {
		t.Fatalf("close status = %d", code)
	}
	if code, _ = do(t, s, http.MethodPost, "/conversations/contact-1/close", ""); code != http.StatusNotFound {
		t.Errorf("second close status = %d", code)
	}
}

func TestOpenThreadReportsRemoval(t *testing.T) {
	s, c, _ := setupServer(t)
	if code, _ := do(t, s, http.MethodPost, "/conversations/contact-1/open", ""); code != http.StatusOK {
		t.Fatalf("open status = %d", code)
	}
	c.Remove("contact-1")
	if code, _ := do(t, s, http.MethodGet, "/conversations/contact-1", ""); code != http.StatusGone {
		t.Errorf("status = %d, want %d", code, http.StatusGone)
	}
}
