package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/correlator"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/eventchannel"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupInbox(t *testing.T, store Store) (*Inbox, *correlator.Correlator) {
	t.Helper()
	c := correlator.New(zerolog.Nop(), correlator.Options{})
	c.LoadSnapshot(correlator.Snapshot{
		Contacts: []correlator.Contact{
			{ID: "contact-1", Name: "Ana", Phone: "5511911110000"},
			{ID: "contact-2", Name: "Bruno", Phone: "5511922220000"},
		},
		Messages: []correlator.SnapshotMessage{
			{ContactID: "contact-1", ID: "m-1", Body: "hello", FromMe: true, Status: "sent", Timestamp: t0},
		},
	})
	ib := NewInbox(zerolog.Nop(), c, store)
	c.OnUpdate(ib.Apply)
	if err := ib.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return ib, c
}

func inbound(id, chatID string, ts time.Time) eventchannel.InboundMessageEvent {
	return eventchannel.InboundMessageEvent{MessageID: id, ChatID: chatID, Body: "msg " + id, Timestamp: ts}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestInboxOrdersByActivity(t *testing.T) {
	ib, c := setupInbox(t, nil)
	c.HandleInbound(inbound("in-1", "5511922220000@c.us", t0.Add(time.Minute)))
	c.HandleInbound(inbound("in-2", "5511933330000@c.us", t0.Add(2*time.Minute)))

	got := ids(ib.List(ListOptions{}))
	want := []string{"virtual-5511933330000", "contact-2", "contact-1"}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List = %v, want %v", got, want)
		}
	}
	if e, _ := ib.Get("contact-2"); e.Unread != 1 || e.Preview != "msg in-1" {
		t.Errorf("contact-2 entry = %+v", e)
	}
	if page := ids(ib.List(ListOptions{Offset: 1, Limit: 1})); len(page) != 1 || page[0] != "contact-2" {
		t.Errorf("page = %v", page)
	}
	if unread := ids(ib.List(ListOptions{UnreadOnly: true})); len(unread) != 2 {
		t.Errorf("unread = %v", unread)
	}
}

func TestInboxStatusUpdatesPreview(t *testing.T) {
	ib, c := setupInbox(t, nil)
	c.HandleStatus(eventchannel.StatusEvent{MessageID: "m-1", Status: "read", Timestamp: t0.Add(time.Second)})
	if e, _ := ib.Get("contact-1"); e.LastStatus != "read" {
		t.Fatalf("LastStatus = %q", e.LastStatus)
	}
}

func TestInboxMarkReadPersists(t *testing.T) {
	store := NewMemoryStore()
	ib, c := setupInbox(t, store)
	c.HandleInbound(inbound("in-1", "5511922220000@c.us", t0.Add(time.Minute)))
	e, err := ib.MarkRead(context.Background(), "contact-2")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if e.Unread != 0 {
		t.Fatalf("unread after MarkRead = %d", e.Unread)
	}
	if _, ok, _ := store.Get(context.Background(), "contact-2", KeyReadMarker); !ok {
		t.Fatal("read marker not stored")
	}

	// a fresh inbox over the same correlator and store picks the marker up
	c.HandleInbound(inbound("in-2", "5511922220000@c.us", t0.Add(2*time.Minute)))
	fresh := NewInbox(zerolog.Nop(), c, store)
	if err = fresh.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e, _ := fresh.Get("contact-2"); e.Unread != 1 {
		t.Errorf("unread after reload = %d, want 1", e.Unread)
	}
	if _, err = ib.MarkRead(context.Background(), "nobody"); !errors.Is(err, correlator.ErrUnknownConversation) {
		t.Errorf("MarkRead(nobody) = %v", err)
	}
}

func TestInboxHideUntilInbound(t *testing.T) {
	ib, c := setupInbox(t, nil)
	ctx := context.Background()
	if err := ib.Hide(ctx, "contact-2"); err != nil {
		t.Fatalf("Hide: %v", err)
	}
	for _, id := range ids(ib.List(ListOptions{})) {
		if id == "contact-2" {
			t.Fatal("hidden conversation listed")
		}
	}
	if all := ib.List(ListOptions{IncludeHidden: true}); len(all) != 2 {
		t.Fatalf("List(IncludeHidden) = %v", ids(all))
	}
	c.HandleInbound(inbound("in-1", "5511922220000@c.us", t0.Add(time.Minute)))
	if e, _ := ib.Get("contact-2"); e.Hidden {
		t.Fatal("inbound message did not unhide")
	}
	if err := ib.Hide(ctx, "missing"); !errors.Is(err, correlator.ErrUnknownConversation) {
		t.Errorf("Hide(missing) = %v", err)
	}
}

func TestInboxFollowsPromotion(t *testing.T) {
	store := NewMemoryStore()
	ib, c := setupInbox(t, store)
	ctx := context.Background()
	c.HandleInbound(inbound("in-1", "208431212345678@lid", t0.Add(time.Minute)))
	virtualID := "virtual-208431212345678@lid"
	if e, ok := ib.Get(virtualID); !ok || !e.Anonymized {
		t.Fatalf("virtual entry = %+v, %v", e, ok)
	}
	if err := ib.Hide(ctx, virtualID); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Promote("208431212345678@lid", correlator.Resolution{Phone: "5511922220000"}); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if ib.Len() != 2 {
		t.Fatalf("Len = %d, want virtual entry folded away", ib.Len())
	}
	e, ok := ib.Get(virtualID)
	if !ok || e.ID != "contact-2" || !e.Hidden || e.Anonymized {
		t.Fatalf("entry via old id = %+v, %v", e, ok)
	}
	if _, ok, _ := store.Get(ctx, "contact-2", KeyHidden); !ok {
		t.Error("hidden flag not moved in store")
	}
}

func TestInboxRemoveAndReload(t *testing.T) {
	ib, c := setupInbox(t, nil)
	c.Remove("contact-2")
	if _, ok := ib.Get("contact-2"); ok {
		t.Fatal("removed conversation still listed")
	}
	c.LoadSnapshot(correlator.Snapshot{Contacts: []correlator.Contact{
		{ID: "contact-1", Phone: "5511911110000"},
		{ID: "contact-2", Phone: "5511922220000"},
		{ID: "contact-3", Phone: "5511933330000"},
	}})
	if ib.Len() != 3 {
		t.Fatalf("Len after reload = %d", ib.Len())
	}
}

func TestInboxConnectivity(t *testing.T) {
	ib := NewInbox(zerolog.Nop(), correlator.New(zerolog.Nop(), correlator.Options{}), nil)
	steps := []struct {
		change eventchannel.StateChange
		want   bool
	}{
		{eventchannel.StateChange{State: eventchannel.StateClosed}, true},
		{eventchannel.StateChange{State: eventchannel.StateReconnectScheduled, Attempt: 3}, true},
		{eventchannel.StateChange{State: eventchannel.StateClosed, Reason: eventchannel.ReasonManual}, true},
		{eventchannel.StateChange{State: eventchannel.StateClosed, Reason: eventchannel.ReasonGaveUp}, false},
		{eventchannel.StateChange{State: eventchannel.StateConnecting}, false},
		{eventchannel.StateChange{State: eventchannel.StateOpen}, true},
		{eventchannel.StateChange{State: eventchannel.StateClosed, Reason: eventchannel.ReasonAuthFailed}, false},
	}
	for i, step := range steps {
		ib.HandleStateChange(step.change)
		got := ib.Connectivity()
		if got.Connected != step.want {
			t.Fatalf("step %d: connected = %v, want %v", i, got.Connected, step.want)
		}
	}
	if r := ib.Connectivity().Reason; r != eventchannel.ReasonAuthFailed {
		t.Errorf("reason = %q", r)
	}
}

func TestInboxCountsLateInboundAfterRead(t *testing.T) {
	ib, c := setupInbox(t, nil)
	c.HandleInbound(inbound("in-1", "5511922220000@c.us", t0.Add(10*time.Minute)))
	e, err := ib.MarkRead(context.Background(), "contact-2")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if e.ReadAt == nil || !e.ReadAt.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("ReadAt = %v", e.ReadAt)
	}

	// sent before the marker, delivered after it
	c.HandleInbound(inbound("in-late", "5511922220000@c.us", t0.Add(5*time.Minute)))
	conv, _ := c.Conversation("contact-2")
	e, _ = ib.Get("contact-2")
	if conv.Unread != 1 || e.Unread != 1 {
		t.Fatalf("unread: correlator=%d inbox=%d, want 1", conv.Unread, e.Unread)
	}
}

func TestInboxSnapshotFoldMovesState(t *testing.T) {
	store := NewMemoryStore()
	ib, c := setupInbox(t, store)
	ctx := context.Background()
	c.HandleInbound(inbound("in-1", "5511944443333@c.us", t0.Add(time.Minute)))
	if err := ib.Hide(ctx, "virtual-5511944443333"); err != nil {
		t.Fatal(err)
	}

	c.LoadSnapshot(correlator.Snapshot{Contacts: []correlator.Contact{
		{ID: "contact-1", Phone: "5511911110000"},
		{ID: "contact-2", Phone: "5511922220000"},
		{ID: "contact-3", Phone: "5511944443333"},
	}})
	if ib.Len() != 3 {
		t.Fatalf("Len = %d, want virtual entry folded into contact-3", ib.Len())
	}
	if e, ok := ib.Get("contact-3"); !ok || !e.Hidden || e.Preview != "msg in-1" {
		t.Fatalf("contact-3 entry = %+v, %v", e, ok)
	}
	if _, ok, _ := store.Get(ctx, "contact-3", KeyHidden); !ok {
		t.Error("hidden flag not moved in store")
	}
	if _, ok, _ := store.Get(ctx, "virtual-5511944443333", KeyHidden); ok {
		t.Error("hidden flag left under the virtual id")
	}
}
