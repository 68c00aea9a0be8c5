package feed_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/worldtracker/internal/feed"
	"github.com/MrWong99/worldtracker/internal/tracker"
)

func dial(t *testing.T, hub *feed.Hub) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func waitSubscribers(t *testing.T, hub *feed.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Subscribers = %d, want %d", hub.Subscribers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_LatestOnConnectThenUpdates(t *testing.T) {
	t.Parallel()

	hub := feed.NewHub()
	first := tracker.Update{ContextID: "chat-1", StoreID: "set-1", Status: "synced ✓"}
	hub.Publish(first)

	conn, ctx := dial(t, hub)
	var got tracker.Update
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("initial update (-want +got):\n%s", diff)
	}

	waitSubscribers(t, hub, 1)
	next := tracker.Update{ContextID: "chat-1", StoreID: "set-1", Status: "2 changes pending review", Pending: 2}
	hub.Publish(next)
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(next, got); diff != "" {
		t.Errorf("next update (-want +got):\n%s", diff)
	}
}

func TestHub_CloseDisconnects(t *testing.T) {
	t.Parallel()

	hub := feed.NewHub()
	conn, ctx := dial(t, hub)
	waitSubscribers(t, hub, 1)

	hub.Close()
	var got tracker.Update
	err := wsjson.Read(ctx, conn, &got)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("read after Close = %v, want going away", err)
	}
	if hub.Subscribers() != 0 {
		t.Errorf("Subscribers = %d after Close", hub.Subscribers())
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := feed.NewHub()
	_, _ = dial(t, hub)
	waitSubscribers(t, hub, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 1000 {
			hub.Publish(tracker.Update{ContextID: "chat-1", Pending: i})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
