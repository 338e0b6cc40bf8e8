package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aeges-net/aeges/internal/events"
)

func httpHandler(hub *Hub) http.Handler {
	return http.HandlerFunc(hub.HandleWebSocket)
}

func TestShouldSendFilters(t *testing.T) {
	hub := NewHub(nil)

	evt := events.Event{
		Kind: events.KindAnalysisCompleted,
		Payload: map[string]any{
			"transaction_id": "tx-1",
			"score":          0.42,
		},
	}

	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"all events", Subscription{AllEvents: true}, true},
		{"matching kind", Subscription{Kinds: []string{"analysis.completed"}}, true},
		{"other kind", Subscription{Kinds: []string{"containment.created"}}, false},
		{"matching transaction", Subscription{TransactionIDs: []string{"tx-1"}}, true},
		{"other transaction", Subscription{TransactionIDs: []string{"tx-9"}}, false},
		{"score above threshold", Subscription{MinScore: 0.3}, true},
		{"score below threshold", Subscription{MinScore: 0.8}, false},
		{"kind and transaction", Subscription{Kinds: []string{"analysis.completed"}, TransactionIDs: []string{"tx-1"}}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &Client{sub: tc.sub}
			if got := hub.shouldSend(client, evt); got != tc.want {
				t.Errorf("shouldSend = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMinScoreIgnoresOtherKinds(t *testing.T) {
	hub := NewHub(nil)
	client := &Client{sub: Subscription{MinScore: 0.9}}

	evt := events.Event{
		Kind:    events.KindContainmentCreated,
		Payload: map[string]any{"containment_id": "CONT_1_abc"},
	}
	if !hub.shouldSend(client, evt) {
		t.Error("MinScore must only filter analysis events")
	}
}

func TestEndToEndDelivery(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Wait for registration before broadcasting.
	deadline := time.After(time.Second)
	for hub.Stats()["connectedClients"].(int) == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	hub.Broadcast(events.Event{
		ID:        "EVT_1_abc",
		Kind:      events.KindContainmentCreated,
		Timestamp: time.Now(),
		Payload:   map[string]any{"containment_id": "CONT_1_abc"},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var received events.Event
	if err := json.Unmarshal(message, &received); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if received.Kind != events.KindContainmentCreated {
		t.Errorf("kind = %s, want containment.created", received.Kind)
	}
}

func TestSubscriptionUpdateFilters(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.After(time.Second)
	for hub.Stats()["connectedClients"].(int) == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Narrow the subscription to recovery events only.
	sub := Subscription{Kinds: []string{string(events.KindRecoveryCompleted)}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("failed to send subscription: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let readPump apply it

	hub.Broadcast(events.Event{Kind: events.KindContainmentCreated, Payload: map[string]any{}})
	hub.Broadcast(events.Event{Kind: events.KindRecoveryCompleted, Payload: map[string]any{"recovery_id": "REC_1_a"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var received events.Event
	if err := json.Unmarshal(message, &received); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if received.Kind != events.KindRecoveryCompleted {
		t.Errorf("filtered client received %s", received.Kind)
	}
}

func TestAttachBusBridges(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()

	hub := NewHub(nil)
	cancelBridge := hub.AttachBus(bus)
	defer cancelBridge()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.After(time.Second)
	for hub.Stats()["connectedClients"].(int) == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	bus.Publish(events.Event{Kind: events.KindAnalysisCompleted, Payload: map[string]any{"score": 0.5}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(message), "analysis.completed") {
		t.Errorf("unexpected message: %s", message)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.After(time.Second)
	for hub.Stats()["connectedClients"].(int) == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return // connection closed by the hub
		}
	}
}
