package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-resto-orders/internal/broadcast"
	"github.com/ariefcatur/go-resto-orders/internal/httpx"
	"github.com/ariefcatur/go-resto-orders/internal/subscriber"
)

func startServer(t *testing.T) (*env, *httptest.Server) {
	t.Helper()
	e := newEnv(t)
	srv := httptest.NewServer(e.api)
	t.Cleanup(srv.Close)
	return e, srv
}

func wsURL(srv *httptest.Server) string { return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" }

func subscribe(t *testing.T, srv *httptest.Server, join broadcast.Join, names ...string) (*subscriber.Client, chan broadcast.Event) {
	t.Helper()
	c := subscriber.New(&subscriber.WSDialer{URL: wsURL(srv), PongWait: time.Second}, subscriber.Config{
		Join:        join,
		Base:        10 * time.Millisecond,
		MaxAttempts: 3,
		DialTimeout: 2 * time.Second,
	})
	got := make(chan broadcast.Event, 16)
	for _, n := range names {
		c.On(n, func(ev broadcast.Event) { got <- ev })
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c, got
}

func post(t *testing.T, srv *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(method, srv.URL+path, bytes.NewReader(b))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func next(t *testing.T, ch chan broadcast.Event) broadcast.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return broadcast.Event{}
}

func waitSubscribers(t *testing.T, e *env, topic string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.hub.Count(topic) != n {
		if time.Now().After(deadline) {
			t.Fatalf("topic %s has %d subscribers, want %d", topic, e.hub.Count(topic), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStream_AdminSeesNewOrderAndCustomerSeesStatus(t *testing.T) {
	e, srv := startServer(t)
	_, adminEvents := subscribe(t, srv, broadcast.Join{Role: broadcast.TopicAdmin, Token: adminToken},
		broadcast.EventNewOrder, broadcast.EventOrderStatusUpdated)

	res := post(t, srv, http.MethodPost, "/orders", cartBody("pickup", item("A", 1)))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", res.StatusCode)
	}
	var created httpx.CreateOrderResp
	_ = json.NewDecoder(res.Body).Decode(&created)

	ev := next(t, adminEvents)
	if ev.Name != broadcast.EventNewOrder || ev.Topic != broadcast.TopicAdmin {
		t.Fatalf("unexpected admin event %+v", ev)
	}
	data, _ := ev.Data.(map[string]any)
	if data["order_id"] != created.OrderID {
		t.Errorf("new_order for %v, want %s", data["order_id"], created.OrderID)
	}

	_, customerEvents := subscribe(t, srv, broadcast.Join{OrderID: created.OrderID}, broadcast.EventOrderStatusUpdated)
	_, otherEvents := subscribe(t, srv, broadcast.Join{OrderID: "someone-else"}, broadcast.EventOrderStatusUpdated)
	waitSubscribers(t, e, broadcast.OrderTopic(created.OrderID), 1)
	waitSubscribers(t, e, broadcast.OrderTopic("someone-else"), 1)

	res = post(t, srv, http.MethodPatch, "/admin/orders/"+created.OrderID+"/status", map[string]string{"status": "confirmed"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance status = %d", res.StatusCode)
	}

	ev = next(t, customerEvents)
	if data, _ := ev.Data.(map[string]any); data["status"] != "confirmed" || data["previous_status"] != "pending" {
		t.Errorf("unexpected status event %+v", ev)
	}
	if ev := next(t, adminEvents); ev.Name != broadcast.EventOrderStatusUpdated {
		t.Errorf("admin should also see the transition, got %+v", ev)
	}
	select {
	case ev := <-otherEvents:
		t.Errorf("other order's subscriber got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStream_AdminJoinNeedsToken(t *testing.T) {
	_, srv := startServer(t)
	d := &subscriber.WSDialer{URL: wsURL(srv)}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := d.Dial(ctx, broadcast.Join{Role: broadcast.TopicAdmin, Token: "wrong"}); err == nil {
		t.Fatal("admin join with a wrong token must be rejected")
	}
	if _, err := d.Dial(ctx, broadcast.Join{}); err == nil {
		t.Fatal("join without a topic must be rejected")
	}
}

func TestStream_DisconnectUnsubscribes(t *testing.T) {
	e, srv := startServer(t)
	c, _ := subscribe(t, srv, broadcast.Join{Role: broadcast.TopicAdmin, Token: adminToken})
	waitSubscribers(t, e, broadcast.TopicAdmin, 1)

	c.Disconnect()
	waitSubscribers(t, e, broadcast.TopicAdmin, 0)
}
