package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"riskgate/internal/eventbus"
	"riskgate/internal/models"
)

// ============================================================
// Unit Tests
// ============================================================

func TestNewHub(t *testing.T) {
	hub := NewHub(nil, nil)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.DroppedMessages() != 0 {
		t.Errorf("expected 0 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestOriginChecker_Check(t *testing.T) {
	checker := NewOriginChecker([]string{"http://localhost:3000", " https://example.com ", ""})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},                       // не браузер
		{"http://localhost:3000", true},  // разрешён
		{"https://example.com", true},    // пробелы обрезаются
		{"http://evil.com", false},       // не в списке
		{"http://localhost:8080", false}, // не в списке
	}

	for _, tt := range tests {
		if got := checker.Check(tt.origin); got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	for _, origins := range [][]string{nil, {"*"}, {"http://a.com", "*"}} {
		checker := NewOriginChecker(origins)
		for _, origin := range []string{"http://localhost:3000", "https://evil.com"} {
			if !checker.Check(origin) {
				t.Errorf("origins=%v: Check(%q) = false", origins, origin)
			}
		}
	}
}

func TestHub_BroadcastNonBlocking(t *testing.T) {
	hub := NewHub(nil, nil)
	// Run не запущен: очередь заполняется, лишнее отбрасывается
	for i := 0; i < broadcastBufferSize+10; i++ {
		hub.Broadcast(map[string]int{"i": i})
	}

	if got := hub.DroppedMessages(); got != 10 {
		t.Errorf("expected 10 dropped messages, got %d", got)
	}
}

func TestHub_Stop(t *testing.T) {
	hub := NewHub(nil, nil)

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	hub.Stop()
	hub.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Hub.Run() did not exit after Stop()")
	}

	hub.BroadcastRaw([]byte(`{}`))
	if hub.DroppedMessages() != 0 {
		t.Error("broadcast after Stop must be ignored, not counted as dropped")
	}
}

func TestNewEventMessage(t *testing.T) {
	data, err := eventbus.Encode(eventbus.PnLUpdate{DailyPnL: -12.5, KillSwitch: true})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := NewEventMessage(eventbus.Message{Topic: eventbus.TopicPnLUpdate, Data: data})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != MessageTypePnLUpdate {
		t.Errorf("expected type %s, got %s", MessageTypePnLUpdate, msg.Type)
	}
	if string(msg.Data) != string(data) {
		t.Errorf("payload changed: %s", msg.Data)
	}

	if _, err := NewEventMessage(eventbus.Message{Topic: eventbus.TopicTicker, Data: []byte(`{"price":-1}`)}); err == nil {
		t.Error("expected error for invalid ticker payload")
	}
}

// ============================================================
// Integration через httptest
// ============================================================

func startHub(t *testing.T, origins []string) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(origins, nil)
	go hub.Run()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestHub_DeliversNotification(t *testing.T) {
	hub, srv := startHub(t, nil)

	conn, _, err := dial(t, srv, "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitClients(t, hub, 1)

	hub.BroadcastNotification(&models.Notification{
		Type:     models.NotificationTypeKillSwitch,
		Severity: models.SeverityError,
		Message:  "kill switch engaged",
	})

	got := readText(t, conn)
	for _, want := range []string{`"type":"notification"`, `"KILL_SWITCH"`, `kill switch engaged`} {
		if !strings.Contains(got, want) {
			t.Errorf("message %s does not contain %s", got, want)
		}
	}

	conn.Close()
	waitClients(t, hub, 0)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	_, srv := startHub(t, []string{"http://localhost:3000"})

	_, resp, err := dial(t, srv, "http://evil.com")
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}

	conn, _, err := dial(t, srv, "http://localhost:3000")
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}

func TestHub_RelaysBusEvents(t *testing.T) {
	hub, srv := startHub(t, nil)
	bus := eventbus.NewMemoryBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	relayDone := make(chan error, 1)
	go func() { relayDone <- hub.Relay(ctx, bus) }()

	conn, _, err := dial(t, srv, "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitClients(t, hub, 1)

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount(eventbus.TopicExposureUpdate) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("relay did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// ticker не входит в темы по умолчанию
	if err := bus.Publish(ctx, eventbus.Ticker{ProductID: "BTC-USD", Price: 1}); err != nil {
		t.Fatal(err)
	}
	ev := eventbus.ExposureUpdate{Instrument: "BTC-USD", Exposure: 250, Exposures: map[string]float64{"BTC-USD": 250}, OpenOrders: 1}
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatal(err)
	}

	got := readText(t, conn)
	if !strings.Contains(got, `"type":"exposureUpdate"`) || !strings.Contains(got, `"openOrders":1`) {
		t.Errorf("unexpected message: %s", got)
	}

	cancel()
	select {
	case err := <-relayDone:
		if err != nil {
			t.Errorf("relay returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("relay did not stop after cancel")
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	hub, srv := startHub(t, nil)

	conn, _, err := dial(t, srv, "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitClients(t, hub, 1)

	hub.Stop()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection close after Stop")
	}
}

// ============================================================
// Benchmarks
// ============================================================

func BenchmarkHub_Broadcast(b *testing.B) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	msg := NewNotificationMessage(&models.Notification{Type: models.NotificationTypePnLThreshold, Message: "bench"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Broadcast(msg)
	}
}

func BenchmarkHub_BroadcastRaw(b *testing.B) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	data := []byte(`{"type":"pnlUpdate","data":{"dailyPnl":1}}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.BroadcastRaw(data)
	}
}

func BenchmarkOriginChecker_Check(b *testing.B) {
	checker := NewOriginChecker([]string{"http://localhost:3000"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		checker.Check("http://localhost:3000")
	}
}

// ============================================================
// Parallel Stress Test
// ============================================================

func TestHub_ConcurrentOperations(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 1000

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				hub.Broadcast(map[string]int{"goroutine": id, "op": j})
			}
		}(i)
	}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.ClientCount()
			}
		}()
	}

	wg.Wait()
}
