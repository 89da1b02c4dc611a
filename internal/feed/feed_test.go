package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskgate/internal/config"
	"riskgate/internal/models"
)

type tickSink struct {
	mu    sync.Mutex
	ticks []models.PriceTick
	err   error
}

func (s *tickSink) sink(_ context.Context, tick models.PriceTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, tick)
	return s.err
}

func (s *tickSink) snapshot() []models.PriceTick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PriceTick(nil), s.ticks...)
}

// ============ SimFeed ============

func TestSimFeed_DeterministicWalk(t *testing.T) {
	run := func() []models.PriceTick {
		s := &tickSink{}
		f := NewSimFeed(SimConfig{
			Instruments: []string{"ETH-USD", "BTC-USD"},
			StartPrices: map[string]float64{"BTC-USD": 50000},
			Interval:    time.Millisecond,
			Volatility:  0.01,
			Seed:        42,
			Steps:       5,
		}, nil)
		require.NoError(t, f.Run(context.Background(), s.sink))
		return s.snapshot()
	}

	a, b := run(), run()
	require.Len(t, a, 10)
	assert.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Instrument, b[i].Instrument)
		assert.Equal(t, a[i].Price, b[i].Price, "одинаковый seed даёт одинаковые цены")
		assert.Greater(t, a[i].Price, 0.0)
	}

	assert.Equal(t, "BTC-USD", a[0].Instrument, "инструменты обходятся в алфавитном порядке")
	assert.InDelta(t, 50000, a[0].Price, 50000*0.1)
	assert.InDelta(t, 100, a[1].Price, 10, "без стартовой цены используется 100")
}

func TestSimFeed_StopsOnCancel(t *testing.T) {
	f := NewSimFeed(SimConfig{Instruments: []string{"X"}, Interval: time.Millisecond}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	s := &tickSink{err: errors.New("ignored")}
	assert.NoError(t, f.Run(ctx, s.sink))
	assert.NotEmpty(t, s.snapshot(), "ошибка sink не останавливает источник")
}

// ============ CSVFeed ============

const sampleCSV = `timestamp,instrument,price
2024-03-01T10:00:00Z,BTC-USD,100
1709287260000,BTC-USD,101.5
,ETH-USD,20
# комментарий
bad,BTC-USD,1
2024-03-01T10:02:00Z,BTC-USD,-3
2024-03-01T10:03:00Z,BTC-USD,abc
2024-03-01T10:04:00Z,BTC-USD
`

func TestReadTicks(t *testing.T) {
	ticks, skipped, err := ReadTicks(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, ticks, 3)
	assert.Equal(t, 4, skipped)

	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), ticks[0].Timestamp)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 1, 0, 0, time.UTC), ticks[1].Timestamp)
	assert.True(t, ticks[2].Timestamp.IsZero())
	assert.Equal(t, "ETH-USD", ticks[2].Instrument)
}

func TestReadPrices(t *testing.T) {
	prices, err := ReadPrices(strings.NewReader(sampleCSV), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101.5}, prices)

	all, err := ReadPrices(strings.NewReader(sampleCSV), "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCSVFeed_Run(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	s := &tickSink{}
	require.NoError(t, NewCSVFeed(path, 0, nil).Run(context.Background(), s.sink))
	assert.Len(t, s.snapshot(), 3)

	err := NewCSVFeed(filepath.Join(t.TempDir(), "missing.csv"), 0, nil).Run(context.Background(), s.sink)
	assert.Error(t, err)
}

// ============ WSFeed ============

var upgrader = websocket.Upgrader{}

// tickerServer принимает подписку, отправляет messages и закрывает соединение
func tickerServer(t *testing.T, messages []string, subs chan<- subscribeMessage) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		subs <- sub

		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSFeed_SubscribesAndParsesTickers(t *testing.T) {
	subs := make(chan subscribeMessage, 4)
	srv := tickerServer(t, []string{
		`{"type":"subscriptions"}`,
		`{"type":"ticker","product_id":"BTC-USD","price":"64000.5","time":"2024-03-01T10:00:00Z"}`,
		`{"type":"ticker","product_id":"ETH-USD","price":3100}`,
		`not json`,
		`{"type":"ticker","product_id":"ETH-USD","price":"0"}`,
	}, subs)
	defer srv.Close()

	cfg := DefaultWSConfig()
	cfg.URL = wsURL(srv)
	cfg.Products = []string{"BTC-USD", "ETH-USD"}
	cfg.InitialDelay = 10 * time.Millisecond
	f := NewWSFeed(cfg, nil)

	s := &tickSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, s.sink) }()

	sub := <-subs
	assert.Equal(t, "subscribe", sub.Type)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, sub.ProductIDs)
	assert.Contains(t, sub.Channels, "ticker")

	require.Eventually(t, func() bool { return len(s.snapshot()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	ticks := s.snapshot()
	assert.Equal(t, "BTC-USD", ticks[0].Instrument)
	assert.Equal(t, 64000.5, ticks[0].Price)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), ticks[0].Timestamp)
	assert.Equal(t, 3100.0, ticks[1].Price)

	// сервер закрыл соединение после сообщений: источник переподключается и подписывается снова
	select {
	case <-subs:
	case <-time.After(2 * time.Second):
		t.Fatal("нет повторной подписки после разрыва")
	}
	assert.GreaterOrEqual(t, f.Connects(), int64(2))
	assert.False(t, f.LastMessage().IsZero())

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, StateClosed, f.State())
}

func TestWSFeed_MaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	cfg := DefaultWSConfig()
	cfg.URL = url
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.MaxRetries = 2

	err := NewWSFeed(cfg, nil).Run(context.Background(), (&tickSink{}).sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max reconnect attempts")
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unknown", ConnState(42).String())
}

// ============ New ============

func TestNew(t *testing.T) {
	f, err := New(config.FeedConfig{Kind: "none"}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = New(config.FeedConfig{Kind: "sim"}, []string{"X"}, nil)
	require.NoError(t, err)
	assert.Equal(t, KindSim, f.Name())

	f, err = New(config.FeedConfig{Kind: "ws", URL: "ws://localhost:1"}, []string{"X"}, nil)
	require.NoError(t, err)
	assert.Equal(t, KindWS, f.Name())

	f, err = New(config.FeedConfig{Kind: "csv", File: "prices.csv"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, KindCSV, f.Name())

	for _, bad := range []config.FeedConfig{{Kind: "ws"}, {Kind: "csv"}, {Kind: "kafka"}} {
		_, err := New(bad, nil, nil)
		assert.Error(t, err, bad.Kind)
	}
}
