package utils

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// readEntries возвращает JSON записи лог файла построчно
func readEntries(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var out []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("line is not JSON: %q: %v", sc.Text(), err)
		}
		out = append(out, entry)
	}
	return out
}

func fileLogger(t *testing.T, cfg LogConfig) (*Logger, string) {
	t.Helper()
	cfg.Output = filepath.Join(t.TempDir(), "riskgate.log")
	return InitLogger(cfg), cfg.Output
}

// ============ InitLogger ============

func TestInitLogger_LevelFiltersEntries(t *testing.T) {
	logger, path := fileLogger(t, LogConfig{Level: "warn", Format: "json"})
	logger.Debug("skipped")
	logger.Info("skipped")
	logger.Warn("order rejected", Rule("price_band"))
	logger.Error("transport failed")
	logger.Sync()

	entries := readEntries(t, path)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0]["msg"] != "order rejected" || entries[0]["rule"] != "price_band" {
		t.Errorf("first entry = %v", entries[0])
	}
	if _, ok := entries[0]["ts"]; !ok {
		t.Error("ts key missing")
	}
}

func TestInitLogger_TextFormat(t *testing.T) {
	logger, path := fileLogger(t, LogConfig{Level: "info", Format: "text"})
	logger.Info("risk engine started", Instrument("BTC-USD"))
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	if !strings.Contains(line, "INFO") || !strings.Contains(line, "risk engine started") {
		t.Errorf("console line = %q", line)
	}
	if strings.HasPrefix(strings.TrimSpace(line), "{") {
		t.Error("text format produced JSON")
	}
}

func TestInitLogger_BadOutputFallsBack(t *testing.T) {
	logger := InitLogger(LogConfig{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	if logger == nil || logger.Logger == nil || logger.Sugar() == nil {
		t.Fatal("logger not initialised")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" INFO ", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// ============ With* и поля ============

func TestLogger_WithHelpersAddFields(t *testing.T) {
	logger, path := fileLogger(t, LogConfig{Level: "debug"})
	logger.WithComponent("pipeline").WithInstrument("ETH-USD").WithOrderID("7f9c").Info("order settled")
	logger.Sync()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	want := map[string]string{"component": "pipeline", "instrument": "ETH-USD", "order_id": "7f9c"}
	for k, v := range want {
		if entries[0][k] != v {
			t.Errorf("%s = %v, want %s", k, entries[0][k], v)
		}
	}
}

func TestFieldConstructors(t *testing.T) {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range []zap.Field{
		Instrument("BTC-USD"), OrderID("id-1"), Rule("kill_switch"), Topic("pnl_update"),
		Side("sell"), Price(64000.5), Size(0.25), Notional(16000.125), PNL(-42),
		Latency(3.5), RequestID("req"), Component("feed"), Attempt(2),
	} {
		f.AddTo(enc)
	}

	want := map[string]interface{}{
		"instrument": "BTC-USD",
		"order_id":   "id-1",
		"rule":       "kill_switch",
		"topic":      "pnl_update",
		"side":       "sell",
		"price":      64000.5,
		"size":       0.25,
		"notional":   16000.125,
		"pnl":        -42.0,
		"latency_ms": 3.5,
		"request_id": "req",
		"component":  "feed",
		"attempt":    int64(2),
	}
	for k, v := range want {
		if enc.Fields[k] != v {
			t.Errorf("%s = %#v, want %#v", k, enc.Fields[k], v)
		}
	}
}

func TestLogger_InfowFlattensFields(t *testing.T) {
	logger, path := fileLogger(t, LogConfig{})
	logger.Infow("pnl update", PNL(-12.5), Attempt(1))
	logger.Sync()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0]["pnl"] != -12.5 || entries[0]["attempt"] != 1.0 {
		t.Errorf("entry = %v", entries[0])
	}
}

// ============ Глобальный logger ============

func TestGlobalLogger_DefaultAndOverride(t *testing.T) {
	SetGlobalLogger(nil)
	if L() == nil {
		t.Fatal("default global logger is nil")
	}

	logger, path := fileLogger(t, LogConfig{Level: "debug"})
	SetGlobalLogger(logger)
	t.Cleanup(func() { SetGlobalLogger(nil) })

	Debug("debug", Component("riskctl"))
	Infof("replayed %d records", 3)
	Warnf("skipped %d", 1)
	logger.Sync()

	entries := readEntries(t, path)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[1]["msg"] != "replayed 3 records" {
		t.Errorf("formatted msg = %v", entries[1]["msg"])
	}
}

func BenchmarkLogger_Info(b *testing.B) {
	logger := &Logger{Logger: zap.NewNop(), sugar: zap.NewNop().Sugar()}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		logger.Info("decision", Instrument("BTC-USD"), Rule("max_notional"), Notional(1000))
	}
}
