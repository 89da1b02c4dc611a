package utils

import (
	"testing"
	"time"
)

// ============================================================
// Тесты границ торгового дня
// ============================================================

func TestGetDayStartIn(t *testing.T) {
	msk := time.FixedZone("MSK", 3*60*60)

	tests := []struct {
		name     string
		t        time.Time
		loc      *time.Location
		expected string
	}{
		{"utc midday", time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC), time.UTC, "2024-01-15T00:00:00Z"},
		{"nil loc is utc", time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC), nil, "2024-01-15T00:00:00Z"},
		{"late utc is next day in msk", time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC), msk, "2024-01-16T00:00:00+03:00"},
		{"early utc same day in msk", time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC), msk, "2024-01-15T00:00:00+03:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetDayStartIn(tt.t, tt.loc).Format(time.RFC3339)
			if result != tt.expected {
				t.Errorf("GetDayStartIn = %s, want %s", result, tt.expected)
			}
		})
	}
}

func TestGetNextDayStartIn(t *testing.T) {
	now := time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC)
	next := GetNextDayStartIn(now, time.UTC)
	if next.Format(TradeDateLayout) != "2024-02-29" {
		t.Errorf("GetNextDayStartIn = %v, want 2024-02-29", next)
	}
}

func TestTradeDateAndSameTradingDay(t *testing.T) {
	loc := LoadLocationOrUTC("UTC")
	a := time.Date(2024, 3, 10, 0, 0, 1, 0, time.UTC)
	b := time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)
	c := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	if TradeDate(a, loc) != "2024-03-10" {
		t.Errorf("TradeDate = %s", TradeDate(a, loc))
	}
	if !SameTradingDay(a, b, loc) {
		t.Error("a и b должны быть в одном торговом дне")
	}
	if SameTradingDay(b, c, loc) {
		t.Error("b и c должны быть в разных торговых днях")
	}
}

func TestLoadLocationOrUTC(t *testing.T) {
	if LoadLocationOrUTC("") != time.UTC {
		t.Error("пустое имя должно давать UTC")
	}
	if LoadLocationOrUTC("Not/AZone") != time.UTC {
		t.Error("неизвестный пояс должен давать UTC")
	}
}

// ============================================================
// Тесты форматирования
// ============================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{45 * time.Second, "45s"},
		{5*time.Minute + 30*time.Second, "5m30s"},
		{2*time.Hour + 15*time.Minute + 10*time.Second, "2h15m0s"},
		{-45 * time.Second, "45s"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.expected {
			t.Errorf("FormatDuration(%v) = %s, want %s", tt.d, got, tt.expected)
		}
	}
}

func TestFromUnixMillis(t *testing.T) {
	ms := int64(1705329045000)
	if FromUnixMillis(ms).UnixMilli() != ms {
		t.Error("FromUnixMillis не сохраняет значение")
	}
	if UnixMillis() <= 0 {
		t.Error("UnixMillis должен быть положительным")
	}
}
