package utils

import (
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Границы торгового дня в заданном часовом поясе. Используются
// для ежедневного сброса учёта риска (PnL, открытые ордера, kill switch)
// и для строк trade_date в хранилище.
//
// Функции:
// - LoadLocationOrUTC: часовой пояс с откатом на UTC
// - GetDayStartIn: начало торгового дня (00:00) в поясе
// - TradeDate: дата торгового дня в формате YYYY-MM-DD
// - SameTradingDay: два момента в одном торговом дне
// - FormatDuration: человекочитаемая длительность

// TradeDateLayout - формат даты торгового дня
const TradeDateLayout = "2006-01-02"

// LoadLocationOrUTC загружает часовой пояс, при ошибке возвращает UTC
func LoadLocationOrUTC(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetDayStartIn возвращает полночь торгового дня для t в поясе loc
//
// Пример:
//
//	// t: 2024-01-15 23:30:00 UTC, loc: Europe/Moscow (UTC+3)
//	start := GetDayStartIn(t, loc)
//	// start: 2024-01-16 00:00:00 MSK
func GetDayStartIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// GetNextDayStartIn возвращает следующую полночь после t в поясе loc
func GetNextDayStartIn(t time.Time, loc *time.Location) time.Time {
	start := GetDayStartIn(t, loc)
	return time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, start.Location())
}

// TradeDate возвращает дату торгового дня (YYYY-MM-DD) в поясе loc
func TradeDate(t time.Time, loc *time.Location) string {
	return GetDayStartIn(t, loc).Format(TradeDateLayout)
}

// SameTradingDay проверяет, что a и b приходятся на один день в поясе loc
func SameTradingDay(a, b time.Time, loc *time.Location) bool {
	return GetDayStartIn(a, loc).Equal(GetDayStartIn(b, loc))
}

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m0s"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute).String()
	}

	if minutes > 0 {
		return (time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second).String()
	}

	return (time.Duration(seconds) * time.Second).String()
}

// UnixMillis возвращает текущее время в миллисекундах Unix
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
