package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow - счётчик событий в скользящем окне времени
//
// Алгоритм:
// - Хранит отметки времени событий в порядке поступления
// - Перед каждой проверкой выбрасывает отметки старше окна
// - Лимит превышен, если в окне уже limit событий
//
// В отличие от token bucket не допускает всплеска сверх лимита внутри
// окна, поэтому подходит для правила "не больше N ордеров в минуту".
//
// Время передаётся явно: вызывающий код (RiskEngine) работает со своими
// часами, что упрощает тестирование.
//
// Использование:
//
//	w := NewSlidingWindow(time.Minute, 30)
//	if !w.Allow(now) { reject }
//	w.Record(now)
type SlidingWindow struct {
	window time.Duration
	limit  int
	stamps []time.Time
	mu     sync.Mutex
}

// NewSlidingWindow создаёт окно длиной window с лимитом limit событий.
// limit <= 0 означает отсутствие лимита.
func NewSlidingWindow(window time.Duration, limit int) *SlidingWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		window: window,
		limit:  limit,
	}
}

// evict удаляет отметки старше окна. Отметка ровно на границе остаётся.
// ВАЖНО: вызывается под lock'ом
func (w *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && w.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// Allow проверяет, можно ли зарегистрировать ещё одно событие в момент now.
// Не записывает событие.
func (w *SlidingWindow) Allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)
	return w.limit <= 0 || len(w.stamps) < w.limit
}

// Record записывает событие в момент now
func (w *SlidingWindow) Record(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)
	w.stamps = append(w.stamps, now)
}

// Count возвращает количество событий в окне на момент now
func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)
	return len(w.stamps)
}

// Reset очищает историю событий
func (w *SlidingWindow) Reset() {
	w.mu.Lock()
	w.stamps = w.stamps[:0]
	w.mu.Unlock()
}

// Limit возвращает лимит окна
func (w *SlidingWindow) Limit() int {
	return w.limit
}

// Window возвращает длину окна
func (w *SlidingWindow) Window() time.Duration {
	return w.window
}
