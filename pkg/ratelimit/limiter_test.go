package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestSlidingWindow_Limit(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	w := NewSlidingWindow(time.Minute, 2)

	if !w.Allow(base) {
		t.Fatal("пустое окно должно разрешать событие")
	}
	w.Record(base)
	w.Record(base.Add(10 * time.Second))

	if w.Allow(base.Add(20 * time.Second)) {
		t.Error("третье событие в окне должно быть запрещено")
	}
	if w.Count(base.Add(20*time.Second)) != 2 {
		t.Errorf("Count: ожидали 2, получили %d", w.Count(base.Add(20*time.Second)))
	}
}

func TestSlidingWindow_Eviction(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	w := NewSlidingWindow(time.Minute, 1)
	w.Record(base)

	// Allow выбрасывает отметки, поэтому проверки идут по возрастанию времени
	steps := []struct {
		offset time.Duration
		allow  bool
		msg    string
	}{
		{59 * time.Second, false, "отметка внутри окна должна учитываться"},
		{time.Minute, false, "отметка ровно на границе окна ещё учитывается"},
		{time.Minute + time.Nanosecond, true, "отметка старше окна должна быть выброшена"},
	}
	for _, s := range steps {
		if got := w.Allow(base.Add(s.offset)); got != s.allow {
			t.Errorf("+%v: %s (Allow=%v)", s.offset, s.msg, got)
		}
	}
	if n := w.Count(base.Add(time.Minute + time.Nanosecond)); n != 0 {
		t.Errorf("Count после окна: ожидали 0, получили %d", n)
	}
}

func TestSlidingWindow_NoLimit(t *testing.T) {
	now := time.Now()
	w := NewSlidingWindow(0, 0)

	for i := 0; i < 100; i++ {
		w.Record(now)
	}
	if !w.Allow(now) {
		t.Error("limit=0 означает отсутствие лимита")
	}
	if w.Window() != time.Minute {
		t.Errorf("окно по умолчанию: ожидали 1m, получили %v", w.Window())
	}
}

func TestSlidingWindow_Reset(t *testing.T) {
	now := time.Now()
	w := NewSlidingWindow(time.Minute, 1)
	w.Record(now)
	w.Reset()

	if w.Count(now) != 0 || !w.Allow(now) {
		t.Error("Reset должен очищать историю")
	}
}

func TestSlidingWindow_Concurrent(t *testing.T) {
	now := time.Now()
	w := NewSlidingWindow(time.Minute, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Record(now)
			w.Allow(now)
		}()
	}
	wg.Wait()

	if w.Count(now) != 50 {
		t.Errorf("Count: ожидали 50, получили %d", w.Count(now))
	}
}
