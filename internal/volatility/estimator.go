package volatility

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"riskgate/pkg/utils"
)

// Method - способ оценки волатильности
type Method string

// Поддерживаемые методы
const (
	MethodStd   Method = "std"
	MethodEWMA  Method = "ewma"
	MethodATR   Method = "atr"
	MethodGARCH Method = "garch"
)

// ParseMethod разбирает имя метода (регистр не важен)
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodStd, MethodEWMA, MethodATR, MethodGARCH:
		return m, nil
	case "":
		return MethodStd, nil
	}
	return "", fmt.Errorf("%w: unknown volatility method %q", ErrInvalidInput, s)
}

// DefaultEWMAAlpha - вес нового квадрата доходности в EWMA по умолчанию
const DefaultEWMAAlpha = 0.94

// Config - параметры оценщика
type Config struct {
	Method    Method
	Window    int     // размер истории доходностей (std, ewma, garch)
	ATRWindow int     // размер окна ATR
	Alpha     float64 // вес EWMA
}

// Enabled сообщает, ведётся ли оценка для выбранного метода
func (c Config) Enabled() bool {
	if c.Method == MethodATR {
		return c.ATRWindow >= 1
	}
	return c.Window >= 2
}

// series - ограниченная FIFO очередь, старые значения вытесняются
type series struct {
	values []float64
	limit  int
}

func newSeries(limit int) *series {
	return &series{values: make([]float64, 0, limit), limit: limit}
}

func (s *series) push(v float64) {
	if s.limit <= 0 {
		return
	}
	if len(s.values) == s.limit {
		copy(s.values, s.values[1:])
		s.values = s.values[:len(s.values)-1]
	}
	s.values = append(s.values, v)
}

// tail возвращает последние n значений (копию)
func (s *series) tail(n int) []float64 {
	if n > len(s.values) {
		n = len(s.values)
	}
	out := make([]float64, n)
	copy(out, s.values[len(s.values)-n:])
	return out
}

// state - состояние волатильности по одному инструменту
type state struct {
	lastPrice  float64
	returns    *series
	absReturns *series
	ewmaVar    float64
	ewmaSeeded bool
	samples    int
}

// Estimator ведёт историю цен по инструментам и оценивает волатильность.
//
// Состояние переживает ежедневный сброс риска: оно описывает рынок,
// а не торговый день. Безопасен для конкурентного использования.
type Estimator struct {
	cfg    Config
	states map[string]*state
	mu     sync.RWMutex
}

// NewEstimator создаёт оценщик. Alpha <= 0 заменяется значением по умолчанию.
func NewEstimator(cfg Config) *Estimator {
	if cfg.Method == "" {
		cfg.Method = MethodStd
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultEWMAAlpha
	}
	return &Estimator{
		cfg:    cfg,
		states: make(map[string]*state),
	}
}

// Config возвращает конфигурацию оценщика
func (e *Estimator) Config() Config {
	return e.cfg
}

// Record добавляет наблюдение цены. Неположительные цены игнорируются.
func (e *Estimator) Record(instrument string, price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[instrument]
	if !ok {
		st = &state{
			returns:    newSeries(e.cfg.Window),
			absReturns: newSeries(e.cfg.ATRWindow),
		}
		e.states[instrument] = st
	}

	if r, ok := utils.PctReturn(st.lastPrice, price); ok {
		st.returns.push(r)
		st.absReturns.push(math.Abs(r))

		sq := r * r
		if !st.ewmaSeeded {
			st.ewmaVar = sq
			st.ewmaSeeded = true
		} else {
			st.ewmaVar = e.cfg.Alpha*sq + (1-e.cfg.Alpha)*st.ewmaVar
		}
	}

	st.lastPrice = price
	st.samples++
}

// Estimate возвращает оценку волатильности (доля, не проценты).
// false - оценки пока нет (мало данных или метод выключен).
func (e *Estimator) Estimate(instrument string) (float64, bool) {
	if !e.cfg.Enabled() {
		return 0, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.states[instrument]
	if !ok {
		return 0, false
	}

	switch e.cfg.Method {
	case MethodStd:
		need := e.cfg.Window - 1
		if need < 2 {
			need = 2
		}
		if len(st.returns.values) < need {
			return 0, false
		}
		return utils.SampleStdDev(st.returns.tail(need)), true

	case MethodEWMA:
		if !st.ewmaSeeded {
			return 0, false
		}
		return math.Sqrt(st.ewmaVar), true

	case MethodATR:
		if len(st.absReturns.values) == 0 {
			return 0, false
		}
		return utils.Mean(st.absReturns.values), true

	case MethodGARCH:
		params, err := FitGarch(st.returns.tail(len(st.returns.values)))
		if err != nil {
			return 0, false
		}
		forecast, err := ForecastVolatility(params, 1)
		if err != nil || len(forecast) == 0 {
			return 0, false
		}
		return forecast[0], true
	}

	return 0, false
}

// Returns возвращает копию истории доходностей инструмента
func (e *Estimator) Returns(instrument string) []float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.states[instrument]
	if !ok {
		return nil
	}
	return st.returns.tail(len(st.returns.values))
}

// Snapshot - состояние оценщика по инструменту для API
type Snapshot struct {
	Instrument string  `json:"instrument"`
	Method     Method  `json:"method"`
	Volatility float64 `json:"volatility"`
	Ready      bool    `json:"ready"`
	Samples    int     `json:"samples"`
	LastPrice  float64 `json:"lastPrice"`
}

// Snapshot возвращает текущее состояние инструмента
func (e *Estimator) Snapshot(instrument string) Snapshot {
	vol, ready := e.Estimate(instrument)

	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		Instrument: instrument,
		Method:     e.cfg.Method,
		Volatility: vol,
		Ready:      ready,
	}
	if st, ok := e.states[instrument]; ok {
		snap.Samples = st.samples
		snap.LastPrice = st.lastPrice
	}
	return snap
}

// Instruments возвращает инструменты с накопленной историей
func (e *Estimator) Instruments() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.states))
	for name := range e.states {
		out = append(out, name)
	}
	return out
}
