package strategy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"riskgate/internal/eventbus"
	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

// Имена встроенных стратегий и ключи параметров
const (
	NameSMA      = "sma"
	NameMomentum = "momentum"
	NameNoop     = "noop"

	ParamWindow      = "window"
	ParamSize        = "size"
	ParamInstruments = "instruments"
	ParamThreshold   = "threshold_pct"
)

// position по инструменту: -1 short, 0 flat, 1 long
type position int

// crossover отслеживает пересечение цены и скользящей средней
type crossover struct {
	window    int
	history   map[string][]float64
	prevPrice map[string]float64
	prevSMA   map[string]float64
	positions map[string]position
}

func newCrossover(window int) *crossover {
	if window <= 0 {
		window = 1
	}
	return &crossover{
		window:    window,
		history:   make(map[string][]float64),
		prevPrice: make(map[string]float64),
		prevSMA:   make(map[string]float64),
		positions: make(map[string]position),
	}
}

// observe добавляет цену и возвращает сигнал ("" - держать).
// Пока окно не заполнено, сигналов нет.
func (c *crossover) observe(instrument string, price float64) models.Side {
	h := append(c.history[instrument], price)
	if len(h) > c.window {
		h = h[len(h)-c.window:]
	}
	c.history[instrument] = h

	if len(h) < c.window {
		c.prevPrice[instrument] = price
		c.prevSMA[instrument] = price
		return ""
	}

	sma := utils.Mean(h)
	prevPrice, prevSMA := c.prevPrice[instrument], c.prevSMA[instrument]
	c.prevPrice[instrument] = price
	c.prevSMA[instrument] = sma

	crossUp := prevPrice <= prevSMA && price > sma
	crossDown := prevPrice >= prevSMA && price < sma

	pos := c.positions[instrument]
	switch {
	case crossUp && pos <= 0:
		return models.SideBuy
	case crossDown && pos >= 0:
		return models.SideSell
	}
	return ""
}

// commit фиксирует позицию после принятого ордера
func (c *crossover) commit(instrument string, side models.Side) {
	if side == models.SideBuy {
		c.positions[instrument] = 1
	} else {
		c.positions[instrument] = -1
	}
}

// SMA - пересечение цены и простой скользящей средней по каждому инструменту.
// Покупает при пересечении вверх, если не в длинной позиции, и продаёт
// при пересечении вниз, если не в короткой.
type SMA struct {
	deps        Deps
	logger      *zap.Logger
	size        float64
	instruments map[string]bool
	state       *crossover
}

// NewSMA создаёт стратегию. Параметры: window, size, instruments.
func NewSMA(deps Deps, params Params) (*SMA, error) {
	if deps.Submitter == nil {
		return nil, fmt.Errorf("sma: submitter is required")
	}
	window, err := params.Int(ParamWindow, 20)
	if err != nil {
		return nil, err
	}
	size, err := params.Float(ParamSize, 0.001)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("sma: size must be positive, got %v", size)
	}
	instruments, err := params.Strings(ParamInstruments)
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &SMA{
		deps:        deps,
		logger:      deps.Logger.Named("strategy-sma"),
		size:        size,
		instruments: toSet(instruments),
		state:       newCrossover(window),
	}, nil
}

func (s *SMA) Name() string { return NameSMA }

// Window возвращает длину окна скользящей средней
func (s *SMA) Window() int { return s.state.window }

// Run обрабатывает тики до отмены ctx или закрытия шины
func (s *SMA) Run(ctx context.Context) error {
	ticks, err := subscribeTickers(ctx, s.deps.Bus, s.logger)
	if err != nil {
		return err
	}
	s.logger.Info("sma strategy running",
		zap.Int("window", s.state.window),
		zap.Float64("size", s.size),
	)

	for t := range ticks {
		if len(s.instruments) > 0 && !s.instruments[t.ProductID] {
			continue
		}
		side := s.state.observe(t.ProductID, t.Price)
		if side == "" {
			continue
		}
		if submit(s.deps.Submitter, s.logger, NameSMA, t, side, s.size) {
			s.state.commit(t.ProductID, side)
		}
	}
	return nil
}

// submit отправляет намерение по цене тика. false - конвейер не принял намерение.
func submit(sub Submitter, logger *zap.Logger, name string, t eventbus.Ticker, side models.Side, size float64) bool {
	intent := models.OrderIntent{
		Instrument: t.ProductID,
		Side:       side,
		Size:       size,
		LimitPrice: t.Price,
	}
	Signals.WithLabelValues(name, string(side)).Inc()

	if err := sub.Submit(intent); err != nil {
		SubmitErrors.WithLabelValues(name).Inc()
		logger.Warn("intent not accepted",
			utils.Instrument(t.ProductID),
			utils.Side(string(side)),
			zap.Error(err),
		)
		return false
	}
	logger.Info("signal submitted",
		utils.Instrument(t.ProductID),
		utils.Side(string(side)),
		utils.Price(t.Price),
		utils.Size(size),
	)
	return true
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
