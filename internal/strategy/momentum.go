package strategy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

// Momentum покупает, когда цена выросла относительно предыдущего тика
// больше чем на threshold_pct процентов, и продаёт при таком же падении.
type Momentum struct {
	deps        Deps
	logger      *zap.Logger
	size        float64
	threshold   float64 // доля, не проценты
	instruments map[string]bool
	last        map[string]float64
}

// NewMomentum создаёт стратегию. Параметры: threshold_pct (0.2), size, instruments.
func NewMomentum(deps Deps, params Params) (*Momentum, error) {
	if deps.Submitter == nil {
		return nil, fmt.Errorf("momentum: submitter is required")
	}
	pct, err := params.Float(ParamThreshold, 0.2)
	if err != nil {
		return nil, err
	}
	if pct <= 0 {
		return nil, fmt.Errorf("momentum: threshold_pct must be positive, got %v", pct)
	}
	size, err := params.Float(ParamSize, 0.001)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("momentum: size must be positive, got %v", size)
	}
	instruments, err := params.Strings(ParamInstruments)
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Momentum{
		deps:        deps,
		logger:      deps.Logger.Named("strategy-momentum"),
		size:        size,
		threshold:   pct / 100,
		instruments: toSet(instruments),
		last:        make(map[string]float64),
	}, nil
}

func (m *Momentum) Name() string { return NameMomentum }

// signal сравнивает цену с предыдущей и запоминает её
func (m *Momentum) signal(instrument string, price float64) models.Side {
	prev, seen := m.last[instrument]
	m.last[instrument] = price
	if !seen {
		return ""
	}
	change, ok := utils.PctReturn(prev, price)
	switch {
	case !ok:
		return ""
	case change > m.threshold:
		return models.SideBuy
	case change < -m.threshold:
		return models.SideSell
	}
	return ""
}

func (m *Momentum) Run(ctx context.Context) error {
	ticks, err := subscribeTickers(ctx, m.deps.Bus, m.logger)
	if err != nil {
		return err
	}
	m.logger.Info("momentum strategy running", zap.Float64("threshold", m.threshold), zap.Float64("size", m.size))

	for t := range ticks {
		if len(m.instruments) > 0 && !m.instruments[t.ProductID] {
			continue
		}
		if side := m.signal(t.ProductID, t.Price); side != "" {
			submit(m.deps.Submitter, m.logger, NameMomentum, t, side, m.size)
		}
	}
	return nil
}
