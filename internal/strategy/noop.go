package strategy

import (
	"context"

	"go.uber.org/zap"
)

// Noop ничего не торгует и ждёт отмены. Полезна для запуска только риск-сервиса.
type Noop struct {
	logger *zap.Logger
}

func NewNoop(logger *zap.Logger) *Noop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Noop{logger: logger.Named("strategy-noop")}
}

func (n *Noop) Name() string { return NameNoop }

func (n *Noop) Run(ctx context.Context) error {
	n.logger.Debug("noop strategy idle")
	<-ctx.Done()
	return nil
}
