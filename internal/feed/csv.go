package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"riskgate/internal/models"
)

// CSVFeed воспроизводит тики из файла.
//
// Формат строки: timestamp,instrument,price. Строка заголовка необязательна.
// timestamp - RFC3339 или unix миллисекунды, может быть пустым.
type CSVFeed struct {
	path     string
	interval time.Duration
	logger   *zap.Logger
}

// NewCSVFeed создаёт replay источник. interval - пауза между строками (0 = без пауз).
func NewCSVFeed(path string, interval time.Duration, logger *zap.Logger) *CSVFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVFeed{path: path, interval: interval, logger: logger.Named("feed-csv")}
}

func (f *CSVFeed) Name() string { return KindCSV }

// Run передаёт все тики файла в sink и возвращает nil в конце файла
func (f *CSVFeed) Run(ctx context.Context, sink Sink) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open price file: %w", err)
	}
	defer file.Close()

	ticks, skipped, err := ReadTicks(file)
	if err != nil {
		return err
	}
	f.logger.Info("replaying price file",
		zap.String("path", f.path),
		zap.Int("ticks", len(ticks)),
		zap.Int("skipped", skipped),
	)

	for _, tick := range ticks {
		if err := sink(ctx, tick); err != nil {
			f.logger.Warn("tick rejected", zap.Error(err))
		}
		if f.interval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(f.interval):
			}
		} else if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// ReadTicks разбирает CSV. Некорректные строки пропускаются и считаются в skipped.
func ReadTicks(r io.Reader) (ticks []models.PriceTick, skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	for line := 1; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("read csv line %d: %w", line, err)
		}

		tick, ok := parseRecord(rec)
		if !ok {
			// первая строка может быть заголовком
			if !(line == 1 && isHeader(rec)) {
				skipped++
			}
			continue
		}
		ticks = append(ticks, tick)
	}
	return ticks, skipped, nil
}

// ReadPrices возвращает цены инструмента в порядке файла ("" = все строки)
func ReadPrices(r io.Reader, instrument string) ([]float64, error) {
	ticks, _, err := ReadTicks(r)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(ticks))
	for _, t := range ticks {
		if instrument == "" || t.Instrument == instrument {
			out = append(out, t.Price)
		}
	}
	return out, nil
}

func parseRecord(rec []string) (models.PriceTick, bool) {
	if len(rec) < 3 {
		return models.PriceTick{}, false
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil {
		return models.PriceTick{}, false
	}
	tick := models.PriceTick{Instrument: strings.TrimSpace(rec[1]), Price: price}
	if tick.Validate() != nil {
		return models.PriceTick{}, false
	}

	if ts := strings.TrimSpace(rec[0]); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			tick.Timestamp = t
		} else if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
			tick.Timestamp = time.UnixMilli(ms).UTC()
		} else {
			return models.PriceTick{}, false
		}
	}
	return tick, true
}

func isHeader(rec []string) bool {
	for _, f := range rec {
		if strings.EqualFold(strings.TrimSpace(f), "price") {
			return true
		}
	}
	return false
}
