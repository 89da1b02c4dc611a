package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"riskgate/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fileSnapshot - содержимое JSON файла состояния
type fileSnapshot struct {
	UpdatedAt time.Time                  `json:"updatedAt"`
	Exposures map[string]float64         `json:"exposures"`
	Positions map[string]models.Position `json:"positions"`
	DailyPnL  map[string]float64         `json:"dailyPnl"`
	Orders    map[string]OrderRecord     `json:"orders"`
}

func newFileSnapshot() *fileSnapshot {
	return &fileSnapshot{
		Exposures: make(map[string]float64),
		Positions: make(map[string]models.Position),
		DailyPnL:  make(map[string]float64),
		Orders:    make(map[string]OrderRecord),
	}
}

// FileStore - StateStore в одном JSON файле.
// Каждое изменение перезаписывает файл через временный файл и rename.
// Урегулированные ордера из файла удаляются.
type FileStore struct {
	path string

	mu     sync.Mutex
	snap   *fileSnapshot
	closed bool
}

// OpenFileStore загружает снимок, если файл существует
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is empty")
	}

	s := &FileStore{path: path, snap: newFileSnapshot()}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, s.snap); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if s.snap.Exposures == nil {
		s.snap.Exposures = make(map[string]float64)
	}
	if s.snap.Positions == nil {
		s.snap.Positions = make(map[string]models.Position)
	}
	if s.snap.DailyPnL == nil {
		s.snap.DailyPnL = make(map[string]float64)
	}
	if s.snap.Orders == nil {
		s.snap.Orders = make(map[string]OrderRecord)
	}
	return s, nil
}

// update применяет изменение и сохраняет файл
func (s *FileStore) update(fn func(snap *fileSnapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := fn(s.snap); err != nil {
		return err
	}
	s.snap.UpdatedAt = time.Now().UTC()
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.snap, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *FileStore) SaveOrder(_ context.Context, order models.PendingOrder) error {
	return s.update(func(snap *fileSnapshot) error {
		if _, exists := snap.Orders[order.ID]; !exists {
			snap.Orders[order.ID] = recordFromPending(order)
		}
		return nil
	})
}

func (s *FileStore) SettleOrder(_ context.Context, orderID string, _, _ float64) error {
	return s.update(func(snap *fileSnapshot) error {
		if _, ok := snap.Orders[orderID]; !ok {
			return ErrOrderNotFound
		}
		delete(snap.Orders, orderID)
		return nil
	})
}

func (s *FileStore) UpdateExposure(_ context.Context, instrument string, notional float64) error {
	return s.update(func(snap *fileSnapshot) error {
		if notional == 0 {
			delete(snap.Exposures, instrument)
		} else {
			snap.Exposures[instrument] = notional
		}
		return nil
	})
}

func (s *FileStore) UpdatePosition(_ context.Context, pos models.Position) error {
	return s.update(func(snap *fileSnapshot) error {
		if pos.Quantity == 0 {
			delete(snap.Positions, pos.Instrument)
		} else {
			snap.Positions[pos.Instrument] = pos
		}
		return nil
	})
}

func (s *FileStore) UpdateDailyPnL(_ context.Context, tradeDate string, pnl float64) error {
	return s.update(func(snap *fileSnapshot) error {
		snap.DailyPnL[tradeDate] = pnl
		return nil
	})
}

// ResetDaily очищает дневное состояние. История PnL прошлых дней сохраняется.
func (s *FileStore) ResetDaily(_ context.Context, tradeDate string) error {
	return s.update(func(snap *fileSnapshot) error {
		snap.Exposures = make(map[string]float64)
		snap.Positions = make(map[string]models.Position)
		snap.Orders = make(map[string]OrderRecord)
		snap.DailyPnL[tradeDate] = 0
		return nil
	})
}

func (s *FileStore) GetExposures(context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]float64, len(s.snap.Exposures))
	for k, v := range s.snap.Exposures {
		out[k] = v
	}
	return out, nil
}

func (s *FileStore) GetPositions(context.Context) (map[string]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]models.Position, len(s.snap.Positions))
	for k, v := range s.snap.Positions {
		out[k] = v
	}
	return out, nil
}

func (s *FileStore) GetDailyPnL(_ context.Context, tradeDate string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pnl, ok := s.snap.DailyPnL[tradeDate]
	return pnl, ok, nil
}

// OpenOrders возвращает незакрытые ордера из файла
func (s *FileStore) OpenOrders() []OrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]OrderRecord, 0, len(s.snap.Orders))
	for _, o := range s.snap.Orders {
		out = append(out, o)
	}
	return out
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
