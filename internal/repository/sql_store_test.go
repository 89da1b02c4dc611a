package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"riskgate/internal/models"
)

// ============================================================
// SQLStore Tests
// ============================================================

func newMockStore(t *testing.T, dialect Dialect) (*SQLStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	return NewSQLStore(db, dialect), mock, db
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri         string
		dialect     Dialect
		dsn         string
		expectError bool
	}{
		{"postgres://u:p@localhost/risk?sslmode=disable", DialectPostgres, "postgres://u:p@localhost/risk?sslmode=disable", false},
		{"postgresql://localhost/risk", DialectPostgres, "postgresql://localhost/risk", false},
		{"sqlite://data/state.db", DialectSQLite, "data/state.db", false},
		{"sqlite://", "", "", true},
		{"mysql://localhost", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			dialect, dsn, err := ParseURI(tt.uri)
			if tt.expectError {
				if err == nil {
					t.Error("ожидали ошибку")
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if dialect != tt.dialect || dsn != tt.dsn {
				t.Errorf("ожидали %s %s, получили %s %s", tt.dialect, tt.dsn, dialect, dsn)
			}
		})
	}
}

func TestRebind(t *testing.T) {
	pg := NewSQLStore(nil, DialectPostgres)
	lite := NewSQLStore(nil, DialectSQLite)

	q := "UPDATE t SET a = $1 WHERE b = $2 AND c = $10"
	if got := pg.rebind(q); got != q {
		t.Errorf("postgres не должен менять запрос, получили %q", got)
	}
	if got := lite.rebind(q); got != "UPDATE t SET a = ?1 WHERE b = ?2 AND c = ?10" {
		t.Errorf("неверная подстановка sqlite: %q", got)
	}
}

func TestSchema(t *testing.T) {
	for _, d := range []Dialect{DialectPostgres, DialectSQLite} {
		stmts := Schema(d)
		if len(stmts) != 5 {
			t.Fatalf("%s: ожидали 5 выражений, получили %d", d, len(stmts))
		}
	}
}

func TestSQLStoreMigrate(t *testing.T) {
	store, mock, db := newMockStore(t, DialectPostgres)
	defer db.Close()

	for range Schema(DialectPostgres) {
		mock.ExpectExec(`CREATE`).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStoreMigrateError(t *testing.T) {
	store, mock, db := newMockStore(t, DialectSQLite)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS exposures`).WillReturnError(errors.New("disk full"))

	if err := store.Migrate(context.Background()); err == nil {
		t.Error("ожидали ошибку миграции")
	}
}

func TestSQLStoreSaveOrder(t *testing.T) {
	store, mock, db := newMockStore(t, DialectPostgres)
	defer db.Close()

	order := models.PendingOrder{
		ID:        "ord-1",
		Intent:    models.OrderIntent{Instrument: "BTC-USD", Side: models.SideBuy, Size: 0.5, LimitPrice: 100},
		Notional:  50,
		CreatedAt: time.Now(),
	}

	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs("ord-1", "BTC-USD", "buy",
			decimal.NewFromFloat(0.5), decimal.NewFromFloat(100), decimal.NewFromFloat(50),
			OrderStatusOpen, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SaveOrder(context.Background(), order); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStoreSettleOrder(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		wantErr   error
		anyErr    bool
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE orders`).
					WithArgs(OrderStatusSettled, decimal.NewFromFloat(101), decimal.NewFromFloat(1), sqlmock.AnyArg(), "ord-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: ErrOrderNotFound,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE orders`).WillReturnError(errors.New("database error"))
			},
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock, db := newMockStore(t, DialectPostgres)
			defer db.Close()
			tt.mockSetup(mock)

			err := store.SettleOrder(context.Background(), "ord-1", 101, 1)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ожидали %v, получили %v", tt.wantErr, err)
				}
			case tt.anyErr:
				if err == nil {
					t.Error("ожидали ошибку")
				}
			default:
				if err != nil {
					t.Errorf("неожиданная ошибка: %v", err)
				}
			}
		})
	}
}

func TestSQLStoreUpsertsUseSQLitePlaceholders(t *testing.T) {
	store, mock, db := newMockStore(t, DialectSQLite)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO exposures .* VALUES \(\?1, \?2, \?3\)`).
		WithArgs("ETH-USD", decimal.NewFromFloat(-250), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO positions`).
		WithArgs("ETH-USD", decimal.NewFromFloat(-2.5), decimal.NewFromFloat(100), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO daily_pnl`).
		WithArgs("2024-03-01", decimal.NewFromFloat(-250), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	if err := store.UpdateExposure(ctx, "ETH-USD", -250); err != nil {
		t.Fatalf("UpdateExposure: %v", err)
	}
	if err := store.UpdatePosition(ctx, models.Position{Instrument: "ETH-USD", Quantity: -2.5, AveragePrice: 100}); err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}
	if err := store.UpdateDailyPnL(ctx, "2024-03-01", -250); err != nil {
		t.Fatalf("UpdateDailyPnL: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStoreResetDaily(t *testing.T) {
	store, mock, db := newMockStore(t, DialectPostgres)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM exposures`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM positions`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE orders SET status`).
		WithArgs(OrderStatusExpired, sqlmock.AnyArg(), OrderStatusOpen).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO daily_pnl`).
		WithArgs("2024-03-02", decimal.Zero, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.ResetDaily(context.Background(), "2024-03-02"); err != nil {
		t.Fatalf("ResetDaily: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStoreResetDailyRollback(t *testing.T) {
	store, mock, db := newMockStore(t, DialectPostgres)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM exposures`).WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	if err := store.ResetDaily(context.Background(), "2024-03-02"); err == nil {
		t.Error("ожидали ошибку")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStoreGetExposures(t *testing.T) {
	store, mock, db := newMockStore(t, DialectPostgres)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"product_id", "notional"}).
		AddRow("BTC-USD", "1500.25").
		AddRow("ETH-USD", "-300").
		AddRow("SOL-USD", "0")
	mock.ExpectQuery(`SELECT product_id, notional FROM exposures`).WillReturnRows(rows)

	got, err := store.GetExposures(context.Background())
	if err != nil {
		t.Fatalf("GetExposures: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ожидали 2 ненулевые экспозиции, получили %d", len(got))
	}
	if got["BTC-USD"] != 1500.25 || got["ETH-USD"] != -300 {
		t.Errorf("неверные значения: %v", got)
	}
}

func TestSQLStoreGetPositions(t *testing.T) {
	store, mock, db := newMockStore(t, DialectPostgres)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"product_id", "quantity", "average_price"}).
		AddRow("BTC-USD", "0.5", "100").
		AddRow("ETH-USD", "0", "0")
	mock.ExpectQuery(`SELECT product_id, quantity, average_price FROM positions`).WillReturnRows(rows)

	got, err := store.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ожидали 1 позицию, получили %d", len(got))
	}
	if p := got["BTC-USD"]; p.Quantity != 0.5 || p.AveragePrice != 100 {
		t.Errorf("неверная позиция: %+v", p)
	}
}

func TestSQLStoreGetDailyPnL(t *testing.T) {
	store, mock, db := newMockStore(t, DialectPostgres)
	defer db.Close()

	mock.ExpectQuery(`SELECT pnl FROM daily_pnl`).
		WithArgs("2024-03-01").
		WillReturnRows(sqlmock.NewRows([]string{"pnl"}).AddRow("-42.5"))
	mock.ExpectQuery(`SELECT pnl FROM daily_pnl`).
		WithArgs("2024-03-02").
		WillReturnError(sql.ErrNoRows)

	pnl, ok, err := store.GetDailyPnL(context.Background(), "2024-03-01")
	if err != nil || !ok || pnl != -42.5 {
		t.Errorf("ожидали -42.5 true nil, получили %v %v %v", pnl, ok, err)
	}

	_, ok, err = store.GetDailyPnL(context.Background(), "2024-03-02")
	if err != nil || ok {
		t.Errorf("ожидали отсутствие записи без ошибки, получили %v %v", ok, err)
	}
}

func TestSQLStoreListOrders(t *testing.T) {
	store, mock, db := newMockStore(t, DialectPostgres)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "product_id", "side", "size", "limit_price", "notional", "status", "fill_price", "filled_size"}).
		AddRow("ord-2", "BTC-USD", "sell", "1", "100", "100", OrderStatusSettled, "99.5", "1").
		AddRow("ord-1", "BTC-USD", "buy", "1", "101", "101", OrderStatusOpen, "0", "0")
	mock.ExpectQuery(`SELECT id, product_id, side`).WithArgs(10).WillReturnRows(rows)

	orders, err := store.ListOrders(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("ожидали 2 ордера, получили %d", len(orders))
	}
	if orders[0].Side != models.SideSell || orders[0].FillPrice != 99.5 {
		t.Errorf("неверная запись: %+v", orders[0])
	}
}
