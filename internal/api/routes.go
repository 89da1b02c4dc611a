package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"riskgate/internal/api/handlers"
	"riskgate/internal/api/middleware"
)

// Dependencies содержит зависимости HTTP слоя. Nil сервис отключает его маршруты.
type Dependencies struct {
	Risk          handlers.RiskEngine
	Orders        handlers.OrderSubmitter
	Fills         handlers.FillHandler
	Ticks         handlers.TickIngestor
	Quotes        handlers.QuoteSource
	Volatility    handlers.VolatilitySource
	Notifications handlers.NotificationSource
	Stream        http.Handler

	// TokenHash - bcrypt хеш API токена. Пустой отключает auth.
	TokenHash      string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// SetupRoutes настраивает HTTP маршруты
//
// Структура маршрутов:
//
// /api/v1/ (Bearer auth, если задан TokenHash)
//
//	├── /risk/
//	│   ├── GET /state - снимок состояния риска
//	│   ├── POST /reset - дневной сброс
//	│   └── POST /kill - включить kill switch
//	├── POST /orders - заявка в очередь исполнения
//	├── POST /fills - уведомление об исполнении
//	├── POST /ticks - тики цен
//	├── GET /prices - последние цены
//	├── GET /volatility/{instrument} - оценка волатильности
//	└── /notifications/
//	    ├── GET / - журнал оповещений
//	    └── DELETE / - очистить журнал
//
// /ws/stream - WebSocket события шины
// /metrics - Prometheus
// /health - liveness
//
// Middleware: Recovery, Logging, CORS для всех маршрутов; Auth только для /api/v1.
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(deps.TokenHash, logger))

	if deps.Risk != nil {
		h := handlers.NewRiskHandler(deps.Risk, logger)
		api.HandleFunc("/risk/state", h.GetState).Methods(http.MethodGet)
		api.HandleFunc("/risk/reset", h.Reset).Methods(http.MethodPost)
		api.HandleFunc("/risk/kill", h.Kill).Methods(http.MethodPost)
	}

	if deps.Orders != nil && deps.Fills != nil {
		h := handlers.NewOrderHandler(deps.Orders, deps.Fills, logger)
		api.HandleFunc("/orders", h.SubmitOrder).Methods(http.MethodPost)
		api.HandleFunc("/fills", h.SubmitFill).Methods(http.MethodPost)
	}

	if deps.Ticks != nil && deps.Quotes != nil && deps.Volatility != nil {
		h := handlers.NewMarketHandler(deps.Ticks, deps.Quotes, deps.Volatility)
		api.HandleFunc("/ticks", h.IngestTicks).Methods(http.MethodPost)
		api.HandleFunc("/prices", h.GetPrices).Methods(http.MethodGet)
		api.HandleFunc("/volatility/{instrument}", h.GetVolatility).Methods(http.MethodGet)
	}

	if deps.Notifications != nil {
		h := handlers.NewNotificationHandler(deps.Notifications)
		api.HandleFunc("/notifications", h.GetNotifications).Methods(http.MethodGet)
		api.HandleFunc("/notifications", h.ClearNotifications).Methods(http.MethodDelete)
	}

	if deps.Stream != nil {
		router.Handle("/ws/stream", deps.Stream).Methods(http.MethodGet)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	addPreflightRoutes(router)
	return router
}

// addPreflightRoutes регистрирует OPTIONS для каждого пути с маршрутом,
// чтобы CORS отработал до 405. Неизвестные пути остаются 404.
func addPreflightRoutes(router *mux.Router) {
	seen := make(map[string]bool)
	var paths []string
	_ = router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		if _, err := route.GetMethods(); err != nil {
			return nil // префикс subrouter
		}
		tpl, err := route.GetPathTemplate()
		if err != nil || seen[tpl] {
			return nil
		}
		seen[tpl] = true
		paths = append(paths, tpl)
		return nil
	})

	noContent := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
	for _, path := range paths {
		router.HandleFunc(path, noContent).Methods(http.MethodOptions)
	}
}
