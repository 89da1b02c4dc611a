package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"riskgate/internal/risk"
)

// RiskEngine - операции движка риска, доступные через API
type RiskEngine interface {
	State() risk.State
	ResetDaily()
	EngageKillSwitch(reason string)
}

// RiskHandler отвечает за состояние риска
//
// Endpoints:
// - GET /api/v1/risk/state - снимок: экспозиции, позиции, открытые ордера, PnL, kill switch
// - POST /api/v1/risk/reset - ручной дневной сброс (PnL, rate window, kill switch)
// - POST /api/v1/risk/kill - ручное включение kill switch
type RiskHandler struct {
	engine RiskEngine
	logger *zap.Logger
}

// NewRiskHandler создает RiskHandler
func NewRiskHandler(engine RiskEngine, logger *zap.Logger) *RiskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskHandler{engine: engine, logger: logger.Named("api-risk")}
}

// KillRequest - тело POST /risk/kill
type KillRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

// GetState возвращает снимок состояния движка риска
//
// GET /api/v1/risk/state
func (h *RiskHandler) GetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.State())
}

// Reset выполняет дневной сброс вне расписания.
// Волатильность и открытые ордера сохраняются.
//
// POST /api/v1/risk/reset
func (h *RiskHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.engine.ResetDaily()
	h.logger.Info("daily reset requested via api", zap.String("remote", r.RemoteAddr))
	respondJSON(w, http.StatusOK, SuccessResponse{Message: "daily state reset", Data: h.engine.State()})
}

// Kill включает kill switch. Тело необязательно: {"reason": "..."}.
//
// POST /api/v1/risk/kill
func (h *RiskHandler) Kill(w http.ResponseWriter, r *http.Request) {
	var req KillRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body", err.Error())
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual"
	}

	h.engine.EngageKillSwitch(reason)
	h.logger.Warn("kill switch engaged via api", zap.String("reason", reason), zap.String("remote", r.RemoteAddr))
	respondJSON(w, http.StatusOK, SuccessResponse{Message: "kill switch engaged", Data: h.engine.State()})
}
