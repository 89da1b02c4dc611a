package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"riskgate/internal/execution"
	"riskgate/internal/models"
	"riskgate/internal/risk"
	"riskgate/pkg/utils"
)

// OrderSubmitter принимает заявки в конвейер исполнения
type OrderSubmitter interface {
	Submit(intent models.OrderIntent) error
}

// FillHandler урегулирует ордера по уведомлениям об исполнении
type FillHandler interface {
	HandleFill(ctx context.Context, fill models.FillNotification) error
}

// OrderHandler принимает заявки и исполнения от внешних стратегий и бирж
//
// Endpoints:
// - POST /api/v1/orders - заявка в очередь исполнения (202 Accepted)
// - POST /api/v1/fills - уведомление об исполнении
//
// Проверка риска выполняется асинхронно в конвейере: 202 означает
// только то, что заявка корректна и поставлена в очередь.
type OrderHandler struct {
	orders OrderSubmitter
	fills  FillHandler
	logger *zap.Logger
}

// NewOrderHandler создает OrderHandler
func NewOrderHandler(orders OrderSubmitter, fills FillHandler, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{orders: orders, fills: fills, logger: logger.Named("api-orders")}
}

// OrderRequest - тело POST /orders. side принимается в любом регистре.
type OrderRequest struct {
	Instrument string  `json:"instrument" validate:"required"`
	Side       string  `json:"side" validate:"required"`
	Size       float64 `json:"size" validate:"gt=0"`
	LimitPrice float64 `json:"limitPrice" validate:"gt=0"`
}

// SubmitOrderResponse - ответ на принятую заявку
type SubmitOrderResponse struct {
	Status  string             `json:"status"`
	Intent  models.OrderIntent `json:"intent"`
	Pending int                `json:"pending,omitempty"`
}

type pendingCounter interface {
	Pending() int
}

// SubmitOrder ставит заявку в очередь
//
// POST /api/v1/orders
//
// HTTP коды:
// - 202 Accepted: заявка в очереди
// - 400 Bad Request: некорректная заявка
// - 503 Service Unavailable: очередь переполнена или конвейер остановлен
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body", err.Error())
		return
	}

	side, err := models.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "Invalid order", err.Error())
		return
	}
	intent := models.OrderIntent{
		Instrument: req.Instrument,
		Side:       side,
		Size:       req.Size,
		LimitPrice: req.LimitPrice,
	}

	if err := h.orders.Submit(intent); err != nil {
		switch {
		case models.IsValidationError(err):
			respondError(w, http.StatusBadRequest, CodeValidation, "Invalid order", err.Error())
		case errors.Is(err, execution.ErrQueueFull), errors.Is(err, execution.ErrPipelineClosed):
			respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "Order not accepted", err.Error())
		default:
			h.logger.Error("submit failed", utils.Instrument(intent.Instrument), zap.Error(err))
			respondError(w, http.StatusInternalServerError, CodeInternal, "Submit failed", err.Error())
		}
		return
	}

	resp := SubmitOrderResponse{Status: "queued", Intent: intent}
	if pc, ok := h.orders.(pendingCounter); ok {
		resp.Pending = pc.Pending()
	}
	respondJSON(w, http.StatusAccepted, resp)
}

// SubmitFill урегулирует открытый ордер
//
// POST /api/v1/fills
//
// HTTP коды:
// - 200 OK: ордер урегулирован
// - 400 Bad Request: некорректное уведомление
// - 404 Not Found: ордер неизвестен или уже урегулирован
func (h *OrderHandler) SubmitFill(w http.ResponseWriter, r *http.Request) {
	var fill models.FillNotification
	if err := decodeJSON(r, &fill); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body", err.Error())
		return
	}

	if err := h.fills.HandleFill(r.Context(), fill); err != nil {
		switch {
		case models.IsValidationError(err), errors.Is(err, risk.ErrInvalidFill):
			respondError(w, http.StatusBadRequest, CodeValidation, "Invalid fill", err.Error())
		case errors.Is(err, risk.ErrOrderNotFound):
			respondError(w, http.StatusNotFound, CodeNotFound, "Order not found", err.Error())
		default:
			h.logger.Error("fill handling failed", utils.OrderID(fill.OrderID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, CodeInternal, "Fill handling failed", err.Error())
		}
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Message: "order settled", Data: fill})
}
