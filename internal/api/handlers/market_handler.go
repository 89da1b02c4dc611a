package handlers

import (
	"context"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"riskgate/internal/market"
	"riskgate/internal/models"
	"riskgate/internal/volatility"
)

// maxTicksPerRequest ограничивает пакет тиков
const maxTicksPerRequest = 1000

// TickIngestor принимает тики цен
type TickIngestor interface {
	Ingest(ctx context.Context, tick models.PriceTick) error
}

// QuoteSource - снимок последних цен
type QuoteSource interface {
	Snapshot() map[string]market.Quote
}

// VolatilitySource - состояние оценщика волатильности
type VolatilitySource interface {
	Snapshot(instrument string) volatility.Snapshot
}

// MarketHandler - рыночные данные
//
// Endpoints:
// - POST /api/v1/ticks - тик или массив тиков от внешнего поставщика
// - GET /api/v1/prices - последние цены
// - GET /api/v1/volatility/{instrument} - оценка волатильности
type MarketHandler struct {
	ingestor TickIngestor
	quotes   QuoteSource
	vol      VolatilitySource
}

// NewMarketHandler создает MarketHandler
func NewMarketHandler(ingestor TickIngestor, quotes QuoteSource, vol VolatilitySource) *MarketHandler {
	return &MarketHandler{ingestor: ingestor, quotes: quotes, vol: vol}
}

// IngestResponse - итог приёма тиков
type IngestResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// IngestTicks принимает один тик ({...}) или пакет ([{...}, ...]).
// Некорректные тики отбрасываются, остальные применяются по порядку.
//
// POST /api/v1/ticks
//
// HTTP коды:
// - 200 OK: хотя бы один тик принят
// - 400 Bad Request: тело не разобрано или все тики отклонены
func (h *MarketHandler) IngestTicks(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body", err.Error())
		return
	}

	var ticks []models.PriceTick
	if body[0] == '[' {
		err = json.Unmarshal(body, &ticks)
	} else {
		var one models.PriceTick
		err = json.Unmarshal(body, &one)
		ticks = append(ticks, one)
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body", err.Error())
		return
	}
	if len(ticks) == 0 || len(ticks) > maxTicksPerRequest {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid tick batch", "expected 1..1000 ticks")
		return
	}

	var resp IngestResponse
	for _, tick := range ticks {
		if err := h.ingestor.Ingest(r.Context(), tick); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		resp.Accepted++
	}

	if resp.Accepted == 0 {
		respondJSON(w, http.StatusBadRequest, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// PricesResponse - последние цены, отсортированные по инструменту
type PricesResponse struct {
	Quotes []market.Quote `json:"quotes"`
}

// GetPrices возвращает последние цены всех инструментов
//
// GET /api/v1/prices
func (h *MarketHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	snap := h.quotes.Snapshot()
	quotes := make([]market.Quote, 0, len(snap))
	for _, q := range snap {
		quotes = append(quotes, q)
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Instrument < quotes[j].Instrument })
	respondJSON(w, http.StatusOK, PricesResponse{Quotes: quotes})
}

// GetVolatility возвращает оценку волатильности инструмента
//
// GET /api/v1/volatility/{instrument}
//
// HTTP коды:
// - 200 OK: есть история (ready=false, пока окно не заполнено)
// - 404 Not Found: по инструменту не было ни одного тика
func (h *MarketHandler) GetVolatility(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["instrument"]
	snap := h.vol.Snapshot(instrument)
	if snap.Samples == 0 {
		respondError(w, http.StatusNotFound, CodeNotFound, "No price history", instrument)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}
