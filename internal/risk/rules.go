package risk

import (
	"errors"
	"fmt"
	"strings"

	"riskgate/internal/config"
)

// Rule - идентификатор pre-trade правила
type Rule string

// Правила в порядке проверки
const (
	RuleNone           Rule = ""
	RuleInvalid        Rule = "invalid_intent"
	RuleKillSwitch     Rule = "kill_switch"
	RuleAllowList      Rule = "allow_list"
	RuleNotional       Rule = "max_notional"
	RuleRateLimit      Rule = "rate_limit"
	RuleOpenOrders     Rule = "open_orders"
	RulePriceBand      Rule = "price_band"
	RuleVolatilityBand Rule = "volatility_band"
	RuleSlippage       Rule = "slippage"
)

// Rules возвращает правила в порядке вычисления
func Rules() []Rule {
	return []Rule{
		RuleKillSwitch,
		RuleAllowList,
		RuleNotional,
		RuleRateLimit,
		RuleOpenOrders,
		RulePriceBand,
		RuleVolatilityBand,
		RuleSlippage,
	}
}

// Decision - результат pre-trade проверки
type Decision struct {
	Approved bool   `json:"approved"`
	Rule     Rule   `json:"rule,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Err возвращает nil для одобренной заявки и *RejectionError для отказа
func (d Decision) Err() error {
	if d.Approved {
		return nil
	}
	return &RejectionError{Decision: d}
}

func approve() Decision {
	return Decision{Approved: true}
}

func reject(rule Rule, format string, args ...interface{}) Decision {
	return Decision{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Ошибки движка
var (
	ErrKillSwitchEngaged = errors.New("kill switch engaged")
	ErrDuplicateOrder    = errors.New("duplicate order id")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidFill       = errors.New("invalid fill")
)

// RejectionError - заявка отклонена правилом
type RejectionError struct {
	Decision Decision
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("risk rejected (%s): %s", e.Decision.Rule, e.Decision.Reason)
}

// Is позволяет errors.Is(err, ErrKillSwitchEngaged) для отказа по kill switch
func (e *RejectionError) Is(target error) bool {
	return target == ErrKillSwitchEngaged && e.Decision.Rule == RuleKillSwitch
}

// AsRejection извлекает решение из ошибки отказа
func AsRejection(err error) (Decision, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Decision, true
	}
	return Decision{}, false
}

// Limits - лимиты правил. Ноль отключает соответствующее правило.
type Limits struct {
	MaxOrderNotional     float64  `json:"maxOrderNotional"`
	MaxOrdersPerMinute   int      `json:"maxOrdersPerMinute"`
	MaxOpenOrders        int      `json:"maxOpenOrders"`
	PriceBandPct         float64  `json:"priceBandPct"`
	SlippagePct          float64  `json:"slippagePct"`
	DailyMaxLoss         float64  `json:"dailyMaxLoss"`
	VolatilityMultiplier float64  `json:"volatilityMultiplier"`
	AllowedMarkets       []string `json:"allowedMarkets"`
}

// LimitsFromConfig собирает лимиты из конфигурации
func LimitsFromConfig(r config.RiskConfig, v config.VolatilityConfig) Limits {
	return Limits{
		MaxOrderNotional:     r.MaxOrderNotional,
		MaxOrdersPerMinute:   r.MaxOrdersPerMinute,
		MaxOpenOrders:        r.MaxOpenOrders,
		PriceBandPct:         r.PriceBandPct,
		SlippagePct:          r.SlippagePct,
		DailyMaxLoss:         r.DailyMaxLoss,
		VolatilityMultiplier: v.Multiplier,
		AllowedMarkets:       append([]string(nil), r.AllowedMarkets...),
	}
}

// allowSet строит множество разрешённых инструментов. nil - разрешены все.
func allowSet(markets []string) map[string]struct{} {
	var set map[string]struct{}
	for _, m := range markets {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if set == nil {
			set = make(map[string]struct{})
		}
		set[m] = struct{}{}
	}
	return set
}
