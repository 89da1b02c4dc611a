package volatility

import (
	"errors"
	"fmt"
	"math"

	"riskgate/pkg/utils"
)

// ErrInvalidInput - недостаточно данных или нестационарные параметры
var ErrInvalidInput = errors.New("volatility: invalid input")

// Границы эвристики метода моментов
const (
	garchMinAlpha       = 0.01
	garchMaxAlpha       = 0.2
	garchMinBeta        = 0.75
	garchTargetPersist  = 0.95
	garchMaxPersistence = 0.999
)

// GarchParams - параметры модели GARCH(1,1)
//
//	σ²_t = ω + α·ε²_{t-1} + β·σ²_{t-1}
//
// Инвариант: ω, α, β ≥ 0 и α+β ≤ 0.999.
type GarchParams struct {
	Omega float64 `json:"omega"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Persistence возвращает α+β
func (p GarchParams) Persistence() float64 {
	return p.Alpha + p.Beta
}

// UnconditionalVariance возвращает долгосрочную дисперсию ω/(1-α-β)
func (p GarchParams) UnconditionalVariance() float64 {
	denom := 1 - p.Persistence()
	if denom == 0 {
		return p.Omega
	}
	return p.Omega / denom
}

// IsZero сообщает, что все параметры нулевые (вырожденный ряд)
func (p GarchParams) IsZero() bool {
	return p.Omega == 0 && p.Alpha == 0 && p.Beta == 0
}

// FitGarch оценивает параметры GARCH(1,1) методом моментов.
//
// Алгоритм:
//  1. var - выборочная дисперсия доходностей
//  2. ρ₁ - автокорреляция квадратов доходностей с лагом 1
//  3. α = clamp(|ρ₁|, 0.01, 0.2)
//  4. β = max(0.75, 0.95-α), затем α+β ограничивается 0.999
//  5. ω = var·(1-α-β)
//
// Ряд с нулевой дисперсией даёт нулевые параметры.
// Меньше двух доходностей - ErrInvalidInput.
func FitGarch(returns []float64) (GarchParams, error) {
	if len(returns) < 2 {
		return GarchParams{}, fmt.Errorf("%w: need at least 2 returns, got %d", ErrInvalidInput, len(returns))
	}

	variance := utils.SampleVariance(returns)
	if variance <= 0 {
		return GarchParams{}, nil
	}

	squared := make([]float64, len(returns))
	for i, r := range returns {
		squared[i] = r * r
	}
	rho := utils.Lag1Autocorrelation(squared)

	alpha := utils.Clamp(math.Abs(rho), garchMinAlpha, garchMaxAlpha)
	beta := math.Max(garchMinBeta, garchTargetPersist-alpha)
	if alpha+beta > garchMaxPersistence {
		beta = math.Max(0, garchMaxPersistence-alpha)
	}

	return GarchParams{
		Omega: variance * (1 - alpha - beta),
		Alpha: alpha,
		Beta:  beta,
	}, nil
}

// ForecastVolatility прогнозирует условное стандартное отклонение
// на horizon шагов вперёд. Первый элемент - прогноз на t+1.
//
// Рекурсия стартует с безусловной дисперсии ω/(1-α-β):
//
//	σ²_{t+1} = ω + (α+β)·σ²_t
//
// Ошибка ErrInvalidInput при horizon < 0 или α+β ≥ 1.
func ForecastVolatility(p GarchParams, horizon int) ([]float64, error) {
	if horizon < 0 {
		return nil, fmt.Errorf("%w: horizon must be non-negative, got %d", ErrInvalidInput, horizon)
	}
	if p.Persistence() >= 1 {
		return nil, fmt.Errorf("%w: alpha+beta must be < 1, got %.4f", ErrInvalidInput, p.Persistence())
	}

	sigma2 := p.UnconditionalVariance()
	out := make([]float64, 0, horizon)
	for i := 0; i < horizon; i++ {
		sigma2 = p.Omega + p.Persistence()*sigma2
		out = append(out, math.Sqrt(sigma2))
	}
	return out, nil
}
