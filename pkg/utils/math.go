package utils

import (
	"math"
)

// math.go - статистические утилиты для оценки риска
//
// Назначение:
// Вспомогательные функции для расчёта доходностей, средних и дисперсий.
// Все функции являются чистыми (pure functions) без побочных эффектов.
//
// Функции:
// - PctReturn / PctReturns: процентные доходности
// - Mean, SampleVariance, SampleStdDev: выборочная статистика
// - Lag1Autocorrelation: автокорреляция первого порядка
// - Clamp, Abs, Min, Max: примитивы

// PctReturn возвращает процентное изменение (cur-prev)/prev.
//
// Если prev <= 0, возвращает 0 и false.
func PctReturn(prev, cur float64) (float64, bool) {
	if prev <= 0 {
		return 0, false
	}
	return (cur - prev) / prev, true
}

// PctReturns превращает ряд цен в ряд процентных доходностей.
//
// Пары с неположительной предыдущей ценой пропускаются.
//
// Пример:
//   - PctReturns([100, 110, 99]) = [0.1, -0.1]
func PctReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if r, ok := PctReturn(prices[i-1], prices[i]); ok {
			out = append(out, r)
		}
	}
	return out
}

// Mean возвращает среднее арифметическое (0 для пустого среза)
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleVariance возвращает выборочную дисперсию с делителем n-1.
//
// Для n < 2 возвращает 0.
func SampleVariance(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := Mean(values)
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return ss / float64(n-1)
}

// SampleStdDev возвращает выборочное стандартное отклонение
func SampleStdDev(values []float64) float64 {
	return math.Sqrt(SampleVariance(values))
}

// Lag1Autocorrelation возвращает автокорреляцию ряда с лагом 1.
//
// Если дисперсия ряда нулевая или точек меньше 2, возвращает 0.
func Lag1Autocorrelation(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := Mean(values)
	var num, den float64
	for i, v := range values {
		d := v - mean
		den += d * d
		if i > 0 {
			num += d * (values[i-1] - mean)
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
