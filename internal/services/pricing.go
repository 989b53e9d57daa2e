package services

import (
	"math"
	"sort"

	"github.com/listafacil/listafacil-backend/internal/models"
)

// minComparables is the smallest usable sample; below it we refuse to
// suggest prices rather than fabricate confidence from noise.
const minComparables = 5

// SuggestPrices turns comparable listings into robust price suggestions.
// Pure and deterministic: same input list always yields the same result.
// Returns nil when fewer than 5 usable samples remain after filtering.
func SuggestPrices(comps []models.Comparable, currency string) *models.PriceAnalysis {
	prices := make([]float64, 0, len(comps))
	for _, c := range comps {
		if c.Price > 0 && c.Currency == currency {
			prices = append(prices, c.Price)
		}
	}
	if len(prices) < minComparables {
		return nil
	}

	sort.Float64s(prices)

	p25 := quantile(prices, 0.25)
	p75 := quantile(prices, 0.75)
	iqr := p75 - p25
	lo := p25 - 1.5*iqr
	hi := p75 + 1.5*iqr

	trimmed := make([]float64, 0, len(prices))
	for _, p := range prices {
		if p >= lo && p <= hi {
			trimmed = append(trimmed, p)
		}
	}

	// Only trust the outlier-trimmed set if it is still a real sample
	working := prices
	if len(trimmed) >= minComparables {
		working = trimmed
	}

	wp25 := quantile(working, 0.25)
	median := quantile(working, 0.5)
	wp75 := quantile(working, 0.75)

	step := roundingStep(median)
	fair := roundNearest(median, step)

	fast := roundDown(math.Min(wp25, median*0.9), step)
	if fast > fair-step {
		fast = fair - step
	}

	profit := roundUp(math.Max(wp75, median*1.1), step)
	if profit < fair+step {
		profit = fair + step
	}

	return &models.PriceAnalysis{
		Currency:        currency,
		SampleSize:      len(prices),
		TrimmedSize:     len(trimmed),
		P25:             wp25,
		Median:          median,
		P75:             wp75,
		Step:            step,
		SuggestedFast:   fast,
		SuggestedFair:   fair,
		SuggestedProfit: profit,
	}
}

// quantile picks the lower quantile element, no interpolation
func quantile(sorted []float64, q float64) float64 {
	idx := int(q*float64(len(sorted))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// roundingStep picks a coarser step at higher price bands
func roundingStep(price float64) int {
	switch {
	case price < 100:
		return 5
	case price < 500:
		return 10
	case price < 2000:
		return 20
	default:
		return 50
	}
}

func roundNearest(v float64, step int) int {
	return int(math.Round(v/float64(step))) * step
}

func roundDown(v float64, step int) int {
	return int(math.Floor(v/float64(step))) * step
}

func roundUp(v float64, step int) int {
	return int(math.Ceil(v/float64(step))) * step
}
