package hyperliquid

import (
	"math"
	"strconv"
)

// RoundSize rounds an order size to the asset's szDecimals.
func RoundSize(size float64, szDecimals int) float64 {
	return roundTo(size, szDecimals)
}

// RoundPrice rounds a price according to Hyperliquid tick rules: up to 5
// significant figures, but no more than maxDecimals-szDecimals decimal
// places, where maxDecimals is 6 for perps and 8 for spot. Prices above 100k
// are rounded to integers.
func RoundPrice(price float64, szDecimals int, isSpot bool) float64 {
	maxDecimals := 6
	if isSpot {
		maxDecimals = 8
	}

	if price > 100_000 {
		return math.Round(price)
	}

	sigFigs, err := strconv.ParseFloat(strconv.FormatFloat(price, 'g', 5, 64), 64)
	if err != nil {
		// FormatFloat output always parses back; only reachable with NaN/Inf
		// inputs, which have no meaningful rounding anyway.
		return price
	}

	return roundTo(sigFigs, maxDecimals-szDecimals)
}

func roundTo(x float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(x*p) / p
}
