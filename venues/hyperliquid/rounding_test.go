package hyperliquid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundPrice(t *testing.T) {
	testCases := []struct {
		price      float64
		szDecimals int
		isSpot     bool
		want       float64
	}{
		// 5 significant figures.
		{1234.5678, 1, false, 1234.6},
		{95.123456, 2, false, 95.123},

		// Decimal places capped at 6-szDecimals for perps.
		{0.00012345678, 0, false, 0.000123},

		// ...and 8-szDecimals for spot.
		{0.00012345678, 0, true, 0.00012346},

		// Above 100k, integers only.
		{123456.789, 2, false, 123457},
		{100000.4, 0, false, 100000},
	}

	for _, tc := range testCases {
		got := RoundPrice(tc.price, tc.szDecimals, tc.isSpot)
		assert.InDelta(t, tc.want, got, 1e-12, "RoundPrice(%v, %d, %v)", tc.price, tc.szDecimals, tc.isSpot)
	}
}

func TestRoundSize(t *testing.T) {
	assert.InDelta(t, 1.235, RoundSize(1.2345678, 3), 1e-12)
	assert.InDelta(t, 5, RoundSize(5.4, 0), 1e-12)
	assert.InDelta(t, 0.01, RoundSize(0.01, 2), 1e-12)
}

func TestFinalizeOrder(t *testing.T) {
	// Order value below the minimum notional gets bumped.
	price, size := finalizeOrder("BTC", 5, 50000, 0.0001)
	assert.InDelta(t, 50000, price, 1e-9)
	assert.InDelta(t, 0.00022, size, 1e-9)

	// ETH has a hard size floor.
	price, size = finalizeOrder("ETH", 4, 2000, 0.001)
	assert.InDelta(t, 2000, price, 1e-9)
	assert.InDelta(t, 0.01, size, 1e-9)

	// DOGE sizes are integers.
	_, size = finalizeOrder("DOGE", 0, 0.1, 5.4)
	assert.InDelta(t, 110, size, 1e-9)

	// A healthy order passes through with tick rounding only.
	price, size = finalizeOrder("SOL", 2, 95.123456, 0.52)
	assert.InDelta(t, 95.123, price, 1e-9)
	assert.InDelta(t, 0.52, size, 1e-9)
}
