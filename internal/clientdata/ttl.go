package clientdata

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// TTLReturns covers daily return histories; one new observation a day.
	TTLReturns = 24 * time.Hour

	// TTLFundHoldings covers reported fund holdings. Reports change slowly,
	// but the exposure resolver still enforces its own max-age on the
	// payload's as-of date.
	TTLFundHoldings = 24 * time.Hour

	// TTLLiquidity covers average-daily-value figures.
	TTLLiquidity = 24 * time.Hour

	// TTLPrices covers spot prices, which move intraday.
	TTLPrices = 15 * time.Minute
)
