package models

// Comparable is a similar marketplace listing used as a price reference
type Comparable struct {
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	Condition string  `json:"condition,omitempty"`
}

// PriceAnalysis is a snapshot of one pricing pass over comparable listings.
// It is never mutated in place, only replaced wholesale by a new pass.
type PriceAnalysis struct {
	Currency    string  `json:"currency"`
	SampleSize  int     `json:"sample_size"`  // usable comparables after filtering
	TrimmedSize int     `json:"trimmed_size"` // remaining after outlier trim
	P25         float64 `json:"p25"`
	Median      float64 `json:"median"`
	P75         float64 `json:"p75"`
	Step        int     `json:"step"` // rounding step for the price band

	SuggestedFast   int `json:"suggested_fast"`
	SuggestedFair   int `json:"suggested_fair"`
	SuggestedProfit int `json:"suggested_profit"`
}
