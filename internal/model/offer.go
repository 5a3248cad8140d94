package model

// Offer is a static catalog entry describing a purchasable credit package.
// Offers are loaded from configuration and immutable at runtime.
type Offer struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Credits     int64   `json:"credits"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
}
