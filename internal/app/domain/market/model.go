package market

import "time"

// Quote is the latest snapshot for a single instrument.
type Quote struct {
	ID        int64     `json:"id" db:"id"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Name      string    `json:"name" db:"name"`
	Price     float64   `json:"price" db:"price"`
	Change24h float64   `json:"change_24h" db:"change_24h"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
