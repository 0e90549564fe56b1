package entities

import "time"

// Tour is a scheduled departure offered by a provider
type Tour struct {
	ID            string    `json:"id"`
	ProviderID    string    `json:"provider_id"`
	Title         string    `json:"title"`
	DepartureDate string    `json:"departure_date"`
	Capacity      int       `json:"capacity"`
	IsVisible     *bool     `json:"is_visible"`
	UpdatedAt     time.Time `json:"updated_at"`
}
