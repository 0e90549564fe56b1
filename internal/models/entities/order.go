package entities

import "time"

// Order is a customer booking on a tour
type Order struct {
	ID            string    `json:"id"`
	TourID        string    `json:"tour_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	Status        string    `json:"status"`
	DepartureDate string    `json:"departure_date"`
	PaxCount      int       `json:"pax_count"`
	TotalPrice    float64   `json:"total_price"`
	IsVisible     *bool     `json:"is_visible"`
	UpdatedAt     time.Time `json:"updated_at"`
}
