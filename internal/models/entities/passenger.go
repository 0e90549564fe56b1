package entities

import "time"

// Passenger is a traveller listed on an order
type Passenger struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
