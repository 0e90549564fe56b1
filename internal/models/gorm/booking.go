package gorm

import "time"

// Order is a customer booking on a tour. JSON tags match the wire column names.
type Order struct {
	ID            string    `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	TourID        string    `gorm:"column:tour_id;type:varchar(36);index" json:"tour_id"`
	CustomerName  string    `gorm:"column:customer_name;type:varchar(200);not null" json:"customer_name"`
	CustomerEmail string    `gorm:"column:customer_email;type:varchar(200)" json:"customer_email"`
	Status        string    `gorm:"column:status;type:varchar(30);not null;index" json:"status"`
	DepartureDate string    `gorm:"column:departure_date;type:varchar(40)" json:"departure_date"`
	PaxCount      int       `gorm:"column:pax_count;not null" json:"pax_count"`
	TotalPrice    float64   `gorm:"column:total_price;not null" json:"total_price"`
	IsVisible     *bool     `gorm:"column:is_visible" json:"is_visible"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime:false;not null" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Order) TableName() string {
	return "orders"
}

// Tour is a scheduled departure offered by a provider
type Tour struct {
	ID            string    `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	ProviderID    string    `gorm:"column:provider_id;type:varchar(36);not null;index" json:"provider_id"`
	Title         string    `gorm:"column:title;type:varchar(200);not null" json:"title"`
	DepartureDate string    `gorm:"column:departure_date;type:varchar(40)" json:"departure_date"`
	Capacity      int       `gorm:"column:capacity;not null" json:"capacity"`
	IsVisible     *bool     `gorm:"column:is_visible" json:"is_visible"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime:false;not null" json:"updated_at"`
}

func (Tour) TableName() string {
	return "tours"
}

// Passenger is a traveller listed on an order
type Passenger struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	OrderID   string    `gorm:"column:order_id;type:varchar(36);not null;index" json:"order_id"`
	FullName  string    `gorm:"column:full_name;type:varchar(200);not null" json:"full_name"`
	Phone     string    `gorm:"column:phone;type:varchar(40)" json:"phone"`
	Status    string    `gorm:"column:status;type:varchar(30);not null" json:"status"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false;not null" json:"updated_at"`
}

func (Passenger) TableName() string {
	return "passengers"
}
