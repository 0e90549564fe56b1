package constants

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
)

// DefaultActiveOrderStatuses is the order status set kept in the reconciled collection
var DefaultActiveOrderStatuses = []string{OrderStatusConfirmed, OrderStatusPending}
