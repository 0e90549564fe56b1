package constants

type (
	APIStatus   string
	CachePrefix string
)

const (
	APIStatusOk    APIStatus = "ok"
	APIStatusError APIStatus = "error"

	CachePrefixCapability CachePrefix = "CAPABILITY_"
	CachePrefixUsedToken  CachePrefix = "used_token:"
)

// Tables served by the remote data source
const (
	TableOrders     = "orders"
	TableTours      = "tours"
	TablePassengers = "passengers"
)

// Optional columns discovered at runtime through the capability probe
const (
	ColumnVisible   = "is_visible"
	ColumnStatus    = "status"
	ColumnUpdatedAt = "updated_at"
)

// Sync event types for the sync_history table
const (
	SyncEventOrdersReload     = "ORDERS_RELOAD"
	SyncEventToursReload      = "TOURS_RELOAD"
	SyncEventPassengersReload = "PASSENGERS_RELOAD"
)

// ChangeChannel is the Postgres NOTIFY channel fed by the change trigger
const ChangeChannel = "tourdesk_changes"
