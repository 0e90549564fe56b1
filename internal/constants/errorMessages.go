package constants

// Data source error codes
const (
	ErrCodeNetworkError     = "NETWORK_ERROR"
	ErrCodeNotFound         = "RECORD_NOT_FOUND"
	ErrCodeAlreadyExists    = "RECORD_ALREADY_EXISTS"
	ErrCodeStaleWrite       = "STALE_WRITE"
	ErrCodeValidation       = "VALIDATION_FAILED"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeSubscribeFailed  = "SUBSCRIBE_FAILED"
	ErrCodeProbeFailed      = "CAPABILITY_PROBE_FAILED"
	ErrCodeUnknownKind      = "UNKNOWN_ENTITY_KIND"
)

var DataSourceErrorMessages = map[string]string{
	ErrCodeNetworkError:     "Unable to reach the booking database. Please try again",
	ErrCodeNotFound:         "The record no longer exists",
	ErrCodeAlreadyExists:    "A record with this id already exists",
	ErrCodeStaleWrite:       "The record was changed by someone else. Your view has been refreshed",
	ErrCodeValidation:       "The change is invalid",
	ErrCodePermissionDenied: "You don't have permission to change this record",
	ErrCodeSubscribeFailed:  "Live updates are unavailable. Data may be stale until the connection recovers",
	ErrCodeProbeFailed:      "Unable to detect optional schema features",
	ErrCodeUnknownKind:      "Unknown record type",
}

// GetErrorMessage returns the human-readable message for an error code
func GetErrorMessage(code string) string {
	if msg, exists := DataSourceErrorMessages[code]; exists {
		return msg
	}
	return "An unknown error occurred"
}

const (
	MsgLoadFailed     = "Failed to load records"
	MsgSaveFailed     = "Failed to save change"
	MsgDeleteFailed   = "Failed to delete record"
	MsgCreateFailed   = "Failed to create record"
	MsgLiveRecovered  = "Live updates restored"
	MsgConflictRemote = "A newer change from another user replaced your edit"
)
