package models

import "time"

// Priority bands govern cache TTL defaults and queue drain order.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// PriorityRank returns the drain weight of a band; higher drains first.
// Unknown bands rank below low so malformed input never jumps the queue.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// DefaultTTL returns the cache lifetime for a priority band.
func DefaultTTL(priority string) time.Duration {
	switch priority {
	case PriorityHigh:
		return DefaultTTLHigh
	case PriorityLow:
		return DefaultTTLLow
	default:
		return DefaultTTLMedium
	}
}

const (
	DefaultTTLHigh   = 7 * 24 * time.Hour
	DefaultTTLMedium = 24 * time.Hour
	DefaultTTLLow    = time.Hour
)

// Mutation operation kinds.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Entity kinds form a closed set. Reference data comes first, then
// relational records, then leaf/transactional records; a full sync walks
// them in exactly this order so foreign references always resolve.
const (
	EntityPipeline    = "pipeline"
	EntityCalendar    = "calendar"
	EntityUser        = "user"
	EntityTag         = "tag"
	EntityContact     = "contact"
	EntityProject     = "project"
	EntityQuote       = "quote"
	EntityAppointment = "appointment"
	EntityMessage     = "message"
	EntityPayment     = "payment"
)

// DefaultSyncOrder is the fixed dependency order for a full sync.
var DefaultSyncOrder = []string{
	EntityPipeline,
	EntityCalendar,
	EntityUser,
	EntityTag,
	EntityContact,
	EntityProject,
	EntityQuote,
	EntityAppointment,
	EntityMessage,
	EntityPayment,
}

// KnownEntityKind reports whether kind belongs to the closed set.
func KnownEntityKind(kind string) bool {
	for _, k := range DefaultSyncOrder {
		if k == kind {
			return true
		}
	}
	return false
}

// Error classes assigned at the request boundary.
const (
	ErrClassConnectivity = "connectivity"
	ErrClassUnauthorized = "unauthorized"
	ErrClassForbidden    = "forbidden"
	ErrClassNotFound     = "notFound"
	ErrClassValidation   = "validation"
	ErrClassServerError  = "serverError"
	ErrClassUnknown      = "unknown"
)

const (
	// DefaultMaxAttempts is the retry ceiling before a mutation is dead-lettered.
	DefaultMaxAttempts = 3

	// DefaultDrainInterval is the safety-net drain period while online.
	DefaultDrainInterval = 30 * time.Second

	// DefaultQueueCap bounds the active mutation queue.
	DefaultQueueCap = 1000

	// DefaultDeadLetterCap bounds the dead-letter store (most recent kept).
	DefaultDeadLetterCap = 100

	// DefaultHistoryCap bounds the per-tenant full-sync run history.
	DefaultHistoryCap = 20

	// DefaultCacheCapacityBytes is the soft ceiling of the cache store.
	DefaultCacheCapacityBytes = 10 << 20
)
