package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey    = "X-API-Key" // #nosec G101 - header name constant, not a credential
	HeaderUserID    = "X-User-ID"
	ContentTypeJSON = "application/json"
)

// API paths
const (
	PathHealthz = "/healthz"
	PathVideos  = "/v1/videos"
)

// Defaults and limits
const (
	DefaultQueueCapacity = 128
	DefaultWorkerCount   = 4
	SQLiteBusyTimeoutMS  = 5000
)

// Polling defaults (milliseconds unless noted)
const (
	DefaultPollBaseIntervalMS = 2000
	DefaultPollMaxIntervalMS  = 30000
	DefaultPollDoubleEvery    = 3
	DefaultMaxPollCount       = 120
)

// Extraction defaults
const (
	DefaultEstimatedTimeMS = 15000
)
