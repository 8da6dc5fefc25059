package models

// AcquisitionResponse is the immediate response for POST /api/v1/acquisitions.
type AcquisitionResponse struct {
	TaskID  string   `json:"task_id"`
	Queries []string `json:"queries"`
	Status  string   `json:"status"`
}

// PostListResponse wraps ranked or searched posts.
type PostListResponse struct {
	Posts []ScoredPost `json:"posts"`
	Count int          `json:"count"`

	// CacheStatus is "hit" or "miss".
	CacheStatus string `json:"cache_status,omitempty"`
}

// StatsResponse is the response for GET /api/v1/stats.
type StatsResponse struct {
	Stats
	Runtime RuntimeStatus `json:"runtime"`
}

// SinkResponse is returned when a webhook sink is registered.
type SinkResponse struct {
	SinkID    string `json:"sink_id"`
	ChannelID string `json:"channel_id"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status             string        `json:"status"` // "healthy" or "degraded"
	Uptime             string        `json:"uptime"`
	AcquisitionEnabled bool          `json:"acquisition_enabled"`
	StoreReady         bool          `json:"store_ready"`
	Runtime            RuntimeStatus `json:"runtime"`
	Version            string        `json:"version"`
}

// ErrorResponse is the envelope for failed API calls.
type ErrorResponse struct {
	Error *ErrorDetail `json:"error"`
}
