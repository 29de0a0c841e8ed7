package api

// Result is the body of every write endpoint response.
type Result struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Failure reasons.
const (
	ReasonInvalidData      = "invalid_data"
	ReasonNotFound         = "not_found"
	ReasonStoreUnavailable = "store_unavailable"
	ReasonTooLarge         = "payload_too_large"
	ReasonInternal         = "internal_error"
)

// HealthResponse is the payload for GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Records     int    `json:"records"`
	Subscribers int    `json:"subscribers"`
}
