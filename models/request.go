package models

// AcquisitionRequest is the payload for POST /api/v1/acquisitions.
type AcquisitionRequest struct {
	// Queries are the search terms to acquire, processed in order. Required.
	Queries []string `json:"queries" binding:"required,min=1,max=20,dive,required,max=200"`

	// ChannelID is the subscriber channel that receives the terminal event.
	// Default: "default".
	ChannelID string `json:"channel_id,omitempty" binding:"omitempty,max=128"`
}

// Defaults applies default values to unset fields.
func (r *AcquisitionRequest) Defaults() {
	if r.ChannelID == "" {
		r.ChannelID = "default"
	}
}

// WebhookRequest is the payload for POST /api/v1/channels/:channel/webhooks.
type WebhookRequest struct {
	// URL is the endpoint receiving signed event POSTs. Required.
	URL string `json:"url" binding:"required,url"`

	// Secret signs the body with HMAC-SHA256 when non-empty.
	Secret string `json:"secret,omitempty"`
}
