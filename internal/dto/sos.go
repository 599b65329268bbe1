package dto

// TriggerSOSRequest is the payload for raising an alert. IdempotencyKey may
// also arrive through the Idempotency-Key header.
type TriggerSOSRequest struct {
	Latitude       *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude      *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	IdempotencyKey string   `json:"idempotencyKey" validate:"omitempty,max=128,printascii"`
}

// CancelSOSRequest carries an optional free-form cancellation reason.
type CancelSOSRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// SOSHistoryQuery bounds history listing.
type SOSHistoryQuery struct {
	Limit int `form:"limit" validate:"omitempty,gte=1"`
}
