package dto

// AuditQuery selects audit records for the calling subject. At most one of
// CorrelationID or Resource may be set; ResourceID narrows Resource.
type AuditQuery struct {
	CorrelationID string `form:"correlationId" validate:"omitempty,max=128"`
	Resource      string `form:"resource" validate:"omitempty,max=64"`
	ResourceID    string `form:"resourceId" validate:"omitempty,max=128"`
	Limit         int    `form:"limit" validate:"omitempty,gte=1,lte=500"`
}
