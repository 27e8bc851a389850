package models

// HealthCheckResponse is returned by the /health route
type HealthCheckResponse struct {
	Alive bool `json:"alive"`
}

// MessagePage is a page of conversation history
type MessagePage struct {
	Data       []Message `json:"data"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	TotalCount int64     `json:"totalCount"`
	TotalPages int       `json:"totalPages"`
}
