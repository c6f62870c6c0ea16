package docs

// This file contains models used by Swagger documentation
// It doesn't affect the actual application logic, just documentation

// ErrorResponse represents an error response
// @Description Error information
type ErrorResponse struct {
	// Error category
	Type string `json:"type" example:"VALIDATION_ERROR"`

	// Error message
	Message string `json:"message" example:"invalid_request"`

	// Detailed error information
	Details string `json:"details,omitempty" example:"festivalId is required"`

	// HTTP status as a string
	Code string `json:"code" example:"400"`
}
