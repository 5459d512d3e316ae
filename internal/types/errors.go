package types

import "fmt"

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds the API error payload. Errors given as details are
// reduced to their message; anything else is encoded as is.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	if err, ok := details.(error); ok {
		details = err.Error()
	}
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// ErrorCode formats codes like ACQ_409 from an area prefix and an HTTP status.
func ErrorCode(prefix string, status int) string {
	return fmt.Sprintf("%s_%d", prefix, status)
}
