package analytics

// ActionResult is the uniform envelope returned by every server-side operation
type ActionResult[T any] struct {
	Success bool         `json:"success"`
	Data    *T           `json:"data,omitempty"`
	Error   *ActionError `json:"error,omitempty"`
}

// ActionError carries the user facing failure details
type ActionError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type,omitempty"`
}

// Ok wraps data in a successful result
func Ok[T any](data T) ActionResult[T] {
	return ActionResult[T]{Success: true, Data: &data}
}

// Fail builds a failed result
func Fail[T any](message, code, errType string) ActionResult[T] {
	return ActionResult[T]{
		Success: false,
		Error:   &ActionError{Message: message, Code: code, Type: errType},
	}
}
