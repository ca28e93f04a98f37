package pos

import "errors"

// Result is the uniform record every operation reports to its caller.
type Result struct {
	Success bool
	Message string
	Error   string
	Code    string
	// StatusCode is the raw printer status, set for print and cut failures.
	StatusCode *int
	Data       map[string]any
}

// OK builds a successful result.
func OK(message string, data map[string]any) Result {
	return Result{Success: true, Message: message, Data: data}
}

// Fail builds a failed result from err.
func Fail(err error) Result {
	r := Result{Success: false}

	var e *Error
	if errors.As(err, &e) {
		r.Error = e.Message
		r.Code = e.Kind.String()
		if e.HasStatus {
			status := e.Status
			r.StatusCode = &status
		}
		return r
	}

	r.Error = "Unexpected error: " + err.Error()
	r.Code = "UNEXPECTED"
	return r
}

// Map flattens the result into the key-value shape sent over the channel.
func (r Result) Map() map[string]any {
	m := make(map[string]any, len(r.Data)+4)
	for k, v := range r.Data {
		m[k] = v
	}
	m["success"] = r.Success
	if r.Message != "" {
		m["message"] = r.Message
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.Code != "" {
		m["code"] = r.Code
	}
	if r.StatusCode != nil {
		m["statusCode"] = *r.StatusCode
	}
	return m
}
