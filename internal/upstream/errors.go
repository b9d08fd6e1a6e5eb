// Package upstream holds the error types shared by the clients of the two
// external services (Topvisor and Google Sheets) and the sync pipeline.
package upstream

import (
	"fmt"
)

// TransportError reports a failed call to an external service: the request
// could not be sent, the connection broke, the server answered with a
// non-2xx status, or the API returned an error envelope.
type TransportError struct {
	Task       string // logical operation, e.g. "get_history" or "sheets.write"
	StatusCode int    // HTTP status when one was received, 0 otherwise
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transport error (status %d): %v", e.Task, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transport error: %v", e.Task, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DataFormatError reports a response that was received but cannot be used
// because an expected field is missing or has the wrong shape. Field is the
// dotted path of the offending field, e.g. "result.seriesByProjectsId.99.avg".
type DataFormatError struct {
	Task  string
	Field string
	Err   error // optional underlying decode/parse error
}

func (e *DataFormatError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("%s: malformed response field %q: %v", e.Task, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%s: response missing field %q", e.Task, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("%s: malformed response: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("%s: malformed response", e.Task)
}

func (e *DataFormatError) Unwrap() error { return e.Err }

// Missing builds a DataFormatError for an absent field.
func Missing(task, field string) *DataFormatError {
	return &DataFormatError{Task: task, Field: field}
}
