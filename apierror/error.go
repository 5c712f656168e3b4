package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is an error that carries the HTTP status it should be reported with.
// Upstream clients create one from a non-200 response, and the story server
// uses the status to choose its own response code.
type Error struct {
	err    error
	status int
}

// ErrorMessage is the JSON body written for an Error.
type ErrorMessage struct {
	Message string `json:",omitempty"`
	Status  int    `json:",omitempty"`
}

// serverError is returned by EncodeError when the message cannot be encoded.
const serverError = `{"Message":"Internal Server Error","Status":500}`

func New(err error, status int) *Error {
	return &Error{
		err:    err,
		status: status,
	}
}

// FromResponse builds an error from an upstream status code and response
// body. Surrounding whitespace is trimmed from the body text.
func FromResponse(status int, body []byte) error {
	var err error
	if text := strings.TrimSpace(string(body)); text != "" {
		err = errors.New(text)
	}
	if status == 0 {
		return err
	}
	return New(err, status)
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	if e.status == 0 {
		return ""
	}
	if text := http.StatusText(e.status); text != "" {
		return fmt.Sprintf("%d %s", e.status, text)
	}
	return fmt.Sprintf("%d", e.status)
}

func (e *Error) Status() int {
	return e.status
}

func (e *Error) Unwrap() error {
	return e.err
}

// StatusOf returns the status carried by the first Error in err's chain, or
// 500 if there is none.
func StatusOf(err error) int {
	var apierr *Error
	if errors.As(err, &apierr) && apierr.status != 0 {
		return apierr.status
	}
	return http.StatusInternalServerError
}

// EncodeError returns the JSON encoding of err. A nil error encodes to nil.
func EncodeError(err error) []byte {
	if err == nil {
		return nil
	}

	e := ErrorMessage{
		Message: err.Error(),
	}
	var apierr *Error
	if errors.As(err, &apierr) {
		e.Status = apierr.Status()
	}

	data, err := json.Marshal(&e)
	if err != nil {
		return []byte(serverError)
	}
	return data
}

// DecodeError is the inverse of EncodeError.
func DecodeError(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var e ErrorMessage
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("cannot decode error message: %s", err)
	}

	err := errors.New(e.Message)
	if e.Status == 0 {
		return err
	}
	return New(err, e.Status)
}
