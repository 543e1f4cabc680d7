package agora

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSelfVote is returned when a user votes on their own content.
	ErrSelfVote = errors.New("cannot vote on your own content")
	// ErrTargetNotFound is returned when a question or comment does not exist.
	ErrTargetNotFound = errors.New("target not found")
	// ErrNotFound is returned when any other record, users included, does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotAuthorized is returned when the actor may not perform the action.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrConcurrentModification is returned by stores when a concurrent writer
	// won a race. It is the only error worth retrying.
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidInput           = errors.New("invalid input")
)

type ErrorResponder interface {
	RespondError(w http.ResponseWriter, r *http.Request) bool
}

// Maybe404Error responds with not found status code, if its supplied error
// is a missing record.
type Maybe404Error struct {
	err error
}

func Maybe404(err error) *Maybe404Error {
	return &Maybe404Error{err: err}
}

func (e *Maybe404Error) Error() string {
	return fmt.Sprintf("Maybe404: %v", e.err.Error())
}

func (e *Maybe404Error) Unwrap() error {
	return e.err
}

func (e *Maybe404Error) Is404() bool {
	return errors.Is(e.err, ErrTargetNotFound) || errors.Is(e.err, ErrNotFound) || errors.Is(e.err, sql.ErrNoRows)
}

func (e *Maybe404Error) RespondError(w http.ResponseWriter, r *http.Request) bool {
	if !e.Is404() {
		return false
	}

	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	return true
}

// UnauthorizedError responds with unauthorized status code.
type UnauthorizedError struct {
	path string
}

func Unauthorized(path string) *UnauthorizedError {
	return &UnauthorizedError{path: path}
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("UnauthorizedError: %v", e.path)
}

func (e *UnauthorizedError) RespondError(w http.ResponseWriter, r *http.Request) bool {
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	return true
}

// BadRequestError responds with bad request status code
type BadRequestError struct {
	err error
}

func BadRequest(err error) *BadRequestError {
	return &BadRequestError{err: err}
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("BadRequestError: %v", e.err)
}

func (e *BadRequestError) RespondError(w http.ResponseWriter, r *http.Request) bool {
	http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	return true
}

// UnprocessableEntityError responds with unprocessable entity status code,
// listing fields that are invalid.
type UnprocessableEntityError struct {
	fieldNames []string
	err        error
}

func UnprocessableEntity(fieldNames ...string) *UnprocessableEntityError {
	return &UnprocessableEntityError{
		fieldNames: fieldNames,
	}
}

func UnprocessableEntityWithError(err error, fieldNames ...string) *UnprocessableEntityError {
	return &UnprocessableEntityError{
		err:        err,
		fieldNames: fieldNames,
	}
}

func (e *UnprocessableEntityError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("UnprocessableEntityError: error %v, %v", e.err, e.fieldNames)
	}
	return fmt.Sprintf("UnprocessableEntityError: %v", e.fieldNames)
}

func (e *UnprocessableEntityError) Unwrap() error {
	return e.err
}

func (e *UnprocessableEntityError) RespondError(w http.ResponseWriter, r *http.Request) bool {
	msg := fmt.Sprintf("%s: invalid %v", http.StatusText(http.StatusUnprocessableEntity), e.fieldNames)
	http.Error(w, msg, http.StatusUnprocessableEntity)
	return true
}

// engineErrorStatus maps engine errors onto http status codes.
func engineErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrSelfVote):
		return http.StatusBadRequest
	case errors.Is(err, ErrTargetNotFound), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrConcurrentModification):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err to w, letting ErrorResponder implementations handle
// themselves first. It returns the status code that was written.
func respondError(w http.ResponseWriter, r *http.Request, err error) int {
	var responder ErrorResponder
	if errors.As(err, &responder) {
		rec := &statusRecorder{ResponseWriter: w}
		if responder.RespondError(rec, r) {
			return rec.status
		}
	}

	status := engineErrorStatus(err)
	msg := http.StatusText(status)
	if status != http.StatusInternalServerError {
		msg = err.Error()
	}
	http.Error(w, msg, status)
	return status
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
