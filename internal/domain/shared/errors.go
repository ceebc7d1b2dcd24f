package shared

// DomainError is an error with a stable machine code. The HTTP layer maps
// Code to a status; Message is shown to the caller as is.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// WrapDomainError files cause under code. errors.Is still reaches cause.
func WrapDomainError(code string, cause error) *DomainError {
	return &DomainError{Code: code, Message: cause.Error(), cause: cause}
}

func (e *DomainError) Error() string { return e.Message }
func (e *DomainError) Unwrap() error { return e.cause }

// Is matches on Code alone, so any error built for a code satisfies
// errors.Is against that code's sentinel below.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

var (
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Record changed underneath the request, reload and retry")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Not allowed in the record's current status")
	ErrValidation          = NewDomainError("VALIDATION_ERROR", "Request failed validation")
)
