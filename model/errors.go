package model

type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuthorization  ErrorKind = "authorization"
	KindStateConflict  ErrorKind = "state_conflict"
	KindNotFound       ErrorKind = "not_found"
	KindTransport      ErrorKind = "transport"
	KindUnknownOutcome ErrorKind = "unknown_outcome"
)

// Error is a classified failure with a stable reason code the UI can explain.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"error"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on code so that errors rebuilt from an API response compare
// equal to the sentinels. TOO_LATE is a THREAD_CLOSED refinement.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code == t.Code {
		return true
	}
	return e.Code == CodeTooLate && t.Code == CodeThreadClosed
}

const (
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodeEmptyContent       = "EMPTY_CONTENT"
	CodeContentTooLong     = "CONTENT_TOO_LONG"
	CodeCurrencyMismatch   = "CURRENCY_MISMATCH"
	CodeInvalidRole        = "INVALID_ROLE"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeEditForbidden      = "EDIT_FORBIDDEN"
	CodeForbiddenRole      = "FORBIDDEN_ROLE"
	CodeNotParticipant     = "NOT_PARTICIPANT"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeBelowFloor         = "BELOW_FLOOR"
	CodeAlreadySet         = "ALREADY_SET"
	CodeThreadClosed       = "THREAD_CLOSED"
	CodeTooLate            = "TOO_LATE"
	CodeMessageDeleted     = "MESSAGE_DELETED"
	CodeThreadExists       = "THREAD_EXISTS"
	CodeThreadNotFound     = "THREAD_NOT_FOUND"
	CodeMessageNotFound    = "MESSAGE_NOT_FOUND"
	CodeChannelUnavailable = "CHANNEL_UNAVAILABLE"
	CodeUnknownOutcome     = "UNKNOWN_OUTCOME"
)

var (
	ErrInvalidAmount    = &Error{KindValidation, CodeInvalidAmount, "amount must be greater than zero"}
	ErrEmptyContent     = &Error{KindValidation, CodeEmptyContent, "message needs content or attachments"}
	ErrContentTooLong   = &Error{KindValidation, CodeContentTooLong, "message content is too long"}
	ErrCurrencyMismatch = &Error{KindValidation, CodeCurrencyMismatch, "currency does not match the thread currency"}
	ErrInvalidRole      = &Error{KindValidation, CodeInvalidRole, "role must be traveler or guide"}
	ErrInvalidRequest   = &Error{KindValidation, CodeInvalidRequest, "invalid request"}

	ErrEditForbidden   = &Error{KindAuthorization, CodeEditForbidden, "only the original sender can change this message"}
	ErrForbiddenRole   = &Error{KindAuthorization, CodeForbiddenRole, "this action is not available for your role"}
	ErrNotParticipant  = &Error{KindAuthorization, CodeNotParticipant, "party is not a participant of this thread"}
	ErrUnauthenticated = &Error{KindAuthorization, CodeUnauthenticated, "missing party identity"}

	ErrBelowFloor     = &Error{KindStateConflict, CodeBelowFloor, "price is below the guide's minimum"}
	ErrAlreadySet     = &Error{KindStateConflict, CodeAlreadySet, "minimum price is already set"}
	ErrThreadClosed   = &Error{KindStateConflict, CodeThreadClosed, "thread is closed"}
	ErrTooLate        = &Error{KindStateConflict, CodeTooLate, "agreement is final and can no longer be revoked"}
	ErrMessageDeleted = &Error{KindStateConflict, CodeMessageDeleted, "message was deleted"}
	ErrThreadExists   = &Error{KindStateConflict, CodeThreadExists, "a thread already exists for this tour request"}

	ErrThreadNotFound  = &Error{KindNotFound, CodeThreadNotFound, "thread not found"}
	ErrMessageNotFound = &Error{KindNotFound, CodeMessageNotFound, "message not found"}

	ErrChannelUnavailable = &Error{KindTransport, CodeChannelUnavailable, "realtime channel unavailable"}
	ErrUnknownOutcome     = &Error{KindUnknownOutcome, CodeUnknownOutcome, "request outcome is unknown, state was re-fetched"}
)

var errorsByCode = map[string]*Error{}

func init() {
	for _, e := range []*Error{
		ErrInvalidAmount, ErrEmptyContent, ErrContentTooLong, ErrCurrencyMismatch, ErrInvalidRole, ErrInvalidRequest,
		ErrEditForbidden, ErrForbiddenRole, ErrNotParticipant, ErrUnauthenticated,
		ErrBelowFloor, ErrAlreadySet, ErrThreadClosed, ErrTooLate, ErrMessageDeleted, ErrThreadExists,
		ErrThreadNotFound, ErrMessageNotFound, ErrChannelUnavailable, ErrUnknownOutcome,
	} {
		errorsByCode[e.Code] = e
	}
}

// LookupError rebuilds a classified error from an API response.
func LookupError(code, message string) *Error {
	base, ok := errorsByCode[code]
	if !ok {
		return nil
	}
	if message == "" {
		message = base.Message
	}
	return &Error{Kind: base.Kind, Code: base.Code, Message: message}
}
