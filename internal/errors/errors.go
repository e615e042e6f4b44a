package errors

import (
    stderrors "errors"
    "fmt"
    "strings"
)

type ErrorType string

const (
    ErrorTypeNotFound               ErrorType = "NOT_FOUND"
    ErrorTypeCorrupt                ErrorType = "CORRUPT"
    ErrorTypeConcurrentModification ErrorType = "CONCURRENT_MODIFICATION"
    ErrorTypeAmbiguous              ErrorType = "AMBIGUOUS"
    ErrorTypeFilesystem             ErrorType = "FILESYSTEM"
    ErrorTypeValidation             ErrorType = "VALIDATION"
    ErrorTypeInternal               ErrorType = "INTERNAL"
)

// Error is the user-facing error type. Hint, when set, names the next command
// the user can run to get out of the situation.
type Error struct {
    Type    ErrorType `json:"type"`
    Message string    `json:"message"`
    Hint    string    `json:"hint,omitempty"`
    Details any       `json:"details,omitempty"`
    Err     error     `json:"-"`
}

func (e *Error) Error() string {
    if e.Err != nil {
        return fmt.Sprintf("%s: %v", e.Message, e.Err)
    }
    return e.Message
}

func (e *Error) Unwrap() error {
    return e.Err
}

// Is reports whether target is an *Error of the same type, so that
// errors.Is(err, &Error{Type: ErrorTypeCorrupt}) matches any corrupt error.
func (e *Error) Is(target error) bool {
    t, ok := target.(*Error)
    if !ok {
        return false
    }
    return t.Type == e.Type
}

// WithHint returns a copy of e carrying hint.
func (e *Error) WithHint(hint string) *Error {
    c := *e
    c.Hint = hint
    return &c
}

// HasType reports whether any error in err's chain is an *Error of type t.
func HasType(err error, t ErrorType) bool {
    var e *Error
    for err != nil {
        if stderrors.As(err, &e) {
            if e.Type == t {
                return true
            }
            err = e.Err
            continue
        }
        return false
    }
    return false
}

// HintOf returns the first hint found in err's chain.
func HintOf(err error) string {
    var e *Error
    for err != nil {
        if !stderrors.As(err, &e) {
            return ""
        }
        if e.Hint != "" {
            return e.Hint
        }
        err = e.Err
    }
    return ""
}

func NotFound(message string) *Error {
    return &Error{
        Type:    ErrorTypeNotFound,
        Message: message,
    }
}

func Corrupt(message string, err error) *Error {
    return &Error{
        Type:    ErrorTypeCorrupt,
        Message: message,
        Err:     err,
    }
}

func ConcurrentModification(message string) *Error {
    return &Error{
        Type:    ErrorTypeConcurrentModification,
        Message: message,
    }
}

// Ambiguous reports that an expression named several candidates where one
// was required. The candidates are listed in the message.
func Ambiguous(message string, candidates []string) *Error {
    msg := message
    if len(candidates) > 0 {
        msg = fmt.Sprintf("%s; candidates: %s", message, strings.Join(candidates, ", "))
    }
    return &Error{
        Type:    ErrorTypeAmbiguous,
        Message: msg,
        Details: candidates,
    }
}

func Filesystem(path string, err error) *Error {
    return &Error{
        Type:    ErrorTypeFilesystem,
        Message: fmt.Sprintf("failed to access %s", path),
        Details: path,
        Err:     err,
    }
}

func ValidationError(message string, details any) *Error {
    return &Error{
        Type:    ErrorTypeValidation,
        Message: message,
        Details: details,
    }
}

func Internal(message string, err error) *Error {
    return &Error{
        Type:    ErrorTypeInternal,
        Message: message,
        Err:     err,
    }
}
