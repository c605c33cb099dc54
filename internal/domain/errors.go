package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes the application distinguishes.
// Callers branch on the kind, never on the message text.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuth
	KindConflict
	KindNotFound
	KindOverload
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindOverload:
		return "overload"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error carries a kind alongside the human-readable message that is safe to
// show to the caller.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so sentinel values below match any error of the
// same kind via errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is checks.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrAuth       = &Error{Kind: KindAuth}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrOverload   = &Error{Kind: KindOverload}
	ErrCancelled  = &Error{Kind: KindCancelled}
)

func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func WrapError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message of err. Internal errors are
// reduced to a generic message.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal && e.Message != "" {
		return e.Message
	}
	return "Internal server error"
}

// Messages shared by the server and the client.
const (
	MsgModelOverloaded      = "Model overloaded"
	MsgOverloadExhausted    = "Model overloaded. Please try again later."
	MsgGenerationCancelled  = "Generation cancelled"
	MsgInvalidCredentials   = "Invalid credentials"
	MsgEmailAlreadyInUse    = "Email already in use"
	MsgUnauthorized         = "Unauthorized"
	MsgInvalidToken         = "Invalid token"
	MsgPromptRequired       = "Prompt is required"
	MsgStyleRequired        = "Style is required"
	MsgImageRequired        = "Please upload an image"
	MsgPasswordTooShort     = "Password must be at least %d characters long"
	MsgInvalidEmail         = "Invalid email address"
	MsgPasswordsDoNotMatch  = "Passwords do not match"
	MsgUnsupportedImageType = "Only JPEG and PNG images are allowed"
	MsgImageTooLarge        = "Image exceeds the 10MB limit"
)
