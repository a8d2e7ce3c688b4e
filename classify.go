package goSession

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
)

// ErrorKind is the user-facing category of a failure.
type ErrorKind int

const (
	KindUnclassified ErrorKind = iota
	KindInvalidEmailFormat
	KindEmailAlreadyInUse
	KindWeakPassword
	KindWrongCredentials
	KindAccountNotFound
	KindNetworkUnreachable
	KindProfileDecodeFailure
	KindProfileWriteFailure
	KindProfileMissing
)

var kindNames = [...]string{
	KindUnclassified:         "unclassified",
	KindInvalidEmailFormat:   "invalid_email_format",
	KindEmailAlreadyInUse:    "email_already_in_use",
	KindWeakPassword:         "weak_password",
	KindWrongCredentials:     "wrong_credentials",
	KindAccountNotFound:      "account_not_found",
	KindNetworkUnreachable:   "network_unreachable",
	KindProfileDecodeFailure: "profile_decode_failure",
	KindProfileWriteFailure:  "profile_write_failure",
	KindProfileMissing:       "profile_missing",
}

var kindMessages = [...]string{
	KindUnclassified:         "Something went wrong. Please try again.",
	KindInvalidEmailFormat:   "That email address is not valid.",
	KindEmailAlreadyInUse:    "An account with that email already exists.",
	KindWeakPassword:         "That password is too weak. Use at least 6 characters.",
	KindWrongCredentials:     "The email or password is incorrect.",
	KindAccountNotFound:      "No account exists for that email.",
	KindNetworkUnreachable:   "Network unavailable. Check your connection and try again.",
	KindProfileDecodeFailure: "Your profile could not be read.",
	KindProfileWriteFailure:  "Your changes could not be saved.",
	KindProfileMissing:       "Your profile is missing. Sign in again to restore it.",
}

// String returns the snake_case name used in logs and audit events.
func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnclassified]
	}
	return kindNames[k]
}

// Message returns the stable sentence shown to users for k.
func (k ErrorKind) Message() string {
	if k < 0 || int(k) >= len(kindMessages) {
		return kindMessages[KindUnclassified]
	}
	return kindMessages[k]
}

// ClassifiedError is a failure mapped to an ErrorKind. Message is the text to
// show: the kind's stable sentence, or the raw provider message for
// unclassified provider errors.
type ClassifiedError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *ClassifiedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Provider error codes understood by Classify. Gateways report failures with
// these codes; anything else is unclassified.
const (
	CodeInvalidEmail         = "invalid-email"
	CodeEmailAlreadyInUse    = "email-already-in-use"
	CodeWeakPassword         = "weak-password"
	CodeWrongPassword        = "wrong-password"
	CodeInvalidCredential    = "invalid-credential"
	CodeUserNotFound         = "user-not-found"
	CodeNetworkRequestFailed = "network-request-failed"
	CodeRequiresRecentLogin  = "requires-recent-login"
	CodeUserDisabled         = "user-disabled"
	CodeTooManyRequests      = "too-many-requests"
	CodeInternal             = "internal-error"
)

// ProviderError is a failure reported by a credential gateway.
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

// NewProviderError builds a ProviderError with code and message.
func NewProviderError(code, message string) *ProviderError {
	return &ProviderError{Code: code, Message: message}
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return "provider error: " + e.Code
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ProfileWriteError wraps a failed profile or schedule write.
type ProfileWriteError struct {
	UID string
	Op  string
	Err error
}

func (e *ProfileWriteError) Error() string {
	return fmt.Sprintf("profile %s %s: %v", e.Op, e.UID, e.Err)
}

func (e *ProfileWriteError) Unwrap() error {
	return e.Err
}

// ProfileDecodeError reports a profile document field that could not be
// decoded.
type ProfileDecodeError struct {
	UID   string
	Field string
	Err   error
}

func (e *ProfileDecodeError) Error() string {
	return fmt.Sprintf("decode profile %s field %q: %v", e.UID, e.Field, e.Err)
}

func (e *ProfileDecodeError) Unwrap() error {
	return e.Err
}

// errProfileMissing signals a missing profile while its identity is signed in.
var errProfileMissing = errors.New("profile document missing for signed-in identity")

// Classify maps err to a ClassifiedError. It is total and has no side
// effects: nil maps to nil, a *ClassifiedError is returned unchanged, and
// anything unrecognized becomes KindUnclassified carrying err's message.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) && classified != nil {
		return classified
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		if kind, ok := kindForCode(perr.Code); ok {
			return &ClassifiedError{Kind: kind, Message: kind.Message(), Err: err}
		}
		if isNetworkError(perr.Err) {
			return newClassified(KindNetworkUnreachable, err)
		}
		msg := strings.TrimSpace(perr.Message)
		if msg == "" {
			msg = KindUnclassified.Message()
		}
		return &ClassifiedError{Kind: KindUnclassified, Message: msg, Err: err}
	}

	var decodeErr *ProfileDecodeError
	if errors.As(err, &decodeErr) {
		return newClassified(KindProfileDecodeFailure, err)
	}
	if errors.Is(err, errProfileMissing) {
		return newClassified(KindProfileMissing, err)
	}
	var writeErr *ProfileWriteError
	if errors.As(err, &writeErr) {
		return newClassified(KindProfileWriteFailure, err)
	}

	if isNetworkError(err) {
		return newClassified(KindNetworkUnreachable, err)
	}

	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = KindUnclassified.Message()
	}
	return &ClassifiedError{Kind: KindUnclassified, Message: msg, Err: err}
}

func newClassified(kind ErrorKind, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Message: kind.Message(), Err: err}
}

func kindForCode(code string) (ErrorKind, bool) {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case CodeInvalidEmail:
		return KindInvalidEmailFormat, true
	case CodeEmailAlreadyInUse:
		return KindEmailAlreadyInUse, true
	case CodeWeakPassword:
		return KindWeakPassword, true
	case CodeWrongPassword, CodeInvalidCredential:
		return KindWrongCredentials, true
	case CodeUserNotFound:
		return KindAccountNotFound, true
	case CodeNetworkRequestFailed:
		return KindNetworkUnreachable, true
	default:
		return KindUnclassified, false
	}
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, redis.ErrPoolTimeout) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
