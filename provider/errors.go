package provider

import (
	"errors"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/internal/stores"
)

// Codes specific to this provider. Classify reports them as unclassified
// with the provider message.
const (
	CodeNoCurrentUser       = "no-current-user"
	CodeInvalidActionCode   = "invalid-action-code"
	CodeExpiredActionCode   = "expired-action-code"
	CodeUnsupportedProvider = "operation-not-allowed"
)

func providerError(code, msg string) error {
	return goSession.NewProviderError(code, msg)
}

// unavailable reports a backend failure as a network failure so clients
// show the retryable message.
func unavailable(err error) error {
	return &goSession.ProviderError{
		Code:    goSession.CodeNetworkRequestFailed,
		Message: "A network error has occurred.",
		Err:     err,
	}
}

var (
	errInvalidEmail   = providerError(goSession.CodeInvalidEmail, "The email address is badly formatted.")
	errEmailInUse     = providerError(goSession.CodeEmailAlreadyInUse, "The email address is already in use by another account.")
	errWeakPassword   = providerError(goSession.CodeWeakPassword, "The password is too short.")
	errWrongPassword  = providerError(goSession.CodeWrongPassword, "The password is invalid.")
	errUserNotFound   = providerError(goSession.CodeUserNotFound, "There is no user record corresponding to this identifier.")
	errUserDisabled   = providerError(goSession.CodeUserDisabled, "The user account has been disabled by an administrator.")
	errBadCredential  = providerError(goSession.CodeInvalidCredential, "The supplied auth credential is malformed or has expired.")
	errRecentLogin    = providerError(goSession.CodeRequiresRecentLogin, "This operation is sensitive and requires recent authentication.")
	errTooMany        = providerError(goSession.CodeTooManyRequests, "Too many attempts. Try again later.")
	errNoCurrentUser  = providerError(CodeNoCurrentUser, "No user is signed in.")
	errInvalidCode    = providerError(CodeInvalidActionCode, "The action code is invalid.")
	errExpiredCode    = providerError(CodeExpiredActionCode, "The action code has expired.")
	errNoSuchProvider = providerError(CodeUnsupportedProvider, "This sign-in provider is not enabled.")
)

func mapLimiterError(err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		return errTooMany
	}
	return unavailable(err)
}

func mapChallengeError(err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound):
		return errExpiredCode
	case errors.Is(err, stores.ErrChallengeMismatch):
		return errInvalidCode
	case errors.Is(err, stores.ErrChallengeAttemptsExceeded):
		return errTooMany
	default:
		return unavailable(err)
	}
}
