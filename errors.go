package goSession

import (
	"errors"

	"github.com/MrEthical07/goSession/daytime"
	"github.com/MrEthical07/goSession/profile"
)

var (
	// ErrNotSignedIn is returned by operations that need a signed-in identity.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrAlreadyStarted is returned by a second Controller.Start.
	ErrAlreadyStarted = errors.New("identity subscription already started")
	// ErrControllerClosed is returned after Controller.Close.
	ErrControllerClosed = errors.New("session controller closed")
	// ErrPropagationInFlight is returned when SetDefaultTimes is called while
	// an earlier propagation has not finished. The call has no effect.
	ErrPropagationInFlight = errors.New("default time propagation already in flight")
	// ErrReauthNotIdle is returned by ReauthFlow.Begin outside the idle state.
	ErrReauthNotIdle = errors.New("reauthentication already pending")
	// ErrReauthNotAwaiting is returned by ReauthFlow.Submit without a pending intent.
	ErrReauthNotAwaiting = errors.New("reauthentication not awaiting credential")
	// ErrReauthInProgress is returned by ReauthFlow.Submit while another attempt runs.
	ErrReauthInProgress = errors.New("reauthentication attempt in progress")
	// ErrInvalidIntent is returned for a nil or incomplete reauthentication intent.
	ErrInvalidIntent = errors.New("invalid reauthentication intent")
	// ErrEmptyDisplayName is returned by UpdateDisplayName for a blank name.
	ErrEmptyDisplayName = errors.New("display name is empty")
	// ErrInvalidActivity is returned by RecordActivity for negative values.
	ErrInvalidActivity = errors.New("invalid activity record")

	// ErrInvalidTimeOfDay is returned for out-of-range wake or sleep times.
	ErrInvalidTimeOfDay = daytime.ErrInvalidTimeOfDay
	// ErrDocumentNotFound is returned by writes that need an existing profile.
	ErrDocumentNotFound = profile.ErrNotFound

	errGatewayRequired      = errors.New("credential gateway required")
	errProfileStoreRequired = errors.New("profile store required")
	errBuilderUsed          = errors.New("builder already used")
)
