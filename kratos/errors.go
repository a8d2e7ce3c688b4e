package kratos

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	goSession "github.com/MrEthical07/goSession"
	kratosclient "github.com/ory/kratos-client-go"
)

// Codes reported by this gateway that have no goSession counterpart.
// Classify reports them as unclassified with the Kratos message.
const (
	CodeNoCurrentUser     = "no-current-user"
	CodeInvalidActionCode = "invalid-action-code"
	CodeFlowExpired       = "expired-action-code"
)

// Kratos UI message ids. See the "ui text" reference in the Kratos docs.
const (
	msgValidation          = 4000001
	msgRequired            = 4000002
	msgPasswordPolicy      = 4000005
	msgInvalidCredentials  = 4000006
	msgDuplicateIdentifier = 4000007
	msgPasswordSimilar     = 4000031
	msgPasswordTooShort    = 4000032
	msgPasswordTooLong     = 4000033
	msgPasswordBreached    = 4000034
	msgAddressNotVerified  = 4000010
	msgDuplicateCredential = 4000027
	msgLoginFlowExpired    = 4010001
	msgRecoveryFlowExpired = 4060005
	msgRecoveryCodeInvalid = 4060006
	msgVerifyFlowExpired   = 4070005
	msgVerifyCodeInvalid   = 4070006
)

// Kratos generic error ids.
const (
	errIDRefreshRequired = "session_refresh_required"
	errIDInactive        = "session_inactive"
	errIDNoSession       = "no_active_session"
	errIDFlowExpired     = "self_service_flow_expired"
)

var (
	errNoCurrentUser = goSession.NewProviderError(CodeNoCurrentUser, "No user is signed in.")
	errRecentLogin   = goSession.NewProviderError(goSession.CodeRequiresRecentLogin, "This operation is sensitive and requires recent authentication.")
)

type uiText struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`
}

// errorBody covers both shapes Kratos returns on failure: a flow carrying
// ui messages, and the generic {"error": {...}} envelope.
type errorBody struct {
	UI *struct {
		Messages []uiText `json:"messages"`
		Nodes    []struct {
			Messages []uiText `json:"messages"`
		} `json:"nodes"`
	} `json:"ui"`
	Error *struct {
		ID      string `json:"id"`
		Code    int    `json:"code"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *errorBody) texts() []uiText {
	if b.UI == nil {
		return nil
	}
	out := append([]uiText(nil), b.UI.Messages...)
	for _, n := range b.UI.Nodes {
		out = append(out, n.Messages...)
	}
	return out
}

// mapError converts a kratos-client-go failure into a *goSession.ProviderError.
// resp is nil when the request never produced a response.
func mapError(err error, resp *http.Response) error {
	if err == nil {
		return nil
	}
	if resp == nil {
		return &goSession.ProviderError{
			Code:    goSession.CodeNetworkRequestFailed,
			Message: "A network error has occurred.",
			Err:     err,
		}
	}

	var body errorBody
	var apiErr *kratosclient.GenericOpenAPIError
	if errors.As(err, &apiErr) {
		_ = json.Unmarshal(apiErr.Body(), &body)
	}

	for _, t := range body.texts() {
		if t.Type != "" && t.Type != "error" {
			continue
		}
		if code, ok := codeForMessage(t.ID); ok {
			return &goSession.ProviderError{Code: code, Message: t.Text, Err: err}
		}
	}

	if body.Error != nil {
		msg := firstNonEmpty(body.Error.Reason, body.Error.Message)
		switch body.Error.ID {
		case errIDRefreshRequired:
			return &goSession.ProviderError{Code: goSession.CodeRequiresRecentLogin, Message: msg, Err: err}
		case errIDInactive, errIDNoSession:
			return &goSession.ProviderError{Code: CodeNoCurrentUser, Message: msg, Err: err}
		case errIDFlowExpired:
			return &goSession.ProviderError{Code: CodeFlowExpired, Message: msg, Err: err}
		}
	}

	code := codeForStatus(resp.StatusCode)
	msg := ""
	if texts := body.texts(); len(texts) > 0 {
		msg = texts[0].Text
	} else if body.Error != nil {
		msg = firstNonEmpty(body.Error.Reason, body.Error.Message)
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &goSession.ProviderError{Code: code, Message: msg, Err: err}
}

func codeForMessage(id int64) (string, bool) {
	switch id {
	case msgValidation, msgRequired:
		return goSession.CodeInvalidEmail, true
	case msgPasswordPolicy, msgPasswordSimilar, msgPasswordTooShort, msgPasswordTooLong, msgPasswordBreached:
		return goSession.CodeWeakPassword, true
	case msgInvalidCredentials:
		return goSession.CodeWrongPassword, true
	case msgDuplicateIdentifier, msgDuplicateCredential:
		return goSession.CodeEmailAlreadyInUse, true
	case msgAddressNotVerified:
		return goSession.CodeUserDisabled, true
	case msgLoginFlowExpired, msgRecoveryFlowExpired, msgVerifyFlowExpired:
		return CodeFlowExpired, true
	case msgRecoveryCodeInvalid, msgVerifyCodeInvalid:
		return CodeInvalidActionCode, true
	default:
		return "", false
	}
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return CodeNoCurrentUser
	case status == http.StatusNotFound:
		return goSession.CodeUserNotFound
	case status == http.StatusTooManyRequests:
		return goSession.CodeTooManyRequests
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return goSession.CodeNetworkRequestFailed
	default:
		return goSession.CodeInternal
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
