package apierr

// Recovery is the user-facing action appropriate for a failure.
type Recovery int

const (
	RecoveryNone Recovery = iota
	// RecoveryWaitAndRetry covers offline, timeout and rate limiting.
	RecoveryWaitAndRetry
	// RecoveryFixInput covers rejected input.
	RecoveryFixInput
	// RecoveryReauthenticate covers missing or insufficient credentials.
	RecoveryReauthenticate
	// RecoveryShowOutage covers server side failures.
	RecoveryShowOutage
)

func (r Recovery) String() string {
	switch r {
	case RecoveryWaitAndRetry:
		return "wait-and-retry"
	case RecoveryFixInput:
		return "fix-input"
	case RecoveryReauthenticate:
		return "reauthenticate"
	case RecoveryShowOutage:
		return "show-outage"
	default:
		return "none"
	}
}

// Recovery classifies the error for view code (banners, toasts).
func (e *RequestError) Recovery() Recovery {
	if e == nil {
		return RecoveryNone
	}
	switch e.code {
	case CodeNetwork, CodeTimeout, CodeRateLimited:
		return RecoveryWaitAndRetry
	case CodeValidation:
		return RecoveryFixInput
	case CodeUnauthorized, CodeForbidden:
		return RecoveryReauthenticate
	case CodeServer:
		return RecoveryShowOutage
	}
	if e.IsServerError() {
		return RecoveryShowOutage
	}
	return RecoveryNone
}

// Message returns a user-friendly message for any error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if reqErr, ok := As(err); ok && reqErr.message != "" {
		return reqErr.message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "An unexpected error occurred"
}
