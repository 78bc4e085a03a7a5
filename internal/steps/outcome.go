package steps

import "errors"

// ErrorKind classifies step failures. Kinds are stable identifiers surfaced
// verbatim to callers, never remapped along the way.
type ErrorKind string

const (
	KindConfigInvalid        ErrorKind = "ConfigInvalid"
	KindSelectorNotFound     ErrorKind = "SelectorNotFound"
	KindTimeout              ErrorKind = "Timeout"
	KindNavigationFailure    ErrorKind = "NavigationFailure"
	KindScriptExecutionError ErrorKind = "ScriptExecutionError"
	KindPriceParseError      ErrorKind = "PriceParseError"
	KindCaptchaRequired      ErrorKind = "CaptchaRequired"
	KindSessionCrashed       ErrorKind = "SessionCrashed"
)

// Sentinel errors matching the error kinds, for errors.Is checks across
// package boundaries.
var (
	ErrConfigInvalid     = errors.New("config invalid")
	ErrSelectorNotFound  = errors.New("selector not found")
	ErrTimeout           = errors.New("timeout")
	ErrNavigationFailure = errors.New("navigation failure")
	ErrScriptExecution   = errors.New("script execution error")
	ErrPriceParse        = errors.New("price parse error")
	ErrCaptchaRequired   = errors.New("captcha required")
	ErrSessionCrashed    = errors.New("session crashed")
)

// KindOf maps an error to its kind via the sentinel chain. Errors outside
// the known kinds return the empty kind; callers classify those themselves.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrConfigInvalid):
		return KindConfigInvalid
	case errors.Is(err, ErrSelectorNotFound):
		return KindSelectorNotFound
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrNavigationFailure):
		return KindNavigationFailure
	case errors.Is(err, ErrScriptExecution):
		return KindScriptExecutionError
	case errors.Is(err, ErrPriceParse):
		return KindPriceParseError
	case errors.Is(err, ErrCaptchaRequired):
		return KindCaptchaRequired
	case errors.Is(err, ErrSessionCrashed):
		return KindSessionCrashed
	}
	return ""
}

// Status describes how a single step execution ended.
type Status int

const (
	StatusOk Status = iota
	StatusRecoverable
	StatusFatal
)

// Outcome is the result of executing one step.
type Outcome struct {
	Status Status
	Kind   ErrorKind
	Err    error
	// SwitchConfig names the category the run should continue with. Only
	// decide_config steps set it.
	SwitchConfig string
}

func Ok() Outcome {
	return Outcome{Status: StatusOk}
}

func Recoverable(kind ErrorKind, err error) Outcome {
	return Outcome{Status: StatusRecoverable, Kind: kind, Err: err}
}

func Fatal(kind ErrorKind, err error) Outcome {
	return Outcome{Status: StatusFatal, Kind: kind, Err: err}
}
