package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Error codes the engine assigns itself. Platform codes pass through verbatim.
const (
	CodeNoMediaUploaded = "no_media_uploaded"
	CodeValidation      = "validation_error"
	CodeConfiguration   = "not_connected"
	CodeTransport       = "transport_error"
	CodeMalformed       = "malformed_response"
	CodeCanceled        = "canceled"
	CodeTimeout         = "timeout"
	CodeInternal        = "internal_error"
)

// ConfigurationError is returned when an account identifier or credential is missing.
type ConfigurationError struct {
	Provider  string
	Variables []string
}

func (e ConfigurationError) Error() string {
	if len(e.Variables) == 0 {
		return fmt.Sprintf("%s credentials not configured", e.Provider)
	}
	return fmt.Sprintf("%s credentials not configured (missing %s)", e.Provider, strings.Join(e.Variables, ", "))
}

// ValidationError captures payload issues detected before any network call.
type ValidationError struct {
	Provider string
	Reason   string
}

func (e ValidationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("%s validation failed: %s", e.Provider, e.Reason)
}

// UpstreamError is a failure reported by, or on the way to, a platform.
// Transient is set for transport failures, timeouts and unreadable bodies;
// otherwise the platform rejected the request.
type UpstreamError struct {
	Provider   string
	Stage      Stage
	StatusCode int
	Code       string
	Subcode    string
	Message    string
	Transient  bool
	Debug      map[string]any
	Err        error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Provider, e.Stage)
	if e.Code != "" {
		fmt.Fprintf(&b, " [code=%s", e.Code)
		if e.Subcode != "" {
			fmt.Fprintf(&b, " subcode=%s", e.Subcode)
		}
		b.WriteString("]")
	}
	switch {
	case e.Message != "":
		fmt.Fprintf(&b, ": %s", e.Message)
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ItemFailure records one carousel item that could not be uploaded.
type ItemFailure struct {
	Index  int    `json:"index"`
	URL    string `json:"url"`
	Reason string `json:"reason"`
	// Unreachable is true when the media could not be downloaded, false when
	// the platform rejected it.
	Unreachable bool `json:"unreachable"`
}

// NoMediaUploadedError is returned when every carousel item failed.
type NoMediaUploadedError struct {
	Provider  string
	Stage     Stage
	Attempted int
	Failures  []ItemFailure
}

func (e NoMediaUploadedError) Error() string {
	return fmt.Sprintf("%s: no media uploaded (%d of %d items failed)", e.Provider, len(e.Failures), e.Attempted)
}

// Transport wraps a network-level failure at stage.
func Transport(provider string, stage Stage, err error) *UpstreamError {
	code := CodeTransport
	switch {
	case errors.Is(err, context.Canceled):
		code = CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	}
	return &UpstreamError{
		Provider:  provider,
		Stage:     stage,
		Code:      code,
		Message:   err.Error(),
		Transient: true,
		Err:       err,
	}
}

// Checkpoint returns a transient error when ctx is done, so adapters stop
// before starting the next step.
func Checkpoint(ctx context.Context, provider string, stage Stage) error {
	if err := ctx.Err(); err != nil {
		return Transport(provider, stage, err)
	}
	return nil
}

// StageOf reports the stage recorded on err, if any.
func StageOf(err error) Stage {
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Stage
	}
	var nm NoMediaUploadedError
	if errors.As(err, &nm) {
		return nm.Stage
	}
	return ""
}

// IsTransient reports whether err is an upstream transport-class failure.
func IsTransient(err error) bool {
	var up *UpstreamError
	return errors.As(err, &up) && up.Transient
}

// Translate maps an error to the caller-facing detail, status and diagnostics.
func Translate(err error, fallback Stage) (*ErrorDetail, Status, map[string]any) {
	if err == nil {
		return nil, StatusOK, nil
	}

	var (
		cfgErr  ConfigurationError
		valErr  ValidationError
		noMedia NoMediaUploadedError
		upErr   *UpstreamError
	)

	switch {
	case errors.As(err, &valErr):
		return &ErrorDetail{Code: CodeValidation, Message: valErr.Error(), Stage: StageValidate, Kind: KindValidation}, StatusBadRequest, nil
	case errors.As(err, &cfgErr):
		return &ErrorDetail{Code: CodeConfiguration, Message: cfgErr.Error(), Stage: StageCredentials, Kind: KindConfiguration}, StatusNotConnected, nil
	case errors.As(err, &noMedia):
		debug := map[string]any{"attempted": noMedia.Attempted, "failures": noMedia.Failures}
		return &ErrorDetail{Code: CodeNoMediaUploaded, Message: noMedia.Error(), Stage: noMedia.Stage, Kind: KindPartialFailure}, StatusUpstream, debug
	case errors.As(err, &upErr):
		kind := KindUpstreamBusiness
		if upErr.Transient {
			kind = KindUpstreamTransient
		}
		msg := upErr.Message
		if msg == "" {
			msg = upErr.Error()
		}
		debug := map[string]any{}
		for k, v := range upErr.Debug {
			debug[k] = v
		}
		if upErr.StatusCode != 0 {
			debug["http_status"] = upErr.StatusCode
		}
		if upErr.Subcode != "" {
			debug["subcode"] = upErr.Subcode
		}
		if len(debug) == 0 {
			debug = nil
		}
		return &ErrorDetail{Code: upErr.Code, Message: msg, Stage: upErr.Stage, Kind: kind}, StatusUpstream, debug
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Translate(Transport("", fallback, err), fallback)
	}

	return &ErrorDetail{Code: CodeInternal, Message: err.Error(), Stage: fallback, Kind: KindUpstreamTransient}, StatusUpstream, nil
}

// Truncate shortens s to at most n bytes for error messages and debug
// payloads, cutting on a rune boundary and marking the cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
