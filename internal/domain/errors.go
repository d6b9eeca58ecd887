package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUnknownTool         = errors.New("unknown tool kind")
	ErrNotConfigured       = errors.New("service not configured")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUpstreamUnavailable = errors.New("upstream temporarily unavailable")
	ErrUpstreamRejected    = errors.New("upstream rejected request")
	ErrResultNotSaved      = errors.New("result could not be saved")
	ErrNoResult            = errors.New("no result produced")
)

// Error tags a failure with one of the sentinel kinds above and carries an
// optional detail that is safe to show to merchants.
type Error struct {
	Kind   error
	Tool   ToolKind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Kind }

// NewError builds a tagged error.
func NewError(kind error, tool ToolKind, detail string) error {
	return &Error{Kind: kind, Tool: tool, Detail: strings.TrimSpace(detail)}
}

// InvalidInput is shorthand for a caller-input error with a user-facing detail.
func InvalidInput(tool ToolKind, detail string) error {
	return NewError(ErrInvalidInput, tool, detail)
}

// NotConfigured reports a missing provider credential for the tool.
func NotConfigured(tool ToolKind) error {
	return NewError(ErrNotConfigured, tool, "")
}

const genericMessage = "Something went wrong. Please try again."

// UserMessage maps an error onto a short merchant-facing message. Raw
// transport detail is only surfaced for deterministic rejections and input
// errors.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var tagged *Error
	hasTag := errors.As(err, &tagged)
	tool := ToolKind("")
	detail := ""
	if hasTag {
		tool = tagged.Tool
		detail = tagged.Detail
	}
	switch {
	case errors.Is(err, ErrNotConfigured):
		return tool.DisplayName() + " is not configured."
	case errors.Is(err, ErrInvalidInput):
		if detail != "" {
			return detail
		}
		return "The request is missing required input."
	case errors.Is(err, ErrUpstreamUnavailable):
		return tool.DisplayName() + " service is temporarily unavailable. Please try again in a moment."
	case errors.Is(err, ErrUpstreamRejected):
		if detail != "" {
			return detail
		}
		return "The image could not be processed. Please try a different image."
	case errors.Is(err, ErrResultNotSaved):
		return "Result image could not be saved. Please try again."
	case errors.Is(err, ErrNoResult):
		return "No result image was returned. Please try again."
	case errors.Is(err, ErrNotFound):
		return "Generation not found."
	default:
		return genericMessage
	}
}

// WithTool attributes a tagged error to tool when it carries no tool yet.
// Untagged errors are returned unchanged.
func WithTool(err error, tool ToolKind) error {
	var tagged *Error
	if err == nil || !errors.As(err, &tagged) || tagged.Tool != "" {
		return err
	}
	return &Error{Kind: tagged.Kind, Tool: tool, Detail: tagged.Detail}
}
