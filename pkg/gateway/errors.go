package gateway

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/telegem/telegem/pkg/assembly"
	"github.com/telegem/telegem/pkg/gemini"
)

// Kind buckets every failure the transport layer can see. Request-shape
// kinds are user mistakes, not system faults; the rest are operational.
type Kind string

const (
	KindEmptyInput       Kind = "empty_input"
	KindUnsupportedMedia Kind = "unsupported_media"
	KindUnreadableMedia  Kind = "unreadable_media"
	KindAuthConfig       Kind = "auth_config"
	KindUpstream         Kind = "upstream"
	KindInternal         Kind = "internal"
)

// Error is the only error type that escapes the gateway. UserMessage is safe
// to render back to the user verbatim.
type Error struct {
	Kind        Kind
	UserMessage string
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("gateway %s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("gateway %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// IsUserError reports whether the failure was caused by the request shape
// rather than the system.
func (e *Error) IsUserError() bool {
	switch e.Kind {
	case KindEmptyInput, KindUnsupportedMedia, KindUnreadableMedia:
		return true
	}
	return false
}

var userMessages = map[Kind]string{
	KindEmptyInput:       "Please send some text or an attachment to process.",
	KindUnsupportedMedia: "I can only look at images and PDF documents.",
	KindUnreadableMedia:  "I couldn't read that file. It may be corrupt or truncated.",
	KindAuthConfig:       "The assistant is not connected to its language model. Please check the API key configuration.",
	KindUpstream:         "Sorry, the language model is unavailable right now. Please try again in a moment.",
	KindInternal:         "Something went wrong while processing your request.",
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, UserMessage: userMessages[kind], cause: cause}
}

// classifyAssembly maps pipeline failures onto the taxonomy. Anything the
// pipeline didn't type is an internal fault.
func classifyAssembly(err error) *Error {
	switch {
	case errors.Is(err, assembly.ErrEmptyInput):
		return newError(KindEmptyInput, err)
	case errors.Is(err, assembly.ErrUnsupportedMediaType):
		return newError(KindUnsupportedMedia, err)
	case errors.Is(err, assembly.ErrUnreadableMedia):
		return newError(KindUnreadableMedia, err)
	default:
		return newError(KindInternal, err)
	}
}

// classifyUpstream maps model-call failures onto the taxonomy.
func classifyUpstream(err error) *Error {
	switch {
	case errors.Is(err, gemini.ErrAuth):
		return newError(KindAuthConfig, err)
	case errors.Is(err, gemini.ErrUpstream):
		return newError(KindUpstream, err)
	default:
		return newError(KindInternal, err)
	}
}
