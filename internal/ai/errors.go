package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	openai "github.com/sashabaranov/go-openai"
)

// Sentinel errors, one per failure kind. A *CompletionError matches its
// kind's sentinel through errors.Is.
var (
	ErrTimeout           = errors.New("completion timeout")
	ErrProvider          = errors.New("completion provider error")
	ErrUnavailable       = errors.New("completion provider unavailable")
	ErrMalformedResponse = errors.New("malformed completion response")
	ErrCanceled          = errors.New("completion canceled")

	// ErrMissingCredential is returned at construction, never per request.
	ErrMissingCredential = errors.New("provider api key is not set")
)

type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindProvider    Kind = "provider"
	KindUnavailable Kind = "unavailable"
	KindMalformed   Kind = "malformed_response"
	// KindCanceled means the caller went away; the provider is not at fault.
	KindCanceled Kind = "canceled"
)

type CompletionError struct {
	Kind     Kind
	Endpoint string
	Status   int    // only for KindProvider
	Body     string // only for KindProvider
	Err      error
}

func (e *CompletionError) Error() string {
	switch e.Kind {
	case KindProvider:
		return fmt.Sprintf("%s: %s: status %d: %s", e.Endpoint, e.Kind, e.Status, e.Body)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Endpoint, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Endpoint, e.Kind)
	}
}

func (e *CompletionError) Unwrap() error { return e.Err }

func (e *CompletionError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrProvider:
		return e.Kind == KindProvider
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrMalformedResponse:
		return e.Kind == KindMalformed
	case ErrCanceled:
		return e.Kind == KindCanceled
	}
	return false
}

// KindOf returns the failure kind of err, or "" when err is not a completion error.
func KindOf(err error) Kind {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

func malformed(endpoint string, err error) *CompletionError {
	return &CompletionError{Kind: KindMalformed, Endpoint: endpoint, Err: err}
}

// maxErrorBody caps how much provider error text is kept.
const maxErrorBody = 4096

// classify maps a go-openai / transport error onto a CompletionError.
func classify(endpoint string, err error) *CompletionError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &CompletionError{
			Kind:     KindProvider,
			Endpoint: endpoint,
			Status:   apiErr.HTTPStatusCode,
			Body:     truncate(apiErr.Message, maxErrorBody),
			Err:      err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := reqErr.HTTPStatus
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &CompletionError{
			Kind:     KindProvider,
			Endpoint: endpoint,
			Status:   reqErr.HTTPStatusCode,
			Body:     truncate(body, maxErrorBody),
			Err:      err,
		}
	}

	if errors.Is(err, context.Canceled) {
		return &CompletionError{Kind: KindCanceled, Endpoint: endpoint, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &CompletionError{Kind: KindTimeout, Endpoint: endpoint, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &CompletionError{Kind: KindTimeout, Endpoint: endpoint, Err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return malformed(endpoint, err)
	}

	return &CompletionError{Kind: KindUnavailable, Endpoint: endpoint, Err: err}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
