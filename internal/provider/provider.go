package provider

import (
	"context"
	"errors"
	"fmt"
)

// SendRequest is a rendered outbound message ready for the wire.
type SendRequest struct {
	To       string
	Body     string
	MediaURL string
}

type SendResult struct {
	ProviderMessageID string
}

// Client is the external boundary to WhatsApp/SMS carriers. Implementations
// must bound their own network timeouts and surface rate-limit and transient
// errors distinctly from permanent rejections via SendError.
type Client interface {
	Name() string
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// SendError classifies a provider failure for the dispatcher.
type SendError struct {
	Code      string
	Message   string
	Temporary bool
}

func (e *SendError) Error() string {
	return fmt.Sprintf("provider: %s (%s)", e.Message, e.Code)
}

// Well-known error codes.
const (
	CodeRateLimited        = "rate_limited"
	CodeProviderError      = "provider_error"
	CodeBreakerOpen        = "breaker_open"
	CodeTimeout            = "timeout"
	CodeInvalidDestination = "invalid_destination"
	CodeTemplateRejected   = "template_rejected"
	CodeRejected           = "rejected"
)

// ErrBreakerOpen is returned without touching the network while a client's
// circuit breaker holds it open.
var ErrBreakerOpen = &SendError{Code: CodeBreakerOpen, Message: "circuit breaker open", Temporary: true}

// Retryable reports whether the dispatcher should back off and retry.
// Unclassified errors default to retryable: they are almost always transport
// failures, and a terminal failure must come from an explicit rejection.
func Retryable(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Temporary
	}
	return true
}

// ErrorCode extracts a stable code for delivery records.
func ErrorCode(err error) string {
	var se *SendError
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeProviderError
}
