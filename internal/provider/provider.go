// Package provider adapts each external generation API to one uniform call
// contract used by the cascade.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/resilience"
)

var (
	// ErrUnavailable means the provider has no credential configured.
	ErrUnavailable = eris.New("provider: unavailable")
	// ErrCallFailed means the remote call returned an error or an unusable
	// response.
	ErrCallFailed = eris.New("provider: call failed")
)

// Request is the provider-neutral generation request.
type Request struct {
	Messages    []model.Message
	Images      []model.Image // attached to the last user message
	Temperature float64
	MaxTokens   int
}

// Response is the provider-neutral generation result.
type Response struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
	ProviderID string `json:"provider_id"`
	Model      string `json:"model,omitempty"`
}

// Client is one configured provider.
type Client interface {
	Descriptor() model.ProviderDescriptor
	Generate(ctx context.Context, req Request) (*Response, error)
}

// CallError describes a failed provider call. It matches ErrCallFailed with
// errors.Is and exposes the underlying cause.
type CallError struct {
	ProviderID string
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: call failed (status %d): %v", e.ProviderID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: call failed: %v", e.ProviderID, e.Err)
}

func (e *CallError) Unwrap() []error {
	return []error{ErrCallFailed, e.Err}
}

// callFailed builds a CallError, marking retryable HTTP statuses as transient.
func callFailed(id string, status int, err error) error {
	if status > 0 && resilience.IsTransientHTTPStatus(status) {
		err = resilience.NewTransientError(err, status)
	}
	return &CallError{ProviderID: id, StatusCode: status, Err: err}
}

// errEmptyResponse marks a 200 answer with no text.
var errEmptyResponse = errors.New("empty response")

// base holds what every adapter shares.
type base struct {
	desc  model.ProviderDescriptor
	retry resilience.RetryConfig
}

func (b *base) Descriptor() model.ProviderDescriptor { return b.desc }

// generate runs fn under the adapter's retry policy and validates the result.
func (b *base) generate(ctx context.Context, fn func(ctx context.Context) (*Response, error)) (*Response, error) {
	if !b.desc.Credentialed() {
		return nil, eris.Wrapf(ErrUnavailable, "provider %s", b.desc.ID)
	}

	cfg := b.retry
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = retryInPlace
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(b.desc.ID, "generate")
	}
	resp, err := resilience.DoVal(ctx, cfg, fn)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, callFailed(b.desc.ID, 0, errEmptyResponse)
	}
	resp.ProviderID = b.desc.ID
	if resp.Model == "" {
		resp.Model = b.desc.Model
	}
	return resp, nil
}

// retryInPlace reports whether a failed call is worth repeating against the
// same provider. Rate limits are not: the cascade moves on to the next
// provider instead of waiting out the window.
func retryInPlace(err error) bool {
	var callErr *CallError
	if errors.As(err, &callErr) && callErr.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return resilience.IsTransient(err)
}

// splitSystem separates system turns from the conversation. Multiple system
// messages are joined with blank lines.
func splitSystem(msgs []model.Message) (string, []model.Message) {
	var (
		system []string
		rest   = make([]model.Message, 0, len(msgs))
	)
	for _, m := range msgs {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// lastUserIndex returns the index of the last user message, or -1.
func lastUserIndex(msgs []model.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return i
		}
	}
	return -1
}

func maxTokens(req Request, def int) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return def
}
