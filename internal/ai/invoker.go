// Package ai invokes the estimator model, either through the Python
// pipeline scripts or directly against the OpenAI API.
package ai

import (
	"context"
	"errors"
)

// ErrInvocationFailed wraps any failure of the underlying model call.
var ErrInvocationFailed = errors.New("ai invocation failed")

// Result is a model answer. Content may embed a fenced JSON block with
// structured estimate updates; interpreting it is the caller's business.
type Result struct {
	Content string `json:"content"`
}

// Invoker runs one prompt against the model. contextFile points at a
// local JSON file holding the project context (summary or page text).
// Implementations must honor ctx cancellation; callers attach timeouts.
type Invoker interface {
	Invoke(ctx context.Context, prompt, contextFile string) (Result, error)
}
