package service

import (
	"context"
	"strings"
)

const unknownLabel = "unknown"

// LLMCall labels a model call for metrics and spans.
type LLMCall struct {
	Workflow string
	Provider string
}

type llmCallKey struct{}

// WithLLMCall attaches call labels to ctx. Blank fields inherit the labels
// already on ctx.
func WithLLMCall(ctx context.Context, call LLMCall) context.Context {
	prev, _ := ctx.Value(llmCallKey{}).(LLMCall)
	if w := strings.TrimSpace(call.Workflow); w != "" {
		prev.Workflow = w
	}
	if p := strings.TrimSpace(call.Provider); p != "" {
		prev.Provider = p
	}
	return context.WithValue(ctx, llmCallKey{}, prev)
}

// LLMCallFromContext returns the labels on ctx, "unknown" where unset.
func LLMCallFromContext(ctx context.Context) LLMCall {
	var call LLMCall
	if ctx != nil {
		call, _ = ctx.Value(llmCallKey{}).(LLMCall)
	}
	if call.Workflow == "" {
		call.Workflow = unknownLabel
	}
	if call.Provider == "" {
		call.Provider = unknownLabel
	}
	return call
}
