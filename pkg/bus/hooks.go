package bus

import (
	"context"
	"fmt"
	"time"
)

// DispatchHook observes message dispatch in the Subscriber.
// Returning an error from BeforeDispatch skips every handler for that message.
type DispatchHook interface {
	BeforeDispatch(ctx context.Context, msg *Message) (context.Context, error)
	AfterHandle(ctx context.Context, msg *Message, handler string, err error)
}

// NoopHook does nothing.
type NoopHook struct{}

func (NoopHook) BeforeDispatch(ctx context.Context, msg *Message) (context.Context, error) {
	return ctx, nil
}

func (NoopHook) AfterHandle(ctx context.Context, msg *Message, handler string, err error) {}

// HookFuncs adapts plain functions to DispatchHook. Nil functions are no-ops.
type HookFuncs struct {
	Before func(context.Context, *Message) (context.Context, error)
	After  func(context.Context, *Message, string, error)
}

func (h HookFuncs) BeforeDispatch(ctx context.Context, msg *Message) (context.Context, error) {
	if h.Before == nil {
		return ctx, nil
	}
	return h.Before(ctx, msg)
}

func (h HookFuncs) AfterHandle(ctx context.Context, msg *Message, handler string, err error) {
	if h.After != nil {
		h.After(ctx, msg, handler, err)
	}
}

// HookChain composes hooks: BeforeDispatch in order, AfterHandle in reverse order.
// Every hook runs panic-safe so a faulty hook cannot stop the listen loop.
type HookChain struct {
	hooks []DispatchHook
}

// NewHookChain creates a chain. Nil hooks are ignored.
func NewHookChain(hooks ...DispatchHook) *HookChain {
	filtered := make([]DispatchHook, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			filtered = append(filtered, h)
		}
	}
	return &HookChain{hooks: filtered}
}

func (c *HookChain) BeforeDispatch(ctx context.Context, msg *Message) (context.Context, error) {
	cur := ctx
	for _, h := range c.hooks {
		next, err := safeBefore(h, cur, msg)
		if err != nil {
			return cur, err
		}
		cur = next
	}
	return cur, nil
}

func (c *HookChain) AfterHandle(ctx context.Context, msg *Message, handler string, err error) {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		safeAfter(c.hooks[i], ctx, msg, handler, err)
	}
}

type ctxKey string

// CtxDispatchStart holds the time.Time at which dispatch of the current message began.
const CtxDispatchStart ctxKey = "bus_dispatch_start"

// WithDispatchStart stores t in ctx.
func WithDispatchStart(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, CtxDispatchStart, t)
}

// DispatchStart returns the dispatch start time, if set.
func DispatchStart(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(CtxDispatchStart).(time.Time)
	return t, ok
}

func safeBefore(h DispatchHook, ctx context.Context, msg *Message) (next context.Context, err error) {
	next = ctx
	defer func() {
		if r := recover(); r != nil {
			next, err = ctx, fmt.Errorf("dispatch hook panic: %v", r)
		}
	}()
	next, err = h.BeforeDispatch(ctx, msg)
	if next == nil {
		next = ctx
	}
	return next, err
}

func safeAfter(h DispatchHook, ctx context.Context, msg *Message, handler string, err error) {
	defer func() {
		// hooks must never crash the subscriber
		_ = recover()
	}()
	h.AfterHandle(ctx, msg, handler, err)
}
