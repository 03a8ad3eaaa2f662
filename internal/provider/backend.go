package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sungwon/mailqueue/internal/logger"
	mq "github.com/sungwon/mailqueue/internal/mail"
)

// Result is the in-band outcome of one delivery attempt.
type Result struct {
	OK                bool
	ProviderMessageID string
	ErrorMessage      string
}

// Backend performs one delivery attempt. Send never panics and never
// returns an error; every failure is reported in the Result.
type Backend interface {
	Name() string
	Send(ctx context.Context, msg *mq.Message) Result
}

// guarded adapts a Provider into a Backend. It bounds each attempt with a
// timeout, recovers panics and redacts credentials from error text.
type guarded struct {
	p       Provider
	timeout time.Duration
}

// NewBackend wraps p. A zero timeout leaves the attempt bounded only by ctx.
func NewBackend(p Provider, timeout time.Duration) Backend {
	return &guarded{p: p, timeout: timeout}
}

func (g *guarded) Name() string { return g.p.GetName() }

func (g *guarded) Send(ctx context.Context, msg *mq.Message) Result {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type outcome struct {
		res *DeliveryResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%s: panic: %v", g.p.GetName(), r)}
			}
		}()
		res, err := g.p.Send(ctx, msg)
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = fmt.Errorf("%s: send aborted: %w", g.p.GetName(), ctx.Err())
	}

	if out.err != nil {
		return Result{ErrorMessage: describe(out.err)}
	}
	if out.res == nil {
		return Result{ErrorMessage: g.p.GetName() + ": empty delivery result"}
	}
	return Result{OK: true, ProviderMessageID: out.res.ProviderMessageID}
}

// describe renders err for storage, tagging classified failures.
func describe(err error) string {
	msg := logger.Redact(err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		return msg + " (timeout)"
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Permanent {
			return msg + " (permanent)"
		}
		return msg + " (transient)"
	}
	return msg
}
