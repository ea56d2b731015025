package ai

import (
	"context"
	"errors"
	"log/slog"
)

// Fallback tries Primary and, when it fails with a provider-level error,
// makes exactly one call to Secondary. There is no retry against the same
// endpoint.
type Fallback struct {
	Primary   Completer
	Secondary Completer
	Logger    *slog.Logger
}

func NewFallback(primary, secondary Completer, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Fallback{
		Primary:   primary,
		Secondary: secondary,
		Logger:    logger.With("component", "ai"),
	}
}

func (f *Fallback) Complete(ctx context.Context, history []Message, opts Options) (Result, error) {
	res, err := f.Primary.Complete(ctx, history, opts)
	if err == nil {
		return res, nil
	}
	if f.Secondary == nil {
		return Result{}, err
	}

	var ce *CompletionError
	if !errors.As(err, &ce) {
		return Result{}, err
	}
	// No budget left for a second call.
	if ctx.Err() != nil {
		return Result{}, err
	}

	f.Logger.Warn("primary completion failed, trying fallback", "kind", ce.Kind, "error", err)

	res, ferr := f.Secondary.Complete(ctx, history, opts)
	if ferr != nil {
		f.Logger.Error("fallback completion failed", "kind", KindOf(ferr), "error", ferr)
		return Result{}, ferr
	}
	return res, nil
}
