// Package chain walks an ordered list of fallible sources until one of them
// produces a value.
//
// Every source answers with a value, with ErrNotFound (the source is healthy
// but has no answer) or with any other error (the source could not be asked:
// disabled by a cooldown, transport failure, malformed response). Failures
// never stop the walk; the next source is tried. Only when every source has
// failed does the walk return, with all failures combined.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ErrNotFound is the failure a source reports when the subject is unknown to it
var ErrNotFound = errors.New("not found")

type Outcome int

const (
	Found Outcome = iota
	NotFound
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	default:
		return "unavailable"
	}
}

// OutcomeOf classifies the error returned by Source.Attempt
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Found
	case errors.Is(err, ErrNotFound):
		return NotFound
	default:
		return Unavailable
	}
}

// Source is one resolution strategy for subjects of type S
type Source[S, V any] interface {
	Attempt(ctx context.Context, subject S) (V, error)
	String() string
}

// SourceFunc adapts a function to Source
type SourceFunc[S, V any] struct {
	Name string
	Fn   func(ctx context.Context, subject S) (V, error)
}

func (f SourceFunc[S, V]) Attempt(ctx context.Context, subject S) (V, error) {
	return f.Fn(ctx, subject)
}

func (f SourceFunc[S, V]) String() string {
	return f.Name
}

// Observer is told about every attempt, successful or not
type Observer func(source string, outcome Outcome, err error)

// Walk tries sources in order and returns the first value produced. The
// returned error combines every source's failure. A canceled ctx stops the
// walk early.
func Walk[S, V any](ctx context.Context, sources []Source[S, V], subject S, observe Observer) (V, error) {
	var zero V
	var errs *multierror.Error

	for _, src := range sources {
		v, err := src.Attempt(ctx, subject)
		if observe != nil {
			observe(src.String(), OutcomeOf(err), err)
		}
		if err == nil {
			return v, nil
		}
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", src, err))
		if ctx.Err() != nil {
			return zero, multierror.Append(errs, ctx.Err()).ErrorOrNil()
		}
	}

	if errs == nil {
		return zero, fmt.Errorf("no sources to ask: %w", ErrNotFound)
	}
	return zero, errs.ErrorOrNil()
}
