package chain_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"playerident/internal/chain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	name  string
	value string
	err   error
	calls atomic.Int32
}

func (s *mockSource) Attempt(ctx context.Context, subject string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return s.value + ":" + subject, nil
}

func (s *mockSource) String() string {
	return s.name
}

func sources(srcs ...*mockSource) []chain.Source[string, string] {
	out := make([]chain.Source[string, string], len(srcs))
	for i, s := range srcs {
		out[i] = s
	}
	return out
}

func TestWalk_FirstSuccessWins(t *testing.T) {
	a := &mockSource{name: "a", err: chain.ErrNotFound}
	b := &mockSource{name: "b", value: "B"}
	c := &mockSource{name: "c", value: "C"}

	v, err := chain.Walk(context.Background(), sources(a, b, c), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "B:x", v)
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, int32(0), c.calls.Load())
}

func TestWalk_AllFail(t *testing.T) {
	transient := errors.New("connection reset")
	a := &mockSource{name: "a", err: transient}
	b := &mockSource{name: "b", err: chain.ErrNotFound}

	_, err := chain.Walk(context.Background(), sources(a, b), "x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, transient)
	assert.ErrorIs(t, err, chain.ErrNotFound)
	assert.Contains(t, err.Error(), "a: connection reset")
}

func TestWalk_NoSources(t *testing.T) {
	_, err := chain.Walk[string, string](context.Background(), nil, "x", nil)
	require.ErrorIs(t, err, chain.ErrNotFound)
}

func TestWalk_ObserverSeesEveryAttempt(t *testing.T) {
	a := &mockSource{name: "a", err: errors.New("boom")}
	b := &mockSource{name: "b", err: chain.ErrNotFound}
	c := &mockSource{name: "c", value: "C"}

	var seen []string
	_, err := chain.Walk(context.Background(), sources(a, b, c), "x", func(source string, outcome chain.Outcome, err error) {
		seen = append(seen, source+"="+outcome.String())
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a=unavailable", "b=not_found", "c=found"}, seen)
}

func TestWalk_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &mockSource{name: "a", err: errors.New("boom")}
	b := &mockSource{name: "b", value: "B"}

	cancel()
	_, err := chain.Walk(ctx, sources(a, b), "x", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), b.calls.Load())
}

func TestSourceFunc(t *testing.T) {
	src := chain.SourceFunc[string, int]{
		Name: "len",
		Fn: func(ctx context.Context, s string) (int, error) {
			return len(s), nil
		},
	}
	v, err := chain.Walk(context.Background(), []chain.Source[string, int]{src}, "four", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
	assert.Equal(t, "len", src.String())
}
