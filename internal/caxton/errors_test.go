package caxton

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestErrorRetryable(t *testing.T) {
	e := NewError(KindResourceExhausted, NewID(), nil, "envelope over cap").
		WithRetryAfter(2 * time.Second)
	require.True(t, e.Retryable())
	require.NotNil(t, e.RetryAfter)

	notRetryable := NewError(KindInvalidMessage, NewID(), nil, "bad field")
	require.False(t, notRetryable.Retryable())
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("trap")
	e := NewError(KindFuelExhausted, NewID(), cause, "instruction budget exceeded")
	require.ErrorIs(t, e, cause)

	kind, ok := KindOf(e)
	require.True(t, ok)
	require.Equal(t, KindFuelExhausted, kind)
}

func TestErrorIsByKind(t *testing.T) {
	a := NewError(KindTimeout, NewID(), nil, "deadline exceeded")
	b := &Error{Kind: KindTimeout}
	require.True(t, errors.Is(a, b))

	c := &Error{Kind: KindMemoryTrap}
	require.False(t, errors.Is(a, c))
}
