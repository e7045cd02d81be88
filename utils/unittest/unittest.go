package unittest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// RequireReturnsBefore requires that the given function returns before the
// duration expires.
func RequireReturnsBefore(t testing.TB, f func(), duration time.Duration, message string) {
	done := make(chan struct{})

	go func() {
		f()
		close(done)
	}()

	select {
	case <-time.After(duration):
		require.Fail(t, "function did not return in time: "+message)
	case <-done:
	}
}

// RequireCloseBefore requires that the given channel closes before the
// duration expires.
func RequireCloseBefore(t testing.TB, c <-chan struct{}, duration time.Duration, message string) {
	select {
	case <-time.After(duration):
		require.Fail(t, "channel did not close in time: "+message)
	case <-c:
	}
}

// RequireNotClosed requires that the given channel has not closed yet.
func RequireNotClosed(t testing.TB, c <-chan struct{}, message string) {
	select {
	case <-c:
		require.Fail(t, "channel closed unexpectedly: "+message)
	default:
	}
}

// RequireEventually requires that the condition becomes true within the
// duration, polling at the given interval.
func RequireEventually(t testing.TB, condition func() bool, duration time.Duration, tick time.Duration, message string) {
	require.Eventually(t, condition, duration, tick, message)
}
