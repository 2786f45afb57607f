package routing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"plain", errors.New("boom"), KindNone},
		{"sentinel", ErrNotReachable, KindNotReachable},
		{"fmt wrapped", fmt.Errorf("resolve p1: %w", ErrUnknownRecipient), KindUnknownRecipient},
		{"oops wrapped", oops.In("router").With("participant_id", "p1").Wrapf(ErrAlreadyShutDown, "add next hop"), KindAlreadyShutDown},
		{"invalid address", oops.Wrapf(ErrInvalidAddressType, "incoming address"), KindInvalidAddressType},
		{"expired", ErrExpired, KindExpired},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestErrorKind_Sentinel(t *testing.T) {
	assert.Nil(t, KindNone.Sentinel())
	for _, k := range []ErrorKind{KindExpired, KindUnknownRecipient, KindNotReachable, KindInvalidAddressType, KindAlreadyShutDown} {
		assert.Equal(t, k, KindOf(k.Sentinel()), k.String())
	}
}

func TestCompletion_SettlesOnce(t *testing.T) {
	c := NewCompletion()
	assert.False(t, c.Settled())
	assert.NoError(t, c.Err())

	c.Reject(ErrNotReachable)
	c.Resolve()

	require.True(t, c.Settled())
	assert.ErrorIs(t, c.Err(), ErrNotReachable)
	assert.ErrorIs(t, c.Wait(context.Background()), ErrNotReachable)
}

func TestCompletion_WaitHonoursContext(t *testing.T) {
	c := NewCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCompletion_ResolvedAsync(t *testing.T) {
	c := NewCompletion()
	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Resolve()
	}()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("completion never settled")
	}
	assert.NoError(t, c.Err())
	assert.NoError(t, Resolved().Wait(context.Background()))
	assert.ErrorIs(t, Rejected(ErrExpired).Wait(context.Background()), ErrExpired)
}

func TestStateAndOutcomeStrings(t *testing.T) {
	assert.Equal(t, "Detached", Detached.String())
	assert.Equal(t, "Unattached", Unattached.String())
	assert.Equal(t, "Attached", Attached.String())
	assert.Equal(t, "ShutDown", ShutDown.String())
	assert.Equal(t, "queued", OutcomeQueued.String())
	assert.Equal(t, "deferred", OutcomeDeferred.String())
}
