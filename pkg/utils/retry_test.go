package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errFlaky = errors.New("flaky")

func TestRetryPolicyRetriesRetryableErrors(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	}, func(err error) bool { return errors.Is(err, errFlaky) })

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyStopsAfterMaxAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	}, func(error) bool { return true })

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicyDoesNotRetryPermanentErrors(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	permanent := errors.New("permanent")

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	}, func(err error) bool { return errors.Is(err, errFlaky) })

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}
