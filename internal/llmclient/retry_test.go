package llmclient

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	status := func(code int) func(error) int { return func(error) int { return code } }
	var perm *backoff.PermanentError

	assert.NoError(t, classify(nil, status(0)))
	assert.False(t, errors.As(classify(errors.New("x"), status(503)), &perm))
	assert.True(t, errors.As(classify(errors.New("x"), status(400)), &perm))
	assert.True(t, errors.As(classify(context.Canceled, status(0)), &perm))
	assert.True(t, errors.As(classify(errors.New("decode"), status(0)), &perm))
	assert.False(t, errors.As(classify(&net.OpError{Op: "dial", Err: errors.New("refused")}, status(0)), &perm))
}

func TestRetry_StopsAtMaxRetries(t *testing.T) {
	calls := 0
	err := retry(context.Background(), fastBackOff, 2, func() error {
		calls++
		return errors.New("transient")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}
