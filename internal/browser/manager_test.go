// internal/browser/manager_test.go
package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/internal/config"
)

func TestAllocatorOptions(t *testing.T) {
	base := len(AllocatorOptions(config.BrowserConfig{Headless: true}))

	opts := AllocatorOptions(config.BrowserConfig{Headless: true, Args: []string{"--lang=en-US", "--mute-audio"}})
	assert.Len(t, opts, base+2)
}

func TestSplitFlag(t *testing.T) {
	k, v := splitFlag("--lang=en-US")
	assert.Equal(t, "lang", k)
	assert.Equal(t, "en-US", v)

	k, v = splitFlag("--mute-audio")
	assert.Equal(t, "mute-audio", k)
	assert.Empty(t, v)
}

func TestViewport(t *testing.T) {
	w, h := viewport(config.BrowserConfig{})
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	w, h = viewport(config.BrowserConfig{Viewport: map[string]int{"width": 800, "height": 600}})
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
}

func TestRunBounded(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("Success", func(t *testing.T) {
		aborted := false
		err := runBounded(context.Background(), time.Second, func() { aborted = true }, func() error { return nil })
		assert.NoError(t, err)
		assert.False(t, aborted)
	})

	t.Run("FailureAborts", func(t *testing.T) {
		aborted := false
		boom := errors.New("boom")
		err := runBounded(context.Background(), time.Second, func() { aborted = true }, func() error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.True(t, aborted)
	})

	t.Run("Timeout", func(t *testing.T) {
		release := make(chan struct{})
		err := runBounded(context.Background(), 10*time.Millisecond, func() { close(release) }, func() error {
			<-release
			return context.Canceled
		})
		assert.ErrorContains(t, err, "timed out")
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		release := make(chan struct{})
		err := runBounded(ctx, time.Hour, func() { close(release) }, func() error {
			<-release
			return context.Canceled
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	type key struct{}
	primary := context.WithValue(context.Background(), key{}, "cdp")
	secondary, cancelSecondary := context.WithCancel(context.Background())

	combined, cancel := CombineContext(primary, secondary)
	defer cancel()
	assert.Equal(t, "cdp", combined.Value(key{}))

	cancelSecondary()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context was not canceled with the secondary")
	}
}

func TestManager_ShutdownWithoutSessions(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, zaptest.NewLogger(t))
	assert.Equal(t, 0, m.Active())
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestSession_ClosedRejectsOperations(t *testing.T) {
	closed := 0
	s := &Session{ctx: context.Background(), logger: zaptest.NewLogger(t), isClosed: true, onClose: func() { closed++ }}

	_, err := s.Screenshot(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.WaitNetworkIdle(context.Background(), time.Second), ErrSessionClosed)
	assert.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 0, closed, "close hook runs once, on the first Close")
}
