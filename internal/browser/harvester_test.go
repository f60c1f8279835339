// internal/browser/harvester_test.go
package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

// fakeClock is advanced by hand so idle detection is deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestHarvester(t *testing.T) (*Harvester, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	h := NewHarvester(zaptest.NewLogger(t))
	h.now = clock.Now
	h.lastActivity = clock.Now()
	return h, clock
}

func TestHarvester_TracksInflight(t *testing.T) {
	h, _ := newTestHarvester(t)

	h.handle(&network.EventRequestWillBeSent{RequestID: "1"})
	h.handle(&network.EventRequestWillBeSent{RequestID: "2"})
	// A redirect reuses the id.
	h.handle(&network.EventRequestWillBeSent{RequestID: "2"})
	assert.Equal(t, 2, h.Inflight())

	h.handle(&network.EventLoadingFinished{RequestID: "1"})
	h.handle(&network.EventLoadingFailed{RequestID: "2"})
	h.handle(&network.EventLoadingFinished{RequestID: "unknown"})
	assert.Equal(t, 0, h.Inflight())
}

func TestHarvester_WaitNetworkIdle(t *testing.T) {
	h, clock := newTestHarvester(t)
	clock.Advance(time.Second)

	assert.NoError(t, h.WaitNetworkIdle(context.Background(), 500*time.Millisecond))
}

func TestHarvester_WaitNetworkIdleTimesOut(t *testing.T) {
	h, _ := newTestHarvester(t)
	h.handle(&network.EventRequestWillBeSent{RequestID: "slow"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.WaitNetworkIdle(ctx, 10*time.Millisecond), context.DeadlineExceeded)
}

func TestHarvester_WaitsForQuietPeriodAfterLastRequest(t *testing.T) {
	h, clock := newTestHarvester(t)
	h.handle(&network.EventRequestWillBeSent{RequestID: "1"})
	h.handle(&network.EventLoadingFinished{RequestID: "1"})

	done := make(chan error, 1)
	go func() { done <- h.WaitNetworkIdle(context.Background(), 20*time.Millisecond) }()

	select {
	case <-done:
		t.Fatal("returned before the quiet period elapsed")
	case <-time.After(30 * time.Millisecond):
	}
	clock.Advance(time.Second)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("did not return after the quiet period")
	}
}
