// internal/browser/harvester.go
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Harvester listens to the tab's network events and keeps the set of in-flight
// requests, so callers can wait for the page to go quiet.
type Harvester struct {
	logger *zap.Logger

	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
	mu           sync.Mutex

	now func() time.Time
}

// NewHarvester creates an idle tracker. Listen wires it to a tab.
func NewHarvester(logger *zap.Logger) *Harvester {
	return &Harvester{
		logger:       logger.Named("harvester"),
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
		now:          time.Now,
	}
}

// Listen subscribes to the network events of the tab in ctx for the tab's
// lifetime. The network domain must be enabled separately.
func (h *Harvester) Listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, h.handle)
}

func (h *Harvester) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		h.started(e.RequestID)
	case *network.EventLoadingFinished:
		h.finished(e.RequestID)
	case *network.EventLoadingFailed:
		h.finished(e.RequestID)
	}
}

func (h *Harvester) started(id network.RequestID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inflight[id] = struct{}{}
	h.lastActivity = h.now()
}

func (h *Harvester) finished(id network.RequestID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.inflight[id]; !ok {
		return
	}
	delete(h.inflight, id)
	h.lastActivity = h.now()
}

// Inflight returns the number of requests still open.
func (h *Harvester) Inflight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight)
}

func (h *Harvester) idleFor() (int, time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight), h.now().Sub(h.lastActivity)
}

// WaitNetworkIdle polls until nothing has been in flight for quietPeriod. It
// returns ctx's error when ctx ends first.
func (h *Harvester) WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error {
	if quietPeriod <= 0 {
		quietPeriod = defaultQuietPeriod
	}
	ticker := time.NewTicker(quietPeriod / 5)
	defer ticker.Stop()

	for {
		n, quiet := h.idleFor()
		if n == 0 && quiet >= quietPeriod {
			return nil
		}
		select {
		case <-ctx.Done():
			h.logger.Debug("Network did not go idle in time.", zap.Int("inflight_requests", n))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
