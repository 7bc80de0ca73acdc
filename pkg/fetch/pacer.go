package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HostPacer enforces a minimum gap between downloads from the same host.
// The gap is jittered by up to 10% either way so batches against one CDN
// do not fire in lockstep.
type HostPacer struct {
	gap  time.Duration
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
	log  *logrus.Entry
}

func NewHostPacer(gap time.Duration, log *logrus.Entry) *HostPacer {
	return &HostPacer{
		gap:  gap,
		last: make(map[string]time.Time),
		now:  time.Now,
		log:  log,
	}
}

// Wait blocks until host may be contacted again. It returns ctx.Err() if ctx
// ends first. Hosts never seen before pass immediately.
func (p *HostPacer) Wait(ctx context.Context, host string) error {
	if p.gap <= 0 {
		return ctx.Err()
	}
	remaining := p.remaining(host)
	if remaining <= 0 {
		return ctx.Err()
	}

	p.log.WithFields(logrus.Fields{"host": host, "wait": remaining}).Debug("Pacing download")
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *HostPacer) remaining(host string) time.Duration {
	p.mu.Lock()
	last, seen := p.last[host]
	p.mu.Unlock()
	if !seen {
		return 0
	}
	wait := p.gap - p.now().Sub(last)
	if wait <= 0 {
		return 0
	}
	if spread := int64(wait) / 5; spread > 0 {
		wait += time.Duration(rand.Int63n(spread)) - wait/10
	}
	return wait
}

// Done marks a download attempt against host as finished, successful or not.
func (p *HostPacer) Done(host string) {
	p.mu.Lock()
	p.last[host] = p.now()
	p.mu.Unlock()
}
