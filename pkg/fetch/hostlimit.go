package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/ngo-platform/media-scraper/pkg/utils"
)

const defaultPerHostDownloads = 2

// hostGate is the download gate for one media host.
type hostGate struct {
	slots    *semaphore.Weighted
	inFlight int64 // holders plus waiters
	idleAt   time.Time
}

// HostLimiter caps concurrent media downloads per source host across every
// import batch sharing it. Gates are created lazily and swept once idle.
type HostLimiter struct {
	mu      sync.Mutex
	gates   map[string]*hostGate
	perHost int64
	now     func() time.Time
	log     *logrus.Entry
}

func NewHostLimiter(perHost int, log *logrus.Entry) *HostLimiter {
	if perHost <= 0 {
		log.Warnf("import.max_requests_per_host is %d, using %d", perHost, defaultPerHostDownloads)
		perHost = defaultPerHostDownloads
	}
	return &HostLimiter{
		gates:   make(map[string]*hostGate),
		perHost: int64(perHost),
		now:     time.Now,
		log:     log,
	}
}

func (l *HostLimiter) gate(host string) *hostGate {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.gates[host]
	if !ok {
		g = &hostGate{slots: semaphore.NewWeighted(l.perHost)}
		l.gates[host] = g
		l.log.WithField("host", host).Debug("Opened download gate")
	}
	g.inFlight++
	return g
}

func (l *HostLimiter) leave(g *hostGate) {
	l.mu.Lock()
	g.inFlight--
	g.idleAt = l.now()
	l.mu.Unlock()
}

// Do runs download while holding one of host's slots. wait bounds how long the
// caller queues for a slot; zero or less queues until ctx ends. Running out of
// wait yields ErrSemaphoreTimeout, while ctx cancellation is returned as is.
func (l *HostLimiter) Do(ctx context.Context, host string, wait time.Duration, download func() error) error {
	g := l.gate(host)
	defer l.leave(g)

	waitCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	if err := g.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: host %s busy for %s", utils.ErrSemaphoreTimeout, host, wait)
	}
	defer g.slots.Release(1)
	return download()
}

// Sweep forgets gates with nothing in flight that have been idle for at least
// maxIdle and reports how many were dropped.
func (l *HostLimiter) Sweep(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxIdle)
	dropped := 0
	for host, g := range l.gates {
		if g.inFlight == 0 && !g.idleAt.After(cutoff) {
			delete(l.gates, host)
			dropped++
		}
	}
	return dropped
}

// RunEviction sweeps idle gates every interval until ctx is done.
func (l *HostLimiter) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(interval); n > 0 {
				l.log.Debugf("Swept %d idle download gates, %d hosts tracked", n, l.Hosts())
			}
		}
	}
}

// Hosts reports how many hosts currently have a gate.
func (l *HostLimiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.gates)
}
