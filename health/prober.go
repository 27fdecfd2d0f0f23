package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/devicewatch/errors"
)

// DefaultInterval is the probe cadence when none is configured.
const DefaultInterval = 30 * time.Second

// ProbeFunc issues one liveness request. A nil return means healthy; an error
// becomes the Unhealthy reason.
type ProbeFunc func(ctx context.Context) error

// Prober runs a ProbeFunc on a fixed interval and reports each result through
// a callback. It is independent of the live-stream transport: probe failures
// are surfaced but change nothing else.
type Prober struct {
	component string
	probe     ProbeFunc
	interval  time.Duration
	onResult  func(Status)

	started  atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	mu       sync.Mutex
}

// NewProber creates a prober. onResult receives every probe outcome, including
// the first one issued immediately at Start.
func NewProber(component string, probe ProbeFunc, interval time.Duration, onResult func(Status)) (*Prober, error) {
	if probe == nil {
		return nil, errors.WrapInvalid(
			errors.ErrMissingConfig, "health", "NewProber", "probe function required")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Prober{
		component: component,
		probe:     probe,
		interval:  interval,
		onResult:  onResult,
		shutdown:  make(chan struct{}),
	}, nil
}

// Start launches the probe loop. The first probe fires immediately so the
// operator is not blind for a full interval after activation.
func (p *Prober) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "health", "Start", "check started state")
	}

	probeCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(probeCtx)

	p.started.Store(true)
	return nil
}

// Stop halts the probe loop and waits for it to exit.
func (p *Prober) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started.Load() {
		return nil
	}

	close(p.shutdown)
	p.cancel()

	doneCh := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			errors.ErrConnectionTimeout, "health", "Stop", "wait for probe loop")
	}

	p.started.Store(false)
	return nil
}

func (p *Prober) run(ctx context.Context) {
	defer p.wg.Done()

	p.probeOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx)
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context) {
	var status Status
	if err := p.probe(ctx); err != nil {
		status = NewUnhealthy(p.component, err.Error())
	} else {
		status = NewHealthy(p.component, "probe succeeded")
	}

	if p.onResult != nil {
		p.onResult(status)
	}
}
