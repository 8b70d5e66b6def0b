// Package probe implements a periodic round-trip latency probe. A Probe
// owns one measurement session: while armed, it dispatches a timestamp on
// every tick and, when the acknowledgement for the latest tick comes back,
// exposes the elapsed wall-clock time for display.
//
// All timing arithmetic happens on the local clock. The remote side only
// echoes the dispatched value, so clock skew between the two hosts cannot
// distort the measurement.
package probe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wsprobe/wsprobe/logging"
	"github.com/wsprobe/wsprobe/metrics"
	"github.com/wsprobe/wsprobe/probe/spec"
)

// Transport is the request/acknowledgement channel whose latency is being
// measured. Send dispatches an opaque timestamp to the remote side. Acks
// yields the echoed timestamps in whatever order the network returns them;
// the channel is closed when the transport shuts down.
type Transport interface {
	Send(ctx context.Context, sentAtMs int64) error
	Acks() <-chan int64
}

// Clock returns the current time. It exists so tests can control time.
type Clock func() time.Time

// Probe measures the round-trip time of a ping/ack exchange on a recurring
// schedule. The zero value is not usable; call New.
//
// A Probe has two states, disabled and armed. Enable and Disable move
// between them and are idempotent. While armed, a single goroutine owns all
// session mutation: it reacts to ticks, acknowledgements and timeouts in
// turn, so there is never more than one round trip being accounted for.
type Probe struct {
	transport Transport
	clock     Clock
	interval  time.Duration
	timeout   time.Duration
	id        string

	mu        sync.Mutex
	armed     bool
	pending   int64 // sentAtMs of the latest in-flight tick, 0 when none
	hasSample bool
	lastRTT   int64 // milliseconds
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a disabled probe on the given transport. The interval is
// clamped to spec.MinInterval. A non-positive timeout defaults to one
// interval: a tick unacknowledged for that long is abandoned and the
// display reverts to spec.NoData.
func New(transport Transport, interval, timeout time.Duration) *Probe {
	if interval < spec.MinInterval {
		interval = spec.MinInterval
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &Probe{
		transport: transport,
		clock:     time.Now,
		interval:  interval,
		timeout:   timeout,
		id:        uuid.NewString(),
	}
}

// Enable arms the probe. The first tick fires one interval from now. Calling
// Enable on an armed probe is a no-op: the timer is armed exactly once.
func (p *Probe) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.armed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.armed = true
	p.pending = 0
	metrics.ProbesActive.Inc()
	go p.loop(ctx, p.done)
}

// Disable disarms the probe: no further ticks are dispatched, and an
// acknowledgement for a tick that was in flight when Disable was called is
// discarded when it arrives. Disable does not attempt to abort the in-flight
// network operation. Idempotent; returns after the probe goroutine exits.
func (p *Probe) Disable() {
	p.mu.Lock()
	if !p.armed && p.done == nil {
		p.mu.Unlock()
		return
	}
	p.armed = false
	p.pending = 0
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Toggle arms a disabled probe and disarms an armed one.
func (p *Probe) Toggle() {
	if p.Armed() {
		p.Disable()
	} else {
		p.Enable()
	}
}

// Close releases the probe. It is equivalent to Disable and exists so a
// Probe can be used where an io.Closer-shaped teardown is expected.
func (p *Probe) Close() error {
	p.Disable()
	return nil
}

// Armed reports whether the probe is currently scheduling ticks.
func (p *Probe) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// LastRoundTrip returns the most recent round-trip time in milliseconds.
// The second return value is false before the first completed round trip
// and whenever the latest sample has been invalidated.
func (p *Probe) LastRoundTrip() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRTT, p.hasSample
}

// CurrentDisplay returns the value the rendering surface should show. It is
// a pure read: either spec.NoData or the latest round trip in milliseconds.
func (p *Probe) CurrentDisplay() string {
	rtt, ok := p.LastRoundTrip()
	if !ok {
		return spec.NoData
	}
	return strconv.FormatInt(rtt, 10) + " ms"
}

// loop is the probe's single thread of control.
//
// Liveness guarantees:
// 1) loop reacts to ctx cancellation on every iteration;
// 2) loop drains nothing on exit: the transport must not block on Acks
//    delivery when nobody is receiving;
// 3) loop closes |done| when it returns, so Disable never waits forever.
func (p *Probe) loop(ctx context.Context, done chan struct{}) {
	log := logging.Logger.WithField("probe", p.id)
	log.Debug("probe: start")
	defer log.Debug("probe: stop")
	defer func() {
		p.mu.Lock()
		p.armed = false
		p.pending = 0
		p.mu.Unlock()
		metrics.ProbesActive.Dec()
		close(done)
	}()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	expiry := time.NewTimer(p.timeout)
	stopTimer(expiry)
	defer expiry.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, expiry)
		case echoed, ok := <-p.transport.Acks():
			if !ok {
				log.Warn("probe: transport closed")
				return
			}
			p.handleAck(echoed)
		case <-expiry.C:
			p.expire()
		}
	}
}

// tick captures the dispatch timestamp and sends it on the transport. The
// timestamp is read from the clock here, at dispatch time, not when the
// timer was registered. A previous unacknowledged tick is simply
// superseded: correlation tracks the newest dispatch only.
func (p *Probe) tick(ctx context.Context, expiry *time.Timer) {
	p.mu.Lock()
	if !p.armed {
		p.mu.Unlock()
		return
	}
	sentAtMs := p.clock().UnixMilli()
	p.pending = sentAtMs
	p.mu.Unlock()
	metrics.Ticks.Inc()
	if err := p.transport.Send(ctx, sentAtMs); err != nil {
		logging.Logger.WithError(err).Warn("probe: transport.Send failed")
		metrics.TickErrors.Inc()
		p.mu.Lock()
		p.pending = 0
		p.hasSample = false
		p.mu.Unlock()
		stopTimer(expiry)
		return
	}
	stopTimer(expiry)
	expiry.Reset(p.timeout)
}

// handleAck correlates an echoed timestamp with the in-flight tick and, on a
// match, records the elapsed time. Acknowledgements that arrive after the
// probe was disabled, or that belong to a superseded tick, are discarded.
func (p *Probe) handleAck(echoed int64) {
	now := p.clock().UnixMilli()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.armed {
		metrics.Acks.WithLabelValues("disabled").Inc()
		return
	}
	if echoed != p.pending {
		metrics.Acks.WithLabelValues("stale").Inc()
		return
	}
	p.pending = 0
	elapsed := now - echoed
	if elapsed < 0 {
		// The local clock stepped backwards between dispatch and ack.
		p.hasSample = false
		metrics.Acks.WithLabelValues("negative").Inc()
		logging.Logger.Warn("probe: clock went backwards, discarding sample")
		return
	}
	p.lastRTT = elapsed
	p.hasSample = true
	metrics.Acks.WithLabelValues("ok").Inc()
	metrics.RTT.Observe(float64(elapsed) / 1000)
}

// expire abandons the in-flight tick. Showing an ever-staler number is
// worse than admitting there is no data; the next tick retries naturally.
func (p *Probe) expire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == 0 {
		return
	}
	p.pending = 0
	p.hasSample = false
	metrics.Timeouts.Inc()
	logging.Logger.Debug("probe: tick abandoned after timeout")
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
