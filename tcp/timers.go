package tcp

import "time"

// TimerConfig holds the knobs that govern retransmission, persistence and
// idle-connection timers. All durations are wall-clock; the package never
// blocks on them; callers drive time forward by calling [Handler.Poll]
// from their own event loop.
type TimerConfig struct {
	// InitialRTO is the retransmission timeout used before any RTT sample
	// has been taken.
	InitialRTO time.Duration
	// MaxRTO caps the exponential backoff applied to the retransmission
	// timer after repeated timeouts.
	MaxRTO time.Duration
	// MaxRetries bounds how many consecutive retransmission timeouts are
	// tolerated before the connection is aborted.
	MaxRetries int
	// TimeWaitDuration is how long a connection lingers in TIME-WAIT
	// before being recycled. RFC 9293 recommends 2*MSL; 60s is the
	// conventional value used when MSL itself isn't tracked.
	TimeWaitDuration time.Duration
	// DelayedACKTimeout bounds how long an ACK can be withheld hoping to
	// piggyback on outgoing data, per the delayed-ACK algorithm (RFC 5681
	// section 4.2 references RFC 1122 4.2.3.2).
	DelayedACKTimeout time.Duration
	// FinWait2Timeout bounds how long a connection may sit in FIN-WAIT-2
	// without a local timer otherwise bounding it, guarding against a
	// remote that never sends its own FIN.
	FinWait2Timeout time.Duration
	// KeepaliveIdle is how long a connection must be idle before the
	// first keepalive probe is sent.
	KeepaliveIdle time.Duration
	// KeepaliveInterval is the spacing between subsequent keepalive
	// probes once probing has started.
	KeepaliveInterval time.Duration
	// KeepaliveProbes bounds the number of unanswered probes tolerated
	// before the connection is considered dead.
	KeepaliveProbes int
	// MaxPersistProbes bounds how many consecutive zero-window probes are
	// sent without the window reopening before the connection is
	// considered dead. Zero-window probing is otherwise unbounded, which
	// would let a peer that never reopens its window wedge the connection
	// open forever.
	MaxPersistProbes int
}

// DefaultTimerConfig returns the conventional BSD/Linux-derived defaults
// used when a Handler is not explicitly configured.
func DefaultTimerConfig() TimerConfig {
	return TimerConfig{
		InitialRTO:        1 * time.Second,
		MaxRTO:            60 * time.Second,
		MaxRetries:        12,
		TimeWaitDuration:  60 * time.Second,
		DelayedACKTimeout: 200 * time.Millisecond,
		FinWait2Timeout:   60 * time.Second,
		KeepaliveIdle:     7200 * time.Second,
		KeepaliveInterval: 75 * time.Second,
		KeepaliveProbes:   9,
		MaxPersistProbes:  12,
	}
}

// retransmitTimer implements a single outstanding RTO timer with exponential
// backoff, mirroring the doubling idiom of [internal.Backoff] but expressed
// as wall-clock deadlines rather than blocking sleeps, since the send/receive
// engines must never block on I/O or time.
type retransmitTimer struct {
	cfg      TimerConfig
	deadline time.Time
	current  time.Duration
	retries  int
	armed    bool
}

func (t *retransmitTimer) init(cfg TimerConfig) {
	*t = retransmitTimer{cfg: cfg}
}

// Arm (re)starts the timer from now using the base RTO, clearing any
// accumulated backoff. Called whenever a fresh segment is sent and there was
// previously nothing outstanding.
func (t *retransmitTimer) Arm(now time.Time) {
	t.current = t.cfg.InitialRTO
	t.retries = 0
	t.deadline = now.Add(t.current)
	t.armed = true
}

// Disarm stops the timer, called once all outstanding data has been acked.
func (t *retransmitTimer) Disarm() {
	t.armed = false
	t.retries = 0
}

// Expired reports whether the timer is armed and its deadline has passed. If
// it has, the backoff is doubled (capped at MaxRTO) and the timer rearmed,
// so repeated polling after expiry does not refire until the next deadline.
// The second return value is true once more than MaxRetries consecutive
// timeouts have elapsed, signaling the caller should abort the connection.
func (t *retransmitTimer) Expired(now time.Time) (expired, shouldAbort bool) {
	if !t.armed || now.Before(t.deadline) {
		return false, false
	}
	t.retries++
	if t.retries > t.cfg.MaxRetries {
		return true, true
	}
	t.current *= 2
	if t.current > t.cfg.MaxRTO {
		t.current = t.cfg.MaxRTO
	}
	t.deadline = now.Add(t.current)
	return true, false
}

// persistTimer implements the zero-window probe timer described in RFC 9293
// section 3.8.6.1: while the peer has advertised a zero window, the sender
// must periodically probe with one byte of data to learn when the window
// reopens, since a lost window-update ACK would otherwise deadlock the
// connection. Probing is bounded: after MaxPersistProbes consecutive probes
// with no sign of the window reopening, Due reports the connection dead
// rather than probing forever.
type persistTimer struct {
	cfg      TimerConfig
	deadline time.Time
	current  time.Duration
	probes   int
	armed    bool
}

func (t *persistTimer) init(cfg TimerConfig) {
	*t = persistTimer{cfg: cfg}
}

// Arm (re)starts probing from the base RTO. Called whenever the send
// window drops to zero with unacknowledged data outstanding; a call while
// already armed (the window is still zero) leaves the probe count and
// current backoff untouched.
func (t *persistTimer) Arm(now time.Time) {
	if !t.armed {
		t.current = t.cfg.InitialRTO
		t.probes = 0
	}
	t.armed = true
	t.deadline = now.Add(t.current)
}

// Disarm stops probing, called once the peer reopens its window.
func (t *persistTimer) Disarm() {
	t.armed = false
	t.probes = 0
}

// Due reports whether a probe should be sent now, rearming with doubled
// backoff exactly like the retransmission timer (bounded by MaxRTO). dead
// is true once MaxPersistProbes consecutive probes have gone by without the
// window reopening, signaling the caller should abort the connection.
func (t *persistTimer) Due(now time.Time) (probe, dead bool) {
	if !t.armed || now.Before(t.deadline) {
		return false, false
	}
	t.probes++
	if t.cfg.MaxPersistProbes > 0 && t.probes > t.cfg.MaxPersistProbes {
		return false, true
	}
	t.current *= 2
	if t.current > t.cfg.MaxRTO {
		t.current = t.cfg.MaxRTO
	}
	t.deadline = now.Add(t.current)
	return true, false
}

// keepaliveTimer tracks idle time on an established connection and the
// count of outstanding unanswered probes, per the conventional TCP
// keepalive algorithm (not part of RFC 9293 itself, see RFC 1122 4.2.3.6).
type keepaliveTimer struct {
	cfg        TimerConfig
	lastActive time.Time
	probesSent int
	enabled    bool
}

func (t *keepaliveTimer) init(cfg TimerConfig) {
	*t = keepaliveTimer{cfg: cfg}
}

// Enable turns keepalive probing on for the connection, resetting the idle
// clock to now.
func (t *keepaliveTimer) Enable(now time.Time) {
	t.enabled = true
	t.lastActive = now
	t.probesSent = 0
}

// Disable turns keepalive probing off, e.g. because the application
// disabled SO_KEEPALIVE or the connection closed.
func (t *keepaliveTimer) Disable() {
	t.enabled = false
	t.probesSent = 0
}

// Touch resets the idle clock; called whenever a segment is received from
// the peer.
func (t *keepaliveTimer) Touch(now time.Time) {
	t.lastActive = now
	t.probesSent = 0
}

// Due reports whether a keepalive probe should be sent now. dead is true
// once KeepaliveProbes consecutive probes have gone unanswered, at which
// point the caller should treat the connection as having timed out.
func (t *keepaliveTimer) Due(now time.Time) (shouldProbe, dead bool) {
	if !t.enabled {
		return false, false
	}
	idleFor := now.Sub(t.lastActive)
	threshold := t.cfg.KeepaliveIdle + time.Duration(t.probesSent)*t.cfg.KeepaliveInterval
	if idleFor < threshold {
		return false, false
	}
	t.probesSent++
	if t.probesSent > t.cfg.KeepaliveProbes {
		return false, true
	}
	return true, false
}

// delayedACKTimer implements the delayed-ACK policy: a first in-order data
// segment arms a short delay hoping the ACK can piggyback on a reply or
// further data; a second in-order segment, a FIN, or an out-of-order
// segment bypasses the delay entirely (the caller forces an immediate ACK
// instead of arming or re-arming this timer). Only one deadline is ever
// outstanding at a time, mirroring the single-ACK-per-window behavior of
// the classic BSD implementation.
type delayedACKTimer struct {
	cfg      TimerConfig
	deadline time.Time
	armed    bool
}

func (t *delayedACKTimer) init(cfg TimerConfig) {
	*t = delayedACKTimer{cfg: cfg}
}

// Arm starts the delay for a first in-order segment. A call while already
// armed is a no-op, since by policy a second in-order segment should force
// an immediate ACK rather than push the deadline further out.
func (t *delayedACKTimer) Arm(now time.Time) {
	if t.armed {
		return
	}
	t.armed = true
	t.deadline = now.Add(t.cfg.DelayedACKTimeout)
}

// Disarm cancels the pending delay, called once the ACK it was holding has
// been sent by some other means (piggybacked or forced immediate).
func (t *delayedACKTimer) Disarm() {
	t.armed = false
}

// Due reports whether the delay has elapsed and a withheld ACK should now
// be sent.
func (t *delayedACKTimer) Due(now time.Time) bool {
	if !t.armed || now.Before(t.deadline) {
		return false
	}
	t.armed = false
	return true
}
