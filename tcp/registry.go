package tcp

import (
	"bytes"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/rs/xid"
	"golang.org/x/time/rate"

	"github.com/zephyrproject-rtos/tcp2go/internal"
)

// pool is a [sync.Pool] like allocator of [Conn] values used by the Registry
// to service new incoming connections without allocating in the hot path.
type pool interface {
	GetTCP() (*Conn, Value)
	PutTCP(*Conn)
}

// endpoint identifies a bound local port, independent of any particular
// remote peer. It is the unit the Registry tracks for wildcard (LISTEN)
// matching; an incoming segment that does not match any established
// four-tuple falls back to the endpoint bound to its destination port.
type endpoint struct {
	port uint16
	// incoming stores connections that are potential candidates for acceptance.
	incoming []*Conn
	// accepted stores all connections that have been accepted and are open.
	accepted []*Conn
}

// RegistryConfig configures a [Registry].
type RegistryConfig struct {
	// Pool supplies and reclaims Conn values. Required.
	Pool pool
	// SYNRateLimit bounds the rate of half-open connections accepted per
	// second across the whole registry, guarding against SYN floods. Zero
	// disables rate limiting.
	SYNRateLimit rate.Limit
	// SYNBurst is the burst size allowed by SYNRateLimit. Ignored if
	// SYNRateLimit is zero.
	SYNBurst int
	// Metrics, if non-nil, receives connection lifecycle counters.
	Metrics *Metrics
	Logger  *slog.Logger
	// Cookies, if non-nil, derives the responder's ISS for every new
	// half-open connection from a SYN cookie rather than the pool's
	// random ISS. This binds the ISS to the connection's four-tuple, so
	// a spoofed or replayed ACK from an attacker who never saw the
	// SYN-ACK cannot complete a handshake, without requiring the
	// Registry to track per-SYN state beyond what it already allocates
	// from Pool.
	Cookies *SYNCookieJar
	// Timers, if non-zero, overrides the retransmission/persist/keepalive
	// schedule applied to every connection the registry spawns off a
	// wildcard endpoint. Zero value leaves each connection's own
	// [DefaultTimerConfig].
	Timers TimerConfig
	// NoDelay disables Nagle coalescing (TCP_NODELAY) on every connection
	// the registry spawns.
	NoDelay bool
	// MaxHalfOpen bounds how many not-yet-established children (still in
	// or before SYN_RECEIVED) a single wildcard endpoint may hold
	// concurrently. Zero disables the bound. Once the bound is hit, the
	// oldest half-open child is evicted back to the Pool to admit the new
	// SYN, rather than dropping the new SYN itself.
	MaxHalfOpen int
}

// NewRegistryFromConfig builds a [RegistryConfig] from the operator-facing
// [Config] knobs and constructs the Registry, wiring cfg's timer and
// TCPNoDelay settings into every connection the registry subsequently
// spawns off a wildcard endpoint.
func NewRegistryFromConfig(cfg Config, p pool, metrics *Metrics, cookies *SYNCookieJar, log *slog.Logger) (*Registry, error) {
	return NewRegistry(RegistryConfig{
		Pool:        p,
		Metrics:     metrics,
		Cookies:     cookies,
		Logger:      log,
		Timers:      cfg.TimerConfig(),
		NoDelay:     cfg.TCPNoDelay,
		MaxHalfOpen: cfg.MaxHalfOpen,
	})
}

// Registry is the four-tuple endpoint registry described by the transport
// core: it dispatches inbound segments to the connection that exactly
// matches (local port, remote addr, remote port), falling back to a
// wildcard LISTEN endpoint bound only to the local port when no exact match
// exists. It is safe for concurrent use by multiple goroutines.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[uint16]*endpoint
	connID    uint64
	poolGet   func() (*Conn, Value)
	poolPut   func(*Conn)
	limiter   *rate.Limiter
	metrics   *Metrics
	cookies   *SYNCookieJar
	timers      TimerConfig
	noDelay     bool
	maxHalfOpen int
	logger
}

// NewRegistry constructs a Registry ready for use.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Pool == nil {
		return nil, errors.New("tcp: registry requires non-nil pool")
	}
	reg := &Registry{
		endpoints: make(map[uint16]*endpoint),
		poolGet:   cfg.Pool.GetTCP,
		poolPut:   cfg.Pool.PutTCP,
		metrics:   cfg.Metrics,
		cookies:   cfg.Cookies,
		timers:      cfg.Timers,
		noDelay:     cfg.NoDelay,
		maxHalfOpen: cfg.MaxHalfOpen,
		logger:      logger{log: cfg.Logger},
	}
	if cfg.SYNRateLimit > 0 {
		reg.limiter = rate.NewLimiter(cfg.SYNRateLimit, max(1, cfg.SYNBurst))
	}
	return reg, nil
}

// Listen registers a wildcard endpoint on port, accepting connections from
// any remote peer. Returns [ErrAddressInUse] if port is already registered.
func (reg *Registry) Listen(port uint16) error {
	if port == 0 {
		return errZeroDestination
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.endpoints[port]; exists {
		return ErrAddressInUse
	}
	reg.endpoints[port] = &endpoint{port: port}
	reg.connID++
	reg.debug("registry:listen", slog.Uint64("port", uint64(port)))
	if reg.metrics != nil {
		reg.metrics.endpointsActive.Inc()
	}
	return nil
}

// Unlisten removes the wildcard endpoint bound to port and returns any
// connections that were pending acceptance or already accepted to the pool.
func (reg *Registry) Unlisten(port uint16) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ep, ok := reg.endpoints[port]
	if !ok {
		return ErrNotBound
	}
	for _, c := range ep.incoming {
		if c != nil {
			reg.poolPut(c)
		}
	}
	for _, c := range ep.accepted {
		if c != nil {
			reg.poolPut(c)
		}
	}
	delete(reg.endpoints, port)
	reg.debug("registry:unlisten", slog.Uint64("port", uint64(port)))
	if reg.metrics != nil {
		reg.metrics.endpointsActive.Dec()
	}
	return nil
}

// NumberOfReadyToAccept returns how many established connections are
// waiting to be handed to the application on port via [Registry.Accept].
func (reg *Registry) NumberOfReadyToAccept(port uint16) int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ep, ok := reg.endpoints[port]
	if !ok {
		return 0
	}
	nready := 0
	for _, conn := range ep.incoming {
		if conn != nil && conn.State() == StateEstablished {
			nready++
		}
	}
	return nready
}

// Accept pops one established connection bound to port out of the incoming
// queue and hands it to the caller.
func (reg *Registry) Accept(port uint16) (*Conn, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ep, ok := reg.endpoints[port]
	if !ok {
		return nil, ErrNotBound
	}
	reg.maintainEndpoint(ep)
	for i, conn := range ep.incoming {
		if conn == nil || conn.State() != StateEstablished {
			continue
		}
		ep.accepted = append(ep.accepted, conn)
		ep.incoming[i] = nil
		reg.debug("registry:accept", slog.Uint64("port", uint64(port)))
		if reg.metrics != nil {
			reg.metrics.connsAccepted.Inc()
		}
		return conn, nil
	}
	return nil, errors.New("tcp: no connections available")
}

// Encapsulate implements the outbound half of a [StackNode]: it polls every
// tracked connection bound to port for a segment ready to be sent, in order
// of incoming (handshake-in-progress) then accepted.
func (reg *Registry) Encapsulate(port uint16, carrierData []byte, offsetToIP, offsetToFrame int) (int, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ep, ok := reg.endpoints[port]
	if !ok {
		return 0, net.ErrClosed
	}
	for i, conn := range ep.incoming {
		if conn == nil || conn.State() == StateEstablished {
			continue
		}
		n, err := conn.Encapsulate(carrierData, offsetToIP, offsetToFrame)
		if err != nil {
			err = reg.maintainConn(ep.incoming, i, err)
		}
		if n == 0 {
			continue
		}
		return n, err
	}
	for i, conn := range ep.accepted {
		if conn == nil {
			continue
		}
		n, err := conn.Encapsulate(carrierData, offsetToIP, offsetToFrame)
		if err != nil {
			err = reg.maintainConn(ep.accepted, i, err)
		}
		if n == 0 {
			continue
		}
		return n, err
	}
	return 0, nil
}

// Demux implements the inbound half of a [StackNode]: it routes an incoming
// TCP frame to the connection matching its (local port, remote addr, remote
// port) four-tuple exactly, falling back to spawning a new connection off
// the wildcard endpoint bound to the destination port when the segment is a
// bare SYN and none exists. Connections already in the exact-match state
// always take priority over the wildcard listener per section 4.1's
// precedence rule.
func (reg *Registry) Demux(carrierData []byte, tcpFrameOffset int) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	tfrm, err := NewFrame(carrierData[tcpFrameOffset:])
	if err != nil {
		return err
	}
	srcaddr, _, _, _, err := internal.GetIPAddr(carrierData)
	if err != nil {
		return err
	}
	dst := tfrm.DestinationPort()
	ep, ok := reg.endpoints[dst]
	if !ok {
		return errors.New("tcp: no endpoint bound to destination port")
	}
	src := tfrm.SourcePort()

	accepted := true
	demuxed, err := reg.tryDemux(ep.accepted, src, srcaddr, carrierData, tcpFrameOffset)
	if !demuxed {
		accepted = false
		demuxed, err = reg.tryDemux(ep.incoming, src, srcaddr, carrierData, tcpFrameOffset)
	}
	if demuxed {
		reg.debug("registry:demux", slog.Uint64("lport", uint64(dst)), slog.Uint64("rport", uint64(src)), slog.Bool("accepted", accepted))
		return err
	}

	// No connection matches this four-tuple exactly: fall back to spawning
	// a new half-open connection off the wildcard endpoint, but only for a
	// bare SYN and only if under the half-open rate budget.
	_, flags := tfrm.OffsetAndFlags()
	if flags != FlagSYN {
		return errPacketDrop
	}
	if reg.limiter != nil && !reg.limiter.Allow() {
		reg.debug("registry:syn-ratelimited", slog.Uint64("lport", uint64(dst)))
		if reg.metrics != nil {
			reg.metrics.synDropped.Inc()
		}
		return errPacketDrop
	}
	conn, iss := reg.poolGet()
	if conn == nil {
		reg.error("registry:no-free-conn")
		if reg.metrics != nil {
			reg.metrics.poolExhausted.Inc()
		}
		return errPacketDrop
	}
	if reg.cookies != nil {
		_, dstaddr, _, _, _ := internal.GetIPAddr(carrierData)
		clientISN := tfrm.Seq()
		iss = reg.cookies.MakeSYNCookie(dstaddr, srcaddr, dst, src, clientISN)
	}
	conn.diagID = xid.New()
	conn.h.SetTimerConfig(reg.timers)
	conn.h.SetNoDelay(reg.noDelay)
	err = conn.OpenListen(dst, iss)
	if err != nil {
		reg.poolPut(conn)
		reg.error("registry:open", slog.String("err", err.Error()))
		return err
	}
	err = conn.Demux(carrierData, tcpFrameOffset)
	if err != nil {
		reg.poolPut(conn)
		reg.error("registry:demux-new", slog.String("err", err.Error()))
		return errPacketDrop
	}
	reg.evictOldestHalfOpen(ep)
	ep.incoming = append(ep.incoming, conn)
	reg.debug("registry:demux-new", slog.Uint64("lport", uint64(dst)), slog.Uint64("rport", uint64(src)))
	if reg.metrics != nil {
		reg.metrics.connsOpened.Inc()
	}
	return nil
}

func (reg *Registry) tryDemux(conns []*Conn, remotePort uint16, remoteAddr, carrierData []byte, tcpFrameOffset int) (demuxed bool, err error) {
	idx := findConn(conns, remotePort, remoteAddr)
	if idx >= 0 {
		err := conns[idx].Demux(carrierData, tcpFrameOffset)
		if err != nil {
			err = reg.maintainConn(conns, idx, err)
		}
		return true, err
	}
	return false, nil
}

// evictOldestHalfOpen drops the oldest not-yet-established child of ep back
// to the pool once its half-open backlog has reached MaxHalfOpen, making
// room for the new SYN about to be appended to ep.incoming. A no-op when
// MaxHalfOpen is zero (unbounded) or the backlog is still under budget.
func (reg *Registry) evictOldestHalfOpen(ep *endpoint) {
	if reg.maxHalfOpen <= 0 {
		return
	}
	halfOpen := 0
	oldest := -1
	for i, c := range ep.incoming {
		if c == nil || c.State() == StateEstablished {
			continue
		}
		halfOpen++
		if oldest == -1 {
			oldest = i
		}
	}
	if halfOpen < reg.maxHalfOpen || oldest == -1 {
		return
	}
	reg.debug("registry:halfopen-evict", slog.Uint64("port", uint64(ep.port)))
	reg.poolPut(ep.incoming[oldest])
	ep.incoming[oldest] = nil
	if reg.metrics != nil {
		reg.metrics.connsClosed.Inc()
	}
}

func (reg *Registry) maintainEndpoint(ep *endpoint) {
	ep.accepted = internal.DeleteZeroed(ep.accepted)
	for i := range ep.incoming {
		if ep.incoming[i] == nil {
			continue
		}
		state := ep.incoming[i].State()
		if state > StateEstablished || state.IsClosed() {
			reg.poolPut(ep.incoming[i])
			ep.incoming[i] = nil
			if reg.metrics != nil {
				reg.metrics.connsClosed.Inc()
			}
		}
	}
	ep.incoming = internal.DeleteZeroed(ep.incoming)
}

func findConn(conns []*Conn, remotePort uint16, remoteAddr []byte) int {
	for i, conn := range conns {
		if conn == nil {
			continue
		}
		if remotePort == conn.RemotePort() && bytes.Equal(remoteAddr, conn.RemoteAddr()) {
			return i
		}
	}
	return -1
}

func (reg *Registry) maintainConn(conns []*Conn, idx int, err error) error {
	if err == net.ErrClosed {
		reg.poolPut(conns[idx])
		conns[idx] = nil
		if reg.metrics != nil {
			reg.metrics.connsClosed.Inc()
		}
		return nil // avoid closing endpoint entirely.
	}
	return err
}
