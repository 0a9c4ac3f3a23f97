package tcp

import (
	"errors"
	"io"
	"net"
	"time"

	"log/slog"

	"github.com/zephyrproject-rtos/tcp2go/internal"
)

var (
	errMismatchedSrcPort = errors.New("source port mismatch")
	errMismatchedDstPort = errors.New("destination port mismatch")
)

// Handler is a low level TCP handling data structure. It implements logic
// related to data buffering, frame sequencing and connection state handling.
// Does NOT implement IP related logic, so no CRC calculation/validation or pseudo header logic.
// Keeps the retransmission, persist, keepalive and delayed-ACK timers but never blocks on time:
// they are driven by the caller through [Handler.Poll].
//
// See [Conn] for a higher level abstraction of a TCP connection, and see [ControlBlock] for the lower level bits of a TCP connection.
type Handler struct {
	connid uint64
	scb    ControlBlock
	bufTx  ringTx
	bufRx  internal.Ring
	logger
	validator  Validator
	localPort  uint16
	remotePort uint16
	// connid is a conenction counter that is incremented each time a new
	// connection is established via Open calls. This disambiguate's whether
	// Read and Write calls belong to the current connection.

	optcodec OptionCodec
	closing  bool

	// congestion, rto, persist and keepalive implement the send engine's
	// policy layer described in timers.go/congestion.go: window growth,
	// loss response, and the wall-clock timers that drive retransmission,
	// zero-window probing and idle-connection detection. They sit above
	// the RFC 9293 state machine in scb, not inside it.
	congestion congestionState
	timerCfg   TimerConfig
	rto        retransmitTimer
	persist    persistTimer
	keepalive  keepaliveTimer
	delayedACK delayedACKTimer
	// reasm buffers segments that arrive ahead of scb's expected sequence
	// number, since scb itself only accepts strictly sequential segments.
	reasm   reassembler
	metrics *Metrics
	// fastRetransmit is set by updateCongestionOnRecv when three duplicate
	// ACKs have been observed, telling the next Send call to resend the
	// oldest unacknowledged segment immediately rather than waiting for
	// the retransmission timer.
	fastRetransmit bool
	// noDelay disables the Nagle algorithm's coalescing of small writes
	// (TCP_NODELAY) when true. Default false, per conventional sockets.
	noDelay bool
	// peerMSS and peerWindowScale record the options negotiated on the
	// peer's SYN, used only to size the congestion window's starting
	// point and report the negotiated shift; unrecognized option kinds
	// found alongside them are ignored rather than rejected.
	peerMSS         uint16
	peerWindowScale uint8
}

// PeerMSS returns the maximum segment size advertised by the peer's SYN, or
// 0 if none was negotiated (a peer free to send a segment of any size that
// fits the send buffer).
func (h *Handler) PeerMSS() uint16 { return h.peerMSS }

// PeerWindowScale returns the window scale shift advertised by the peer's
// SYN, or 0 if the option was absent.
func (h *Handler) PeerWindowScale() uint8 { return h.peerWindowScale }

// parseSYNOptions records the MSS and window scale carried on a SYN
// segment's options, ignoring any other option kind it does not
// recognize so a peer's unrelated options (SACK permitted, timestamps,
// authentication, ...) never cause the SYN to be rejected.
func (h *Handler) parseSYNOptions(tfrm Frame) {
	opts := tfrm.Options()
	if len(opts) == 0 {
		return
	}
	codec := OptionCodec{Flags: OptFlagSkipSizeValidation}
	err := codec.ForEachOption(opts, func(kind OptionKind, data []byte) error {
		switch kind {
		case OptMaxSegmentSize:
			if len(data) == 2 {
				h.peerMSS = uint16(data[0])<<8 | uint16(data[1])
			}
		case OptWindowScale:
			if len(data) == 1 {
				h.peerWindowScale = data[0]
			}
		}
		return nil
	})
	if err != nil {
		h.debug("tcp.Handler:rx-synopt-malformed", slog.Uint64("port", uint64(h.localPort)), slog.String("err", errstr(err)))
	}
}

// SetNoDelay toggles the Nagle algorithm (RFC 896) for this connection. With
// noDelay false (the default, Nagle active), Send withholds sub-MSS segments
// while other data is still unacknowledged, trading latency for fewer,
// fuller packets. With noDelay true (TCP_NODELAY) Send sends every available
// byte immediately.
func (h *Handler) SetNoDelay(noDelay bool) { h.noDelay = noDelay }

// SetMetrics attaches a Prometheus collector set used to report congestion
// window and slow-start threshold changes. Passing nil disables reporting.
func (h *Handler) SetMetrics(m *Metrics) { h.metrics = m }

// SetTimerConfig overrides the default retransmission/persist/keepalive
// timing parameters. Must be called before Open{Active,Listen}.
func (h *Handler) SetTimerConfig(cfg TimerConfig) { h.timerCfg = cfg }

func (h *Handler) SetLoggers(handler, scb *slog.Logger) {
	h.logger.log = handler
	h.scb.logger.log = scb
}

// ConnectionID returns the connection identifier which is incremented every time the connection is closed or open.
func (h *Handler) ConnectionID() *uint64 {
	return &h.connid
}

// State returns the state of the TCP state machine as per RFC9293. See [State].
func (h *Handler) State() State { return h.scb.State() }

// SetBuffers sets the internal buffers used to receive and transmit bytes asynchronously via [Handler.Write] and [Handler.Read] calls.
// If the argument buffer is nil then the respective currently set buffer will be reused.
func (h *Handler) SetBuffers(txbuf, rxbuf []byte, packets int) error {
	if h.bufRx.Buf == nil && (len(rxbuf) < minBufferSize || len(txbuf) < minBufferSize) {
		return errors.New("tcp: short buffer")
	}
	if !h.scb.State().IsClosed() {
		return errors.New("tcp.Handler must be closed before setting buffers")
	}
	if rxbuf != nil {
		h.bufRx.Buf = rxbuf
	}
	h.scb.SetRecvWindow(Size(h.bufRx.Size()))
	h.bufRx.Reset()
	return h.bufTx.ResetOrReuse(txbuf, packets, 0)
}

// LocalPort returns the local port of the connection. Returns 0 if the connection is closed and uninitialized.
func (h *Handler) LocalPort() uint16 {
	return h.localPort
}

// RemotePort returns the remote port of the connection if it is set.
// If the connection is passive and has not yet been established it will return 0.
func (h *Handler) RemotePort() uint16 {
	return h.remotePort
}

// OpenActive opens an "active" TCP connection to a known remote port. The caller holds knowledge of the IP address.
// OpenActive is used by TCP Clients to initiate a connection.
func (h *Handler) OpenActive(localPort, remotePort uint16, iss Value) error {
	if remotePort == 0 {
		return errZeroDestination
	} else if h.bufRx.Size() < minBufferSize || h.bufTx.Size() < minBufferSize {
		return errBufferTooSmall
	} else if h.scb.State() != StateClosed && h.scb.State() != StateTimeWait {
		return errNeedClosedTCBToOpen
	}
	// reset/Abort prepares a SCB for active connection by resetting state to closed.
	h.scb.reset()
	h.reset(localPort, remotePort, iss)
	h.scb.SetRecvWindow(Size(h.bufRx.Size()))
	h.initEngine()
	return nil
}

// OpenListen prepares a passive TCP connection where the Handler acts as a server.
// OpenListen is used by TCP Servers to begin listening for remote connections.
func (h *Handler) OpenListen(localPort uint16, iss Value) error {
	if localPort == 0 {
		return errZeroSource
	} else if h.bufRx.Size() < minBufferSize || h.bufTx.Size() < minBufferSize {
		return errBufferTooSmall
	}
	// Open will fail unless SCB in closed state.
	err := h.scb.Open(iss, Size(h.bufRx.Size()))
	if err != nil {
		return err
	}
	h.reset(localPort, 0, iss)
	h.initEngine()
	return nil
}

// initEngine (re)starts the congestion, timer and reassembly state used by
// the send/receive engine layered on top of the state machine. Called once
// the underlying ControlBlock has been opened so buffer sizes are final.
func (h *Handler) initEngine() {
	cfg := h.timerCfg
	if cfg == (TimerConfig{}) {
		cfg = DefaultTimerConfig()
		h.timerCfg = cfg
	}
	h.congestion.init(defaultMSS, h.metrics)
	h.rto.init(cfg)
	h.persist.init(cfg)
	h.keepalive.init(cfg)
	h.delayedACK.init(cfg)
	h.reasm.init(h.bufRx.Size())
}

// recvWindowFloor is the silly-window-syndrome avoidance floor used by
// recomputeRecvWindow: min(peer MSS, buffer capacity/2), per Clark's
// algorithm. Falls back to defaultMSS before the peer's SYN options (if
// any) have been parsed.
func (h *Handler) recvWindowFloor() Size {
	mss := Size(h.peerMSS)
	if mss == 0 {
		mss = defaultMSS
	}
	half := Size(h.bufRx.Size()) / 2
	if half < mss {
		return half
	}
	return mss
}

// recomputeRecvWindow updates the advertised receive window to match
// current buffer occupancy. A shrink (the buffer filling) is always
// reflected immediately, since a receiver must never go back on a
// previously advertised window; a growth (the buffer draining) is only
// advertised once it clears recvWindowFloor, per Clark's silly-window-
// syndrome avoidance algorithm, to avoid dribbling out a string of tiny
// window updates. An empty buffer always advertises its full free space.
func (h *Handler) recomputeRecvWindow() {
	free := Size(h.bufRx.Free())
	current := h.scb.RecvWindow()
	switch {
	case free == 0:
		h.scb.SetRecvWindow(0)
	case h.bufRx.Buffered() == 0:
		h.scb.SetRecvWindow(free)
	case free < current:
		h.scb.SetRecvWindow(free)
	case free-current >= h.recvWindowFloor():
		h.scb.SetRecvWindow(free)
	}
}

// defaultMSS is used to size the initial congestion window before the peer's
// MSS option (if any) has been negotiated.
const defaultMSS = 536

// Abort forcibly terminates all state associated to current connection.
// After a call to abort no more data can be sent nor received over the connection.
func (h *Handler) Abort() {
	h.info("tcp.Handler.Abort")
	h.scb.Abort()
	h.reset(0, 0, 0)
}

func (h *Handler) reset(localPort, remotePort uint16, iss Value) {
	*h = Handler{
		connid:     h.connid + 1,
		scb:        h.scb,
		bufTx:      h.bufTx,
		bufRx:      h.bufRx,
		localPort:  localPort,
		remotePort: remotePort,
		validator:  h.validator,
		logger:     h.logger,
		closing:    false,
		timerCfg:   h.timerCfg,
		metrics:    h.metrics,
		noDelay:    h.noDelay,
	}
	h.bufTx.ResetOrReuse(nil, 0, iss)
	h.bufRx.Reset()
}

// Recv receives an incoming TCP packet frame with the first byte being the first octet of the TCP frame.
// The [Handler]'s internal state is updated if the packet is admitted successfully.
func (h *Handler) Recv(incomingPacket []byte) error {
	if h.IsTxOver() {
		return net.ErrClosed
	}
	tfrm, err := NewFrame(incomingPacket)
	if err != nil {
		return err
	}
	tfrm.ValidateExceptCRC(&h.validator)
	err = h.validator.ErrPop()
	if err != nil {
		return err
	}

	remotePort := tfrm.SourcePort()
	if h.remotePort != 0 && remotePort != h.remotePort {
		return errMismatchedSrcPort
	}
	dstPort := tfrm.DestinationPort()
	if h.localPort != dstPort {
		return errMismatchedDstPort
	}
	payload := tfrm.Payload()
	if len(payload) > h.bufRx.Free() {
		return errors.New("rx buffer full")
	}
	segIncoming := tfrm.Segment(len(payload))
	if segIncoming.Flags.HasAny(FlagSYN) {
		h.parseSYNOptions(tfrm)
	}
	if h.scb.IncomingIsKeepalive(segIncoming) {
		h.info("tcp.Handler:rx-keepalive", slog.Uint64("port", uint64(h.localPort)))
		h.keepalive.Touch(now())
		return nil
	}
	prevState := h.scb.State()
	prevUNA := h.scb.snd.UNA
	err = h.scb.Recv(segIncoming)
	if err == errRequireSequential && segIncoming.DATALEN > 0 {
		// Segment arrived ahead of the expected sequence number: hold it
		// in the reassembly queue instead of dropping it outright.
		if h.reasm.Insert(segIncoming.SEQ, payload) {
			h.debug("tcp.Handler:rx-outoforder", slog.Uint64("port", uint64(h.localPort)), slog.Uint64("seq", uint64(segIncoming.SEQ)))
			// Out-of-order segments always force an immediate ACK rather
			// than arming the delayed-ACK timer, so the peer learns about
			// the gap without waiting.
			h.delayedACK.Disarm()
			h.scb.RequestAck()
			return nil
		}
		return err
	}
	if err != nil {
		if h.scb.State() == StateClosed {
			// TODO(soypat): Should return EOF/ErrClosed?
			err = err // Connection closed by reset.
		}
		return err
	}
	if h.scb.State() == StateClosed {
		// TCB aborted, likely because it received an ACK in LastAck state.
		// Clean up connection now unless read pending.
		return net.ErrClosed
	}
	if prevState != h.scb.State() {
		h.info("tcp.Handler:rx-statechange", slog.Uint64("port", uint64(h.localPort)), slog.String("old", prevState.String()), slog.String("new", h.scb.State().String()), slog.String("rxflags", segIncoming.Flags.String()))
		if h.scb.State() == StateEstablished {
			h.keepalive.Enable(now())
		}
	}
	h.keepalive.Touch(now())
	if h.metrics != nil {
		h.metrics.segsReceived.Inc()
	}
	h.updateCongestionOnRecv(segIncoming, prevUNA)
	if h.scb.snd.WND == 0 && (h.bufTx.Buffered() > 0 || h.bufTx.BufferedSent() > 0) {
		h.persist.Arm(now())
	} else {
		h.persist.Disarm()
	}
	if segIncoming.DATALEN != 0 {
		_, err = h.bufRx.Write(payload)
		if err != nil {
			return err
		}
		h.recomputeRecvWindow()
	}
	switch {
	case segIncoming.Flags.HasAny(FlagFIN):
		// A FIN is always ACKed without delay.
		h.delayedACK.Disarm()
		h.scb.RequestAck()
	case segIncoming.DATALEN > 0:
		if h.delayedACK.armed {
			// Second in-order segment since the last ACK: stop waiting.
			h.delayedACK.Disarm()
			h.scb.RequestAck()
		} else {
			h.delayedACK.Arm(now())
		}
	}
	h.drainReassembly()
	if segIncoming.Flags.HasAny(FlagSYN) && h.remotePort == 0 {
		// Remote reached out and has given us their port, set it on our side.
		h.debug("tcp.Handler:rx-remoteport-set", slog.Uint64("port", uint64(h.localPort)), slog.Uint64("remoteport", uint64(remotePort)))
		h.remotePort = remotePort
	}
	if h.logenabled(internal.LevelTrace) {
		h.trace("tcp.Handler:rx-done", slog.Uint64("port", uint64(h.localPort)), slog.Uint64("remoteport", uint64(remotePort)), slog.String("seg", segIncoming.String()))
	}
	return nil
}

// updateCongestionOnRecv folds an accepted incoming segment's ACK into the
// congestion controller and the retransmission timer: newly acknowledged
// data grows the window and restarts the timer for whatever remains
// in-flight, while a duplicate ACK on established data counts toward fast
// retransmit.
func (h *Handler) updateCongestionOnRecv(seg Segment, prevUNA Value) {
	if !seg.Flags.HasAny(FlagACK) {
		return
	}
	acked := Sizeof(prevUNA, h.scb.snd.UNA)
	if acked > 0 {
		h.congestion.onNewAck(acked, h.scb.snd.UNA)
		if h.bufTx.BufferedSent() == 0 {
			h.rto.Disarm()
		} else {
			h.rto.Arm(now())
		}
		return
	}
	if h.scb.State() == StateEstablished && seg.DATALEN == 0 {
		if h.metrics != nil {
			h.metrics.segsDupAck.Inc()
		}
		if h.congestion.onDupAck(h.scb.snd.UNA, h.scb.snd.inFlight()) {
			h.fastRetransmit = true
		}
	}
}

// drainReassembly releases buffered out-of-order fragments once scb's
// expected receive sequence catches up to their start.
func (h *Handler) drainReassembly() {
	for {
		data, ok := h.reasm.Pop(h.scb.RecvNext())
		if !ok {
			return
		}
		seg := Segment{SEQ: h.scb.RecvNext(), ACK: h.scb.snd.NXT, DATALEN: Size(len(data)), WND: h.scb.RecvWindow(), Flags: FlagACK}
		if err := h.scb.Recv(seg); err != nil {
			h.debug("tcp.Handler:rx-reassembly-drop", slog.String("err", errstr(err)))
			return
		}
		if _, err := h.bufRx.Write(data); err != nil {
			h.logerr("tcp.Handler:rx-reassembly-write", slog.String("err", errstr(err)))
			return
		}
		h.recomputeRecvWindow()
		// Delivering reassembled data resolves a prior out-of-order gap;
		// force an immediate ACK rather than leave one delayed.
		h.delayedACK.Disarm()
		h.scb.RequestAck()
	}
}

func now() time.Time { return time.Now() }

func (h *Handler) Close() error {
	h.trace("tcp.Handler.Close")
	if h.closing {
		return errConnectionClosing
	} else if h.State().IsClosed() {
		return net.ErrClosed
	}
	h.closing = true
	return nil
}

// Send writes TCP frame to be sent over the network to the remote peer to `b`.
// It does no IP interfacing or CRC calculation of packet, which is left to the caller to perform.
// The returned integer is the length written to the argument buffer.
func (h *Handler) Send(b []byte) (int, error) {
	h.trace("tcp.Handler:start", slog.Uint64("port", uint64(h.localPort)))
	if h.IsTxOver() {
		return 0, net.ErrClosed
	}
	tfrm, err := NewFrame(b)
	if err != nil {
		return 0, err
	}
	buffered := h.bufTx.Buffered()
	if buffered == 0 && h.closing {
		// If Close called and no more data to be sent, terminate connection!
		h.closing = false
		err = h.scb.Close()
		if err != nil {
			h.logerr("tcp.Handler.Close", slog.String("err", errstr(err)), slog.String("state", h.State().String()))
			h.Abort()
			return 0, io.EOF
		}
	}
	offset := uint8(5)
	var segment Segment
	if h.AwaitingSynSend() {
		// Handling init syn segment.
		segment = ClientSynSegment(h.bufTx.iss, Size(h.bufRx.Size()))
		h.optcodec.PutOption16(b[sizeHeaderTCP:], OptMaxSegmentSize, uint16(len(b)))
		offset++
	} else {
		haveSegment := false
		if h.fastRetransmit {
			h.fastRetransmit = false
			seq, n, ok := h.bufTx.OldestUnacked(b[sizeHeaderTCP:])
			if ok {
				segment = Segment{SEQ: seq, ACK: h.scb.RecvNext(), DATALEN: Size(n), WND: h.scb.RecvWindow(), Flags: FlagACK}
				haveSegment = true
				if h.metrics != nil {
					h.metrics.segsRetransmit.Inc()
				}
				h.debug("tcp.Handler:tx-fastretransmit", slog.Uint64("port", uint64(h.localPort)), slog.Uint64("seq", uint64(seq)), slog.Int("n", n))
			}
		}
		if !haveSegment {
			var ok bool
			available := min(buffered, len(b)-sizeHeaderTCP)
			available = int(h.congestion.usableWindow(Size(available)))
			if !h.noDelay && available > 0 && available < int(defaultMSS) && h.bufTx.BufferedSent() > 0 {
				// Nagle: hold back a small write while earlier data is
				// still unacknowledged, rather than dribbling out
				// undersized segments.
				available = 0
			}
			segment, ok = h.scb.PendingSegment(available)
			if !ok {
				// No pending control segment or data to send. Yield.
				return 0, nil
			}
			if available > 0 {
				n, err := h.bufTx.MakePacket(b[sizeHeaderTCP:sizeHeaderTCP+segment.DATALEN], segment.SEQ)
				if err != nil {
					return 0, err
				} else if n != int(segment.DATALEN) {
					panic("expected n == available")
				}
			} else if segment.Flags == synack {
				h.optcodec.PutOption16(b[sizeHeaderTCP:], OptMaxSegmentSize, uint16(len(b)))
				offset++
			}
		}
	}
	prevState := h.scb.State()
	err = h.scb.Send(segment)
	if err != nil {
		return 0, err
	} else if prevState != h.scb.State() && h.logenabled(slog.LevelInfo) {
		h.info("tcp.Handler:tx-statechange", slog.Uint64("port", uint64(h.localPort)), slog.String("oldState", prevState.String()), slog.String("newState", h.scb.State().String()), slog.String("txflags", segment.Flags.String()))
	}
	if segment.DATALEN > 0 && !h.rto.armed {
		h.rto.Arm(now())
	}
	if h.metrics != nil {
		h.metrics.segsSent.Inc()
	}
	tfrm.SetSourcePort(h.localPort)
	tfrm.SetDestinationPort(h.remotePort)
	tfrm.SetSegment(segment, offset)
	tfrm.SetUrgentPtr(0)
	datalen := int(offset)*4 + int(segment.DATALEN)
	closedSuccess := prevState == StateTimeWait && segment.Flags.HasAny(FlagACK)
	if closedSuccess {
		h.reset(0, 0, 0)
	}
	return datalen, nil
}

// FreeTx returns the amount of space free in the transmit buffer. A call to [Handler.Write] with a larger buffer will fail.
func (h *Handler) FreeTx() int {
	return h.bufTx.Free()
}

// FreeRx returns the amount of space free in the receive buffer.
func (h *Handler) FreeRx() int {
	return h.bufRx.Free()
}

// SizeRx returns the size of the TCP receive ring buffer.
func (h *Handler) SizeRx() int {
	return h.bufRx.Size()
}

// Write implements [io.Writer] by copying b to a internal buffer to be sent over the network on the next
// [Handler.Send] call that can send data to remote peer. Use [Handler.Free] to know the maximum length the argument slice can be before erroring.
func (h *Handler) Write(b []byte) (int, error) {
	state := h.State()
	if h.closing {
		return 0, errConnectionClosing
	} else if !state.TxDataOpen() { // Reject write call if data cannot be sent.
		return 0, net.ErrClosed
	}
	return h.bufTx.Write(b)
}

// Read implements [io.Reader] by reading received data from remote peer in internal buffer.
func (h *Handler) Read(b []byte) (n int, err error) {
	if h.bufRx.Buffered() > 0 {
		n, err = h.bufRx.Read(b)
		if n > 0 {
			h.recomputeRecvWindow()
		}
	}
	if n == 0 && err == nil {
		state := h.State()
		if state.IsClosed() {
			err = net.ErrClosed
		} else if !state.RxDataOpen() {
			err = io.EOF
		}
	}
	return n, err
}

// BufferedInput returns amount of bytes buffered in receive(input) buffer and ready to read
// with a [Handler.Read] call.
func (h *Handler) BufferedInput() int {
	return h.bufRx.Buffered()
}

// Buffered is an alias of [Handler.BufferedInput].
func (h *Handler) Buffered() int {
	return h.bufRx.Buffered()
}

// BufferedUnsent returns the number of bytes in the socket's transmit(output) buffer
// that has yet to be sent.
func (h *Handler) BufferedUnsent() int {
	return h.bufTx.Buffered()
}

// AvailableOutput returns amount of bytes available to write to output
// before [Handler.Write] returns an error.
func (h *Handler) AvailableOutput() int {
	return h.bufTx.Free()
}

// AwaitingSynResponse returns true if the Handler is an active client opened with [Handler.OpenActive] and has already sent out the first SYN packet to the remote client.
func (h *Handler) AwaitingSynResponse() bool {
	return h.remotePort != 0 && h.scb.State() == StateSynSent
}

// AwaitingSynAck returns true if the Handler is a passive server opened with [Handler.OpenListen] and not yet received a valid SYN remote packet.
func (h *Handler) AwaitingSynAck() bool {
	return h.remotePort == 0 && h.scb.State() == StateListen
}

// AwaitingSynSend returns true if the Handler is an active client opened with [Handler.OpenActive] and not yet sent out the first SYN packet to the remote client.
func (h *Handler) AwaitingSynSend() bool {
	return h.remotePort != 0 && h.scb.State() == StateClosed
}

// IsTxOver returns true if there is no more frames to encapsulate over the network.
// The connection is pretty much over in this case if packets made it succesfully to remote.
func (h *Handler) IsTxOver() bool {
	state := h.State()
	return state == StateClosed && !h.AwaitingSynSend() ||
		state == StateTimeWait && !h.scb.HasPending()
}

// Poll drives the wall-clock timers that the send/receive engine cannot
// service on its own: retransmission on RTO, zero-window probing, and
// keepalive. It must be called periodically (e.g. once per event loop tick)
// by whatever owns the Handler; Handler itself never blocks on time.
//
// abort is true if the retransmission timer exhausted its retry budget, the
// persist timer ran out of zero-window probes, or keepalive found the peer
// dead, and the connection should be torn down. probe is true if an RTO
// retransmission, a zero-window probe or a keepalive probe should be sent on
// the next Send call. A due delayed ACK is queued on the control block.
func (h *Handler) Poll(t time.Time) (abort, probe bool) {
	if expired, shouldAbort := h.rto.Expired(t); expired {
		if shouldAbort {
			return true, false
		}
		h.congestion.onRTO(h.scb.snd.inFlight())
		h.fastRetransmit = true // reuse the fast-retransmit path to resend the oldest segment.
		probe = true
	}
	if persistDue, persistDead := h.persist.Due(t); persistDead {
		return true, false
	} else if persistDue {
		probe = true
	}
	if shouldProbe, dead := h.keepalive.Due(t); dead {
		return true, false
	} else if shouldProbe {
		probe = true
	}
	if h.delayedACK.Due(t) {
		h.scb.RequestAck()
	}
	return false, probe
}

func errstr(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
