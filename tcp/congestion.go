package tcp

// congestionState implements the Reno congestion control algorithm described
// in RFC 5681: slow start, congestion avoidance, fast retransmit and fast
// recovery. It tracks state purely in terms of byte counts in sequence
// space, mirroring the ISS/UNA/NXT bookkeeping ControlBlock already performs
// for flow control, but kept as a separate component since congestion
// control is a policy layered on top of (not inside) the RFC 9293 state
// machine.
type congestionState struct {
	// cwnd is the sender's congestion window, in bytes.
	cwnd Size
	// ssthresh is the slow-start threshold; below it the window grows
	// exponentially (slow start), above it linearly (congestion avoidance).
	ssthresh Size
	// mss is the negotiated maximum segment size, used as the unit of
	// window growth per the RFC 5681 "SMSS" parameter.
	mss Size
	// dupAcks counts consecutive duplicate ACKs seen for the current
	// highest acknowledged sequence number. Three dup ACKs trigger fast
	// retransmit.
	dupAcks    uint8
	lastAckSeq Value
	// recovering is true while in fast-recovery, i.e. between a fast
	// retransmit and the ACK that covers the retransmitted segment.
	recovering  bool
	recoverySeq Value
	metrics     *Metrics
}

const dupAckThreshold = 3

// init resets congestion state for a new connection. The starting
// point is one MSS for cwnd and 64 MSS for ssthresh, not RFC 5681's IW
// formula (min(4*MSS, max(2*MSS, 4380 bytes))) and effectively-unbounded
// ssthresh: slow start still doubles cwnd every round trip from here, it
// just starts a few segments smaller and hits congestion avoidance sooner.
func (cs *congestionState) init(mss Size, metrics *Metrics) {
	if mss == 0 {
		mss = 536
	}
	*cs = congestionState{
		mss:      mss,
		cwnd:     mss,
		ssthresh: 64 * mss,
		metrics:  metrics,
	}
	cs.report()
}

// usableWindow returns the number of bytes the sender is permitted to have
// in flight right now, i.e. min(cwnd, snd.WND).
func (cs *congestionState) usableWindow(advertised Size) Size {
	if cs.cwnd < advertised {
		return cs.cwnd
	}
	return advertised
}

// onNewAck is called whenever an incoming segment acknowledges new data
// (seg.ACK advances snd.UNA). ackedBytes is the number of previously
// unacknowledged bytes just confirmed.
func (cs *congestionState) onNewAck(ackedBytes Size, ackSeq Value) {
	if ackedBytes == 0 {
		return
	}
	if cs.recovering && !ackSeq.LessThan(cs.recoverySeq) {
		// Full acknowledgment of the retransmitted segment: exit fast recovery,
		// deflating cwnd to ssthresh with no further growth on this ACK.
		cs.recovering = false
		cs.cwnd = cs.ssthresh
		cs.dupAcks = 0
		cs.lastAckSeq = ackSeq
		cs.report()
		return
	}
	cs.dupAcks = 0
	cs.lastAckSeq = ackSeq
	if cs.cwnd < cs.ssthresh {
		// Slow start: grow by one MSS per ACK'd segment.
		cs.cwnd += min32(ackedBytes, cs.mss)
	} else {
		// Congestion avoidance: grow by roughly MSS^2/cwnd per ACK, i.e.
		// one MSS per round trip.
		inc := (cs.mss * cs.mss) / cs.cwnd
		if inc == 0 {
			inc = 1
		}
		cs.cwnd += inc
	}
	cs.report()
}

// onDupAck is called for every incoming ACK that does not advance snd.UNA
// while there is unacknowledged data outstanding. flight is the sender's
// current FlightSize (snd.NXT - snd.UNA) at the time of the dup ACK, used
// to compute ssthresh if this dup ACK triggers fast retransmit. Returns
// true exactly once per loss episode, the moment fast retransmit should
// fire.
func (cs *congestionState) onDupAck(ackSeq Value, flight Size) (fastRetransmit bool) {
	if ackSeq != cs.lastAckSeq {
		cs.lastAckSeq = ackSeq
		cs.dupAcks = 0
	}
	cs.dupAcks++
	if cs.dupAcks == dupAckThreshold && !cs.recovering {
		cs.onLoss(flight)
		cs.recovering = true
		cs.recoverySeq = ackSeq
		// Fast recovery inflates cwnd by one MSS per further dup ACK,
		// RFC 5681 section 3.2 step 3.
		cs.cwnd = cs.ssthresh + Size(cs.dupAcks)*cs.mss
		return true
	}
	if cs.recovering {
		cs.cwnd += cs.mss
	}
	return false
}

// onRTO is called when the retransmission timer expires: per RFC 5681 this
// is treated as a more severe signal than fast retransmit and always
// re-enters slow start. flight is FlightSize (snd.NXT - snd.UNA) at the
// moment the timer fired.
func (cs *congestionState) onRTO(flight Size) {
	cs.ssthresh = max32(flight/2, 2*cs.mss)
	cs.cwnd = cs.mss
	cs.dupAcks = 0
	cs.recovering = false
	cs.report()
}

// onLoss halves FlightSize for ordinary (non-timeout) loss detection, per
// RFC 5681's multiplicative decrease: ssthresh = max(FlightSize/2, 2*SMSS).
func (cs *congestionState) onLoss(flight Size) {
	cs.ssthresh = max32(flight/2, 2*cs.mss)
	cs.report()
}

func (cs *congestionState) report() {
	if cs.metrics == nil {
		return
	}
	cs.metrics.cwnd.Set(float64(cs.cwnd))
	cs.metrics.ssthresh.Set(float64(cs.ssthresh))
}

func min32(a, b Size) Size {
	if a < b {
		return a
	}
	return b
}

func max32(a, b Size) Size {
	if a > b {
		return a
	}
	return b
}
