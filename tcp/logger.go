package tcp

import (
	"context"
	"log/slog"

	"github.com/zephyrproject-rtos/tcp2go/internal"
)

// logger is embedded by every stateful type in this package (ControlBlock,
// Handler, Conn, Registry) to give it optional structured logging with no
// cost when log is nil.
type logger struct {
	log *slog.Logger
}

func (l logger) enabled(lvl slog.Level) bool {
	return internal.HeapAllocDebugging || (l.log != nil && l.log.Handler().Enabled(context.Background(), lvl))
}

func (l logger) logattrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, lvl, msg, attrs...)
}

func (l logger) error(msg string, attrs ...slog.Attr) { l.logattrs(slog.LevelError, msg, attrs...) }
func (l logger) warn(msg string, attrs ...slog.Attr)  { l.logattrs(slog.LevelWarn, msg, attrs...) }
func (l logger) info(msg string, attrs ...slog.Attr)  { l.logattrs(slog.LevelInfo, msg, attrs...) }
func (l logger) debug(msg string, attrs ...slog.Attr) { l.logattrs(slog.LevelDebug, msg, attrs...) }
func (l logger) trace(msg string, attrs ...slog.Attr) {
	l.logattrs(internal.LevelTrace, msg, attrs...)
}

// logenabled mirrors enabled but with the legacy call-site name used
// throughout control.go/handler.go.
func (l logger) logenabled(lvl slog.Level) bool { return l.enabled(lvl) }
func (l logger) logerr(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelError, msg, attrs...)
}

func (tcb *ControlBlock) traceSnd(msg string) {
	if !tcb.logenabled(internal.LevelTrace) {
		return
	}
	tcb.trace(msg,
		slog.String("state", tcb._state.String()),
		slog.Uint64("pend", uint64(tcb.pending[0])),
		slog.Uint64("snd.nxt", uint64(tcb.snd.NXT)),
		slog.Uint64("snd.una", uint64(tcb.snd.UNA)),
		slog.Uint64("snd.wnd", uint64(tcb.snd.WND)),
	)
}

func (tcb *ControlBlock) traceRcv(msg string) {
	if !tcb.logenabled(internal.LevelTrace) {
		return
	}
	tcb.trace(msg,
		slog.String("state", tcb._state.String()),
		slog.Uint64("rcv.nxt", uint64(tcb.rcv.NXT)),
		slog.Uint64("rcv.wnd", uint64(tcb.rcv.WND)),
		slog.Bool("challenge", tcb.challengeAck),
	)
}

func (tcb *ControlBlock) traceSeg(msg string, seg Segment) {
	if !tcb.logenabled(internal.LevelTrace) {
		return
	}
	tcb.trace(msg,
		slog.Uint64("seg.seq", uint64(seg.SEQ)),
		slog.Uint64("seg.ack", uint64(seg.ACK)),
		slog.Uint64("seg.wnd", uint64(seg.WND)),
		slog.String("seg.flags", seg.Flags.String()),
		slog.Uint64("seg.data", uint64(seg.DATALEN)),
	)
}
