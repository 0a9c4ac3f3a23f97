package tcp

// Value is a TCP sequence number. Sequence space arithmetic wraps around
// modulo 2**32 as described in RFC 9293 section 3.3; comparisons must use
// [Value.LessThan] and friends rather than native operators, since a later
// sequence number may have a numerically smaller value after wraparound.
type Value uint32

// Size is a difference between two sequence numbers, i.e. a byte count or
// window size. Valid TCP windows fit in 16 bits pre-scaling, but Size is
// kept at 32 bits so callers can reason about scaled windows and in-flight
// byte counts without overflow.
type Size uint32

// Add returns v+delta performed in sequence space (wraps around 2**32).
func Add(v Value, delta Size) Value {
	return v + Value(delta)
}

// Sizeof returns the number of sequence numbers between a (inclusive) and
// b (exclusive), i.e. b-a performed in sequence space. The result is only
// meaningful when b is "ahead of" a in sequence space.
func Sizeof(a, b Value) Size {
	return Size(b - a)
}

// LessThan implements the RFC 1982-style serial number comparison: v is
// considered less than u if the signed difference v-u is negative.
func (v Value) LessThan(u Value) bool {
	return int32(v-u) < 0
}

// LessThanEq returns true if v equals u or v is ordered before u in
// sequence space.
func (v Value) LessThanEq(u Value) bool {
	return v == u || v.LessThan(u)
}

// InWindow reports whether v lies in [start, start+size) in sequence space.
// A zero size window only ever contains the start value itself.
func (v Value) InWindow(start Value, size Size) bool {
	if size == 0 {
		return v == start
	}
	return Sizeof(start, v) < size
}

// UpdateForward advances v by delta, the usual operation performed on
// snd.NXT/rcv.NXT after a segment carrying delta octets (including SYN/FIN)
// is sent or accepted.
func (v *Value) UpdateForward(delta Size) {
	*v = Add(*v, delta)
}
