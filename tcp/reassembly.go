package tcp

import "github.com/google/btree"

// reassembler buffers out-of-order segments that arrive ahead of rcv.NXT and
// releases them in order once the gap preceding them closes. [ControlBlock]
// itself only accepts strictly sequential segments (see [ControlBlock.Recv]),
// so a receive engine wanting to tolerate reordering holds the out-of-order
// data here until it can be handed to ControlBlock.Recv/the receive buffer in
// order.
type reassembler struct {
	// tree orders buffered fragments by start sequence number.
	tree *btree.BTreeG[oooFragment]
	// bytes is the total buffered payload across all fragments, used to
	// enforce a cap against unbounded out-of-order buffering.
	bytes int
	// limit is the maximum total bytes this reassembler will hold before
	// it starts dropping new out-of-order fragments.
	limit int
}

// oooFragment is one buffered contiguous run of bytes starting at seq.
type oooFragment struct {
	seq  Value
	data []byte
}

func fragmentLess(a, b oooFragment) bool {
	return a.seq.LessThan(b.seq)
}

func (r *reassembler) init(limit int) {
	r.tree = btree.NewG(32, fragmentLess)
	r.bytes = 0
	r.limit = limit
}

// Insert buffers a fragment starting at seq. It coalesces with any
// overlapping or adjacent fragments already buffered so the tree never
// holds two fragments that could be merged into one contiguous run.
// Returns false if the fragment was dropped due to the buffer being full.
func (r *reassembler) Insert(seq Value, data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if r.bytes+len(data) > r.limit {
		return false
	}
	start := seq
	end := Add(seq, Size(len(data)))

	// Fragments buffered ahead of rcv.NXT stay within a span bounded by the
	// advertised receive window, so a full scan is cheap; find every
	// existing fragment whose range overlaps or touches [start,end) so it
	// can be folded into one contiguous run.
	var toDelete []oooFragment
	r.tree.Ascend(func(item oooFragment) bool {
		itemEnd := Add(item.seq, Size(len(item.data)))
		if item.seq.LessThanEq(end) && start.LessThanEq(itemEnd) {
			if item.seq.LessThan(start) {
				start = item.seq
			}
			if end.LessThan(itemEnd) {
				end = itemEnd
			}
			toDelete = append(toDelete, item)
		}
		return true
	})

	merged := r.buildMerged(start, end, seq, data, toDelete)
	for _, d := range toDelete {
		r.tree.Delete(d)
		r.bytes -= len(d.data)
	}
	r.tree.ReplaceOrInsert(oooFragment{seq: start, data: merged})
	r.bytes += len(merged)
	return true
}

// buildMerged reconstructs the byte run covering [start,end) from the new
// fragment plus any overlapping ones being replaced.
func (r *reassembler) buildMerged(start, end Value, newSeq Value, newData []byte, overlaps []oooFragment) []byte {
	size := int(Sizeof(start, end))
	out := make([]byte, size)
	place := func(seq Value, data []byte) {
		off := int(Sizeof(start, seq))
		copy(out[off:], data)
	}
	for _, frag := range overlaps {
		place(frag.seq, frag.data)
	}
	place(newSeq, newData)
	return out
}

// Pop removes and returns the buffered fragment starting exactly at want, if
// any. This is how a receive engine drains buffered data once rcv.NXT
// catches up to a previously out-of-order fragment's start sequence.
func (r *reassembler) Pop(want Value) ([]byte, bool) {
	item, ok := r.tree.Get(oooFragment{seq: want})
	if !ok {
		return nil, false
	}
	r.tree.Delete(item)
	r.bytes -= len(item.data)
	return item.data, true
}

// Len returns the number of distinct buffered fragments.
func (r *reassembler) Len() int { return r.tree.Len() }

// Buffered returns the total number of bytes currently buffered.
func (r *reassembler) Buffered() int { return r.bytes }

// Reset discards all buffered fragments.
func (r *reassembler) Reset() {
	r.tree.Clear(false)
	r.bytes = 0
}
